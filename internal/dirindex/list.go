package dirindex

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/imagetrove/dcmdir/internal/dirfile"
)

// Visit is called for each listed record with its hierarchy depth
// (0 for root-chain records). Returning an error stops the walk.
type Visit func(depth int, rec *dirfile.Record) error

// List walks the directory forest depth-first. With inUseOnly set,
// deleted records and their subtrees are pruned; the engine never
// deletes a parent while in-use descendants remain, so nothing
// reachable is hidden.
func (e *Engine) List(inUseOnly bool, visit Visit) error {
	return e.walkChain(e.sess.FirstRecord(), 0, inUseOnly, roaring64.New(), visit)
}

func (e *Engine) walkChain(start int64, depth int, inUseOnly bool, seen *roaring64.Bitmap, visit Visit) error {
	for off := start; off != 0; {
		if !seen.CheckedAdd(uint64(off)) {
			return fmt.Errorf("%w: record %d reached twice", dirfile.ErrCorrupt, off)
		}
		rec, err := e.sess.ReadRecord(off)
		if err != nil {
			return err
		}
		if rec.InUse || !inUseOnly {
			if err := visit(depth, rec); err != nil {
				return err
			}
			if rec.Child != 0 {
				if err := e.walkChain(rec.Child, depth+1, inUseOnly, seen, visit); err != nil {
					return err
				}
			}
		}
		off = rec.Next
	}
	return nil
}
