package dirindex

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
	"go.uber.org/zap"

	"github.com/imagetrove/dcmdir/internal/dirfile"
)

// Purge unlinks deleted records from their parent chains so traversals
// never see them, without rebuilding the file or reclaiming space. A
// PATIENT, STUDY or SERIES record left with no in-use children is
// itself marked deleted and unlinked. Returns the number of records
// dropped from chains.
func (e *Engine) Purge() (int, error) {
	if e.sess.ReadOnly() {
		return 0, dirfile.ErrReadOnly
	}
	first, last, removed, err := e.purgeChain(e.sess.FirstRecord(), roaring64.New())
	if err != nil {
		return removed, err
	}
	if first != e.sess.FirstRecord() {
		if err := e.sess.SetFirstRecord(first); err != nil {
			return removed, err
		}
	}
	if last != e.sess.LastRecord() {
		if err := e.sess.SetLastRecord(last); err != nil {
			return removed, err
		}
	}
	if removed > 0 {
		e.log.Info("purged directory records", zap.Int("removed", removed))
	}
	return removed, nil
}

// purgeChain processes one sibling chain post-order and relinks it to
// contain only in-use records. It returns the new chain head and tail.
func (e *Engine) purgeChain(start int64, seen *roaring64.Bitmap) (first, last int64, removed int, err error) {
	var prev int64
	for off := start; off != 0; {
		if !seen.CheckedAdd(uint64(off)) {
			return 0, 0, removed, fmt.Errorf("%w: record %d reached twice", dirfile.ErrCorrupt, off)
		}
		rec, e2 := e.sess.ReadRecord(off)
		if e2 != nil {
			return 0, 0, removed, e2
		}

		childFirst, _, n, e2 := e.purgeChain(rec.Child, seen)
		if e2 != nil {
			return 0, 0, removed + n, e2
		}
		removed += n
		if childFirst != rec.Child {
			if e2 := e.sess.LinkChild(off, childFirst); e2 != nil {
				return 0, 0, removed, e2
			}
			rec.Child = childFirst
		}

		// A structural record whose children are all gone carries no
		// information; retire it so the next pass unlinks nothing new.
		if rec.InUse && rec.Type != dirfile.Image && rec.Child == 0 {
			if e2 := e.sess.MarkDeleted(off); e2 != nil {
				return 0, 0, removed, e2
			}
			rec.InUse = false
		}

		if rec.InUse {
			if prev != 0 {
				if e2 := e.sess.LinkSibling(prev, off); e2 != nil {
					return 0, 0, removed, e2
				}
			}
			if first == 0 {
				first = off
			}
			prev = off
		} else {
			removed++
		}
		off = rec.Next
	}
	if prev != 0 {
		if e2 := e.sess.LinkSibling(prev, 0); e2 != nil {
			return 0, 0, removed, e2
		}
	}
	return first, prev, removed, nil
}
