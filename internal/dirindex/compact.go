package dirindex

import (
	"fmt"
	"os"

	"github.com/RoaringBitmap/roaring/roaring64"
	"go.uber.org/zap"

	"github.com/imagetrove/dcmdir/internal/dirfile"
)

// Compact rebuilds the container into a fresh file holding only the
// in-use records, in depth-first traversal order, then swaps it into
// place. The previous container is kept at the backup path. The swap
// is two renames, not one atomic operation; a crash in between is
// healed by the recovery check in dirfile.Open.
func (e *Engine) Compact() error {
	if e.sess.ReadOnly() {
		return dirfile.ErrReadOnly
	}
	path := e.sess.Path()
	tmpPath := dirfile.TempPath(path)
	_ = os.Remove(tmpPath) // stale orphan from an aborted run

	dst, err := dirfile.Create(tmpPath, e.sess.Info())
	if err != nil {
		return fmt.Errorf("create rebuild target: %w", err)
	}
	// The temporary handle must not leak past this function on any
	// exit path; the file itself only survives once the copy is done.
	swapped := false
	defer func() {
		if !swapped {
			_ = dst.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	first, last, copied, err := e.copyChain(e.sess.FirstRecord(), dst, roaring64.New())
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	if first != 0 {
		if err := dst.SetFirstRecord(first); err != nil {
			return err
		}
		if err := dst.SetLastRecord(last); err != nil {
			return err
		}
	}
	oldSize, newSize := e.sess.Size(), dst.Size()
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close rebuild target: %w", err)
	}
	if err := e.sess.Close(); err != nil {
		return err
	}

	bakPath := dirfile.BackupPath(path)
	_ = os.Remove(bakPath)
	if err := os.Rename(path, bakPath); err != nil {
		return fmt.Errorf("move old container aside: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("activate rebuilt container: %w", err)
	}
	swapped = true

	sess, err := dirfile.Open(path)
	if err != nil {
		return fmt.Errorf("reopen compacted container: %w", err)
	}
	e.sess = sess
	e.log.Info("compacted container",
		zap.Int("records", copied),
		zap.Int64("bytes_before", oldSize),
		zap.Int64("bytes_after", newSize))
	return nil
}

// copyChain re-inserts the in-use records of one sibling chain into
// dst, descending into children after each record so insertion order
// matches a depth-first read.
func (e *Engine) copyChain(start int64, dst *dirfile.Session, seen *roaring64.Bitmap) (first, last int64, copied int, err error) {
	for off := start; off != 0; {
		if !seen.CheckedAdd(uint64(off)) {
			return 0, 0, copied, fmt.Errorf("%w: record %d reached twice", dirfile.ErrCorrupt, off)
		}
		rec, e2 := e.sess.ReadRecord(off)
		if e2 != nil {
			return 0, 0, copied, e2
		}
		if rec.InUse {
			clone := &dirfile.Record{Type: rec.Type, InUse: true, Attrs: rec.Attrs.Clone()}
			newOff, e2 := dst.AppendRecord(clone)
			if e2 != nil {
				return 0, 0, copied, e2
			}
			copied++
			if last != 0 {
				if e2 := dst.LinkSibling(last, newOff); e2 != nil {
					return 0, 0, copied, e2
				}
			}
			if first == 0 {
				first = newOff
			}
			last = newOff

			_, _, n, e2 := e.copyChainInto(rec.Child, newOff, dst, seen)
			copied += n
			if e2 != nil {
				return 0, 0, copied, e2
			}
		}
		off = rec.Next
	}
	return first, last, copied, nil
}

// copyChainInto copies a child chain and links its head below the
// already-copied parent.
func (e *Engine) copyChainInto(start, dstParent int64, dst *dirfile.Session, seen *roaring64.Bitmap) (first, last int64, copied int, err error) {
	first, last, copied, err = e.copyChain(start, dst, seen)
	if err != nil || first == 0 {
		return first, last, copied, err
	}
	if err := dst.LinkChild(dstParent, first); err != nil {
		return first, last, copied, err
	}
	return first, last, copied, nil
}
