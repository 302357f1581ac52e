// Package dirindex implements the directory engine: the orchestration
// of add, remove, list, purge, compact and verify over a container
// session. It owns the hierarchy and uniqueness invariants; all byte
// handling lives in dirfile.
package dirindex

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
	"go.uber.org/zap"

	"github.com/imagetrove/dcmdir/internal/dcm"
	"github.com/imagetrove/dcmdir/internal/dirfile"
)

// ErrNoFactory is returned when a write is attempted with no record
// factory configured.
var ErrNoFactory = errors.New("no record factory configured")

// Structural reports whether err is a container-level failure that
// must abort a batch operation, as opposed to a per-item rejection
// that batch paths record and move past.
func Structural(err error) bool {
	return errors.Is(err, dirfile.ErrCorrupt) ||
		errors.Is(err, dirfile.ErrReadOnly) ||
		errors.Is(err, dirfile.ErrNotFound) ||
		errors.Is(err, ErrNoFactory)
}

// RecordFactory builds the attribute set of one directory record from
// a source dataset. Implementations decide which source fields
// populate each record kind.
type RecordFactory interface {
	Create(typ dirfile.RecordType, src, meta dcm.DataSet, fileIDs []string) (*dirfile.Record, error)
}

// Options are the engine policy switches.
type Options struct {
	// CheckDuplicate makes AddReference a no-op when an instance with
	// the same key already exists at the target scope.
	CheckDuplicate bool
	// PatientIDFromStudy defaults a missing patient ID to the study
	// instance UID. This mirrors the historical behavior of directory
	// writers and changes the patient-level uniqueness scope, so it is
	// an explicit opt-in rather than a hidden fallback.
	PatientIDFromStudy bool
}

// Engine drives all directory mutations through one container session.
type Engine struct {
	sess *dirfile.Session
	fac  RecordFactory
	opts Options
	log  *zap.Logger
}

// New builds an engine over sess. fac may be nil for read-only use;
// log may be nil.
func New(sess *dirfile.Session, fac RecordFactory, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{sess: sess, fac: fac, opts: opts, log: log}
}

// Session exposes the underlying session for metadata and commit.
func (e *Engine) Session() *dirfile.Session { return e.sess }

// Commit flushes the container.
func (e *Engine) Commit() error { return e.sess.Commit() }

// Close commits and closes the container session.
func (e *Engine) Close() error { return e.sess.Close() }

// AddReference inserts the record chain for one source object,
// creating only the levels not already present. It returns how many
// records were created (0 to 4); 0 with a nil error means the instance
// was already indexed.
func (e *Engine) AddReference(src, meta dcm.DataSet, fileIDs []string) (int, error) {
	if e.fac == nil {
		return 0, ErrNoFactory
	}
	if e.sess.ReadOnly() {
		return 0, dirfile.ErrReadOnly
	}

	studyUID := src.GetString(dcm.TagStudyInstanceUID)
	sopUID := instanceUID(src, meta)

	if studyUID == "" {
		// No study context: the object is indexed as a root-level
		// instance record, keyed against all other root instances.
		if sopUID == "" {
			e.log.Warn("source carries neither study nor instance UID, skipping")
			return 0, nil
		}
		created, _, err := e.insertInstance(0, sopUID, src, meta, fileIDs)
		return created, err
	}

	pid := src.GetString(dcm.TagPatientID)
	if pid == "" {
		if !e.opts.PatientIDFromStudy {
			return 0, fmt.Errorf("source for study %s has no patient ID", studyUID)
		}
		src = src.Clone()
		src.SetString(dcm.TagPatientID, studyUID)
		pid = studyUID
	}

	created := 0
	patOff, made, err := e.findOrCreate(0, dirfile.Patient, pid, src, meta)
	if err != nil {
		return created, err
	}
	if made {
		created++
	}
	stOff, made, err := e.findOrCreate(patOff, dirfile.Study, studyUID, src, meta)
	if err != nil {
		return created, err
	}
	if made {
		created++
	}

	seriesUID := src.GetString(dcm.TagSeriesInstanceUID)
	if seriesUID == "" {
		return created, nil
	}
	seOff, made, err := e.findOrCreate(stOff, dirfile.Series, seriesUID, src, meta)
	if err != nil {
		return created, err
	}
	if made {
		created++
	}

	if sopUID == "" {
		return created, nil
	}
	n, _, err := e.insertInstance(seOff, sopUID, src, meta, fileIDs)
	return created + n, err
}

// RemoveReference re-derives the key chain used for insertion and
// soft-deletes the matching instance record. A missing record is not
// an error; the result reports whether anything was removed.
func (e *Engine) RemoveReference(src, meta dcm.DataSet) (bool, error) {
	if e.sess.ReadOnly() {
		return false, dirfile.ErrReadOnly
	}
	sopUID := instanceUID(src, meta)
	if sopUID == "" {
		return false, nil
	}

	studyUID := src.GetString(dcm.TagStudyInstanceUID)
	parent := int64(0)
	if studyUID != "" {
		pid := src.GetString(dcm.TagPatientID)
		if pid == "" {
			if !e.opts.PatientIDFromStudy {
				return false, nil
			}
			pid = studyUID
		}
		seriesUID := src.GetString(dcm.TagSeriesInstanceUID)
		if seriesUID == "" {
			return false, nil
		}
		pat, _, err := e.sess.FindChild(0, dirfile.Patient, pid, true)
		if err != nil || pat == nil {
			return false, err
		}
		st, _, err := e.sess.FindChild(pat.Offset, dirfile.Study, studyUID, true)
		if err != nil || st == nil {
			return false, err
		}
		se, _, err := e.sess.FindChild(st.Offset, dirfile.Series, seriesUID, true)
		if err != nil || se == nil {
			return false, err
		}
		parent = se.Offset
	}

	inst, _, err := e.sess.FindChild(parent, dirfile.Image, sopUID, true)
	if err != nil || inst == nil {
		return false, err
	}
	if err := e.sess.MarkDeleted(inst.Offset); err != nil {
		return false, err
	}
	return true, nil
}

// findOrCreate returns the offset of the child with the given key
// below parent, creating and linking it when absent.
func (e *Engine) findOrCreate(parent int64, typ dirfile.RecordType, key string, src, meta dcm.DataSet) (int64, bool, error) {
	rec, tail, err := e.sess.FindChild(parent, typ, key, true)
	if err != nil {
		return 0, false, err
	}
	if rec != nil {
		return rec.Offset, false, nil
	}
	nrec, err := e.fac.Create(typ, src, meta, nil)
	if err != nil {
		return 0, false, err
	}
	off, err := e.appendLinked(parent, tail, nrec)
	return off, err == nil, err
}

// insertInstance adds an IMAGE record below parent (0 for the root
// chain). With CheckDuplicate set, an existing instance with the same
// key makes the insert a silent no-op.
func (e *Engine) insertInstance(parent int64, sopUID string, src, meta dcm.DataSet, fileIDs []string) (int, int64, error) {
	var tail int64
	if e.opts.CheckDuplicate {
		rec, t, err := e.sess.FindChild(parent, dirfile.Image, sopUID, true)
		if err != nil {
			return 0, 0, err
		}
		if rec != nil {
			e.log.Debug("duplicate instance, not indexed", zap.String("sop_uid", sopUID))
			return 0, rec.Offset, nil
		}
		tail = t
	} else {
		t, err := e.chainTail(parent)
		if err != nil {
			return 0, 0, err
		}
		tail = t
	}
	rec, err := e.fac.Create(dirfile.Image, src, meta, fileIDs)
	if err != nil {
		return 0, 0, err
	}
	off, err := e.appendLinked(parent, tail, rec)
	if err != nil {
		return 0, 0, err
	}
	return 1, off, nil
}

// appendLinked appends rec and wires it to the end of parent's child
// chain (or the root chain when parent is 0).
func (e *Engine) appendLinked(parent, tail int64, rec *dirfile.Record) (int64, error) {
	off, err := e.sess.AppendRecord(rec)
	if err != nil {
		return 0, err
	}
	switch {
	case tail != 0:
		err = e.sess.LinkSibling(tail, off)
	case parent == 0:
		err = e.sess.SetFirstRecord(off)
	default:
		err = e.sess.LinkChild(parent, off)
	}
	if err != nil {
		return 0, err
	}
	if parent == 0 {
		if err := e.sess.SetLastRecord(off); err != nil {
			return 0, err
		}
	}
	return off, nil
}

// chainTail returns the last record offset of parent's child chain
// without key matching; 0 when the chain is empty.
func (e *Engine) chainTail(parent int64) (int64, error) {
	if parent == 0 {
		return e.sess.LastRecord(), nil
	}
	p, err := e.sess.ReadRecord(parent)
	if err != nil {
		return 0, err
	}
	tail := int64(0)
	seen := roaring64.New()
	for off := p.Child; off != 0; {
		if !seen.CheckedAdd(uint64(off)) {
			return 0, fmt.Errorf("%w: sibling chain cycle at offset %d", dirfile.ErrCorrupt, off)
		}
		rec, err := e.sess.ReadRecord(off)
		if err != nil {
			return 0, err
		}
		tail = off
		off = rec.Next
	}
	return tail, nil
}

// instanceUID resolves the object identifier from the dataset, falling
// back to the file meta when the dataset omits it.
func instanceUID(src, meta dcm.DataSet) string {
	if uid := src.GetString(dcm.TagSOPInstanceUID); uid != "" {
		return uid
	}
	return meta.GetString(dcm.TagMediaStorageSOPInstanceUID)
}
