package dirfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/imagetrove/dcmdir/internal/dcm"
)

const preambleLen = 128

var (
	magic        = []byte("DICM")
	delimiter    = []byte{0xFE, 0xFF, 0xDD, 0xE0, 0x00, 0x00, 0x00, 0x00}
	delimiterLen = int64(len(delimiter))
)

// Session owns the single handle to a container file. A writable
// session holds an advisory file lock, so a second writer in another
// process fails with ErrBusy. Within one process the caller serializes
// access; Session methods are not goroutine-safe.
type Session struct {
	f        *os.File
	path     string
	readOnly bool
	dirty    bool

	info FilesetInfo

	firstOff int64 // offset of first root record, 0 = empty
	lastOff  int64 // offset of last root record, 0 = empty

	// byte positions of the patchable file-set values
	posFirst int64
	posLast  int64
	posCons  int64

	seqStart int64 // first byte after the record sequence header
	end      int64 // current position of the sequence delimiter
}

// TempPath returns the rebuild target used by compaction.
func TempPath(path string) string { return path + ".tmp" }

// BackupPath returns where compaction parks the previous container.
func BackupPath(path string) string { return path + ".bak" }

// Create writes a new, empty container. It fails with ErrExists when
// the path is already taken.
func Create(path string, info FilesetInfo) (*Session, error) {
	if err := info.validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, err
	}
	if err := lockWriter(int(f.Fd())); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	s := &Session{f: f, path: path, info: info}
	if err := s.writeEmpty(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return s, nil
}

// Open opens an existing container read-write. A stale compaction is
// recovered first: an orphan .tmp next to an active file is discarded,
// and a .tmp left after the active file was already moved to .bak is
// promoted back into place.
func Open(path string) (*Session, error) {
	if err := recoverStale(path); err != nil {
		return nil, err
	}
	return open(path, false)
}

// OpenReadOnly opens an existing container for reading. Mutating calls
// fail with ErrReadOnly.
func OpenReadOnly(path string) (*Session, error) {
	return open(path, true)
}

func open(path string, readOnly bool) (*Session, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	if !readOnly {
		if err := lockWriter(int(f.Fd())); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	s := &Session{f: f, path: path, readOnly: readOnly}
	if err := s.parseHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func recoverStale(path string) error {
	tmp := TempPath(path)
	if _, err := os.Stat(tmp); err != nil {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		// Compaction died before the swap; the rebuild is garbage.
		return os.Remove(tmp)
	}
	if _, err := os.Stat(BackupPath(path)); err == nil {
		// Compaction died between the two renames; finish the swap.
		return os.Rename(tmp, path)
	}
	return nil
}

func (s *Session) Path() string       { return s.path }
func (s *Session) Info() FilesetInfo  { return s.info }
func (s *Session) ReadOnly() bool     { return s.readOnly }
func (s *Session) FirstRecord() int64 { return s.firstOff }
func (s *Session) LastRecord() int64  { return s.lastOff }

// Size returns the current container size in bytes.
func (s *Session) Size() int64 { return s.end + delimiterLen }

// SeqBounds returns the byte range [start, end) occupied by record
// items.
func (s *Session) SeqBounds() (int64, int64) { return s.seqStart, s.end }

// writeEmpty lays out preamble, file meta, file-set information and an
// empty record sequence, remembering the patchable value positions.
func (s *Session) writeEmpty() error {
	meta := dcm.NewDataSet(
		dcm.NewBytes(dcm.TagFileMetaVersion, dcm.OB, []byte{0x00, 0x01}),
		dcm.NewString(dcm.TagMediaStorageSOPClassUID, MediaStorageDirectoryClassUID),
		dcm.NewString(dcm.TagMediaStorageSOPInstanceUID, s.info.UID),
		dcm.NewString(dcm.TagTransferSyntaxUID, ExplicitVRLittleEndianUID),
		dcm.NewString(dcm.TagImplementationClassUID, implementationClassUID),
		dcm.NewString(dcm.TagImplementationVersionName, implementationVersion),
	)

	buf := &bytes.Buffer{}
	buf.Write(make([]byte, preambleLen))
	buf.Write(magic)
	if err := dcm.WriteElement(buf, dcm.NewUint32(dcm.TagFileMetaGroupLength, uint32(dcm.DataSetLen(meta)))); err != nil {
		return err
	}
	if err := dcm.WriteDataSet(buf, meta); err != nil {
		return err
	}

	write := func(e dcm.Element) (valuePos int64, err error) {
		pos := int64(buf.Len())
		if err := dcm.WriteElement(buf, e); err != nil {
			return 0, err
		}
		return pos + int64(dcm.ElementLen(e)) - int64(len(e.Value)), nil
	}

	if _, err := write(dcm.NewString(dcm.TagFileSetID, s.info.ID)); err != nil {
		return err
	}
	if s.info.DescriptorFile != "" {
		if _, err := write(dcm.NewString(dcm.TagFileSetDescriptorFileID, s.info.DescriptorFile)); err != nil {
			return err
		}
		if s.info.DescriptorCharset != "" {
			if _, err := write(dcm.NewString(dcm.TagDescriptorFileCharacterSet, s.info.DescriptorCharset)); err != nil {
				return err
			}
		}
	}
	var err error
	if s.posFirst, err = write(dcm.NewUint32(dcm.TagFirstRecordOffset, 0)); err != nil {
		return err
	}
	if s.posLast, err = write(dcm.NewUint32(dcm.TagLastRecordOffset, 0)); err != nil {
		return err
	}
	if s.posCons, err = write(dcm.NewUint16(dcm.TagFileSetConsistencyFlag, 0)); err != nil {
		return err
	}

	// Directory record sequence, undefined length, delimited.
	var sq [12]byte
	binary.LittleEndian.PutUint16(sq[0:2], dcm.TagDirectoryRecordSequence.Group())
	binary.LittleEndian.PutUint16(sq[2:4], dcm.TagDirectoryRecordSequence.Element())
	sq[4], sq[5] = 'S', 'Q'
	binary.LittleEndian.PutUint32(sq[8:12], dcm.UndefinedLength)
	buf.Write(sq[:])
	s.seqStart = int64(buf.Len())
	s.end = s.seqStart
	buf.Write(delimiter)

	if _, err := s.f.WriteAt(buf.Bytes(), 0); err != nil {
		return err
	}
	return s.f.Sync()
}

// parseHeader reads preamble, file meta and file-set information,
// locating the patchable positions and the record sequence bounds.
func (s *Session) parseHeader() error {
	size, err := s.f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(s.f)

	pre := make([]byte, preambleLen+len(magic))
	if _, err := io.ReadFull(r, pre); err != nil {
		return fmt.Errorf("%w: short preamble: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(pre[preambleLen:], magic) {
		return fmt.Errorf("%w: missing DICM marker", ErrCorrupt)
	}
	pos := int64(preambleLen + len(magic))

	groupLen, n, err := dcm.ReadElement(r)
	if err != nil || groupLen.Tag != dcm.TagFileMetaGroupLength {
		return fmt.Errorf("%w: missing file meta group length", ErrCorrupt)
	}
	pos += int64(n)
	metaRaw := make([]byte, groupLen.Uint32())
	if _, err := io.ReadFull(r, metaRaw); err != nil {
		return fmt.Errorf("%w: truncated file meta group: %v", ErrCorrupt, err)
	}
	pos += int64(len(metaRaw))
	metaR := bytes.NewReader(metaRaw)
	for metaR.Len() > 0 {
		e, _, err := dcm.ReadElement(metaR)
		if err != nil {
			return fmt.Errorf("%w: file meta: %v", ErrCorrupt, err)
		}
		switch e.Tag {
		case dcm.TagMediaStorageSOPInstanceUID:
			s.info.UID = e.String()
		case dcm.TagTransferSyntaxUID:
			if ts := e.String(); ts != ExplicitVRLittleEndianUID {
				return fmt.Errorf("%w: unsupported transfer syntax %s", ErrCorrupt, ts)
			}
		}
	}

	for {
		h, err := dcm.ReadElementHeader(r)
		if err != nil {
			return fmt.Errorf("%w: file-set information: %v", ErrCorrupt, err)
		}
		if h.Tag == dcm.TagDirectoryRecordSequence {
			s.seqStart = pos + int64(h.Size)
			break
		}
		if h.Length == dcm.UndefinedLength {
			return fmt.Errorf("%w: unexpected undefined-length element %s", ErrCorrupt, h.Tag)
		}
		val := make([]byte, h.Length)
		if _, err := io.ReadFull(r, val); err != nil {
			return fmt.Errorf("%w: element %s: %v", ErrCorrupt, h.Tag, err)
		}
		valuePos := pos + int64(h.Size)
		e := dcm.NewBytes(h.Tag, h.VR, val)
		switch h.Tag {
		case dcm.TagFileSetID:
			s.info.ID = e.String()
		case dcm.TagFileSetDescriptorFileID:
			s.info.DescriptorFile = e.String()
		case dcm.TagDescriptorFileCharacterSet:
			s.info.DescriptorCharset = e.String()
		case dcm.TagFirstRecordOffset:
			s.posFirst = valuePos
			s.firstOff = int64(e.Uint32())
		case dcm.TagLastRecordOffset:
			s.posLast = valuePos
			s.lastOff = int64(e.Uint32())
		case dcm.TagFileSetConsistencyFlag:
			s.posCons = valuePos
			s.dirty = e.Uint16() != 0
		}
		pos = valuePos + int64(h.Length)
	}
	if s.posFirst == 0 || s.posLast == 0 || s.posCons == 0 {
		return fmt.Errorf("%w: file-set information is incomplete", ErrCorrupt)
	}

	if size < s.seqStart+delimiterLen {
		return fmt.Errorf("%w: truncated record sequence", ErrCorrupt)
	}
	tail := make([]byte, delimiterLen)
	if _, err := s.f.ReadAt(tail, size-delimiterLen); err != nil {
		return err
	}
	if !bytes.Equal(tail, delimiter) {
		return fmt.Errorf("%w: missing sequence delimiter", ErrCorrupt)
	}
	s.end = size - delimiterLen
	return nil
}

// ReadRecord reads and decodes the record item at off.
func (s *Session) ReadRecord(off int64) (*Record, error) {
	length, err := s.readItemHeader(off)
	if err != nil {
		return nil, err
	}
	body := make([]byte, length)
	if _, err := s.f.ReadAt(body, off+itemHeaderLen); err != nil {
		return nil, fmt.Errorf("%w: record at %d: %v", ErrCorrupt, off, err)
	}
	rec, err := decodeRecord(body)
	if err != nil {
		return nil, fmt.Errorf("%w: record at %d: %v", ErrCorrupt, off, err)
	}
	rec.Offset = off
	return rec, nil
}

func (s *Session) readItemHeader(off int64) (int64, error) {
	if off < s.seqStart || off+minRecordLen > s.end {
		return 0, fmt.Errorf("%w: offset %d out of range", ErrCorrupt, off)
	}
	var hdr [itemHeaderLen]byte
	if _, err := s.f.ReadAt(hdr[:], off); err != nil {
		return 0, fmt.Errorf("%w: record at %d: %v", ErrCorrupt, off, err)
	}
	t := dcm.NewTag(binary.LittleEndian.Uint16(hdr[0:2]), binary.LittleEndian.Uint16(hdr[2:4]))
	if t != dcm.TagItem {
		return 0, fmt.Errorf("%w: no record item at offset %d", ErrCorrupt, off)
	}
	length := int64(binary.LittleEndian.Uint32(hdr[4:8]))
	if length == int64(uint32(dcm.UndefinedLength)) || off+itemHeaderLen+length > s.end {
		return 0, fmt.Errorf("%w: record at %d overruns file", ErrCorrupt, off)
	}
	return length, nil
}

// AppendRecord writes the record at end-of-file and returns its
// offset. Freed space from deleted records is never reused; that is
// compaction's concern.
func (s *Session) AppendRecord(r *Record) (int64, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}
	enc, err := encodeRecord(r)
	if err != nil {
		return 0, err
	}
	if err := s.markDirty(); err != nil {
		return 0, err
	}
	off := s.end
	if _, err := s.f.WriteAt(append(enc, delimiter...), off); err != nil {
		return 0, err
	}
	s.end += int64(len(enc))
	r.Offset = off
	return off, nil
}

// MarkDeleted clears the in-use flag of the record at off in place.
func (s *Session) MarkDeleted(off int64) error {
	if _, err := s.readItemHeader(off); err != nil {
		return err
	}
	return s.patchUint16(off+inUseValueOff, 0)
}

// LinkSibling points prev's next-record offset at next.
func (s *Session) LinkSibling(prev, next int64) error {
	if _, err := s.readItemHeader(prev); err != nil {
		return err
	}
	return s.patchUint32(prev+nextValueOff, uint32(next))
}

// LinkChild points parent's lower-level offset at child.
func (s *Session) LinkChild(parent, child int64) error {
	if _, err := s.readItemHeader(parent); err != nil {
		return err
	}
	return s.patchUint32(parent+lowerValueOff, uint32(child))
}

// SetFirstRecord patches the root pointer.
func (s *Session) SetFirstRecord(off int64) error {
	if err := s.patchUint32(s.posFirst, uint32(off)); err != nil {
		return err
	}
	s.firstOff = off
	return nil
}

// SetLastRecord patches the last-root-record pointer, which makes
// root-level appends O(1).
func (s *Session) SetLastRecord(off int64) error {
	if err := s.patchUint32(s.posLast, uint32(off)); err != nil {
		return err
	}
	s.lastOff = off
	return nil
}

func (s *Session) patchUint32(pos int64, v uint32) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if err := s.markDirty(); err != nil {
		return err
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := s.f.WriteAt(b[:], pos)
	return err
}

func (s *Session) patchUint16(pos int64, v uint16) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if err := s.markDirty(); err != nil {
		return err
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := s.f.WriteAt(b[:], pos)
	return err
}

// markDirty raises the file-set consistency flag before the first
// mutation so an interrupted session is detectable on the next open.
func (s *Session) markDirty() error {
	if s.dirty {
		return nil
	}
	s.dirty = true // set first, patchUint16 calls back into markDirty
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], inUseFlag)
	if _, err := s.f.WriteAt(b[:], s.posCons); err != nil {
		s.dirty = false
		return err
	}
	return nil
}

// Dirty reports whether the consistency flag is currently raised.
func (s *Session) Dirty() bool { return s.dirty }

// FindChild scans the sibling chain below parent (or the root chain
// when parent is 0) for a record of the given type and key. It returns
// the match, or nil, plus the offset of the chain's final record so a
// caller can link a new sibling without rescanning. The scan is
// O(children); DICOM fan-outs are bounded in practice, so no index is
// kept.
func (s *Session) FindChild(parent int64, typ RecordType, key string, inUseOnly bool) (*Record, int64, error) {
	start := s.firstOff
	if parent != 0 {
		p, err := s.ReadRecord(parent)
		if err != nil {
			return nil, 0, err
		}
		start = p.Child
	}
	visited := roaring64.New()
	var last int64
	for off := start; off != 0; {
		if !visited.CheckedAdd(uint64(off)) {
			return nil, 0, fmt.Errorf("%w: sibling chain cycle at offset %d", ErrCorrupt, off)
		}
		rec, err := s.ReadRecord(off)
		if err != nil {
			return nil, 0, err
		}
		if rec.Type == typ && rec.Key() == key && (rec.InUse || !inUseOnly) {
			return rec, off, nil
		}
		last = off
		off = rec.Next
	}
	return nil, last, nil
}

// ScanRecords visits every record item physically present in the file,
// reachable or not, in file order.
func (s *Session) ScanRecords(fn func(*Record) error) error {
	for off := s.seqStart; off < s.end; {
		length, err := s.readItemHeader(off)
		if err != nil {
			return err
		}
		rec, err := s.ReadRecord(off)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		off += itemHeaderLen + length
	}
	return nil
}

// Commit lowers the consistency flag and flushes so the file is
// durably consistent for the next open. On a read-only session it is a
// no-op.
func (s *Session) Commit() error {
	if s.readOnly {
		return nil
	}
	var b [2]byte
	if _, err := s.f.WriteAt(b[:], s.posCons); err != nil {
		return err
	}
	s.dirty = false
	return s.f.Sync()
}

// Close commits (for writable sessions) and releases the file handle.
func (s *Session) Close() error {
	if s.f == nil {
		return nil
	}
	var err error
	if !s.readOnly {
		err = s.Commit()
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f = nil
	return err
}
