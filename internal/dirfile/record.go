// Package dirfile implements the DICOMDIR container file: the preamble
// and file meta group, the file-set information block, and the
// offset-linked directory record items. A Session owns the single file
// handle and exposes the record primitives the directory engine builds
// on.
package dirfile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/imagetrove/dcmdir/internal/dcm"
)

// RecordType is the directory record type code.
type RecordType string

const (
	Patient RecordType = "PATIENT"
	Study   RecordType = "STUDY"
	Series  RecordType = "SERIES"
	Image   RecordType = "IMAGE"
)

// KeyTag returns the attribute that establishes a record's identity
// within its parent scope.
func (t RecordType) KeyTag() dcm.Tag {
	switch t {
	case Patient:
		return dcm.TagPatientID
	case Study:
		return dcm.TagStudyInstanceUID
	case Series:
		return dcm.TagSeriesInstanceUID
	default:
		return dcm.TagReferencedSOPInstanceUID
	}
}

const inUseFlag = 0xFFFF

// Record is one directory record. Next and Child are byte offsets of
// the linked record items; 0 means none.
type Record struct {
	Offset int64
	Type   RecordType
	InUse  bool
	Next   int64
	Child  int64
	Attrs  dcm.DataSet
}

// Key returns the record's identity value within its parent scope.
func (r *Record) Key() string {
	return r.Attrs.GetString(r.Type.KeyTag())
}

// FileIDs returns the referenced-file-ID path components of an IMAGE
// record, or nil for structural records.
func (r *Record) FileIDs() []string {
	e, ok := r.Attrs.Get(dcm.TagReferencedFileID)
	if !ok {
		return nil
	}
	return e.Strings()
}

// Byte offsets of the patchable control values within a record item.
// Every record starts with the same three fixed-size elements, so the
// offsets hold for all records:
//
//	item header                8 bytes
//	(0004,1400) UL next        8 header + 4 value -> value at 16
//	(0004,1410) US in-use      8 header + 2 value -> value at 28
//	(0004,1420) UL lower       8 header + 4 value -> value at 38
const (
	itemHeaderLen = 8
	nextValueOff  = 16
	inUseValueOff = 28
	lowerValueOff = 38
	minRecordLen  = 42 + 8 // control elements + type element header
)

// encodeRecord serializes a record as a defined-length item. Payload
// attributes must sort after the control elements; anything at or
// below (0004,1430) would shift the fixed patch offsets and is
// rejected.
func encodeRecord(r *Record) ([]byte, error) {
	for _, e := range r.Attrs.Elements() {
		if e.Tag <= dcm.TagDirectoryRecordType {
			return nil, fmt.Errorf("attribute %s would displace the record control elements", e.Tag)
		}
	}
	inUse := uint16(0)
	if r.InUse {
		inUse = inUseFlag
	}
	ds := r.Attrs.Clone()
	ds.Set(dcm.NewUint32(dcm.TagNextRecordOffset, uint32(r.Next)))
	ds.Set(dcm.NewUint16(dcm.TagRecordInUseFlag, inUse))
	ds.Set(dcm.NewUint32(dcm.TagLowerLevelOffset, uint32(r.Child)))
	ds.SetString(dcm.TagDirectoryRecordType, string(r.Type))

	body := &bytes.Buffer{}
	if err := dcm.WriteDataSet(body, ds); err != nil {
		return nil, err
	}
	out := &bytes.Buffer{}
	var hdr [8]byte
	binary.LittleEndian.PutUint16(hdr[0:2], dcm.TagItem.Group())
	binary.LittleEndian.PutUint16(hdr[2:4], dcm.TagItem.Element())
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(body.Len()))
	out.Write(hdr[:])
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// decodeRecord parses a record item body (the bytes after the item
// header) into a Record.
func decodeRecord(body []byte) (*Record, error) {
	r := bytes.NewReader(body)
	var ds dcm.DataSet
	for r.Len() > 0 {
		e, _, err := dcm.ReadElement(r)
		if err != nil {
			return nil, err
		}
		ds.Set(e)
	}
	next, ok := ds.Get(dcm.TagNextRecordOffset)
	if !ok {
		return nil, fmt.Errorf("record missing next-record offset")
	}
	inUse, ok := ds.Get(dcm.TagRecordInUseFlag)
	if !ok {
		return nil, fmt.Errorf("record missing in-use flag")
	}
	lower, ok := ds.Get(dcm.TagLowerLevelOffset)
	if !ok {
		return nil, fmt.Errorf("record missing lower-level offset")
	}
	typ, ok := ds.Get(dcm.TagDirectoryRecordType)
	if !ok {
		return nil, fmt.Errorf("record missing record type")
	}

	attrs := dcm.DataSet{}
	for _, e := range ds.Elements() {
		switch e.Tag {
		case dcm.TagNextRecordOffset, dcm.TagRecordInUseFlag,
			dcm.TagLowerLevelOffset, dcm.TagDirectoryRecordType:
		default:
			attrs.Set(e)
		}
	}
	return &Record{
		Type:  RecordType(typ.String()),
		InUse: inUse.Uint16() == inUseFlag,
		Next:  int64(next.Uint32()),
		Child: int64(lower.Uint32()),
		Attrs: attrs,
	}, nil
}
