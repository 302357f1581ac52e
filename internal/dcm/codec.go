package dcm

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Explicit VR little endian encoding. Element headers are
//
//	group(2) element(2) VR(2) length(2)                  short form
//	group(2) element(2) VR(2) reserved(2) length(4)      long form
//
// Values are padded to even length with the VR's pad byte. Group FFFE
// item framing (no VR, 32-bit length) is handled by the callers that
// own the sequence structure.

// ElementLen returns the encoded size of e including header and padding.
func ElementLen(e Element) int {
	n := 8
	if e.VR.longForm() {
		n = 12
	}
	v := len(e.Value)
	if v%2 != 0 {
		v++
	}
	return n + v
}

// DataSetLen returns the encoded size of all elements in ds.
func DataSetLen(ds DataSet) int {
	n := 0
	for _, e := range ds.Elements() {
		n += ElementLen(e)
	}
	return n
}

// WriteElement encodes one element to w.
func WriteElement(w io.Writer, e Element) error {
	if len(e.VR) != 2 {
		return fmt.Errorf("element %s has invalid VR %q", e.Tag, e.VR)
	}
	val := e.Value
	if len(val)%2 != 0 {
		val = append(append([]byte{}, val...), e.VR.padByte())
	}
	var hdr [12]byte
	binary.LittleEndian.PutUint16(hdr[0:2], e.Tag.Group())
	binary.LittleEndian.PutUint16(hdr[2:4], e.Tag.Element())
	hdr[4], hdr[5] = e.VR[0], e.VR[1]
	n := 8
	if e.VR.longForm() {
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(val)))
		n = 12
	} else {
		if len(val) > 0xFFFF {
			return fmt.Errorf("element %s value too long for short-form VR %s", e.Tag, e.VR)
		}
		binary.LittleEndian.PutUint16(hdr[6:8], uint16(len(val)))
	}
	if _, err := w.Write(hdr[:n]); err != nil {
		return err
	}
	_, err := w.Write(val)
	return err
}

// WriteDataSet encodes every element of ds in tag order.
func WriteDataSet(w io.Writer, ds DataSet) error {
	for _, e := range ds.Elements() {
		if err := WriteElement(w, e); err != nil {
			return err
		}
	}
	return nil
}

// ElementHeader is the decoded header of one element.
type ElementHeader struct {
	Tag    Tag
	VR     VR
	Length uint32
	Size   int // header bytes consumed
}

// ReadElementHeader decodes an element header. Group FFFE tags carry
// no VR and use a 32-bit length.
func ReadElementHeader(r io.Reader) (ElementHeader, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return ElementHeader{}, err
	}
	t := NewTag(binary.LittleEndian.Uint16(b[0:2]), binary.LittleEndian.Uint16(b[2:4]))
	if t.Group() == 0xFFFE {
		return ElementHeader{
			Tag:    t,
			Length: binary.LittleEndian.Uint32(b[4:8]),
			Size:   8,
		}, nil
	}
	vr := VR(b[4:6])
	if !validVR(vr) {
		return ElementHeader{}, fmt.Errorf("element %s has invalid VR %q", t, string(b[4:6]))
	}
	h := ElementHeader{Tag: t, VR: vr, Size: 8}
	if vr.longForm() {
		var ext [4]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return ElementHeader{}, err
		}
		h.Length = binary.LittleEndian.Uint32(ext[:])
		h.Size = 12
	} else {
		h.Length = uint32(binary.LittleEndian.Uint16(b[6:8]))
	}
	return h, nil
}

// ReadElement decodes one complete element and reports the total bytes
// consumed. Undefined-length elements are rejected; the only one this
// format contains is the directory record sequence, whose header the
// caller consumes itself.
func ReadElement(r io.Reader) (Element, int, error) {
	h, err := ReadElementHeader(r)
	if err != nil {
		return Element{}, 0, err
	}
	if h.Length == UndefinedLength {
		return Element{}, 0, fmt.Errorf("element %s has undefined length", h.Tag)
	}
	val := make([]byte, h.Length)
	if _, err := io.ReadFull(r, val); err != nil {
		return Element{}, 0, fmt.Errorf("element %s value: %w", h.Tag, err)
	}
	return Element{Tag: h.Tag, VR: h.VR, Value: val}, h.Size + int(h.Length), nil
}

func validVR(v VR) bool {
	for i := 0; i < 2; i++ {
		if v[i] < 'A' || v[i] > 'Z' {
			return false
		}
	}
	return true
}
