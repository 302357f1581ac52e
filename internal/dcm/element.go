package dcm

import (
	"encoding/binary"
	"strings"
)

// Element is a single attribute: tag, VR and raw (unpadded) value bytes.
type Element struct {
	Tag   Tag
	VR    VR
	Value []byte
}

// NewString builds a string element. Multiple values are joined with
// the DICOM multi-value separator.
func NewString(t Tag, vals ...string) Element {
	return Element{Tag: t, VR: VRFor(t), Value: []byte(strings.Join(vals, `\`))}
}

func NewUint32(t Tag, v uint32) Element {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return Element{Tag: t, VR: VRFor(t), Value: b}
}

func NewUint16(t Tag, v uint16) Element {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return Element{Tag: t, VR: VRFor(t), Value: b}
}

func NewBytes(t Tag, vr VR, b []byte) Element {
	return Element{Tag: t, VR: vr, Value: b}
}

// String returns the value as text with trailing padding stripped.
func (e Element) String() string {
	return strings.TrimRight(string(e.Value), " \x00")
}

// Strings splits a multi-valued text element.
func (e Element) Strings() []string {
	s := e.String()
	if s == "" {
		return nil
	}
	return strings.Split(s, `\`)
}

func (e Element) Uint32() uint32 {
	if len(e.Value) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(e.Value)
}

func (e Element) Uint16() uint16 {
	if len(e.Value) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(e.Value)
}
