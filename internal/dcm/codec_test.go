package dcm

import (
	"bytes"
	"testing"
)

func TestElementRoundTrip(t *testing.T) {
	cases := []Element{
		NewString(TagPatientID, "P1"),
		NewString(TagPatientName, "DOE^JOHN"), // even length, no padding
		NewString(TagStudyInstanceUID, "1.2.840.113619.2.1"),
		NewUint32(TagNextRecordOffset, 0xDEADBEEF),
		NewUint16(TagRecordInUseFlag, 0xFFFF),
		NewBytes(TagFileMetaVersion, OB, []byte{0x00, 0x01}),
	}
	for _, in := range cases {
		var buf bytes.Buffer
		if err := WriteElement(&buf, in); err != nil {
			t.Fatalf("WriteElement(%s): %v", in.Tag, err)
		}
		if buf.Len() != ElementLen(in) {
			t.Errorf("%s: encoded %d bytes, ElementLen says %d", in.Tag, buf.Len(), ElementLen(in))
		}
		out, n, err := ReadElement(&buf)
		if err != nil {
			t.Fatalf("ReadElement(%s): %v", in.Tag, err)
		}
		if n != ElementLen(in) {
			t.Errorf("%s: consumed %d bytes, want %d", in.Tag, n, ElementLen(in))
		}
		if out.Tag != in.Tag || out.VR != in.VR {
			t.Errorf("%s: decoded as %s %s", in.Tag, out.Tag, out.VR)
		}
		if out.String() != in.String() {
			t.Errorf("%s: value %q, want %q", in.Tag, out.String(), in.String())
		}
	}
}

func TestOddLengthPadding(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteElement(&buf, NewString(TagPatientID, "P")); err != nil {
		t.Fatal(err)
	}
	// 8-byte header + "P" + one pad byte
	if buf.Len() != 10 {
		t.Fatalf("encoded length = %d, want 10", buf.Len())
	}
	out, _, err := ReadElement(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "P" {
		t.Errorf("padding not stripped: %q", got)
	}
}

func TestUIPaddedWithNul(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteElement(&buf, NewString(TagSOPInstanceUID, "1.2.3")); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if b[len(b)-1] != 0x00 {
		t.Errorf("UI pad byte = %#x, want 0x00", b[len(b)-1])
	}
}

func TestLongFormHeader(t *testing.T) {
	e := NewBytes(TagFileMetaVersion, OB, []byte{0x00, 0x01})
	if ElementLen(e) != 14 {
		t.Fatalf("OB element length = %d, want 12+2", ElementLen(e))
	}
}

func TestReadElementRejectsGarbage(t *testing.T) {
	// Valid tag, VR bytes outside A-Z.
	raw := []byte{0x10, 0x00, 0x20, 0x00, 0x01, 0x02, 0x02, 0x00}
	if _, _, err := ReadElement(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected error for invalid VR bytes")
	}
}

func TestItemHeaderHasNoVR(t *testing.T) {
	var raw bytes.Buffer
	raw.Write([]byte{0xFE, 0xFF, 0x00, 0xE0, 0x10, 0x00, 0x00, 0x00})
	h, err := ReadElementHeader(&raw)
	if err != nil {
		t.Fatal(err)
	}
	if h.Tag != TagItem {
		t.Errorf("tag = %s, want %s", h.Tag, TagItem)
	}
	if h.Length != 16 || h.Size != 8 {
		t.Errorf("length=%d size=%d, want 16/8", h.Length, h.Size)
	}
}

func TestParseTag(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Tag
		ok   bool
	}{
		{"0010,0020", TagPatientID, true},
		{"(0020,000D)", TagStudyInstanceUID, true},
		{" 0008,0060 ", TagModality, true},
		{"8,60", NewTag(0x0008, 0x0060), true},
		{"00100020", 0, false},
		{"zzzz,0020", 0, false},
	} {
		got, err := ParseTag(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("ParseTag(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseTag(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestDataSetSetKeepsTagOrder(t *testing.T) {
	var ds DataSet
	ds.SetString(TagSeriesInstanceUID, "1.2")
	ds.SetString(TagPatientID, "P1")
	ds.SetString(TagStudyDate, "20240131")
	ds.SetString(TagPatientID, "P2") // replace

	elems := ds.Elements()
	if len(elems) != 3 {
		t.Fatalf("len = %d, want 3", len(elems))
	}
	for i := 1; i < len(elems); i++ {
		if elems[i-1].Tag >= elems[i].Tag {
			t.Fatalf("elements out of order: %s before %s", elems[i-1].Tag, elems[i].Tag)
		}
	}
	if ds.GetString(TagPatientID) != "P2" {
		t.Errorf("PatientID = %q, want P2", ds.GetString(TagPatientID))
	}
}

func TestMultiValueStrings(t *testing.T) {
	e := NewString(TagReferencedFileID, "DICOM", "ST000001", "SE000001", "IM000001")
	got := e.Strings()
	if len(got) != 4 || got[0] != "DICOM" || got[3] != "IM000001" {
		t.Errorf("Strings() = %v", got)
	}
}
