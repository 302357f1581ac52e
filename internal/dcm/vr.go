package dcm

// VR is a two-letter DICOM value representation code.
type VR string

const (
	AE VR = "AE"
	AS VR = "AS"
	CS VR = "CS"
	DA VR = "DA"
	DS VR = "DS"
	DT VR = "DT"
	IS VR = "IS"
	LO VR = "LO"
	LT VR = "LT"
	OB VR = "OB"
	PN VR = "PN"
	SH VR = "SH"
	SQ VR = "SQ"
	ST VR = "ST"
	TM VR = "TM"
	UI VR = "UI"
	UL VR = "UL"
	UN VR = "UN"
	US VR = "US"
	UT VR = "UT"
)

// longForm reports whether the VR uses the 12-byte explicit header
// (2 reserved bytes + 32-bit length) instead of the 8-byte one.
func (v VR) longForm() bool {
	switch v {
	case OB, SQ, UN, UT:
		return true
	}
	return false
}

// padByte is the byte used to pad odd-length values to even length.
// UIs pad with NUL, text VRs with space, binary VRs with zero.
func (v VR) padByte() byte {
	switch v {
	case UI, OB, UN:
		return 0x00
	}
	return ' '
}

// vrDict maps the tags this engine writes to their standard VRs.
// Unknown tags default to LO, which round-trips any short text value.
var vrDict = map[Tag]VR{
	TagFileMetaGroupLength:        UL,
	TagFileMetaVersion:            OB,
	TagMediaStorageSOPClassUID:    UI,
	TagMediaStorageSOPInstanceUID: UI,
	TagTransferSyntaxUID:          UI,
	TagImplementationClassUID:     UI,
	TagImplementationVersionName:  SH,

	TagFileSetID:                  CS,
	TagFileSetDescriptorFileID:    CS,
	TagDescriptorFileCharacterSet: CS,
	TagFirstRecordOffset:          UL,
	TagLastRecordOffset:           UL,
	TagFileSetConsistencyFlag:     US,
	TagDirectoryRecordSequence:    SQ,
	TagNextRecordOffset:           UL,
	TagRecordInUseFlag:            US,
	TagLowerLevelOffset:           UL,
	TagDirectoryRecordType:        CS,
	TagReferencedFileID:           CS,
	TagReferencedSOPClassUID:      UI,
	TagReferencedSOPInstanceUID:   UI,
	TagReferencedTransferSyntax:   UI,

	TagSpecificCharacterSet: CS,
	TagSOPClassUID:          UI,
	TagSOPInstanceUID:       UI,
	TagStudyDate:            DA,
	TagStudyTime:            TM,
	TagAccessionNumber:      SH,
	TagModality:             CS,
	TagStudyDescription:     LO,
	TagSeriesDescription:    LO,
	TagPatientName:          PN,
	TagPatientID:            LO,
	TagPatientBirthDate:     DA,
	TagPatientSex:           CS,
	TagStudyInstanceUID:     UI,
	TagSeriesInstanceUID:    UI,
	TagStudyID:              SH,
	TagSeriesNumber:         IS,
	TagInstanceNumber:       IS,
}

// VRFor returns the value representation for a tag, defaulting to LO.
func VRFor(t Tag) VR {
	if vr, ok := vrDict[t]; ok {
		return vr
	}
	return LO
}
