// Package dcm implements the minimal DICOM data model and the explicit
// VR little endian codec needed to read and write DICOMDIR containers.
// It is not a general-purpose DICOM parser; reading of referenced
// objects is delegated to the source reader.
package dcm

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag is a DICOM attribute tag packed as group<<16 | element.
type Tag uint32

func NewTag(group, element uint16) Tag {
	return Tag(uint32(group)<<16 | uint32(element))
}

func (t Tag) Group() uint16   { return uint16(t >> 16) }
func (t Tag) Element() uint16 { return uint16(t & 0xFFFF) }

func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group(), t.Element())
}

// ParseTag parses "GGGG,EEEE" (hex, with or without parentheses).
func ParseTag(s string) (Tag, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "("), ")")
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid tag %q", s)
	}
	g, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid tag group %q: %w", parts[0], err)
	}
	e, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid tag element %q: %w", parts[1], err)
	}
	return NewTag(uint16(g), uint16(e)), nil
}

// File meta group (0002).
const (
	TagFileMetaGroupLength        Tag = 0x00020000
	TagFileMetaVersion            Tag = 0x00020001
	TagMediaStorageSOPClassUID    Tag = 0x00020002
	TagMediaStorageSOPInstanceUID Tag = 0x00020003
	TagTransferSyntaxUID          Tag = 0x00020010
	TagImplementationClassUID     Tag = 0x00020012
	TagImplementationVersionName  Tag = 0x00020013
)

// Directory group (0004).
const (
	TagFileSetID                  Tag = 0x00041130
	TagFileSetDescriptorFileID    Tag = 0x00041141
	TagDescriptorFileCharacterSet Tag = 0x00041142
	TagFirstRecordOffset          Tag = 0x00041200
	TagLastRecordOffset           Tag = 0x00041202
	TagFileSetConsistencyFlag     Tag = 0x00041212
	TagDirectoryRecordSequence    Tag = 0x00041220
	TagNextRecordOffset           Tag = 0x00041400
	TagRecordInUseFlag            Tag = 0x00041410
	TagLowerLevelOffset           Tag = 0x00041420
	TagDirectoryRecordType        Tag = 0x00041430
	TagReferencedFileID           Tag = 0x00041500
	TagReferencedSOPClassUID      Tag = 0x00041510
	TagReferencedSOPInstanceUID   Tag = 0x00041511
	TagReferencedTransferSyntax   Tag = 0x00041512
)

// Dataset attributes selected into directory records.
const (
	TagSpecificCharacterSet Tag = 0x00080005
	TagSOPClassUID          Tag = 0x00080016
	TagSOPInstanceUID       Tag = 0x00080018
	TagStudyDate            Tag = 0x00080020
	TagStudyTime            Tag = 0x00080030
	TagAccessionNumber      Tag = 0x00080050
	TagModality             Tag = 0x00080060
	TagStudyDescription     Tag = 0x00081030
	TagSeriesDescription    Tag = 0x0008103E
	TagPatientName          Tag = 0x00100010
	TagPatientID            Tag = 0x00100020
	TagPatientBirthDate     Tag = 0x00100030
	TagPatientSex           Tag = 0x00100040
	TagStudyInstanceUID     Tag = 0x0020000D
	TagSeriesInstanceUID    Tag = 0x0020000E
	TagStudyID              Tag = 0x00200010
	TagSeriesNumber         Tag = 0x00200011
	TagInstanceNumber       Tag = 0x00200013
)

// Item framing tags (implicit structure, no VR on the wire).
const (
	TagItem               Tag = 0xFFFEE000
	TagItemDelimiter      Tag = 0xFFFEE00D
	TagSequenceDelimiter  Tag = 0xFFFEE0DD
	UndefinedLength           = 0xFFFFFFFF
)
