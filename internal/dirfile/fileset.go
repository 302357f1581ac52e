package dirfile

import "fmt"

// Well-known UIDs written into the file meta group.
const (
	// MediaStorageDirectoryClassUID identifies the Media Storage
	// Directory Storage SOP class.
	MediaStorageDirectoryClassUID = "1.2.840.10008.1.3.10"
	// ExplicitVRLittleEndianUID is the transfer syntax this codec
	// reads and writes.
	ExplicitVRLittleEndianUID = "1.2.840.10008.1.2.1"

	implementationClassUID  = "1.3.6.1.4.1.56559.1.1"
	implementationVersion   = "DCMDIR01"
	maxFileSetIDLen         = 16
)

// FilesetInfo is the per-container metadata carried in the file-set
// information block.
type FilesetInfo struct {
	// UID is the globally unique file-set identifier (Media Storage
	// SOP Instance UID).
	UID string
	// ID is the human-readable file-set label, at most 16 characters.
	ID string
	// DescriptorFile is the optional file ID of a README-style
	// descriptor inside the file-set.
	DescriptorFile string
	// DescriptorCharset is the character set of the descriptor file.
	DescriptorCharset string
}

func (fi FilesetInfo) validate() error {
	if fi.UID == "" {
		return fmt.Errorf("file-set UID must not be empty")
	}
	if len(fi.ID) > maxFileSetIDLen {
		return fmt.Errorf("file-set ID %q exceeds %d characters", fi.ID, maxFileSetIDLen)
	}
	if fi.DescriptorCharset != "" && fi.DescriptorFile == "" {
		return fmt.Errorf("descriptor charset given without a descriptor file")
	}
	return nil
}
