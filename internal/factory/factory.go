// Package factory builds directory record attribute sets from source
// datasets. The attribute selection per record type is fixed by
// default and overridable through an HCL mapping configuration.
package factory

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/imagetrove/dcmdir/api"
	"github.com/imagetrove/dcmdir/internal/dcm"
	"github.com/imagetrove/dcmdir/internal/dirfile"
)

// defaultPayload is the built-in attribute selection, the directory
// record keys plus the descriptive fields readers expect at each
// level.
var defaultPayload = map[dirfile.RecordType][]dcm.Tag{
	dirfile.Patient: {
		dcm.TagSpecificCharacterSet,
		dcm.TagPatientName,
		dcm.TagPatientID,
		dcm.TagPatientBirthDate,
		dcm.TagPatientSex,
	},
	dirfile.Study: {
		dcm.TagSpecificCharacterSet,
		dcm.TagStudyDate,
		dcm.TagStudyTime,
		dcm.TagAccessionNumber,
		dcm.TagStudyDescription,
		dcm.TagStudyInstanceUID,
		dcm.TagStudyID,
	},
	dirfile.Series: {
		dcm.TagSpecificCharacterSet,
		dcm.TagModality,
		dcm.TagSeriesInstanceUID,
		dcm.TagSeriesNumber,
		dcm.TagSeriesDescription,
	},
	dirfile.Image: {
		dcm.TagSpecificCharacterSet,
		dcm.TagInstanceNumber,
	},
}

// Factory implements the engine's RecordFactory.
type Factory struct {
	payload map[dirfile.RecordType][]dcm.Tag
}

// Default returns a factory with the built-in attribute selection.
func Default() *Factory {
	return &Factory{payload: defaultPayload}
}

// FromConfig applies a mapping configuration on top of the defaults.
// Unknown record types and malformed tags are rejected up front.
func FromConfig(m api.Mapping) (*Factory, error) {
	payload := make(map[dirfile.RecordType][]dcm.Tag, len(defaultPayload))
	for k, v := range defaultPayload {
		payload[k] = v
	}
	for _, rm := range m.Records {
		typ := dirfile.RecordType(rm.Type)
		if _, ok := defaultPayload[typ]; !ok {
			return nil, fmt.Errorf("mapping config: unknown record type %q", rm.Type)
		}
		tags := make([]dcm.Tag, 0, len(rm.Tags))
		for _, ts := range rm.Tags {
			t, err := dcm.ParseTag(ts)
			if err != nil {
				return nil, fmt.Errorf("mapping config: record %s: %w", rm.Type, err)
			}
			if t <= dcm.TagDirectoryRecordType {
				return nil, fmt.Errorf("mapping config: record %s: tag %s is reserved for record control", rm.Type, t)
			}
			tags = append(tags, t)
		}
		payload[typ] = tags
	}
	return &Factory{payload: payload}, nil
}

// Load reads an HCL mapping configuration from disk.
func Load(path string) (*Factory, error) {
	var m api.Mapping
	if err := hclsimple.DecodeFile(path, nil, &m); err != nil {
		return nil, fmt.Errorf("load mapping config: %w", err)
	}
	return FromConfig(m)
}

// Tags returns every source attribute the factory may read: the
// configured payload selections plus the identity and referenced-pair
// attributes. Source readers use it to know what to extract.
func (f *Factory) Tags() []dcm.Tag {
	seen := map[dcm.Tag]bool{
		dcm.TagPatientID:         true,
		dcm.TagStudyInstanceUID:  true,
		dcm.TagSeriesInstanceUID: true,
		dcm.TagSOPClassUID:       true,
		dcm.TagSOPInstanceUID:    true,
	}
	for _, tags := range f.payload {
		for _, t := range tags {
			seen[t] = true
		}
	}
	out := make([]dcm.Tag, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// Create builds one directory record. src is the source dataset, meta
// its file meta information (may be empty), fileIDs the referenced
// file path components for IMAGE records.
func (f *Factory) Create(typ dirfile.RecordType, src, meta dcm.DataSet, fileIDs []string) (*dirfile.Record, error) {
	attrs := dcm.DataSet{}
	for _, t := range f.payload[typ] {
		if e, ok := src.Get(t); ok {
			attrs.Set(e)
		}
	}

	if typ == dirfile.Image {
		sop := src.GetString(dcm.TagSOPInstanceUID)
		if sop == "" {
			sop = meta.GetString(dcm.TagMediaStorageSOPInstanceUID)
		}
		if sop == "" {
			return nil, fmt.Errorf("source has no SOP instance UID for an IMAGE record")
		}
		attrs.SetString(dcm.TagReferencedSOPInstanceUID, sop)
		class := src.GetString(dcm.TagSOPClassUID)
		if class == "" {
			class = meta.GetString(dcm.TagMediaStorageSOPClassUID)
		}
		if class != "" {
			attrs.SetString(dcm.TagReferencedSOPClassUID, class)
		}
		if ts := meta.GetString(dcm.TagTransferSyntaxUID); ts != "" {
			attrs.SetString(dcm.TagReferencedTransferSyntax, ts)
		}
		if len(fileIDs) > 0 {
			attrs.SetString(dcm.TagReferencedFileID, fileIDs...)
		}
	}

	key := typ.KeyTag()
	if !attrs.Has(key) {
		// The key may be outside the configured payload selection;
		// records are unusable without it, so pull it from the source.
		if e, ok := src.Get(key); ok {
			attrs.Set(e)
		} else {
			return nil, fmt.Errorf("source has no %s for a %s record", key, typ)
		}
	}

	return &dirfile.Record{Type: typ, InUse: true, Attrs: attrs}, nil
}
