// Package source reads the identifying and descriptive attributes of
// DICOM objects on disk, delegating the wire parsing to
// github.com/suyashkumar/dicom. Bulk pixel data is never materialized.
package source

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	dtag "github.com/suyashkumar/dicom/pkg/tag"

	"github.com/imagetrove/dcmdir/internal/dcm"
)

// metaTags are the file meta attributes a directory record needs: the
// referenced SOP class/instance pair and the transfer syntax.
var metaTags = []dcm.Tag{
	dcm.TagMediaStorageSOPClassUID,
	dcm.TagMediaStorageSOPInstanceUID,
	dcm.TagTransferSyntaxUID,
}

// Reader extracts a configured attribute selection from DICOM files.
type Reader struct {
	// Tags is the dataset attribute selection, usually the record
	// factory's Tags().
	Tags []dcm.Tag
}

// Read parses the object at path and returns its selected dataset
// attributes and its file meta information. Attributes absent from the
// file are simply missing from the result; parse failures are errors.
func (r *Reader) Read(path string) (src, meta dcm.DataSet, err error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return src, meta, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, t := range r.Tags {
		if v, ok := elementString(&ds, t); ok {
			src.SetString(t, v)
		}
	}
	for _, t := range metaTags {
		if v, ok := elementString(&ds, t); ok {
			meta.SetString(t, v)
		}
	}
	return src, meta, nil
}

func elementString(ds *dicom.Dataset, t dcm.Tag) (string, bool) {
	el, err := ds.FindElementByTag(dtag.Tag{Group: t.Group(), Element: t.Element()})
	if err != nil || el == nil {
		return "", false
	}
	switch v := el.Value.GetValue().(type) {
	case []string:
		return strings.TrimRight(strings.Join(v, `\`), " \x00"), true
	case []int:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, `\`), true
	case string:
		return strings.TrimRight(v, " \x00"), true
	case int:
		return strconv.Itoa(v), true
	default:
		return "", false
	}
}
