// Package csvtab imports delimited text tables of object descriptions
// through the same add-reference path as file import, one row per
// indexed instance.
package csvtab

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/imagetrove/dcmdir/internal/dcm"
	"github.com/imagetrove/dcmdir/internal/dirindex"
)

// keywords maps header column names to attribute tags. Column names
// not listed here must be given as hex tags; anything else fails the
// import up front instead of defaulting silently.
var keywords = map[string]dcm.Tag{
	"SpecificCharacterSet": dcm.TagSpecificCharacterSet,
	"PatientID":            dcm.TagPatientID,
	"PatientName":          dcm.TagPatientName,
	"PatientBirthDate":     dcm.TagPatientBirthDate,
	"PatientSex":           dcm.TagPatientSex,
	"StudyInstanceUID":     dcm.TagStudyInstanceUID,
	"StudyDate":            dcm.TagStudyDate,
	"StudyTime":            dcm.TagStudyTime,
	"StudyID":              dcm.TagStudyID,
	"StudyDescription":     dcm.TagStudyDescription,
	"AccessionNumber":      dcm.TagAccessionNumber,
	"SeriesInstanceUID":    dcm.TagSeriesInstanceUID,
	"Modality":             dcm.TagModality,
	"SeriesNumber":         dcm.TagSeriesNumber,
	"SeriesDescription":    dcm.TagSeriesDescription,
	"SOPClassUID":          dcm.TagSOPClassUID,
	"SOPInstanceUID":       dcm.TagSOPInstanceUID,
	"InstanceNumber":       dcm.TagInstanceNumber,
	"TransferSyntaxUID":    dcm.TagTransferSyntaxUID,
	"ReferencedFileID":     dcm.TagReferencedFileID,
}

var hexColumn = regexp.MustCompile(`^[0-9a-fA-F]{8}$`)

// maxRowLen caps one table row.
const maxRowLen = 1 << 20

// Options control the table syntax.
type Options struct {
	// Delimiter separates fields; default ','.
	Delimiter rune
	// Quote opens and closes a span in which the delimiter is
	// literal; a doubled quote inside the span is an escaped quote.
	// Default '"'.
	Quote rune
}

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.Quote == 0 {
		o.Quote = '"'
	}
	return o
}

// Result is the aggregate per-row outcome of one import.
type Result struct {
	Rows       int // data rows seen
	Created    int // rows that created at least one record
	Records    int // directory records created in total
	Duplicates int // rows whose instance was already indexed
	Malformed  int // rows skipped for a field-count mismatch
	Failed     int // rows rejected by the engine
}

// Importer feeds table rows into a directory engine.
type Importer struct {
	Engine *dirindex.Engine
	Opts   Options
	Log    *zap.Logger
}

// Import reads a delimited table: one header line naming the columns,
// then one row per object. Malformed rows are skipped with a warning;
// engine rejections are recorded per row. Only structural failures
// (unreadable input, unknown column names, container errors on the
// engine's session) abort the import.
func (imp *Importer) Import(r io.Reader) (Result, error) {
	var res Result
	log := imp.Log
	if log == nil {
		log = zap.NewNop()
	}
	opts := imp.Opts.withDefaults()

	sc := bufio.NewScanner(r)
	// rows carry attribute values, not object data; 1 MiB is far above
	// any legitimate row, and longer lines abort with bufio.ErrTooLong
	sc.Buffer(make([]byte, 0, 64*1024), maxRowLen)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return res, err
		}
		return res, fmt.Errorf("import table has no header line")
	}
	cols, err := resolveColumns(splitLine(trimEOL(sc.Text()), opts))
	if err != nil {
		return res, err
	}

	line := 1
	for sc.Scan() {
		line++
		raw := trimEOL(sc.Text())
		if strings.TrimSpace(raw) == "" {
			continue
		}
		res.Rows++
		fields := splitLine(raw, opts)
		if len(fields) != len(cols) {
			log.Warn("skipping malformed row",
				zap.Int("line", line),
				zap.Int("fields", len(fields)),
				zap.Int("columns", len(cols)))
			res.Malformed++
			continue
		}

		src, meta, fileIDs := buildRow(cols, fields)
		n, err := imp.Engine.AddReference(src, meta, fileIDs)
		if err != nil {
			if dirindex.Structural(err) {
				return res, err
			}
			log.Warn("row rejected", zap.Int("line", line), zap.Error(err))
			res.Failed++
			continue
		}
		res.Records += n
		if n > 0 {
			res.Created++
		} else {
			res.Duplicates++
		}
	}
	return res, sc.Err()
}

// buildRow converts one parsed row into the engine's inputs.
func buildRow(cols []dcm.Tag, fields []string) (src, meta dcm.DataSet, fileIDs []string) {
	for i, t := range cols {
		v := strings.TrimSpace(fields[i])
		if v == "" {
			continue
		}
		switch t {
		case dcm.TagReferencedFileID:
			fileIDs = strings.Split(strings.Trim(v, "/"), "/")
		case dcm.TagTransferSyntaxUID:
			meta.SetString(dcm.TagTransferSyntaxUID, v)
		default:
			src.SetString(t, v)
		}
	}
	return src, meta, fileIDs
}

// resolveColumns builds the validated column-to-tag mapping once at
// import start. Unknown column names fail fast.
func resolveColumns(names []string) ([]dcm.Tag, error) {
	cols := make([]dcm.Tag, len(names))
	seen := map[dcm.Tag]int{}
	for i, name := range names {
		name = strings.TrimSpace(name)
		t, ok := keywords[name]
		if !ok {
			var err error
			if hexColumn.MatchString(name) {
				t, err = dcm.ParseTag(name[:4] + "," + name[4:])
			} else {
				t, err = dcm.ParseTag(name)
			}
			if err != nil {
				return nil, fmt.Errorf("unknown import column %q", name)
			}
		}
		if prev, dup := seen[t]; dup {
			return nil, fmt.Errorf("import columns %d and %d both map to %s", prev+1, i+1, t)
		}
		seen[t] = i
		cols[i] = t
	}
	return cols, nil
}

// splitLine splits one row on the delimiter, honoring quoted spans: a
// delimiter inside quotes is literal and a doubled quote is an escaped
// quote character.
func splitLine(line string, opts Options) []string {
	var fields []string
	var cur strings.Builder
	inQuote := false
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; {
		case r == opts.Quote:
			if inQuote && i+1 < len(runes) && runes[i+1] == opts.Quote {
				cur.WriteRune(opts.Quote)
				i++
			} else {
				inQuote = !inQuote
			}
		case r == opts.Delimiter && !inQuote:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}

func trimEOL(s string) string {
	return strings.TrimRight(s, "\r")
}
