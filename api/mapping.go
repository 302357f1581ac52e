// Package api holds the public configuration schema of dcmdir.
package api

// Mapping is the root of a record-mapping configuration. It overrides,
// per record type, which source attributes are copied into directory
// records:
//
//	record "SERIES" {
//	  tags = ["0008,0060", "0020,000E", "0020,0011", "0008,103E"]
//	}
//
// Record types without a block keep the built-in attribute selection.
type Mapping struct {
	Records []RecordMapping `hcl:"record,block"`
}

// RecordMapping selects the payload attributes for one record type.
type RecordMapping struct {
	// Type is the directory record type: PATIENT, STUDY, SERIES or
	// IMAGE.
	Type string `hcl:"type,label"`
	// Tags lists attribute tags as "GGGG,EEEE" hex pairs. Unknown or
	// malformed tags fail configuration loading; nothing defaults
	// silently.
	Tags []string `hcl:"tags"`
}
