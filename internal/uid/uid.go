// Package uid generates and validates DICOM unique identifiers.
package uid

import (
	"math/big"
	"regexp"

	"github.com/google/uuid"
)

// uuidRoot is the standard prefix for UIDs derived from a UUID
// (PS3.5 B.2): "2.25." followed by the UUID as a decimal integer.
const uuidRoot = "2.25."

const maxLen = 64

var uidPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// New returns a fresh globally unique UID in dotted-numeric syntax.
func New() string {
	u := uuid.New()
	return uuidRoot + new(big.Int).SetBytes(u[:]).String()
}

// Valid reports whether s is a syntactically valid UID: dotted decimal
// components without leading zeros, at most 64 characters.
func Valid(s string) bool {
	if s == "" || len(s) > maxLen {
		return false
	}
	if !uidPattern.MatchString(s) {
		return false
	}
	// No component may have a leading zero unless it is exactly "0".
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if i-start > 1 && s[start] == '0' {
				return false
			}
			start = i + 1
		}
	}
	return true
}
