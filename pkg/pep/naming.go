// Package pep implements the naming and version canonicalization rules the
// index relies on for identity: PEP 503 project-name normalization and
// PEP 440 version canonicalization. All functions are pure and total; on
// malformed input they degrade gracefully instead of failing ingestion.
package pep

import (
	"regexp"
	"strings"
)

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName maps a project name to its canonical comparison form:
// lower-cased, with runs of '.', '_' and '-' collapsed to a single '-'.
// The result is used for every project lookup and uniqueness check.
func NormalizeName(raw string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(raw, "-"))
}
