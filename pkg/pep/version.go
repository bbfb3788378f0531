package pep

import (
	"regexp"
	"strings"
)

var (
	// Optional epoch ("N:"), dotted numeric release segment, optional
	// pre/post/dev suffix introduced by '.' or '-'.
	versionPattern = regexp.MustCompile(`^(?:(\d+):)?(\d+(?:\.\d+)*)([.-].+)?$`)

	trailingZeros = regexp.MustCompile(`(\.0)+$`)

	prereleaseMarker = regexp.MustCompile(`(?i)(?:^|[._-])?(a|b|c|rc|alpha|beta|pre|preview|dev)[._-]?\d*$`)
)

// CanonicalizeVersion reassembles a version string as {epoch}!{release}{suffix},
// omitting the epoch marker when the epoch is zero or absent. When
// stripTrailingZero is set, trailing ".0" release segments are removed before
// reassembly. Unparsable input is returned unchanged so that a version-format
// edge case can never fail an upload.
func CanonicalizeVersion(raw string, stripTrailingZero bool) string {
	m := versionPattern.FindStringSubmatch(raw)
	if m == nil {
		return raw
	}

	var b strings.Builder

	epoch := m[1]
	if epoch != "" && strings.TrimLeft(epoch, "0") != "" {
		b.WriteString(epoch)
		b.WriteByte('!')
	}

	release := m[2]
	if stripTrailingZero {
		release = trailingZeros.ReplaceAllString(release, "")
	}
	b.WriteString(release)

	b.WriteString(m[3])

	return b.String()
}

// IsPrerelease reports whether the version carries a recognized
// pre-release or dev marker (a, b, c, rc, alpha, beta, pre, preview, dev).
func IsPrerelease(version string) bool {
	m := versionPattern.FindStringSubmatch(version)
	if m == nil {
		// Best effort for non-PEP 440 versions.
		return prereleaseMarker.MatchString(version)
	}
	suffix := m[3]
	if suffix == "" {
		return false
	}
	return prereleaseMarker.MatchString(suffix)
}
