package domain

import (
	"regexp"
	"strings"
	"time"
)

// zoneless matches "YYYY-MM-DD HH:MM[:SS[.ffffff]]" and the ISO form with a
// T separator, both without a zone designator.
var zoneless = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[ T](\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?)$`)

var layouts = []string{time.RFC3339Nano, "2006-01-02T15:04Z07:00", "2006-01-02"}

// NormalizeTimestamp rewrites server timestamps that carry no zone as UTC.
// Values with an explicit offset or Z are returned unchanged. The boolean is
// false for empty input, meaning the value is absent.
func NormalizeTimestamp(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if m := zoneless.FindStringSubmatch(s); m != nil {
		return m[1] + "T" + m[2] + "Z", true
	}
	return s, true
}

// ParseTimestamp normalizes and parses a server timestamp. It returns nil for
// absent or unparseable values.
func ParseTimestamp(s string) *time.Time {
	norm, ok := NormalizeTimestamp(s)
	if !ok {
		return nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, norm); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
