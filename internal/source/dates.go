package source

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are the formats the upstream API has been observed to emit,
// depending on endpoint and field. Tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"20060102",
	"20060102T150405Z",
	time.RFC3339,
}

// ParseDate canonicalizes an upstream date to YYYY-MM-DD. The empty string
// passes through: it means the date is unknown, which downstream treats as
// a first-class value.
func ParseDate(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("source: unrecognized date %q", s)
}

// canonicalDate is ParseDate with unparseable values degraded to unknown,
// mirroring how the upstream's own consumers treat malformed dates.
func canonicalDate(s string) string {
	d, err := ParseDate(s)
	if err != nil {
		return ""
	}
	return d
}

// compactDate turns a canonical YYYY-MM-DD into the YYYYMMDD form the list
// endpoint's query parameters require.
func compactDate(s string) string {
	return strings.ReplaceAll(s, "-", "")
}
