package detector

import (
	"fmt"
	"strings"
	"time"
)

// Layouts tried in order. Naive layouts (no offset) are read as UTC.
// time.Parse accepts a fractional second after the seconds field even when
// the layout omits it.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04",
	"2006-01-02 15:04Z07:00",
	"2006-01-02 15:04Z0700",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses the ISO-8601 forms log producers emit:
//
//	2024-03-01                      date only, midnight UTC
//	2024-03-01T12:00                minutes precision
//	2024-03-01T12:00:00[.ffffff]    seconds, optional fraction
//
// The date and time may be separated by 'T' or a space. The time may be
// followed by Z, an extended offset (+02:00) or a basic offset (+0200);
// without one it is read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
