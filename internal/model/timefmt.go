package model

import (
	"fmt"
	"strings"
	"time"
)

// Layouts used by the on-disk handoff contract
const (
	DateFolderLayout  = "01-02-2006"
	RunStampLayout    = "01-02-2006_15-04-05"
	ReviewTimeLayout  = "2006-01-02 15:04:05"
	WatermarkLayout   = "2006-01-02T15:04:05.999999"
	DisplayDateLayout = "02/01/2006"
)

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

// ParseTimestamp accepts the ISO-8601 variants written by this tool and by
// the original scripts. Values without an offset are taken as UTC; values
// with one are converted to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
