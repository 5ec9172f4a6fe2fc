package domain

import (
	"fmt"
	"strings"
	"time"
)

// CanonicalTimeFormat is the form timestamp cells are normalized to on load.
const CanonicalTimeFormat = "2006-01-02 15:04:05"

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"02 Jan 2006",
	"Jan 2, 2006",
}

// ParseTimestamp tries the known layouts in order.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
