package features

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/batchwatch/internal/domain"
)

// Cell accessors over raw dynamic-table rows. Column keys arrive in their
// sanitized lower-case form; cell values arrive as whatever the driver
// decoded (float64, int64, bool, string, time.Time, or nil).

func columnPresent(rows []Row, aliases ...string) bool {
	for _, row := range rows {
		for _, key := range aliases {
			if _, ok := row[key]; ok {
				return true
			}
		}
	}
	return false
}

// floatOrNaN resolves the first alias present in the row to a float64.
// Absent keys, nil cells, and unparseable strings all yield NaN.
func floatOrNaN(row Row, aliases ...string) float64 {
	for _, key := range aliases {
		v, ok := row[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t
		case float32:
			return float64(t)
		case int64:
			return float64(t)
		case int32:
			return float64(t)
		case int:
			return float64(t)
		case bool:
			if t {
				return 1
			}
			return 0
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return math.NaN()
			}
			return f
		}
		return math.NaN()
	}
	return math.NaN()
}

func intAt(row Row, key string) (int64, bool) {
	v, ok := row[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	}
	return 0, false
}

func stringAt(row Row, aliases ...string) (string, bool) {
	for _, key := range aliases {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			return s, true
		}
	}
	return "", false
}

func timeAt(row Row, key string) (time.Time, bool) {
	v, ok := row[key]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		ts, err := domain.ParseTimestamp(t)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}
	return time.Time{}, false
}
