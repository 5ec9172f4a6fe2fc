package ingestion

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rpattn/batchwatch/internal/domain"
)

var (
	nonIdentChars  = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	repeatedUnders = regexp.MustCompile(`_+`)
	boolSet        = map[string]struct{}{
		"true": {}, "false": {}, "yes": {}, "no": {},
		"1": {}, "0": {}, "y": {}, "n": {},
	}
)

// reservedColumns are the system columns a CSV header must not shadow.
var reservedColumns = map[string]struct{}{
	domain.SystemColumnID:              {},
	domain.SystemColumnUploadTimestamp: {},
	domain.SystemColumnAnomalyAlert:    {},
}

// InferColumnType infers the column type from its name and a bounded sample
// of raw values. Deterministic and pure: the same (name, samples) pair always
// yields the same type. Policy order, first match wins:
//
//  1. Name contains "date" or "time" -> TIMESTAMP, regardless of content.
//  2. No non-null sample values -> TEXT.
//  3. All values in the boolean literal set -> BOOLEAN.
//  4. All values parse as floats -> FLOAT. Integers are folded into FLOAT on
//     purpose; nothing ever infers as INTEGER.
//  5. First 5 values all parse as timestamps -> TIMESTAMP.
//  6. Otherwise TEXT.
func InferColumnType(colName string, samples []string) domain.ColumnType {
	lower := strings.ToLower(colName)
	if strings.Contains(lower, "date") || strings.Contains(lower, "time") {
		return domain.ColumnTypeTimestamp
	}

	var clean []string
	for _, v := range samples {
		v = strings.TrimSpace(v)
		switch v {
		case "", "NULL", "null", "None":
			continue
		}
		clean = append(clean, v)
	}
	if len(clean) == 0 {
		return domain.ColumnTypeText
	}

	allBool := true
	for _, v := range clean {
		if _, ok := boolSet[strings.ToLower(v)]; !ok {
			allBool = false
			break
		}
	}
	if allBool {
		return domain.ColumnTypeBoolean
	}

	allFloat := true
	for _, v := range clean {
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			allFloat = false
			break
		}
	}
	if allFloat {
		return domain.ColumnTypeFloat
	}

	probe := clean
	if len(probe) > 5 {
		probe = probe[:5]
	}
	allTime := true
	for _, v := range probe {
		if _, err := domain.ParseTimestamp(v); err != nil {
			allTime = false
			break
		}
	}
	if allTime {
		return domain.ColumnTypeTimestamp
	}

	return domain.ColumnTypeText
}

// SanitizeTableName derives a unique dynamic table name from the uploaded
// filename: non-alphanumerics collapse to single underscores, a leading digit
// gains a csv_ guard, and a microsecond timestamp suffix keeps concurrent
// uploads of the same file distinct.
func SanitizeTableName(filename string, now time.Time) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	name = nonIdentChars.ReplaceAllString(name, "_")
	name = repeatedUnders.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "upload"
	}
	if unicode.IsDigit(rune(name[0])) {
		name = "csv_" + name
	}

	suffix := fmt.Sprintf("%s_%06d", now.Format("20060102_150405"), now.Nanosecond()/1000)
	return strings.ToLower(fmt.Sprintf("csv_%s_%s", name, suffix))
}

// SanitizeColumnName maps a CSV header to its physical column name:
// [a-zA-Z0-9_] only, lower-cased, csv_-prefixed when it would shadow a
// system column or start with a digit.
func SanitizeColumnName(name string) string {
	safe := strings.ToLower(nonIdentChars.ReplaceAllString(name, "_"))
	if safe == "" {
		safe = "column"
	}
	if _, reserved := reservedColumns[safe]; reserved {
		safe = "csv_" + safe
	}
	if unicode.IsDigit(rune(safe[0])) {
		safe = "csv_" + safe
	}
	return safe
}

// BuildColumnSpecs sanitizes every header and resolves duplicate sanitized
// keys with a numeric suffix so the CREATE TABLE never sees a collision.
func BuildColumnSpecs(headers []string, types map[string]domain.ColumnType) []domain.ColumnSpec {
	specs := make([]domain.ColumnSpec, 0, len(headers))
	seen := make(map[string]int)

	for _, header := range headers {
		key := SanitizeColumnName(header)
		count := seen[key]
		seen[key] = count + 1
		if count > 0 {
			key = fmt.Sprintf("%s_%d", key, count+1)
		}

		specs = append(specs, domain.ColumnSpec{
			Name:         header,
			SanitizedKey: key,
			Type:         types[header],
		})
	}
	return specs
}
