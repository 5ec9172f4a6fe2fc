package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// System columns present on every dynamic batch table.
const (
	SystemColumnID              = "id"
	SystemColumnUploadTimestamp = "upload_timestamp"
	SystemColumnAnomalyAlert    = "anomaly_alert"
)

// SystemColumns lists the implicit columns in declaration order.
func SystemColumns() []string {
	return []string{SystemColumnID, SystemColumnUploadTimestamp, SystemColumnAnomalyAlert}
}

// TableMetadata records one uploaded file and the dynamic table it owns.
// Created atomically with the table; deleted with a cascading table drop;
// never updated in place except record count bookkeeping.
type TableMetadata struct {
	ID              int64
	UploadID        uuid.UUID
	Filename        string
	TableName       string
	UploadTimestamp time.Time
	RecordCount     int
	Columns         []ColumnSpec
}

// ColumnsAsJSON serializes the column specs for the columns_info jsonb column.
func (m TableMetadata) ColumnsAsJSON() ([]byte, error) {
	data, err := json.Marshal(m.Columns)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal columns info: %w", err)
	}
	return data, nil
}

// ColumnsFromJSON deserializes a columns_info payload.
func ColumnsFromJSON(data []byte) ([]ColumnSpec, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var specs []ColumnSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal columns info: %w", err)
	}
	return specs, nil
}

// SanitizedColumns returns the table's physical column set: every sanitized
// user column plus the three system columns.
func (m TableMetadata) SanitizedColumns() []string {
	cols := make([]string, 0, len(m.Columns)+3)
	for _, spec := range m.Columns {
		cols = append(cols, spec.SanitizedKey)
	}
	cols = append(cols, SystemColumns()...)
	return cols
}
