package domain

// ColumnType represents the inferred SQL type of an uploaded column.
type ColumnType string

const (
	ColumnTypeInteger   ColumnType = "INTEGER"
	ColumnTypeFloat     ColumnType = "FLOAT"
	ColumnTypeBoolean   ColumnType = "BOOLEAN"
	ColumnTypeTimestamp ColumnType = "TIMESTAMP"
	ColumnTypeDate      ColumnType = "DATE"
	ColumnTypeText      ColumnType = "TEXT"
)

// SQLType maps a ColumnType to its Postgres column type.
func (t ColumnType) SQLType() string {
	switch t {
	case ColumnTypeInteger:
		return "INTEGER"
	case ColumnTypeFloat:
		return "DOUBLE PRECISION"
	case ColumnTypeBoolean:
		return "BOOLEAN"
	case ColumnTypeTimestamp:
		return "TIMESTAMP"
	case ColumnTypeDate:
		return "DATE"
	default:
		return "TEXT"
	}
}

// IsNumeric reports whether values of this type are stored unquoted.
func (t ColumnType) IsNumeric() bool {
	return t == ColumnTypeInteger || t == ColumnTypeFloat
}

// IsTemporal reports whether values of this type are canonicalized on load.
func (t ColumnType) IsTemporal() bool {
	return t == ColumnTypeTimestamp || t == ColumnTypeDate
}

// ColumnSpec describes one uploaded column. It is derived once from a
// bounded sample at upload time and is immutable afterwards; the physical
// table schema is fixed at creation and never migrated.
type ColumnSpec struct {
	Name         string     `json:"name"`
	SanitizedKey string     `json:"sanitized_key"`
	Type         ColumnType `json:"type"`
}
