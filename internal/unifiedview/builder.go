package unifiedview

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/batchwatch/internal/domain"
)

// ViewName is the schema-reconciling view consumed by dashboards.
const ViewName = "csv_data_unified_view"

// numericPatterns are column-name fragments that force a DOUBLE PRECISION
// cast in the view. Mixed-type unioned columns otherwise trip unit
// auto-scaling in dashboards (kWh rendered as MWh).
var numericPatterns = []string{
	"kwh", "energy", "weight", "temp", "temperature",
	"kg", "per_kg", "loss", "pct", "percent", "co2",
	"pressure", "humidity", "speed", "rate", "value",
	"count", "score", "factor",
}

// ColumnUniverse returns the sorted union of every table's sanitized column
// set, including the implicit system columns. Sorted so the view schema is
// stable across rebuilds.
func ColumnUniverse(tables []domain.TableMetadata) []string {
	universe := make(map[string]struct{})
	for _, table := range tables {
		for _, col := range table.SanitizedColumns() {
			universe[col] = struct{}{}
		}
	}

	columns := make([]string, 0, len(universe))
	for col := range universe {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

// BuildViewSQL produces the UNION ALL body of the unified view as a pure
// function of the metadata snapshot. Returns ok=false when no tables are
// registered, in which case the rebuild is a no-op.
//
// Each branch emits three literal provenance columns followed by the global
// column list; a table lacking a column contributes NULL in its branch, and
// numeric-looking columns are cast so the unioned column has one type.
func BuildViewSQL(tables []domain.TableMetadata) (string, bool) {
	if len(tables) == 0 {
		return "", false
	}

	universe := ColumnUniverse(tables)

	branches := make([]string, 0, len(tables))
	for _, table := range tables {
		owned := make(map[string]struct{}, len(table.Columns)+3)
		for _, col := range table.SanitizedColumns() {
			owned[col] = struct{}{}
		}

		parts := make([]string, 0, len(universe)+3)
		parts = append(parts,
			fmt.Sprintf("%s::text AS source_filename", quoteLiteral(table.Filename)),
			fmt.Sprintf("%s::text AS source_table", quoteLiteral(table.TableName)),
			fmt.Sprintf("%s::text AS source_upload_time", quoteLiteral(table.UploadTimestamp.Format(domain.CanonicalTimeFormat))),
		)

		for _, col := range universe {
			ident := pgx.Identifier{col}.Sanitize()
			if _, ok := owned[col]; !ok {
				parts = append(parts, fmt.Sprintf("NULL AS %s", ident))
				continue
			}
			if isNumericColumn(col) {
				parts = append(parts, fmt.Sprintf("CAST(%s AS DOUBLE PRECISION) AS %s", ident, ident))
				continue
			}
			parts = append(parts, ident)
		}

		branches = append(branches, fmt.Sprintf(
			"SELECT %s FROM %s",
			strings.Join(parts, ", "),
			pgx.Identifier{table.TableName}.Sanitize(),
		))
	}

	return strings.Join(branches, " UNION ALL "), true
}

func isNumericColumn(col string) bool {
	lower := strings.ToLower(col)
	for _, pattern := range numericPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
