package repository

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rpattn/batchwatch/internal/domain"
)

// validIdent is the allow-list for dynamically generated table and column
// names. Anything produced by the ingestion sanitizer matches it; anything
// else is rejected before it can reach a SQL statement.
var validIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// nullLiterals are cell values loaded as SQL NULL.
var nullLiterals = map[string]struct{}{
	"": {}, "NULL": {}, "null": {}, "None": {},
}

type dynamicTableRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDynamicTableRepository wires a repository backed by pgxpool.
func NewDynamicTableRepository(pool *pgxpool.Pool, logger *zap.Logger) DynamicTableRepository {
	return &dynamicTableRepository{pool: pool, logger: logger}
}

func checkIdent(name string) error {
	if !validIdent.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// quoteIdent quotes an already-validated identifier for embedding in SQL.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// CreateTable provisions one dynamic batch table. The statement runs in its
// own transaction; on failure nothing is left behind and the caller must not
// proceed to row loading.
func (r *dynamicTableRepository) CreateTable(ctx context.Context, tableName string, columns []domain.ColumnSpec) error {
	if err := checkIdent(tableName); err != nil {
		return err
	}
	for _, col := range columns {
		if err := checkIdent(col.SanitizedKey); err != nil {
			return err
		}
	}

	ddl := BuildCreateTableSQL(tableName, columns)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit table creation: %w", err)
	}

	r.logger.Info("created dynamic table",
		zap.String("table", tableName),
		zap.Int("columns", len(columns)))
	return nil
}

// BuildCreateTableSQL constructs the CREATE TABLE statement for a dynamic
// batch table. Pure so DDL shape is unit-testable without a database.
func BuildCreateTableSQL(tableName string, columns []domain.ColumnSpec) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(quoteIdent(tableName))
	b.WriteString(" (")
	b.WriteString("id SERIAL PRIMARY KEY, ")
	b.WriteString("upload_timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP")

	for _, col := range columns {
		b.WriteString(", ")
		b.WriteString(quoteIdent(col.SanitizedKey))
		b.WriteString(" ")
		b.WriteString(col.Type.SQLType())
	}

	b.WriteString(", anomaly_alert TEXT DEFAULT NULL)")
	return b.String()
}

// BuildInsertSQL constructs the parameterized single-row INSERT for a dynamic
// table: upload_timestamp first, then every user column in spec order.
func BuildInsertSQL(tableName string, columns []domain.ColumnSpec) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(tableName))
	b.WriteString(" (upload_timestamp")
	for _, col := range columns {
		b.WriteString(", ")
		b.WriteString(quoteIdent(col.SanitizedKey))
	}
	b.WriteString(") VALUES ($1")
	for i := range columns {
		b.WriteString(fmt.Sprintf(", $%d", i+2))
	}
	b.WriteString(")")
	return b.String()
}

// InsertRows loads CSV rows one statement at a time. A failed row is logged
// and skipped without rolling back rows already inserted; the count of rows
// actually inserted is returned.
func (r *dynamicTableRepository) InsertRows(ctx context.Context, tableName string, columns []domain.ColumnSpec, rows []map[string]string, uploadedAt time.Time) (int, error) {
	if err := checkIdent(tableName); err != nil {
		return 0, err
	}
	for _, col := range columns {
		if err := checkIdent(col.SanitizedKey); err != nil {
			return 0, err
		}
	}

	insertSQL := BuildInsertSQL(tableName, columns)
	inserted := 0

	for i, row := range rows {
		args := make([]any, 0, len(columns)+1)
		args = append(args, uploadedAt)

		rowErr := error(nil)
		for _, col := range columns {
			value, err := ConvertCell(col.Type, row[col.Name])
			if err != nil {
				rowErr = fmt.Errorf("column %s: %w", col.Name, err)
				break
			}
			args = append(args, value)
		}
		if rowErr != nil {
			r.logger.Warn("skipping unloadable row",
				zap.String("table", tableName),
				zap.Int("row", i+1),
				zap.Error(rowErr))
			continue
		}

		if _, err := r.pool.Exec(ctx, insertSQL, args...); err != nil {
			r.logger.Warn("row insert failed",
				zap.String("table", tableName),
				zap.Int("row", i+1),
				zap.Error(err))
			continue
		}
		inserted++
	}

	return inserted, nil
}

// ConvertCell coerces one raw CSV cell into the parameter value for its
// inferred column type. Empty strings and NULL literals become SQL NULL.
func ConvertCell(colType domain.ColumnType, raw string) (any, error) {
	value := strings.TrimSpace(raw)
	if _, isNull := nullLiterals[value]; isNull {
		return nil, nil
	}

	switch colType {
	case domain.ColumnTypeInteger, domain.ColumnTypeFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to number", raw)
		}
		return f, nil
	case domain.ColumnTypeBoolean:
		switch strings.ToLower(value) {
		case "true", "yes", "1", "y":
			return true, nil
		case "false", "no", "0", "n":
			return false, nil
		}
		b, err := strconv.ParseBool(strings.ToLower(value))
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to boolean", raw)
		}
		return b, nil
	case domain.ColumnTypeTimestamp, domain.ColumnTypeDate:
		if ts, err := domain.ParseTimestamp(value); err == nil {
			return ts.Format(domain.CanonicalTimeFormat), nil
		}
		// Lenient fallback: hand the raw string to the database rather than
		// dropping the row over an unrecognized layout.
		return value, nil
	default:
		return value, nil
	}
}

// FetchAll reads every row of a dynamic table in surrogate-key order, which
// preserves CSV insert order.
func (r *dynamicTableRepository) FetchAll(ctx context.Context, tableName string) ([]map[string]any, error) {
	if err := checkIdent(tableName); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY id", quoteIdent(tableName)))
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", tableName, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", tableName, err)
		}
		record := make(map[string]any, len(fields))
		for i, field := range fields {
			record[string(field.Name)] = values[i]
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows from %s: %w", tableName, err)
	}

	return result, nil
}

// UpdateAlerts sets anomaly_alert for one severity group in a single
// statement.
func (r *dynamicTableRepository) UpdateAlerts(ctx context.Context, tableName string, severity domain.Severity, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := checkIdent(tableName); err != nil {
		return err
	}

	updateSQL := fmt.Sprintf("UPDATE %s SET anomaly_alert = $1 WHERE id = ANY($2)", quoteIdent(tableName))
	if _, err := r.pool.Exec(ctx, updateSQL, string(severity), ids); err != nil {
		return fmt.Errorf("failed to update anomaly alerts on %s: %w", tableName, err)
	}
	return nil
}

// DropTable removes a dynamic table; used by metadata delete.
func (r *dynamicTableRepository) DropTable(ctx context.Context, tableName string) error {
	if err := checkIdent(tableName); err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(tableName))); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", tableName, err)
	}
	return nil
}
