package repository

import (
	"context"
	"time"

	"github.com/rpattn/batchwatch/internal/domain"
)

// TableMetadataRepository defines the interface for upload metadata operations
type TableMetadataRepository interface {
	Create(ctx context.Context, meta domain.TableMetadata) (domain.TableMetadata, error)
	List(ctx context.Context) ([]domain.TableMetadata, error)
	GetByTableName(ctx context.Context, tableName string) (domain.TableMetadata, error)
	UpdateRecordCount(ctx context.Context, tableName string, count int) error
	Delete(ctx context.Context, tableName string) error
}

// DynamicTableRepository provisions and operates on per-upload batch tables.
// Implementations own the identifier quoting discipline; callers hand over
// sanitized names only.
type DynamicTableRepository interface {
	CreateTable(ctx context.Context, tableName string, columns []domain.ColumnSpec) error
	InsertRows(ctx context.Context, tableName string, columns []domain.ColumnSpec, rows []map[string]string, uploadedAt time.Time) (int, error)
	FetchAll(ctx context.Context, tableName string) ([]map[string]any, error)
	UpdateAlerts(ctx context.Context, tableName string, severity domain.Severity, ids []int64) error
	DropTable(ctx context.Context, tableName string) error
}

// AnomalyRepository persists and queries the append-only detection history
type AnomalyRepository interface {
	AppendBatch(ctx context.Context, records []domain.AnomalyRecord) (int, error)
	ListByTable(ctx context.Context, tableName string, severity string, limit int) ([]domain.AnomalyRecord, error)
	DailyCounts(ctx context.Context, lookbackDays int) ([]domain.DayCount, error)
}

// ViewRepository replaces the unified view definition atomically
type ViewRepository interface {
	Replace(ctx context.Context, viewName string, viewSQL string) error
	Drop(ctx context.Context, viewName string) error
}
