package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/batchwatch/internal/domain"
)

type tableMetadataRepository struct {
	pool *pgxpool.Pool
}

// NewTableMetadataRepository wires a repository backed by pgxpool.
func NewTableMetadataRepository(pool *pgxpool.Pool) TableMetadataRepository {
	return &tableMetadataRepository{pool: pool}
}

func (r *tableMetadataRepository) Create(ctx context.Context, meta domain.TableMetadata) (domain.TableMetadata, error) {
	columnsJSON, err := meta.ColumnsAsJSON()
	if err != nil {
		return domain.TableMetadata{}, err
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO csv_files_metadata (upload_id, filename, table_name, upload_timestamp, record_count, columns_info)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		meta.UploadID,
		meta.Filename,
		meta.TableName,
		meta.UploadTimestamp,
		meta.RecordCount,
		columnsJSON,
	)
	if err := row.Scan(&meta.ID); err != nil {
		return domain.TableMetadata{}, fmt.Errorf("failed to insert table metadata: %w", err)
	}
	return meta, nil
}

func (r *tableMetadataRepository) List(ctx context.Context) ([]domain.TableMetadata, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, upload_id, filename, table_name, upload_timestamp, record_count, columns_info
		 FROM csv_files_metadata
		 ORDER BY upload_timestamp DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list table metadata: %w", err)
	}
	defer rows.Close()

	var result []domain.TableMetadata
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate table metadata: %w", err)
	}
	return result, nil
}

func (r *tableMetadataRepository) GetByTableName(ctx context.Context, tableName string) (domain.TableMetadata, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, upload_id, filename, table_name, upload_timestamp, record_count, columns_info
		 FROM csv_files_metadata
		 WHERE table_name = $1`,
		tableName,
	)
	if err != nil {
		return domain.TableMetadata{}, fmt.Errorf("failed to get table metadata: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.TableMetadata{}, fmt.Errorf("failed to get table metadata: %w", err)
		}
		return domain.TableMetadata{}, pgx.ErrNoRows
	}
	return scanMetadata(rows)
}

func (r *tableMetadataRepository) UpdateRecordCount(ctx context.Context, tableName string, count int) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE csv_files_metadata SET record_count = $1 WHERE table_name = $2`,
		count,
		tableName,
	)
	if err != nil {
		return fmt.Errorf("failed to update record count: %w", err)
	}
	return nil
}

func (r *tableMetadataRepository) Delete(ctx context.Context, tableName string) error {
	cmd, err := r.pool.Exec(
		ctx,
		`DELETE FROM csv_files_metadata WHERE table_name = $1`,
		tableName,
	)
	if err != nil {
		return fmt.Errorf("failed to delete table metadata: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanMetadata(rows pgx.Rows) (domain.TableMetadata, error) {
	var meta domain.TableMetadata
	var columnsJSON []byte
	if err := rows.Scan(
		&meta.ID,
		&meta.UploadID,
		&meta.Filename,
		&meta.TableName,
		&meta.UploadTimestamp,
		&meta.RecordCount,
		&columnsJSON,
	); err != nil {
		return domain.TableMetadata{}, fmt.Errorf("failed to scan table metadata: %w", err)
	}

	columns, err := domain.ColumnsFromJSON(columnsJSON)
	if err != nil {
		return domain.TableMetadata{}, fmt.Errorf("failed to parse columns for %s: %w", meta.TableName, err)
	}
	meta.Columns = columns
	return meta, nil
}
