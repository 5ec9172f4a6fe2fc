package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/batchwatch/internal/domain"
)

type anomalyRepository struct {
	pool *pgxpool.Pool
}

// NewAnomalyRepository wires a repository backed by pgxpool.
func NewAnomalyRepository(pool *pgxpool.Pool) AnomalyRepository {
	return &anomalyRepository{pool: pool}
}

// insertAnomalySQL relies on the unique (table_name, batch_row_id)
// constraint: DO NOTHING makes re-runs of an unchanged detection idempotent,
// duplicates are silently dropped.
const insertAnomalySQL = `INSERT INTO anomaly_detections
   (timestamp, batch_id, batch_row_id, anomaly_score, is_anomaly, severity, table_name,
    energy_kwh, energy_per_kg, yield_loss_pct, co2_per_kg, room_temp_c)
 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
 ON CONFLICT (table_name, batch_row_id) DO NOTHING`

// AppendBatch inserts detection history rows inside one transaction,
// returning how many were actually new.
func (r *anomalyRepository) AppendBatch(ctx context.Context, records []domain.AnomalyRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, rec := range records {
		cmd, err := tx.Exec(
			ctx,
			insertAnomalySQL,
			rec.Timestamp,
			rec.BatchID,
			rec.BatchRowID,
			rec.AnomalyScore,
			rec.IsAnomaly,
			string(rec.Severity),
			rec.TableName,
			rec.EnergyKWh,
			rec.EnergyPerKg,
			rec.YieldLossPct,
			rec.CO2PerKg,
			rec.RoomTempC,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert anomaly record: %w", err)
		}
		inserted += int(cmd.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit anomaly history: %w", err)
	}
	return inserted, nil
}

func (r *anomalyRepository) ListByTable(ctx context.Context, tableName string, severity string, limit int) ([]domain.AnomalyRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, timestamp, batch_id, batch_row_id, anomaly_score, is_anomaly, severity, table_name,
		        energy_kwh, energy_per_kg, yield_loss_pct, co2_per_kg, room_temp_c
		 FROM anomaly_detections
		 WHERE ($1 = '' OR table_name = $1)
		   AND ($2 = '' OR severity = $2)
		 ORDER BY timestamp DESC
		 LIMIT $3`,
		tableName,
		severity,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomaly records: %w", err)
	}
	defer rows.Close()

	var result []domain.AnomalyRecord
	for rows.Next() {
		var rec domain.AnomalyRecord
		var sev string
		if err := rows.Scan(
			&rec.ID,
			&rec.Timestamp,
			&rec.BatchID,
			&rec.BatchRowID,
			&rec.AnomalyScore,
			&rec.IsAnomaly,
			&sev,
			&rec.TableName,
			&rec.EnergyKWh,
			&rec.EnergyPerKg,
			&rec.YieldLossPct,
			&rec.CO2PerKg,
			&rec.RoomTempC,
		); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly record: %w", err)
		}
		rec.Severity = domain.Severity(sev)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate anomaly records: %w", err)
	}
	return result, nil
}

// DailyCounts returns per-day anomaly totals over the lookback window, most
// recent day first, for rate-spike monitoring.
func (r *anomalyRepository) DailyCounts(ctx context.Context, lookbackDays int) ([]domain.DayCount, error) {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT DATE(timestamp) AS day, COUNT(*) AS anomaly_count
		 FROM anomaly_detections
		 WHERE timestamp >= NOW() - ($1 * INTERVAL '1 day')
		 GROUP BY DATE(timestamp)
		 ORDER BY day DESC`,
		lookbackDays,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily anomaly counts: %w", err)
	}
	defer rows.Close()

	var result []domain.DayCount
	for rows.Next() {
		var dc domain.DayCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan daily count: %w", err)
		}
		result = append(result, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily counts: %w", err)
	}
	return result, nil
}
