package domain

import "time"

// Severity is the ordinal anomaly classification for a batch row.
// GREEN (normal) < AMBER (model-flagged) < RED (hard-threshold breach).
type Severity string

const (
	SeverityGreen Severity = "GREEN"
	SeverityAmber Severity = "AMBER"
	SeverityRed   Severity = "RED"
)

// AnomalyRecord is one append-only history row. Only AMBER and RED rows are
// historized; GREEN rows are reflected solely in the source table's
// anomaly_alert column.
type AnomalyRecord struct {
	ID           int64
	Timestamp    time.Time
	BatchID      string
	BatchRowID   int64
	AnomalyScore float64
	IsAnomaly    bool
	Severity     Severity
	TableName    string
	EnergyKWh    float64
	EnergyPerKg  float64
	YieldLossPct float64
	CO2PerKg     float64
	RoomTempC    float64
}

// SkipReason is a typed non-error outcome of a detection run. These are
// expected steady states (e.g. before the first training run), distinct from
// failures.
type SkipReason string

const (
	SkipModelNotLoaded  SkipReason = "model_not_loaded"
	SkipNoData          SkipReason = "no_data"
	SkipMissingColumns  SkipReason = "missing_columns"
	SkipNoValidDataRows SkipReason = "no_valid_data_rows"
)

// DetectionStatus is the coarse outcome of a detection run.
type DetectionStatus string

const (
	DetectionSuccess DetectionStatus = "success"
	DetectionSkipped DetectionStatus = "skipped"
	DetectionError   DetectionStatus = "error"
)

// DetectionResult is returned to callers of DetectAndUpdate. No stack traces
// cross this boundary; Err carries an operator-readable message only.
type DetectionResult struct {
	Status         DetectionStatus  `json:"status"`
	Reason         SkipReason       `json:"reason,omitempty"`
	MissingColumns []string         `json:"missing_columns,omitempty"`
	Anomalies      int              `json:"anomalies"`
	Details        map[Severity]int `json:"details,omitempty"`
	Err            string           `json:"error,omitempty"`
}

// DayCount is one day's anomaly tally, used for rate-spike monitoring.
type DayCount struct {
	Date  time.Time
	Count int
}
