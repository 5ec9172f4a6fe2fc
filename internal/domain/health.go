package domain

// CheckSeverity grades a single model health check.
type CheckSeverity string

const (
	CheckInfo    CheckSeverity = "INFO"
	CheckWarning CheckSeverity = "WARNING"
	CheckCaution CheckSeverity = "CAUTION"
	CheckError   CheckSeverity = "ERROR"
)

// CheckResult is the outcome of one health check.
type CheckResult struct {
	Status   string         `json:"status"`
	Severity CheckSeverity  `json:"severity"`
	Message  string         `json:"message,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// HealthAlert is a check result that crossed the alerting bar.
type HealthAlert struct {
	Check    string        `json:"check"`
	Severity CheckSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// HealthReport aggregates the daily model health checks.
type HealthReport struct {
	Timestamp        string        `json:"timestamp"`
	AnomalyRate      CheckResult   `json:"anomaly_rate"`
	ModelStaleness   CheckResult   `json:"model_staleness"`
	ModelPerformance CheckResult   `json:"model_performance"`
	FeatureDrift     *CheckResult  `json:"feature_drift,omitempty"`
	Alerts           []HealthAlert `json:"alerts"`
	AlertCount       int           `json:"alert_count"`
}

// ModelMetrics mirrors the metrics JSON blob written at training time.
type ModelMetrics struct {
	FeatureColumns  []string `json:"feature_columns"`
	TrainingSamples int      `json:"training_samples"`
	SilhouetteScore float64  `json:"silhouette_score"`
	Contamination   float64  `json:"contamination"`
	Timestamp       string   `json:"timestamp"`
	ModelVersion    string   `json:"model_version"`
}
