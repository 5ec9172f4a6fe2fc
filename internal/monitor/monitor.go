// Package monitor runs the recurring model health checks: anomaly-rate
// spikes, artifact staleness, training-time performance, and feature drift
// against the most recent upload.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/batchwatch/internal/domain"
	"github.com/rpattn/batchwatch/internal/features"
	"github.com/rpattn/batchwatch/internal/repository"
)

// Alerting thresholds. Any check graded above INFO lands in the report's
// alert list.
const (
	rateSpikeFactor   = 2.0
	rateSpikeMinCount = 10

	staleInfoDays    = 30
	staleWarningDays = 90

	silhouetteInfo    = 0.5
	silhouetteWarning = 0.3

	driftZThreshold  = 3.0
	driftSampleLimit = 100
)

// DriftModel is the slice of the trained model the drift check needs.
type DriftModel interface {
	FeatureNames() []string
	Transform(vector []float64) ([]float64, error)
}

// Monitor evaluates model health on demand; the Scheduler drives it on an
// interval.
type Monitor struct {
	metaRepo     repository.TableMetadataRepository
	tableRepo    repository.DynamicTableRepository
	anomalyRepo  repository.AnomalyRepository
	engineer     *features.Engineer
	model        DriftModel
	metricsPath  string
	lookbackDays int
	logger       *zap.Logger

	now func() time.Time
}

// New builds a monitor. model may be nil; the drift check is then omitted
// from reports.
func New(
	metaRepo repository.TableMetadataRepository,
	tableRepo repository.DynamicTableRepository,
	anomalyRepo repository.AnomalyRepository,
	engineer *features.Engineer,
	model DriftModel,
	metricsPath string,
	lookbackDays int,
	logger *zap.Logger,
) *Monitor {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	return &Monitor{
		metaRepo:     metaRepo,
		tableRepo:    tableRepo,
		anomalyRepo:  anomalyRepo,
		engineer:     engineer,
		model:        model,
		metricsPath:  metricsPath,
		lookbackDays: lookbackDays,
		logger:       logger,
		now:          time.Now,
	}
}

// Report runs every check and aggregates the outcomes. Individual check
// failures degrade to an ERROR result for that check; they never abort the
// report.
func (m *Monitor) Report(ctx context.Context) domain.HealthReport {
	report := domain.HealthReport{
		Timestamp: m.now().UTC().Format(time.RFC3339),
	}

	report.AnomalyRate = m.checkAnomalyRate(ctx)
	metrics, metricsErr := m.loadMetrics()
	report.ModelStaleness = m.checkStaleness(metrics, metricsErr)
	report.ModelPerformance = m.checkPerformance(metrics, metricsErr)
	if m.model != nil {
		drift := m.checkDrift(ctx)
		report.FeatureDrift = &drift
	}

	collect := func(name string, r domain.CheckResult) {
		if r.Severity == domain.CheckWarning || r.Severity == domain.CheckCaution || r.Severity == domain.CheckError {
			report.Alerts = append(report.Alerts, domain.HealthAlert{
				Check:    name,
				Severity: r.Severity,
				Message:  r.Message,
			})
		}
	}
	collect("anomaly_rate", report.AnomalyRate)
	collect("model_staleness", report.ModelStaleness)
	collect("model_performance", report.ModelPerformance)
	if report.FeatureDrift != nil {
		collect("feature_drift", *report.FeatureDrift)
	}
	report.AlertCount = len(report.Alerts)

	return report
}

// checkAnomalyRate flags a spike: the newest day above twice the lookback
// average and past an absolute floor.
func (m *Monitor) checkAnomalyRate(ctx context.Context) domain.CheckResult {
	counts, err := m.anomalyRepo.DailyCounts(ctx, m.lookbackDays)
	if err != nil {
		return checkFailed("querying daily anomaly counts", err)
	}
	if len(counts) == 0 {
		return domain.CheckResult{Status: "ok", Severity: domain.CheckInfo, Message: "no anomalies recorded in lookback window"}
	}

	// DailyCounts returns newest first.
	recent := counts[0].Count
	var total int
	for _, dc := range counts {
		total += dc.Count
	}
	avg := float64(total) / float64(len(counts))

	details := map[string]any{
		"recent_count":  recent,
		"daily_average": avg,
		"lookback_days": m.lookbackDays,
	}
	if float64(recent) > rateSpikeFactor*avg && recent > rateSpikeMinCount {
		return domain.CheckResult{
			Status:   "spike",
			Severity: domain.CheckWarning,
			Message:  fmt.Sprintf("anomaly count %d exceeds %.0fx the %d-day average of %.1f", recent, rateSpikeFactor, m.lookbackDays, avg),
			Details:  details,
		}
	}
	return domain.CheckResult{Status: "ok", Severity: domain.CheckInfo, Details: details}
}

func (m *Monitor) checkStaleness(metrics domain.ModelMetrics, metricsErr error) domain.CheckResult {
	if metricsErr != nil {
		return checkFailed("loading model metrics", metricsErr)
	}
	trainedAt, err := time.Parse(time.RFC3339, metrics.Timestamp)
	if err != nil {
		trainedAt, err = time.Parse(domain.CanonicalTimeFormat, metrics.Timestamp)
	}
	if err != nil {
		return checkFailed("parsing model training timestamp", err)
	}

	ageDays := int(m.now().Sub(trainedAt).Hours() / 24)
	details := map[string]any{"age_days": ageDays, "trained_at": metrics.Timestamp}

	switch {
	case ageDays > staleWarningDays:
		return domain.CheckResult{
			Status:   "stale",
			Severity: domain.CheckWarning,
			Message:  fmt.Sprintf("model is %d days old, retraining overdue", ageDays),
			Details:  details,
		}
	case ageDays > staleInfoDays:
		return domain.CheckResult{
			Status:   "aging",
			Severity: domain.CheckInfo,
			Message:  fmt.Sprintf("model is %d days old, schedule retraining", ageDays),
			Details:  details,
		}
	}
	return domain.CheckResult{Status: "ok", Severity: domain.CheckInfo, Details: details}
}

func (m *Monitor) checkPerformance(metrics domain.ModelMetrics, metricsErr error) domain.CheckResult {
	if metricsErr != nil {
		return checkFailed("loading model metrics", metricsErr)
	}
	details := map[string]any{
		"silhouette_score": metrics.SilhouetteScore,
		"training_samples": metrics.TrainingSamples,
	}

	switch {
	case metrics.SilhouetteScore < silhouetteWarning:
		return domain.CheckResult{
			Status:   "poor",
			Severity: domain.CheckWarning,
			Message:  fmt.Sprintf("silhouette score %.3f indicates poor cluster separation", metrics.SilhouetteScore),
			Details:  details,
		}
	case metrics.SilhouetteScore < silhouetteInfo:
		return domain.CheckResult{
			Status:   "degraded",
			Severity: domain.CheckInfo,
			Message:  fmt.Sprintf("silhouette score %.3f below target", metrics.SilhouetteScore),
			Details:  details,
		}
	}
	return domain.CheckResult{Status: "ok", Severity: domain.CheckInfo, Details: details}
}

// checkDrift standardizes the mean feature vector of a recent sample with
// the training-time scaler; any |z| above the threshold means the inputs
// have moved away from the training distribution.
func (m *Monitor) checkDrift(ctx context.Context) domain.CheckResult {
	tables, err := m.metaRepo.List(ctx)
	if err != nil {
		return checkFailed("listing tables for drift sample", err)
	}
	if len(tables) == 0 {
		return domain.CheckResult{Status: "ok", Severity: domain.CheckInfo, Message: "no uploads to sample"}
	}

	// List returns newest upload first; sample the latest table.
	latest := tables[0]
	rows, err := m.tableRepo.FetchAll(ctx, latest.TableName)
	if err != nil {
		return checkFailed("sampling latest table", err)
	}
	if len(rows) > driftSampleLimit {
		rows = rows[len(rows)-driftSampleLimit:]
	}

	frs := make([]features.Row, len(rows))
	for i, r := range rows {
		frs[i] = features.Row(r)
	}
	engineered := m.engineer.Engineer(frs)

	names := m.model.FeatureNames()
	sums := make([]float64, len(names))
	counts := make([]int, len(names))
	for _, fr := range engineered.Rows {
		for i, name := range names {
			if v, ok := fr.Values[name]; ok && !math.IsNaN(v) {
				sums[i] += v
				counts[i]++
			}
		}
	}

	means := make([]float64, len(names))
	for i := range means {
		if counts[i] == 0 {
			means[i] = math.NaN()
			continue
		}
		means[i] = sums[i] / float64(counts[i])
	}

	scaled, err := m.model.Transform(replaceNaN(means, 0))
	if err != nil {
		return checkFailed("standardizing drift sample", err)
	}

	drifted := make(map[string]any)
	for i, name := range names {
		if counts[i] == 0 {
			continue
		}
		if z := math.Abs(scaled[i]); z > driftZThreshold {
			drifted[name] = z
		}
	}

	if len(drifted) > 0 {
		return domain.CheckResult{
			Status:   "drift",
			Severity: domain.CheckCaution,
			Message:  fmt.Sprintf("%d features drifted beyond %.0f standard deviations", len(drifted), driftZThreshold),
			Details:  drifted,
		}
	}
	return domain.CheckResult{
		Status:   "ok",
		Severity: domain.CheckInfo,
		Details:  map[string]any{"sampled_rows": len(rows), "table": latest.TableName},
	}
}

func (m *Monitor) loadMetrics() (domain.ModelMetrics, error) {
	raw, err := os.ReadFile(m.metricsPath)
	if err != nil {
		return domain.ModelMetrics{}, fmt.Errorf("reading %s: %w", m.metricsPath, err)
	}
	var metrics domain.ModelMetrics
	if err := json.Unmarshal(raw, &metrics); err != nil {
		return domain.ModelMetrics{}, fmt.Errorf("parsing %s: %w", m.metricsPath, err)
	}
	return metrics, nil
}

func checkFailed(what string, err error) domain.CheckResult {
	return domain.CheckResult{
		Status:   "check_failed",
		Severity: domain.CheckError,
		Message:  fmt.Sprintf("%s: %v", what, err),
	}
}

func replaceNaN(values []float64, with float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = with
		} else {
			out[i] = v
		}
	}
	return out
}
