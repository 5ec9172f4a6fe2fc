package anomaly

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/batchwatch/internal/config"
	"github.com/rpattn/batchwatch/internal/domain"
	"github.com/rpattn/batchwatch/internal/features"
	"github.com/rpattn/batchwatch/internal/repository"
)

// Scorer is the trained-model surface the service depends on. *Model
// satisfies it; tests substitute fixed verdicts.
type Scorer interface {
	FeatureNames() []string
	Transform(vector []float64) ([]float64, error)
	Score(scaled []float64) float64
	IsAnomaly(score float64) bool
}

// Service runs detection over one dynamic table at a time: engineer
// features, score, classify, write alerts back, historize AMBER/RED.
type Service struct {
	tableRepo   repository.DynamicTableRepository
	anomalyRepo repository.AnomalyRepository
	engineer    *features.Engineer
	model       Scorer
	thresholds  config.Thresholds
	logger      *zap.Logger
}

// NewService builds the detection service. A nil model is valid and makes
// every run a model_not_loaded skip until the server restarts with
// artifacts present.
func NewService(
	tableRepo repository.DynamicTableRepository,
	anomalyRepo repository.AnomalyRepository,
	engineer *features.Engineer,
	model Scorer,
	thresholds config.Thresholds,
	logger *zap.Logger,
) *Service {
	return &Service{
		tableRepo:   tableRepo,
		anomalyRepo: anomalyRepo,
		engineer:    engineer,
		model:       model,
		thresholds:  thresholds,
		logger:      logger,
	}
}

// ModelLoaded reports whether a trained model is available.
func (s *Service) ModelLoaded() bool {
	return s.model != nil
}

// DetectAndUpdate scores every row of tableName and writes the verdicts
// back. The alert-column update and the history append are independent:
// a history failure is logged and the alert update stands.
func (s *Service) DetectAndUpdate(ctx context.Context, tableName string) domain.DetectionResult {
	if s.model == nil {
		return domain.DetectionResult{Status: domain.DetectionSkipped, Reason: domain.SkipModelNotLoaded}
	}

	rows, err := s.tableRepo.FetchAll(ctx, tableName)
	if err != nil {
		return errorResult(fmt.Errorf("fetching rows from %s: %w", tableName, err))
	}
	if len(rows) == 0 {
		return domain.DetectionResult{Status: domain.DetectionSkipped, Reason: domain.SkipNoData}
	}

	engineered := s.engineer.Engineer(toFeatureRows(rows))
	if missing := requiredMissing(engineered.MissingInputs); len(missing) > 0 {
		s.logger.Info("detection skipped, required inputs absent",
			zap.String("table", tableName),
			zap.Strings("missing", missing))
		return domain.DetectionResult{
			Status:         domain.DetectionSkipped,
			Reason:         domain.SkipMissingColumns,
			MissingColumns: missing,
		}
	}

	modelFeatures := s.model.FeatureNames()
	scored := make([]scoredRow, 0, len(engineered.Rows))
	for _, fr := range engineered.Rows {
		vector, ok := vectorFor(fr, modelFeatures)
		if !ok {
			// Rows with NaN features are excluded from scoring, never imputed.
			continue
		}
		scaled, err := s.model.Transform(vector)
		if err != nil {
			return errorResult(fmt.Errorf("scaling features for %s: %w", tableName, err))
		}
		score := s.model.Score(scaled)
		scored = append(scored, scoredRow{
			row:       fr,
			score:     score,
			isOutlier: s.model.IsAnomaly(score),
		})
	}
	if len(scored) == 0 {
		return domain.DetectionResult{Status: domain.DetectionSkipped, Reason: domain.SkipNoValidDataRows}
	}

	counts := map[domain.Severity]int{
		domain.SeverityGreen: 0,
		domain.SeverityAmber: 0,
		domain.SeverityRed:   0,
	}
	groups := make(map[domain.Severity][]int64)
	var history []domain.AnomalyRecord
	now := time.Now().UTC()

	for _, sr := range scored {
		severity := s.classify(sr.row.Values, sr.isOutlier)
		counts[severity]++
		groups[severity] = append(groups[severity], sr.row.ID)

		if severity != domain.SeverityGreen {
			// Prefer the batch's own timestamp so history lines up with the
			// production timeline; fall back to detection time.
			recordedAt := sr.row.Timestamp
			if recordedAt.IsZero() {
				recordedAt = now
			}
			history = append(history, domain.AnomalyRecord{
				Timestamp:    recordedAt,
				BatchID:      sr.row.BatchID,
				BatchRowID:   sr.row.ID,
				AnomalyScore: sr.score,
				IsAnomaly:    sr.isOutlier,
				Severity:     severity,
				TableName:    tableName,
				EnergyKWh:    nanToZero(sr.row.Values[features.FeatEnergyKWh]),
				EnergyPerKg:  nanToZero(sr.row.Values[features.FeatEnergyPerKg]),
				YieldLossPct: nanToZero(sr.row.Values[features.FeatYieldLossPct]),
				CO2PerKg:     nanToZero(sr.row.Values[features.FeatCO2PerKg]),
				RoomTempC:    nanToZero(sr.row.Values[features.FeatRoomTempC]),
			})
		}
	}

	for _, severity := range []domain.Severity{domain.SeverityGreen, domain.SeverityAmber, domain.SeverityRed} {
		ids := groups[severity]
		if len(ids) == 0 {
			continue
		}
		if err := s.tableRepo.UpdateAlerts(ctx, tableName, severity, ids); err != nil {
			return errorResult(fmt.Errorf("updating alerts on %s: %w", tableName, err))
		}
	}

	if len(history) > 0 {
		inserted, err := s.anomalyRepo.AppendBatch(ctx, history)
		if err != nil {
			s.logger.Error("anomaly history append failed, alerts already written",
				zap.String("table", tableName),
				zap.Error(err))
		} else if inserted < len(history) {
			s.logger.Debug("anomaly history rows already recorded",
				zap.String("table", tableName),
				zap.Int("skipped", len(history)-inserted))
		}
	}

	s.logger.Info("detection complete",
		zap.String("table", tableName),
		zap.Int("scored", len(scored)),
		zap.Int("red", counts[domain.SeverityRed]),
		zap.Int("amber", counts[domain.SeverityAmber]))

	return domain.DetectionResult{
		Status:    domain.DetectionSuccess,
		Anomalies: counts[domain.SeverityAmber] + counts[domain.SeverityRed],
		Details:   counts,
	}
}

// History lists recorded detections, newest first.
func (s *Service) History(ctx context.Context, tableName, severity string, limit int) ([]domain.AnomalyRecord, error) {
	return s.anomalyRepo.ListByTable(ctx, tableName, severity, limit)
}

// classify applies the hard rules first; the model verdict can only raise a
// clean row to AMBER, never override a RED.
func (s *Service) classify(values map[string]float64, isOutlier bool) domain.Severity {
	if exceeds(values[features.FeatEnergyKWh], s.thresholds.EnergyKWh) ||
		exceeds(values[features.FeatEnergyPerKg], s.thresholds.EnergyPerKg) ||
		exceeds(values[features.FeatYieldLossPct], s.thresholds.YieldLossPct) ||
		exceeds(values[features.FeatCO2PerKg], s.thresholds.CO2PerKg) {
		return domain.SeverityRed
	}
	if isOutlier {
		return domain.SeverityAmber
	}
	return domain.SeverityGreen
}

type scoredRow struct {
	row       features.FeatureRow
	score     float64
	isOutlier bool
}

func toFeatureRows(rows []map[string]any) []features.Row {
	out := make([]features.Row, len(rows))
	for i, r := range rows {
		out[i] = features.Row(r)
	}
	return out
}

// requiredMissing intersects the engineer's absence report with the
// features the model cannot run without.
func requiredMissing(missing []string) []string {
	required := make(map[string]struct{})
	for _, name := range features.Required() {
		required[name] = struct{}{}
	}
	var out []string
	for _, name := range missing {
		if _, ok := required[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// vectorFor assembles the model-ordered feature vector; any NaN component
// disqualifies the row.
func vectorFor(fr features.FeatureRow, order []string) ([]float64, bool) {
	vector := make([]float64, len(order))
	for i, name := range order {
		v, ok := fr.Values[name]
		if !ok || math.IsNaN(v) {
			return nil, false
		}
		vector[i] = v
	}
	return vector, true
}

func exceeds(value, threshold float64) bool {
	return !math.IsNaN(value) && value > threshold
}

func nanToZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func errorResult(err error) domain.DetectionResult {
	return domain.DetectionResult{Status: domain.DetectionError, Err: err.Error()}
}
