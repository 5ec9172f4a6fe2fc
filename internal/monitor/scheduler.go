package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs the monitor on a fixed interval until its context is
// cancelled. One report runs at startup so a fresh deployment surfaces
// problems immediately instead of a day later.
type Scheduler struct {
	monitor  *Monitor
	interval time.Duration
	logger   *zap.Logger
}

func NewScheduler(monitor *Monitor, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{monitor: monitor, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled. Callers start it in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	report := s.monitor.Report(ctx)
	if report.AlertCount == 0 {
		s.logger.Info("model health check passed")
		return
	}
	for _, alert := range report.Alerts {
		s.logger.Warn("model health alert",
			zap.String("check", alert.Check),
			zap.String("severity", string(alert.Severity)),
			zap.String("message", alert.Message))
	}
}
