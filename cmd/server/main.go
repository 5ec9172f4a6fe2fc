package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/batchwatch/internal/anomaly"
	"github.com/rpattn/batchwatch/internal/config"
	"github.com/rpattn/batchwatch/internal/db"
	"github.com/rpattn/batchwatch/internal/features"
	"github.com/rpattn/batchwatch/internal/ingestion"
	"github.com/rpattn/batchwatch/internal/monitor"
	"github.com/rpattn/batchwatch/internal/repository"
	"github.com/rpattn/batchwatch/internal/server"
	"github.com/rpattn/batchwatch/internal/unifiedview"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.RunMigrations(ctx, conn.Pool, "migrations"); err != nil {
		return err
	}

	metaRepo := repository.NewTableMetadataRepository(conn.Pool)
	tableRepo := repository.NewDynamicTableRepository(conn.Pool, logger)
	anomalyRepo := repository.NewAnomalyRepository(conn.Pool)
	viewRepo := repository.NewViewRepository(conn)

	engineer := features.NewEngineer(cfg.RollingWindow, logger)

	// A missing model is a supported state: uploads still land, scoring is
	// skipped until the artifacts are deployed and the server restarts.
	model, err := anomaly.LoadModel(cfg.ModelPath, cfg.ScalerPath)
	if err != nil {
		logger.Warn("anomaly model not loaded, detection disabled", zap.Error(err))
	}

	var scorer anomaly.Scorer
	var driftModel monitor.DriftModel
	if model != nil {
		scorer = model
		driftModel = model
	}

	detector := anomaly.NewService(tableRepo, anomalyRepo, engineer, scorer, cfg.Thresholds, logger)
	views := unifiedview.NewService(metaRepo, viewRepo, logger)
	ingest := ingestion.NewService(metaRepo, tableRepo, views, detector, logger)

	// Reconcile the unified view with whatever tables already exist.
	if err := views.Rebuild(ctx); err != nil {
		logger.Error("initial unified view rebuild failed", zap.Error(err))
	}

	health := monitor.New(metaRepo, tableRepo, anomalyRepo, engineer, driftModel,
		cfg.MetricsPath, cfg.HealthLookbackDays, logger)
	scheduler := monitor.NewScheduler(health, cfg.HealthCheckInterval, logger)
	go scheduler.Run(ctx)

	api := server.New(ingest, detector, health, logger)
	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ServerAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}
