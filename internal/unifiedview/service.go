package unifiedview

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rpattn/batchwatch/internal/repository"
)

// Service rebuilds the unified view from the current metadata snapshot.
// Rebuilds are serialized: the view swap is a full drop-and-recreate, so two
// concurrent rebuilds could otherwise interleave their drop and create.
type Service struct {
	mu       sync.Mutex
	metaRepo repository.TableMetadataRepository
	viewRepo repository.ViewRepository
	logger   *zap.Logger
}

// NewService creates a new unified view service.
func NewService(metaRepo repository.TableMetadataRepository, viewRepo repository.ViewRepository, logger *zap.Logger) *Service {
	return &Service{
		metaRepo: metaRepo,
		viewRepo: viewRepo,
		logger:   logger,
	}
}

// Rebuild recomputes and swaps the view. With zero registered tables the
// stale view is dropped and nothing is created.
func (s *Service) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables, err := s.metaRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load metadata for view rebuild: %w", err)
	}

	viewSQL, ok := BuildViewSQL(tables)
	if !ok {
		s.logger.Info("no tables registered, dropping unified view")
		return s.viewRepo.Drop(ctx, ViewName)
	}

	if err := s.viewRepo.Replace(ctx, ViewName, viewSQL); err != nil {
		return err
	}

	s.logger.Info("unified view rebuilt",
		zap.Int("tables", len(tables)),
		zap.Int("columns", len(ColumnUniverse(tables))))
	return nil
}
