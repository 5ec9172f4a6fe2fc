package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/rpattn/batchwatch/internal/domain"
	"github.com/rpattn/batchwatch/internal/repository"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrNoColumns is returned when the upload has no header row.
	ErrNoColumns = errors.New("file has no columns")
	// ErrNoDataRows is returned when the upload has a header but no data.
	ErrNoDataRows = errors.New("file has no data rows")
	// ErrEmptyFile is returned when the upload body holds zero bytes.
	ErrEmptyFile = errors.New("file is empty")
	// ErrNoFileName is returned when the upload carries no file name.
	ErrNoFileName = errors.New("file name is required")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// typeSampleSize bounds how many rows feed type inference per column.
const typeSampleSize = 20

// Detector triggers anomaly scoring for a freshly loaded table.
type Detector interface {
	DetectAndUpdate(ctx context.Context, tableName string) domain.DetectionResult
}

// ViewRebuilder refreshes the unified view after the table set changes.
type ViewRebuilder interface {
	Rebuild(ctx context.Context) error
}

// Service ingests tabular batch-record files into dynamic tables.
type Service struct {
	metaRepo  repository.TableMetadataRepository
	tableRepo repository.DynamicTableRepository
	views     ViewRebuilder
	detector  Detector
	logger    *zap.Logger

	// detectTimeout bounds the background scoring pass kicked off per upload.
	detectTimeout time.Duration
}

// NewService creates a new ingestion service. detector may be nil when no
// model artifact is deployed; scoring is then skipped entirely.
func NewService(
	metaRepo repository.TableMetadataRepository,
	tableRepo repository.DynamicTableRepository,
	views ViewRebuilder,
	detector Detector,
	logger *zap.Logger,
) *Service {
	return &Service{
		metaRepo:      metaRepo,
		tableRepo:     tableRepo,
		views:         views,
		detector:      detector,
		logger:        logger,
		detectTimeout: 5 * time.Minute,
	}
}

// Request describes the ingestion input.
type Request struct {
	FileName string
	Data     io.Reader
}

// Summary returns upload level metrics.
type Summary struct {
	UploadID    uuid.UUID                    `json:"upload_id"`
	TableName   string                       `json:"table_name"`
	RecordCount int                          `json:"record_count"`
	Columns     map[string]domain.ColumnType `json:"columns"`
}

// Ingest parses the upload, provisions a dynamic table, loads every row, and
// records metadata. The unified view is rebuilt and a background detection
// pass is kicked off before returning.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	var summary Summary

	if strings.TrimSpace(req.FileName) == "" {
		return summary, ErrNoFileName
	}
	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, ErrEmptyFile
	}

	headers, rows, err := parseTable(req.FileName, payload)
	if err != nil {
		return summary, err
	}
	if len(headers) == 0 {
		return summary, ErrNoColumns
	}
	if len(rows) == 0 {
		return summary, ErrNoDataRows
	}

	// Infer a type per column from a bounded sample; the result is frozen
	// into the table schema and never migrated.
	types := make(map[string]domain.ColumnType, len(headers))
	for _, header := range headers {
		sample := make([]string, 0, typeSampleSize)
		for i := 0; i < len(rows) && i < typeSampleSize; i++ {
			sample = append(sample, rows[i][header])
		}
		types[header] = InferColumnType(header, sample)
	}

	specs := BuildColumnSpecs(headers, types)
	uploadedAt := time.Now().UTC()
	tableName := SanitizeTableName(req.FileName, uploadedAt)

	if err := s.tableRepo.CreateTable(ctx, tableName, specs); err != nil {
		return summary, fmt.Errorf("failed to create table for upload: %w", err)
	}

	// The upload is registered before row loading so a crash mid-load leaves
	// an inspectable metadata row; the count is reconciled afterwards to the
	// rows actually stored, which may be fewer than the file held.
	meta := domain.TableMetadata{
		UploadID:        uuid.New(),
		Filename:        req.FileName,
		TableName:       tableName,
		UploadTimestamp: uploadedAt,
		Columns:         specs,
	}
	if meta, err = s.metaRepo.Create(ctx, meta); err != nil {
		return summary, fmt.Errorf("failed to record upload metadata: %w", err)
	}

	inserted, err := s.tableRepo.InsertRows(ctx, tableName, specs, rows, uploadedAt)
	if err != nil {
		return summary, fmt.Errorf("failed to load rows: %w", err)
	}
	if err := s.metaRepo.UpdateRecordCount(ctx, tableName, inserted); err != nil {
		return summary, fmt.Errorf("failed to reconcile record count: %w", err)
	}

	if err := s.views.Rebuild(ctx); err != nil {
		// The upload itself succeeded; a view failure is operator-visible
		// but must not fail the request.
		s.logger.Error("unified view rebuild failed", zap.Error(err))
	}

	s.triggerDetection(tableName)

	s.logger.Info("upload ingested",
		zap.String("table", tableName),
		zap.String("filename", req.FileName),
		zap.Int("records", inserted))

	summary = Summary{
		UploadID:    meta.UploadID,
		TableName:   tableName,
		RecordCount: inserted,
		Columns:     types,
	}
	return summary, nil
}

// triggerDetection runs scoring as a fire-and-forget background task. The
// request's context is deliberately not reused: it is cancelled once the
// response is written, so the task gets its own deadline and pool-scoped
// connections.
func (s *Service) triggerDetection(tableName string) {
	if s.detector == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.detectTimeout)
		defer cancel()

		result := s.detector.DetectAndUpdate(ctx, tableName)
		switch result.Status {
		case domain.DetectionError:
			s.logger.Error("background detection failed",
				zap.String("table", tableName),
				zap.String("error", result.Err))
		case domain.DetectionSkipped:
			s.logger.Info("background detection skipped",
				zap.String("table", tableName),
				zap.String("reason", string(result.Reason)))
		default:
			s.logger.Info("background detection complete",
				zap.String("table", tableName),
				zap.Int("anomalies", result.Anomalies))
		}
	}()
}

// Delete drops an uploaded table and its metadata, then rebuilds the view so
// dashboards stop seeing the dropped branch.
func (s *Service) Delete(ctx context.Context, tableName string) error {
	if _, err := s.metaRepo.GetByTableName(ctx, tableName); err != nil {
		return fmt.Errorf("unknown table %s: %w", tableName, err)
	}
	if err := s.tableRepo.DropTable(ctx, tableName); err != nil {
		return err
	}
	if err := s.metaRepo.Delete(ctx, tableName); err != nil {
		return err
	}
	if err := s.views.Rebuild(ctx); err != nil {
		s.logger.Error("unified view rebuild failed after delete", zap.Error(err))
	}
	s.logger.Info("upload deleted", zap.String("table", tableName))
	return nil
}

// List returns metadata for every live upload.
func (s *Service) List(ctx context.Context) ([]domain.TableMetadata, error) {
	return s.metaRepo.List(ctx)
}

func parseTable(fileName string, payload []byte) ([]string, []map[string]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) ([]string, []map[string]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv: %w", err)
	}

	return recordsToRows(records)
}

func parseExcel(payload []byte) ([]string, []map[string]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("excel file has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	return recordsToRows(records)
}

// recordsToRows maps raw records onto the header row, padding short rows and
// dropping fully empty ones.
func recordsToRows(records [][]string) ([]string, []map[string]string, error) {
	if len(records) == 0 {
		return nil, nil, ErrNoColumns
	}

	var headers []string
	for _, cell := range records[0] {
		headers = append(headers, strings.TrimSpace(cell))
	}

	var rows []map[string]string
	for _, record := range records[1:] {
		empty := true
		for _, cell := range record {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		row := make(map[string]string, len(headers))
		for i, header := range headers {
			if header == "" {
				continue
			}
			if i < len(record) {
				row[header] = record[i]
			} else {
				row[header] = ""
			}
		}
		rows = append(rows, row)
	}

	var cleanHeaders []string
	for _, header := range headers {
		if header != "" {
			cleanHeaders = append(cleanHeaders, header)
		}
	}

	return cleanHeaders, rows, nil
}
