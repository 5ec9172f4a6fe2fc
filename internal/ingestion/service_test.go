package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/batchwatch/internal/domain"
)

type stubMetaRepo struct {
	created []domain.TableMetadata
	counts  map[string]int
	deleted []string
}

func (s *stubMetaRepo) Create(ctx context.Context, meta domain.TableMetadata) (domain.TableMetadata, error) {
	meta.ID = int64(len(s.created) + 1)
	s.created = append(s.created, meta)
	return meta, nil
}

func (s *stubMetaRepo) List(ctx context.Context) ([]domain.TableMetadata, error) {
	return s.created, nil
}

func (s *stubMetaRepo) GetByTableName(ctx context.Context, tableName string) (domain.TableMetadata, error) {
	for _, meta := range s.created {
		if meta.TableName == tableName {
			return meta, nil
		}
	}
	return domain.TableMetadata{}, errors.New("no rows in result set")
}

func (s *stubMetaRepo) UpdateRecordCount(ctx context.Context, tableName string, count int) error {
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[tableName] = count
	for i := range s.created {
		if s.created[i].TableName == tableName {
			s.created[i].RecordCount = count
		}
	}
	return nil
}

func (s *stubMetaRepo) Delete(ctx context.Context, tableName string) error {
	s.deleted = append(s.deleted, tableName)
	return nil
}

type stubTableRepo struct {
	createdTables map[string][]domain.ColumnSpec
	insertedRows  map[string][]map[string]string
	droppedTables []string
	createErr     error
	// insertShortfall simulates rows the loader skipped as unloadable.
	insertShortfall int
}

func newStubTableRepo() *stubTableRepo {
	return &stubTableRepo{
		createdTables: make(map[string][]domain.ColumnSpec),
		insertedRows:  make(map[string][]map[string]string),
	}
}

func (s *stubTableRepo) CreateTable(ctx context.Context, tableName string, columns []domain.ColumnSpec) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.createdTables[tableName] = columns
	return nil
}

func (s *stubTableRepo) InsertRows(ctx context.Context, tableName string, columns []domain.ColumnSpec, rows []map[string]string, uploadedAt time.Time) (int, error) {
	s.insertedRows[tableName] = rows
	return len(rows) - s.insertShortfall, nil
}

func (s *stubTableRepo) FetchAll(ctx context.Context, tableName string) ([]map[string]any, error) {
	return nil, nil
}

func (s *stubTableRepo) UpdateAlerts(ctx context.Context, tableName string, severity domain.Severity, ids []int64) error {
	return nil
}

func (s *stubTableRepo) DropTable(ctx context.Context, tableName string) error {
	s.droppedTables = append(s.droppedTables, tableName)
	return nil
}

type stubViews struct {
	rebuilds int
	err      error
}

func (s *stubViews) Rebuild(ctx context.Context) error {
	s.rebuilds++
	return s.err
}

type stubDetector struct {
	mu     sync.Mutex
	tables []string
	done   chan struct{}
}

func (s *stubDetector) DetectAndUpdate(ctx context.Context, tableName string) domain.DetectionResult {
	s.mu.Lock()
	s.tables = append(s.tables, tableName)
	s.mu.Unlock()
	if s.done != nil {
		close(s.done)
	}
	return domain.DetectionResult{Status: domain.DetectionSuccess}
}

const sampleCSV = `BatchID,Energy Consumption (kWh),InputWeight_kg,OutputWeight_kg,MachineName
B-001,120.5,100,95,MX-1
B-002,130.0,100,92,MX-1
B-003,110.2,100,97,MX-2
`

func newTestService(meta *stubMetaRepo, table *stubTableRepo, views *stubViews, detector Detector) *Service {
	return NewService(meta, table, views, detector, zap.NewNop())
}

func TestIngestCSV(t *testing.T) {
	meta := &stubMetaRepo{}
	table := newStubTableRepo()
	views := &stubViews{}
	svc := newTestService(meta, table, views, nil)

	summary, err := svc.Ingest(context.Background(), Request{
		FileName: "batch_records.csv",
		Data:     strings.NewReader(sampleCSV),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if summary.RecordCount != 3 {
		t.Errorf("RecordCount = %d, want 3", summary.RecordCount)
	}
	if !strings.HasPrefix(summary.TableName, "csv_batch_records_") {
		t.Errorf("TableName = %q, want csv_batch_records_ prefix", summary.TableName)
	}
	if got := summary.Columns["Energy Consumption (kWh)"]; got != domain.ColumnTypeFloat {
		t.Errorf("energy column type = %s, want FLOAT", got)
	}
	if got := summary.Columns["MachineName"]; got != domain.ColumnTypeText {
		t.Errorf("machine column type = %s, want TEXT", got)
	}

	if len(meta.created) != 1 {
		t.Fatalf("expected 1 metadata row, got %d", len(meta.created))
	}
	if meta.created[0].RecordCount != 3 {
		t.Errorf("metadata record count = %d, want 3", meta.created[0].RecordCount)
	}
	if got := meta.counts[summary.TableName]; got != 3 {
		t.Errorf("reconciled record count = %d, want 3", got)
	}
	if len(table.insertedRows[summary.TableName]) != 3 {
		t.Errorf("inserted %d rows, want 3", len(table.insertedRows[summary.TableName]))
	}
	if views.rebuilds != 1 {
		t.Errorf("view rebuilds = %d, want 1", views.rebuilds)
	}
}

func TestIngestReconcilesCountToStoredRows(t *testing.T) {
	meta := &stubMetaRepo{}
	table := newStubTableRepo()
	table.insertShortfall = 1
	svc := newTestService(meta, table, &stubViews{}, nil)

	summary, err := svc.Ingest(context.Background(), Request{
		FileName: "runs.csv",
		Data:     strings.NewReader(sampleCSV),
	})
	if err != nil {
		t.Fatal(err)
	}

	if summary.RecordCount != 2 {
		t.Errorf("summary RecordCount = %d, want 2", summary.RecordCount)
	}
	if got := meta.counts[summary.TableName]; got != 2 {
		t.Errorf("reconciled record count = %d, want 2 when one row is skipped", got)
	}
}

func TestIngestTriggersDetection(t *testing.T) {
	detector := &stubDetector{done: make(chan struct{})}
	svc := newTestService(&stubMetaRepo{}, newStubTableRepo(), &stubViews{}, detector)

	summary, err := svc.Ingest(context.Background(), Request{
		FileName: "runs.csv",
		Data:     strings.NewReader(sampleCSV),
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-detector.done:
	case <-time.After(2 * time.Second):
		t.Fatal("background detection never ran")
	}
	if detector.tables[0] != summary.TableName {
		t.Errorf("detection ran on %q, want %q", detector.tables[0], summary.TableName)
	}
}

func TestIngestTableNamesUnique(t *testing.T) {
	table := newStubTableRepo()
	svc := newTestService(&stubMetaRepo{}, table, &stubViews{}, nil)

	first, err := svc.Ingest(context.Background(), Request{FileName: "runs.csv", Data: strings.NewReader(sampleCSV)})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Ingest(context.Background(), Request{FileName: "runs.csv", Data: strings.NewReader(sampleCSV)})
	if err != nil {
		t.Fatal(err)
	}
	if first.TableName == second.TableName {
		t.Errorf("same filename produced equal table names: %q", first.TableName)
	}
}

func TestIngestRejectsUnsupportedFormat(t *testing.T) {
	svc := newTestService(&stubMetaRepo{}, newStubTableRepo(), &stubViews{}, nil)

	_, err := svc.Ingest(context.Background(), Request{FileName: "notes.txt", Data: strings.NewReader("hello")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestIngestRejectsHeaderOnly(t *testing.T) {
	svc := newTestService(&stubMetaRepo{}, newStubTableRepo(), &stubViews{}, nil)

	_, err := svc.Ingest(context.Background(), Request{FileName: "empty.csv", Data: strings.NewReader("A,B,C\n")})
	if !errors.Is(err, ErrNoDataRows) {
		t.Errorf("err = %v, want ErrNoDataRows", err)
	}
}

func TestIngestViewFailureDoesNotFailUpload(t *testing.T) {
	views := &stubViews{err: errors.New("view rebuild exploded")}
	svc := newTestService(&stubMetaRepo{}, newStubTableRepo(), views, nil)

	_, err := svc.Ingest(context.Background(), Request{FileName: "runs.csv", Data: strings.NewReader(sampleCSV)})
	if err != nil {
		t.Errorf("upload should survive a view failure, got %v", err)
	}
}

func TestIngestBOMStripped(t *testing.T) {
	payload := "\xEF\xBB\xBF" + sampleCSV
	svc := newTestService(&stubMetaRepo{}, newStubTableRepo(), &stubViews{}, nil)

	summary, err := svc.Ingest(context.Background(), Request{FileName: "bom.csv", Data: strings.NewReader(payload)})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := summary.Columns["BatchID"]; !ok {
		t.Errorf("BOM not stripped, columns: %v", summary.Columns)
	}
}

func TestDeleteDropsTableAndMetadata(t *testing.T) {
	meta := &stubMetaRepo{}
	table := newStubTableRepo()
	views := &stubViews{}
	svc := newTestService(meta, table, views, nil)

	summary, err := svc.Ingest(context.Background(), Request{FileName: "runs.csv", Data: strings.NewReader(sampleCSV)})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(context.Background(), summary.TableName); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(table.droppedTables) != 1 || table.droppedTables[0] != summary.TableName {
		t.Errorf("dropped tables = %v", table.droppedTables)
	}
	if len(meta.deleted) != 1 {
		t.Errorf("metadata deletions = %v", meta.deleted)
	}
	if views.rebuilds != 2 {
		t.Errorf("view rebuilds = %d, want 2 (ingest + delete)", views.rebuilds)
	}
}

func TestDeleteUnknownTable(t *testing.T) {
	svc := newTestService(&stubMetaRepo{}, newStubTableRepo(), &stubViews{}, nil)

	if err := svc.Delete(context.Background(), "csv_absent"); err == nil {
		t.Error("expected error deleting unknown table")
	}
}
