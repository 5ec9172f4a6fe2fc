// Package server wires the HTTP API: file upload and management, on-demand
// anomaly detection, history queries, and model health.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/rpattn/batchwatch/internal/anomaly"
	"github.com/rpattn/batchwatch/internal/domain"
	"github.com/rpattn/batchwatch/internal/ingestion"
	"github.com/rpattn/batchwatch/internal/middleware"
	"github.com/rpattn/batchwatch/internal/monitor"
)

// maxUploadBytes caps a single request body.
const maxUploadBytes = 100 << 20

// Server holds the wired services behind the HTTP API.
type Server struct {
	ingest   *ingestion.Service
	detector *anomaly.Service
	health   *monitor.Monitor
	logger   *zap.Logger
}

func New(ingest *ingestion.Service, detector *anomaly.Service, health *monitor.Monitor, logger *zap.Logger) *Server {
	return &Server{
		ingest:   ingest,
		detector: detector,
		health:   health,
		logger:   logger,
	}
}

// Handler builds the full middleware-wrapped route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/files", s.handleListFiles)
	mux.HandleFunc("DELETE /api/files/{table}", s.handleDeleteFile)
	mux.HandleFunc("POST /api/anomaly/detect", s.handleDetect)
	mux.HandleFunc("GET /api/anomaly/history", s.handleHistory)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/health/model", s.handleModelHealth)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	return middleware.Logging(s.logger)(c.Handler(mux))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "multipart form must carry a 'file' field")
		return
	}
	defer file.Close()

	summary, err := s.ingest.Ingest(r.Context(), ingestion.Request{
		FileName: header.Filename,
		Data:     file,
	})
	if err != nil {
		if isClientError(err) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("upload failed", zap.String("filename", header.Filename), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	s.respondJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.ingest.List(r.Context())
	if err != nil {
		s.logger.Error("listing files failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "listing files failed")
		return
	}

	type fileInfo struct {
		UploadID    string `json:"upload_id"`
		Filename    string `json:"filename"`
		TableName   string `json:"table_name"`
		UploadedAt  string `json:"uploaded_at"`
		RecordCount int    `json:"record_count"`
	}
	out := make([]fileInfo, 0, len(files))
	for _, f := range files {
		out = append(out, fileInfo{
			UploadID:    f.UploadID.String(),
			Filename:    f.Filename,
			TableName:   f.TableName,
			UploadedAt:  f.UploadTimestamp.Format(domain.CanonicalTimeFormat),
			RecordCount: f.RecordCount,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"files": out, "count": len(out)})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	if err := s.ingest.Delete(r.Context(), table); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.respondError(w, http.StatusNotFound, "unknown table "+table)
			return
		}
		s.logger.Error("delete failed", zap.String("table", table), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"deleted": table})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TableName string `json:"table_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TableName == "" {
		s.respondError(w, http.StatusBadRequest, "body must carry table_name")
		return
	}

	result := s.detector.DetectAndUpdate(r.Context(), body.TableName)
	status := http.StatusOK
	if result.Status == domain.DetectionError {
		status = http.StatusInternalServerError
	}
	s.respondJSON(w, status, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.detector.History(r.Context(),
		r.URL.Query().Get("table"),
		r.URL.Query().Get("severity"),
		limit)
	if err != nil {
		s.logger.Error("history query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "history query failed")
		return
	}

	type historyRow struct {
		Timestamp    string  `json:"timestamp"`
		BatchID      string  `json:"batch_id"`
		BatchRowID   int64   `json:"batch_row_id"`
		AnomalyScore float64 `json:"anomaly_score"`
		Severity     string  `json:"severity"`
		TableName    string  `json:"table_name"`
		EnergyKWh    float64 `json:"energy_kwh"`
		EnergyPerKg  float64 `json:"energy_per_kg"`
		YieldLossPct float64 `json:"yield_loss_pct"`
		CO2PerKg     float64 `json:"co2_per_kg"`
		RoomTempC    float64 `json:"room_temp_c"`
	}
	out := make([]historyRow, 0, len(records))
	for _, rec := range records {
		out = append(out, historyRow{
			Timestamp:    rec.Timestamp.Format(domain.CanonicalTimeFormat),
			BatchID:      rec.BatchID,
			BatchRowID:   rec.BatchRowID,
			AnomalyScore: rec.AnomalyScore,
			Severity:     string(rec.Severity),
			TableName:    rec.TableName,
			EnergyKWh:    rec.EnergyKWh,
			EnergyPerKg:  rec.EnergyPerKg,
			YieldLossPct: rec.YieldLossPct,
			CO2PerKg:     rec.CO2PerKg,
			RoomTempC:    rec.RoomTempC,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"anomalies": out, "count": len(out)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"model_loaded": s.detector.ModelLoaded(),
	})
}

func (s *Server) handleModelHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Report(r.Context())
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func isClientError(err error) bool {
	return errors.Is(err, ingestion.ErrUnsupportedFormat) ||
		errors.Is(err, ingestion.ErrNoColumns) ||
		errors.Is(err, ingestion.ErrNoDataRows) ||
		errors.Is(err, ingestion.ErrEmptyFile) ||
		errors.Is(err, ingestion.ErrNoFileName)
}
