package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/datahistorian/plantfeed/internal/plantfeed"
)

// Ingestor is the pipeline surface the server needs.
type Ingestor interface {
	Ingest(ctx context.Context, tenantID, fileName string, payload []byte) (*plantfeed.IngestResult, error)
	Decide(ctx context.Context, tenantID, jobID, decision string, override plantfeed.FrequencyBucket) (plantfeed.IngestionJob, error)
	Job(tenantID, jobID string) (plantfeed.IngestionJob, error)
}

// PoolDirectory exposes the router's cache for the admin endpoint.
type PoolDirectory interface {
	Snapshot() []plantfeed.PoolInfo
}

type ServerConfig struct {
	MaxBodyBytes int64
}

type Server struct {
	ingestor Ingestor
	pools    PoolDirectory
	metrics  http.Handler
	cfg      ServerConfig
	logger   *slog.Logger
}

type ServerOptions struct {
	Ingestor       Ingestor
	Pools          PoolDirectory
	MetricsHandler http.Handler
	Config         ServerConfig
	Logger         *slog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ingestor: opts.Ingestor,
		pools:    opts.Pools,
		metrics:  opts.MetricsHandler,
		cfg:      cfg,
		logger:   logger.With("component", "httpapi"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/metrics" && r.Method == http.MethodGet && s.metrics != nil {
		s.metrics.ServeHTTP(w, r)
		return
	}

	correlationID := getCorrelationID(r)
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	if len(parts) == 3 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "pools" && r.Method == http.MethodGet {
		s.handleAdminPools(w, correlationID)
		return
	}

	if len(parts) < 4 || parts[0] != "v1" || parts[1] != "plants" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	plantID := parts[2]

	switch {
	case len(parts) == 4 && parts[3] == "ingest" && r.Method == http.MethodPost:
		s.handleIngest(w, r, plantID, correlationID)
	case len(parts) == 5 && parts[3] == "jobs" && r.Method == http.MethodGet:
		s.handleJobStatus(w, plantID, parts[4], correlationID)
	case len(parts) == 6 && parts[3] == "jobs" && parts[5] == "decision" && r.Method == http.MethodPost:
		s.handleDecision(w, r, plantID, parts[4], correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

// handleIngest accepts the dataset either as a multipart form with a
// "file" field or as a raw CSV body.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, plantID, correlationID string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	fileName := strings.TrimSpace(r.Header.Get("X-File-Name"))
	var payload []byte

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "multipart form requires a \"file\" field", correlationID)
			return
		}
		defer file.Close()
		payload, err = io.ReadAll(file)
		if err != nil {
			s.writeBodyError(w, err, correlationID)
			return
		}
		if fileName == "" {
			fileName = header.Filename
		}
	} else {
		var err error
		payload, err = io.ReadAll(r.Body)
		if err != nil {
			s.writeBodyError(w, err, correlationID)
			return
		}
	}
	if fileName == "" {
		fileName = "upload.csv"
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "empty upload", correlationID)
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), plantID, fileName, payload)
	if err != nil {
		s.writeIngestError(w, err, correlationID)
		return
	}
	status := http.StatusOK
	if result.Status == plantfeed.IngestStatusAwaitingDecision {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, plantID, jobID, correlationID string) {
	job, err := s.ingestor.Job(plantID, jobID)
	if err != nil {
		s.writeIngestError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, plantID, jobID, correlationID string) {
	var req struct {
		Decision  string `json:"decision"`
		Frequency string `json:"frequency"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeBodyError(w, err, correlationID)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}

	job, err := s.ingestor.Decide(r.Context(), plantID, jobID, req.Decision, plantfeed.FrequencyBucket(req.Frequency))
	if err != nil {
		s.writeIngestError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleAdminPools(w http.ResponseWriter, correlationID string) {
	if s.pools == nil {
		writeError(w, http.StatusNotFound, "not_found", "pool directory not configured", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": s.pools.Snapshot()})
}

func (s *Server) writeBodyError(w http.ResponseWriter, err error, correlationID string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
		return
	}
	writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
}

func (s *Server) writeIngestError(w http.ResponseWriter, err error, correlationID string) {
	kind := plantfeed.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "tenant_not_found", "unknown_job":
		status = http.StatusNotFound
	case "unparseable_input", "unknown_frequency", "invalid_decision", "invalid_input":
		status = http.StatusBadRequest
	case "connection_failure":
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "kind", kind, "error", err, "correlation_id", correlationID)
	}
	writeError(w, status, kind, err.Error(), correlationID)
}

func getCorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
