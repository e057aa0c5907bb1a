// Package server exposes the ingestion and query pipelines over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/finrag-go/internal/metrics"
	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/raphaelgruber/finrag-go/internal/service"
)

// Request defaults for POST /ingest when fields are omitted.
var (
	DefaultTickers     = []string{"AAPL"}
	DefaultFilingTypes = []string{"10-K"}
)

const (
	DefaultLimit = 2

	maxBodyBytes = 1 << 20
)

// Jobs is the ingestion side the server needs.
type Jobs interface {
	Submit(req models.IngestRequest) (models.IngestionJob, error)
	Get(id string) (models.IngestionJob, error)
	List() []models.IngestionJob
	Subscribe(ctx context.Context, id string) (<-chan service.Envelope, error)
}

// Queries is the query side the server needs.
type Queries interface {
	Query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error)
	Stats(ctx context.Context) (models.StoreStats, error)
}

// Server wires the HTTP routes to the pipelines.
type Server struct {
	jobs     Jobs
	queries  Queries
	metrics  *metrics.Collector
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a new server.
func New(jobs Jobs, queries Queries, collector *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		jobs:    jobs,
		queries: queries,
		metrics: collector,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the routed handler with logging and recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /ingest", s.handleListJobs)
	mux.HandleFunc("GET /ingest/{id}", s.handleGetJob)
	mux.HandleFunc("GET /ingest/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /ingest/{id}/ws", s.handleWebSocket)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /health", s.handleHealth)
	return Recover(s.logger, LoggingMiddleware(s.logger, mux))
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. Shutdown cancels every request
// context first, so open progress streams end instead of holding the
// server until the shutdown deadline.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	httpServer := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: progress streams stay open for the life of a job.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	httpServer.RegisterOnShutdown(cancelRequests)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ingestRequest distinguishes omitted fields (defaults apply) from empty ones
// (rejected).
type ingestRequest struct {
	Tickers     []string `json:"tickers"`
	FilingTypes []string `json:"filing_types"`
	Limit       *int     `json:"limit"`
}

func (r ingestRequest) withDefaults() models.IngestRequest {
	req := models.IngestRequest{Tickers: r.Tickers, FilingTypes: r.FilingTypes, Limit: DefaultLimit}
	if req.Tickers == nil {
		req.Tickers = DefaultTickers
	}
	if req.FilingTypes == nil {
		req.FilingTypes = DefaultFilingTypes
	}
	if r.Limit != nil {
		req.Limit = *r.Limit
	}
	return req
}

// IngestResponse acknowledges a submitted job.
type IngestResponse struct {
	JobID       string           `json:"job_id"`
	Status      models.JobStatus `json:"status"`
	Tickers     []string         `json:"tickers"`
	FilingTypes []string         `json:"filing_types"`
	Limit       int              `json:"limit"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body ingestRequest
	if !s.decode(w, r, &body) {
		return
	}
	job, err := s.jobs.Submit(body.withDefaults())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, IngestResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Tickers:     job.Tickers,
		FilingTypes: job.FilingTypes,
		Limit:       job.Limit,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.queries.Query(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// MetricsResponse combines store contents and pipeline timings.
type MetricsResponse struct {
	Store    models.StoreStats `json:"store"`
	Pipeline metrics.Snapshot  `json:"pipeline"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queries.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MetricsResponse{Store: stats, Pipeline: s.metrics.Snapshot()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body. An empty body leaves v at its zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, fmt.Errorf("%w: invalid request body: %v", service.ErrValidation, err))
		return false
	}
	return true
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch service.Kind(err) {
	case service.ErrValidation:
		return http.StatusBadRequest
	case service.ErrJobNotFound:
		return http.StatusNotFound
	case service.ErrStore, service.ErrRetrieval:
		return http.StatusServiceUnavailable
	case service.ErrEmbedding, service.ErrRerank, service.ErrGeneration,
		service.ErrDownload, service.ErrExtraction, service.ErrParse:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	if k := service.Kind(err); k != nil {
		resp.Kind = k.Error()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
