// Package server exposes optimization jobs over HTTP: job submission,
// status, result images, SSE progress streams and the persisted run history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cwbudde/denoiseopt/internal/fit"
	"github.com/cwbudde/denoiseopt/internal/ops"
	"github.com/cwbudde/denoiseopt/internal/store"
	"github.com/cwbudde/denoiseopt/internal/telemetry"
)

// Defaults fill in job settings the request leaves unset
type Defaults struct {
	MaxIterations int
	Parallelism   int
	Weights       fit.Weights
}

// DefaultDefaults mirrors fit.DefaultConfig
func DefaultDefaults() Defaults {
	cfg := fit.DefaultConfig()
	return Defaults{
		MaxIterations: cfg.MaxIterations,
		Parallelism:   cfg.Parallelism,
		Weights:       cfg.Weights,
	}
}

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	addr       string
	server     *http.Server
	store      store.Store
	defaults   Defaults

	// jobs run under baseCtx so Shutdown can stop them
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new HTTP server.
// runStore may be nil, in which case finished runs are not persisted.
func NewServer(addr string, runStore store.Store) *Server {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		jobManager: NewJobManager(),
		addr:       addr,
		store:      runStore,
		defaults:   DefaultDefaults(),
		baseCtx:    ctx,
		stop:       stop,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// WithReadTimeout bounds how long reading a whole request may take.
// Zero means no limit.
func (s *Server) WithReadTimeout(d time.Duration) *Server {
	s.server.ReadTimeout = d
	return s
}

// WithDefaults replaces the job defaults
func (s *Server) WithDefaults(d Defaults) *Server {
	s.defaults = d
	return s
}

// WithMetrics records job activity on m
func (s *Server) WithMetrics(m *telemetry.JobMetrics) *Server {
	s.jobManager.metrics = m
	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/operations", s.handleOperations)
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunWithID)

	return s.loggingMiddleware(tracingMiddleware(s.corsMiddleware(mux)))
}

// Start starts the HTTP server and blocks until it stops.
// A clean Shutdown returns nil, also when it happened before Start.
func (s *Server) Start() error {
	if s.baseCtx.Err() != nil {
		return nil
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server, cancels running jobs and waits
// for their workers to return
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.stop()
	err := s.server.Shutdown(ctx)

	s.jobManager.CancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = fmt.Errorf("waiting for jobs: %w", ctx.Err())
		}
	}
	return err
}

// startJob launches the worker for a created job
func (s *Server) startJob(jobID string) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.jobManager.setCancel(jobID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := runJob(ctx, s.jobManager, s.store, jobID); err != nil {
			slog.Debug("Job ended with error", "job_id", jobID, "error", err)
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.jobManager.RunningCount(),
	})
}

// handleOperations handles GET /api/v1/operations
func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tunable := make([]string, 0, len(ops.Tunables()))
	for _, t := range ops.Tunables() {
		tunable = append(tunable, t.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"operations": ops.Catalog(),
		"tunable":    tunable,
	})
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "job ID required")
		return
	}

	jobID := parts[0]

	if len(parts) == 1 && r.Method == http.MethodDelete {
		s.handleCancelJob(w, r, jobID)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if len(parts) == 1 || parts[1] == "status" {
		s.handleGetJobStatus(w, r, jobID)
		return
	}
	switch parts[1] {
	case "best.png":
		s.handleGetBestImage(w, r, jobID)
	case "diff.png":
		s.handleGetDiffImage(w, r, jobID)
	case "ref.png":
		s.handleGetRefImage(w, r, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// validateJobConfig rejects bad requests and fills in defaults
func (s *Server) validateJobConfig(config *JobConfig) error {
	if config.RefPath == "" {
		return errors.New("refPath is required")
	}
	if _, err := ops.Lookup(config.Operations...); err != nil {
		return err
	}
	if config.MaxIterations < 0 {
		return fit.ErrInvalidIterations
	}
	if config.Parallelism < 0 {
		return errors.New("parallelism must not be negative")
	}
	if config.Weights != nil {
		if err := config.Weights.Validate(); err != nil {
			return err
		}
	}

	if config.MaxIterations == 0 {
		config.MaxIterations = s.defaults.MaxIterations
	}
	if config.Parallelism == 0 {
		config.Parallelism = s.defaults.Parallelism
	}
	if config.Weights == nil {
		w := s.defaults.Weights
		config.Weights = &w
	}
	return nil
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var config JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if err := s.validateJobConfig(&config); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.jobManager.CreateJob(config)
	snap, _ := s.jobManager.Snapshot(job.ID)
	s.startJob(job.ID)

	writeJSON(w, http.StatusCreated, snap)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// statusResponse is the job snapshot plus derived timing
type statusResponse struct {
	Job
	Elapsed float64 `json:"elapsed"`
	// EPS is candidate evaluations per second
	EPS float64 `json:"eps"`
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.Snapshot(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	eps := float64(0)
	if elapsed.Seconds() > 0 {
		eps = float64(job.Evaluations) / elapsed.Seconds()
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Job:     job,
		Elapsed: elapsed.Seconds(),
		EPS:     eps,
	})
}

// handleCancelJob handles DELETE /api/v1/jobs/:id
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	err := s.jobManager.CancelJob(jobID)
	switch {
	case errors.Is(err, ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, ErrJobFinished):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("Job cancellation requested", "job_id", jobID)
	snap, _ := s.jobManager.Snapshot(jobID)
	writeJSON(w, http.StatusAccepted, snap)
}

// handleGetBestImage handles GET /api/v1/jobs/:id/best.png
func (s *Server) handleGetBestImage(w http.ResponseWriter, r *http.Request, jobID string) {
	_, best, exists := s.jobManager.images(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if best == nil {
		writeError(w, http.StatusNotFound, "no results yet")
		return
	}
	writePNG(w, best)
}

// handleGetDiffImage handles GET /api/v1/jobs/:id/diff.png
func (s *Server) handleGetDiffImage(w http.ResponseWriter, r *http.Request, jobID string) {
	ref, best, exists := s.jobManager.images(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if ref == nil || best == nil {
		writeError(w, http.StatusNotFound, "no results yet")
		return
	}
	writePNG(w, computeDiffImage(ref, best))
}

// handleGetRefImage handles GET /api/v1/jobs/:id/ref.png
func (s *Server) handleGetRefImage(w http.ResponseWriter, r *http.Request, jobID string) {
	ref, _, exists := s.jobManager.images(jobID)
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if ref == nil {
		writeError(w, http.StatusNotFound, "reference not loaded yet")
		return
	}
	writePNG(w, ref)
}

// handleRuns handles GET /api/v1/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no run store configured")
		return
	}
	runs, err := s.store.ListRuns()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleRunWithID handles GET and DELETE /api/v1/runs/:id
func (s *Server) handleRunWithID(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		writeError(w, http.StatusBadRequest, "run ID required")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no run store configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.store.LoadRun(runID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		err := s.store.DeleteRun(runID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// statusWriter captures the response code for tracing
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the wrapper
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

var httpTracer = telemetry.Tracer("denoiseopt/http")

// tracingMiddleware creates an OTEL span for each HTTP request
// and records request count and duration metrics.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := httpTracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
			),
		)
		defer span.End()

		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", wrapped.statusCode))

		attrs := otelmetric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.status_code", strconv.Itoa(wrapped.statusCode)),
		)
		meter := telemetry.Meter("denoiseopt/http")
		if counter, err := meter.Int64Counter("http.server.request_count"); err == nil {
			counter.Add(ctx, 1, attrs)
		}
		if hist, err := meter.Float64Histogram("http.server.duration", otelmetric.WithUnit("ms")); err == nil {
			hist.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		}
	})
}
