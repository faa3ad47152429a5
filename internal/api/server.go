package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michalporada/framer-marketplace-scraper/internal/metrics"
	"github.com/michalporada/framer-marketplace-scraper/internal/progress/sinks"
	"github.com/michalporada/framer-marketplace-scraper/internal/run"
	"github.com/michalporada/framer-marketplace-scraper/internal/store"
)

// StatusProvider exposes the live run status. *run.Tracker implements it.
type StatusProvider interface {
	Snapshot() run.Status
}

// StatsProvider exposes aggregated fetch counters. *sinks.StatsSink
// implements it.
type StatsProvider interface {
	Snapshot() sinks.Stats
}

// Server wires the ops endpoints to the live run tracker and the run store.
type Server struct {
	router  chi.Router
	tracker StatusProvider
	stats   StatsProvider
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Stats and runs
// may be nil; the endpoints they back then degrade (no live counters, 503 on
// history).
func NewServer(tracker StatusProvider, stats StatsProvider, runs store.RunRepository, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		tracker: tracker,
		stats:   stats,
		logger:  logger,
	}
	history := NewRunHandler(runs, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/run", s.currentRun)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", history.ListRuns)
			r.Get("/{run_id}", history.GetRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz turns ready once the orchestrator has begun a run; probes before
// that see 503.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.tracker == nil || s.tracker.Snapshot().RunID == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// currentRun handles GET /v1/run: the live lifecycle status plus the
// aggregated fetch counters so far.
func (s *Server) currentRun(w http.ResponseWriter, _ *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "run tracker unavailable")
		return
	}
	status := s.tracker.Snapshot()
	if status.RunID == "" {
		writeError(w, http.StatusNotFound, "no run in progress")
		return
	}
	payload := map[string]any{"run": status}
	if s.stats != nil {
		payload["progress"] = toProgressDTO(s.stats.Snapshot())
	}
	writeJSON(w, http.StatusOK, payload)
}

func toProgressDTO(stats sinks.Stats) progressDTO {
	dto := progressDTO{
		Fetched:          stats.Fetched,
		SkippedUnchanged: stats.SkippedUnchanged,
		Duplicates:       stats.Duplicates,
		Failed:           stats.Failed,
		Retries:          stats.Retries,
		SlowAttempts:     stats.SlowAttempts,
		BytesFetched:     stats.BytesFetched,
		RecordsWritten:   stats.RecordsWritten,
	}
	if len(stats.Failures) > 0 {
		dto.Failures = stats.Failures
	}
	return dto
}

type progressDTO struct {
	Fetched          int            `json:"fetched"`
	SkippedUnchanged int            `json:"skipped_unchanged"`
	Duplicates       int            `json:"duplicates"`
	Failed           int            `json:"failed"`
	Retries          int            `json:"retries"`
	SlowAttempts     int            `json:"slow_attempts"`
	BytesFetched     int64          `json:"bytes_fetched"`
	RecordsWritten   int            `json:"records_written"`
	Failures         map[string]int `json:"failures,omitempty"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write json response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
