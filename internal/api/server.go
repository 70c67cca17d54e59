// Package api exposes the observability HTTP interface for a pipeline run.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/budget"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/endpoint"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/runner"
	"github.com/JakeFAU/keyword-volume-pipeline/internal/telemetry"
)

// Server wires HTTP handlers to the live pipeline components. All handlers
// are read-only; the run is driven elsewhere.
type Server struct {
	router       chi.Router
	pool         *endpoint.Pool
	runner       *runner.Runner
	checkpointer *budget.Checkpointer
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	pool *endpoint.Pool,
	r *runner.Runner,
	cp *budget.Checkpointer,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pool:         pool,
		runner:       r,
		checkpointer: cp,
		logger:       logger,
	}
	router := chi.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(s.loggingMiddleware)
	router.Use(s.recoverMiddleware)
	router.Use(timeoutMiddleware(30 * time.Second))

	router.Get("/healthz", s.healthz)
	router.Method(http.MethodGet, "/metrics", telemetry.Handler())
	router.Get("/progress", s.progress)

	s.router = router
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type endpointStatus struct {
	ID                  int    `json:"id"`
	BaseURL             string `json:"base_url"`
	Healthy             bool   `json:"healthy"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	RequestsServed      int64  `json:"requests_served"`
}

type progressResponse struct {
	RunID            string                   `json:"run_id"`
	ElapsedSeconds   float64                  `json:"elapsed_seconds"`
	RemainingSeconds float64                  `json:"remaining_seconds"`
	Processed        int                      `json:"processed"`
	Circuit          string                   `json:"circuit"`
	Stats            keywords.ProcessingStats `json:"stats"`
	Endpoints        []endpointStatus         `json:"endpoints"`
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	states := s.pool.States()
	eps := make([]endpointStatus, len(states))
	for i, st := range states {
		eps[i] = endpointStatus{
			ID:                  st.ID,
			BaseURL:             st.BaseURL,
			Healthy:             st.Healthy,
			ConsecutiveFailures: st.ConsecutiveFailures,
			RequestsServed:      st.RequestsServed,
		}
	}
	s.writeJSON(w, http.StatusOK, progressResponse{
		RunID:            s.checkpointer.RunID().String(),
		ElapsedSeconds:   s.checkpointer.Elapsed().Seconds(),
		RemainingSeconds: s.checkpointer.Remaining().Seconds(),
		Processed:        s.checkpointer.TotalProcessed(),
		Circuit:          string(s.runner.Circuit()),
		Stats:            s.runner.Stats(),
		Endpoints:        eps,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}
