// Package api is the HTTP CRUD surface over tasks, runs and their results.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dikwickley/promptoncron/internal/db"
	"github.com/dikwickley/promptoncron/internal/metrics"
)

// Store is the persistence the API reads and writes.
type Store interface {
	Ping(ctx context.Context) error
	CreateTask(ctx context.Context, task *db.Task) error
	GetTask(ctx context.Context, id string) (*db.Task, error)
	ListTasks(ctx context.Context) ([]*db.Task, error)
	UpdateTask(ctx context.Context, task *db.Task) error
	DeleteTask(ctx context.Context, id string) error
	EnqueueRun(ctx context.Context, taskID string, scheduledFor time.Time) (*db.Run, error)
	GetRun(ctx context.Context, id string) (*db.Run, error)
	ListTaskRuns(ctx context.Context, taskID string, limit int) ([]*db.Run, error)
	GetResult(ctx context.Context, runID string) (*db.Result, error)
	GetSnapshot(ctx context.Context, runID string) (*db.WebSearchSnapshot, error)
}

var _ Store = (*db.DB)(nil)

// Options configures a Server.
type Options struct {
	MinCronInterval time.Duration
	Metrics         *metrics.Metrics
	Gatherer        prometheus.Gatherer // served on /metrics, default registry when nil
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Server represents the API server
type Server struct {
	store       Store
	minInterval time.Duration
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	log         zerolog.Logger
	now         func() time.Time
	router      chi.Router
}

// NewServer creates a new API server
func NewServer(store Store, opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		store:       store,
		minInterval: opts.MinCronInterval,
		metrics:     opts.Metrics,
		gatherer:    gatherer,
		log:         opts.Logger.With().Str("component", "api").Logger(),
		now:         now,
		router:      chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Get("/healthz", s.HealthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Tasks
	r.Get("/api/tasks", s.ListTasks)
	r.Post("/api/tasks", s.CreateTask)
	r.Get("/api/tasks/{id}", s.GetTask)
	r.Patch("/api/tasks/{id}", s.UpdateTask)
	r.Delete("/api/tasks/{id}", s.DeleteTask)
	r.Post("/api/tasks/{id}/run", s.RunTask)
	r.Get("/api/tasks/{id}/runs", s.GetTaskRuns)

	// Runs
	r.Get("/api/runs/{id}", s.GetRun)
	r.Get("/api/runs/{id}/result", s.GetResult)
	r.Get("/api/runs/{id}/web_search_snapshot", s.GetSnapshot)
}

// Router returns the chi router for use with http.Server
func (s *Server) Router() http.Handler {
	return s.router
}

// CORS allows any origin, as the dashboard is served separately.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
