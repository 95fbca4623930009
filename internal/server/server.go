// Package server is the HTTP surface: health, query, and job management
// endpoints rooted at the base URL the lifecycle component publishes.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/graph"
	"github.com/SpillwaveSolutions/agent-brain/internal/job"
	"github.com/SpillwaveSolutions/agent-brain/internal/lifecycle"
	"github.com/SpillwaveSolutions/agent-brain/internal/search"
	"github.com/SpillwaveSolutions/agent-brain/internal/store"
	"github.com/SpillwaveSolutions/agent-brain/internal/telemetry"
)

// queryDeadline bounds one query request end to end.
const queryDeadline = 30 * time.Second

// Deps wires the server to the rest of the system. Graph is nil when the
// knowledge graph is disabled; Metrics may be nil.
type Deps struct {
	Config  *config.Config
	Runtime lifecycle.Runtime
	Engine  *search.Engine
	Queue   *job.Queue
	Worker  *job.Worker
	Backend store.Backend
	Graph   graph.Store
	Metrics *telemetry.QueryMetrics

	// Unhealthy marks the instance degraded at startup, typically a stored
	// embedding dimension mismatch. Health reports it with 503, queries and
	// new index jobs are refused, and reset stays available for recovery.
	Unhealthy error
}

// Server serves the HTTP API on the listener the lifecycle component bound.
type Server struct {
	deps Deps
	http *http.Server
}

func New(deps Deps) *Server {
	s := &Server{deps: deps}
	s.http = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/health/status", s.handleStatus)
	r.Post("/query", s.handleQuery)

	r.Route("/index", func(r chi.Router) {
		r.Post("/", s.handleIndex)
		r.Post("/add", s.handleAdd)
		r.Delete("/", s.handleReset)
		r.Post("/rebuild-graph", s.handleRebuildGraph)
		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs/compact", s.handleCompactJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
	})

	return r
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Serve blocks on the listener until Shutdown. The listener comes from the
// lifecycle component so the port was already published before serving.
func (s *Server) Serve(listener net.Listener) error {
	err := s.http.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured drain timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	drain := time.Duration(s.deps.Config.Server.DrainTimeoutMS) * time.Millisecond
	if drain > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, drain)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}

// requestLogger logs one line per request at debug.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int64("duration_ms", time.Since(started).Milliseconds()))
	})
}
