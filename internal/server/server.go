// Package server exposes the aggregation API, health probes and the metrics
// proxy over HTTP using chi.
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/config"
	apperrors "github.com/fluentlens/fluentlens/internal/errors"
	"github.com/fluentlens/fluentlens/internal/observability"
	"github.com/fluentlens/fluentlens/internal/server/handlers"
	servermw "github.com/fluentlens/fluentlens/internal/server/middleware"
)

// Server is the HTTP front end of the aggregation pipeline.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	cfg     config.ServerConfig
	reports *handlers.ReportsHandler
	opts    options
}

type options struct {
	health   bool
	profiler bool
}

// Option adjusts which optional route groups are mounted.
type Option func(*options)

// WithHealthEndpoints toggles /health and its probes. They are on by default.
func WithHealthEndpoints(enabled bool) Option {
	return func(o *options) { o.health = enabled }
}

// WithProfiler mounts net/http/pprof under /debug when enabled.
func WithProfiler(enabled bool) Option {
	return func(o *options) { o.profiler = enabled }
}

// New builds the router. A nil reports handler leaves the /v1 API unmounted.
func New(cfg config.ServerConfig, reports *handlers.ReportsHandler, opts ...Option) *Server {
	o := options{health: true}
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(servermw.RequestID)      // first, so every log line and error carries it
	r.Use(servermw.RequestMetrics) // outside Recovery so recovered panics are counted
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{router: r, cfg: cfg, reports: reports, opts: o}
	s.registerRoutes()
	return s
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       durationOr(s.cfg.ReadTimeout, 30*time.Second),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      durationOr(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       durationOr(s.cfg.IdleTimeout, 120*time.Second),
	}

	observability.Logger().Info("HTTP listener starting",
		zap.String("addr", addr),
		zap.Bool("api", s.reports != nil),
		zap.Bool("health", s.opts.health),
		zap.Bool("pprof", s.opts.profiler))

	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.cfg.Port
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
