package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/config"
	"github.com/fluentlens/fluentlens/internal/observability"
	"github.com/fluentlens/fluentlens/internal/server/handlers"
)

func (s *Server) registerRoutes() {
	if s.opts.health {
		s.router.Route("/health", func(r chi.Router) {
			r.Get("/", handlers.HealthHandler)
			r.Get("/live", handlers.LivenessHandler)
			r.Get("/ready", handlers.ReadinessHandler)
			r.Get("/startup", handlers.StartupHandler)
		})
	}

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	if s.reports != nil {
		s.router.Route("/v1", func(r chi.Router) {
			r.Post("/reports", s.reports.RecordErrors)
			r.Post("/flush", s.reports.FlushAll)
			r.Get("/users/{userID}/top-errors", s.reports.TopErrors)
			r.Get("/users/{userID}/pending", s.reports.Pending)
		})

		// Unversioned routes kept for clients of the original service.
		s.router.Post("/simulate-and-generate", s.reports.SimulateAndGenerate)
		s.router.Get("/generate-exercise", s.reports.GenerateExercise)
	}

	if s.opts.profiler {
		s.router.Mount("/debug", middleware.Profiler())
		observability.Logger().Warn("pprof endpoints mounted at /debug/pprof; do not expose publicly")
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint mounts the gofulmen signal endpoint when
// FLUENTLENS_ADMIN_TOKEN is set, letting operators trigger a reload or
// graceful shutdown over HTTP.
func (s *Server) registerAdminEndpoint() {
	tokenVar := config.EnvPrefix + "_ADMIN_TOKEN"
	token := os.Getenv(tokenVar)
	logger := observability.Logger()
	if token == "" {
		logger.Debug("Admin signal endpoint disabled", zap.String("env", tokenVar))
		return
	}

	const perMinute, burst = 10, 5
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: token,
		RateLimit: perMinute,
		RateBurst: burst,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	logger.Warn("Admin signal endpoint enabled; keep it off public networks",
		zap.String("path", "/admin/signal"),
		zap.Int("rate_per_minute", perMinute),
		zap.Int("burst", burst))
}
