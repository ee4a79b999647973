package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/config"
	"github.com/fluentlens/fluentlens/internal/core/aggregate"
	"github.com/fluentlens/fluentlens/internal/core/scheduler"
	errwrap "github.com/fluentlens/fluentlens/internal/errors"
	"github.com/fluentlens/fluentlens/internal/metrics"
	"github.com/fluentlens/fluentlens/internal/observability"
	"github.com/fluentlens/fluentlens/internal/server"
	"github.com/fluentlens/fluentlens/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// schedulerHealthChecker reports the flush scheduler as unhealthy when it has
// stopped or its most recent pass could not enumerate the accumulator.
type schedulerHealthChecker struct {
	sched *scheduler.Scheduler
}

func (s schedulerHealthChecker) CheckHealth(ctx context.Context) error {
	if !s.sched.Running() {
		return errwrap.NewServiceUnavailableError("flush scheduler is not running")
	}
	if last, ok := s.sched.LastRun(); ok && last.Err != nil {
		return errwrap.WrapServiceUnavailable(ctx, last.Err, "last flush failed")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and flush scheduler",
	Long: `Start the HTTP server with graceful shutdown support.

The periodic flush runs every batch.flush_interval while the server is up.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown (stop HTTP, final flush, close stores)
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read and validate config (restart to apply changes)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errwrap.NewConfigInvalidError(err.Error())
		}

		level := cfg.Logging.Level
		if cfg.Debug.Enabled {
			level = "debug"
		}
		observability.InitServerLogger(config.AppName, level)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}
		metrics.SetServerStartTime(time.Now().Unix())

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", observability.GetMetricsPort()),
			zap.String("cache_driver", cfg.Cache.Driver),
			zap.Duration("batch_interval", cfg.Batch.Interval),
			zap.Duration("flush_interval", cfg.Batch.FlushInterval))

		p, err := openPipeline(cmd.Context())
		if err != nil {
			return errwrap.WrapServiceUnavailable(cmd.Context(), err, "storage initialization failed")
		}

		sched, err := scheduler.New(p.agg, scheduler.Options{
			Interval:    cfg.Batch.FlushInterval,
			RunTimeout:  cfg.Batch.FlushInterval,
			FlushOnStop: cfg.Batch.FlushOnShutdown,
			Logger:      logger,
		})
		if err != nil {
			_ = p.Close()
			return errwrap.NewConfigInvalidError(err.Error())
		}

		// Health checks
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("kv", handlers.CheckerFunc(p.kv.Ping))
		hm.RegisterChecker("store", handlers.CheckerFunc(p.db.Ping))
		if cfg.Metrics.Enabled {
			hm.RegisterOptional("telemetry", telemetryHealthChecker{})
		}

		reports := handlers.NewReportsHandler(p.agg)
		if cfg.Batch.SchedulerEnabled {
			if err := sched.Start(context.Background()); err != nil {
				_ = p.Close()
				return errwrap.WrapInternal(cmd.Context(), err, "scheduler start failed")
			}
			reports.Flush = sched.TriggerNow
			hm.RegisterOptional("scheduler", schedulerHealthChecker{sched: sched})
		} else {
			logger.Warn("Flush scheduler disabled; accumulated deltas expire unless flushed via POST /v1/flush")
		}

		srv := server.New(cfg.Server, reports,
			server.WithHealthEndpoints(cfg.Health.Enabled),
			server.WithProfiler(cfg.Debug.PprofEnabled))
		shutdownTimeout := cfg.ShutdownTimeout()

		// Shutdown handlers run LIFO: HTTP, scheduler, stores, logger.
		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.StopMetrics(); err != nil {
				logger.Warn("Metrics exporter stop failed", zap.Error(err))
			}
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Closing storage...")
			if err := p.Close(); err != nil {
				logger.Warn("Storage close failed", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if !sched.Running() {
				if !cfg.Batch.FlushOnShutdown {
					return nil
				}
				report, err := p.agg.FlushAll(aggregate.WithTrigger(stopCtx, aggregate.TriggerShutdown))
				if err != nil {
					logger.Error("Final flush failed; pending deltas remain until their window expires", zap.Error(err))
					return nil
				}
				logger.Info("Final flush complete", zap.Int("applied", report.Applied), zap.Int("failed", report.Failed))
				return nil
			}

			logger.Info("Stopping flush scheduler...")
			if err := sched.Stop(stopCtx); err != nil {
				logger.Error("Final flush failed; pending deltas remain until their window expires", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if errors.As(err, &notFound) {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.NewConfigInvalidError(fmt.Sprintf("config reload failed: %v", err))
			}

			reloaded, err := loadConfig()
			if err != nil {
				logger.Error("Reloaded config is invalid; keeping current settings", zap.Error(err))
				return errwrap.NewConfigInvalidError(err.Error())
			}
			logger.Info("Configuration reloaded and validated; restart to apply changes",
				zap.String("file", viper.ConfigFileUsed()),
				zap.Duration("batch_interval", reloaded.Batch.Interval),
				zap.Duration("flush_interval", reloaded.Batch.FlushInterval))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 2)
		hm.MarkStarted()
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
				return
			}
			errChan <- nil
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
