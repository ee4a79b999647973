package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/config"
	"github.com/fluentlens/fluentlens/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, effective configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()

		log.Info("=== FluentLens Environment Information ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + config.AppName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		log.Info("")

		cfg, err := loadConfig()
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		log.Info("Configuration:")
		log.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		log.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		log.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		log.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		log.Info("")

		log.Info("Durable Store:")
		log.Info("  Driver:         "+cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
		if strings.TrimSpace(cfg.Store.URL) != "" {
			log.Info("  URL:            "+cfg.Store.URL, zap.String("db_url", cfg.Store.URL))
		} else {
			log.Info("  Path:           "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		log.Info("  Op Timeout:     " + cfg.Store.OpTimeout.String())
		log.Info("")

		log.Info("Fast Layer:")
		log.Info("  Driver:         "+cfg.Cache.Driver, zap.String("cache_driver", cfg.Cache.Driver))
		switch strings.ToLower(cfg.Cache.Driver) {
		case config.CacheDriverBadger:
			if cfg.Cache.Badger.InMemory {
				log.Info("  Badger:         in-memory")
			} else {
				log.Info("  Badger Path:    " + cfg.Cache.Badger.Path)
			}
		default:
			log.Info("  Redis Addr:     "+cfg.Cache.Redis.Addr, zap.String("redis_addr", cfg.Cache.Redis.Addr))
			log.Info(fmt.Sprintf("  Redis DB:       %d", cfg.Cache.Redis.DB))
			if cfg.Cache.Redis.Password != "" {
				log.Info("  Redis Password: (set)")
			}
		}
		log.Info("  Op Timeout:     " + cfg.Cache.OpTimeout.String())
		if cfg.Cache.LiveTTL > 0 {
			log.Info("  Live TTL:       " + cfg.Cache.LiveTTL.String())
		} else {
			log.Info("  Live TTL:       none")
		}
		log.Info("")

		log.Info("Batching:")
		log.Info("  Window:         "+cfg.Batch.Interval.String(), zap.Duration("batch_interval", cfg.Batch.Interval))
		log.Info("  Flush Every:    "+cfg.Batch.FlushInterval.String(), zap.Duration("flush_interval", cfg.Batch.FlushInterval))
		log.Info(fmt.Sprintf("  Flush Workers:  %d", cfg.Batch.FlushWorkers))
		log.Info(fmt.Sprintf("  Scheduler:      %t", cfg.Batch.SchedulerEnabled))
		log.Info(fmt.Sprintf("  Final Flush:    %t", cfg.Batch.FlushOnShutdown))
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
