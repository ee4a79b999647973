package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/config"
	"github.com/fluentlens/fluentlens/internal/core/kv"
	"github.com/fluentlens/fluentlens/internal/observability"
)

const doctorProbeTimeout = 5 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Check configuration and connectivity to the fast layer and durable store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := observability.CLILogger
		const totalChecks = 6

		log.Info("=== " + config.AppName + " doctor ===")
		log.Info("")

		failed := 0
		step := func(n int, format string, args ...any) string {
			return fmt.Sprintf("[%d/%d] ", n, totalChecks) + fmt.Sprintf(format, args...)
		}

		log.Info(step(1, "Checking runtime... ✅ %s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH))

		version := crucible.GetVersion()
		if version.Gofulmen != "" {
			log.Info(step(2, "Checking Gofulmen... ✅ v%s", version.Gofulmen), zap.String("gofulmen_version", version.Gofulmen))
		} else {
			log.Warn(step(2, "Checking Gofulmen... ⚠️  version unknown"))
		}

		configPath := config.DefaultConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			log.Info(step(3, "Checking config file... ✅ %s", configPath))
		} else {
			log.Info(step(3, "Checking config file... ℹ️  none at %s (defaults and environment apply)", configPath))
		}

		cfg, err := loadConfig()
		if err != nil {
			log.Error(step(4, "Validating configuration... ❌ %v", err))
			return fmt.Errorf("configuration invalid: %w", err)
		}
		log.Info(step(4, "Validating configuration... ✅ window %s, flush every %s",
			cfg.Batch.Interval, cfg.Batch.FlushInterval))

		if err := probeStore(ctx, cfg); err != nil {
			log.Error(step(5, "Checking durable store... ❌ %v", err), zap.Error(err))
			failed++
		} else {
			target := cfg.Store.URL
			if target == "" {
				target, _ = filepath.Abs(cfg.Store.Path)
			}
			log.Info(step(5, "Checking durable store... ✅ %s", target))
		}

		if err := probeKV(ctx, cfg); err != nil {
			log.Error(step(6, "Checking fast layer (%s)... ❌ %v", cfg.Cache.Driver, err), zap.Error(err))
			failed++
		} else {
			log.Info(step(6, "Checking fast layer (%s)... ✅ reachable", cfg.Cache.Driver))
		}

		log.Info("")
		if failed > 0 {
			log.Warn(fmt.Sprintf("⚠️  %d check(s) failed. Review the output above for details.", failed))
			return fmt.Errorf("%d diagnostic check(s) failed", failed)
		}
		log.Info("✅ All checks passed!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func probeStore(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup
	return db.Ping(ctx)
}

func probeKV(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	cache, err := kv.Open(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer cache.Close() // nolint:errcheck // best-effort cleanup
	return cache.Ping(ctx)
}
