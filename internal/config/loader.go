// Package config provides centralized configuration management for FluentLens.
// It layers configuration in three steps:
// Layer 1: Built-in defaults (SetDefaults)
// Layer 2: User config file (XDG config dir, ./config, or --config)
// Layer 3: FLUENTLENS_* environment variables and bound CLI flags
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName is used for XDG directory discovery and as the binary name.
	AppName = "fluentlens"

	// EnvPrefix prefixes every environment override, e.g. FLUENTLENS_CACHE_DRIVER.
	EnvPrefix = "FLUENTLENS"
)

const (
	CacheDriverRedis  = "redis"
	CacheDriverBadger = "badger"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// NewViper returns a viper instance with defaults and environment binding
// applied. Callers may add config paths before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	Bind(v)
	return v
}

// Bind applies defaults and environment handling to an existing viper instance.
func Bind(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.op_timeout", "5s")

	// Fast layer defaults
	v.SetDefault("cache.driver", CacheDriverRedis)
	v.SetDefault("cache.op_timeout", "2s")
	v.SetDefault("cache.live_ttl", "0s")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.dial_timeout", "2s")
	v.SetDefault("cache.redis.read_timeout", "1s")
	v.SetDefault("cache.redis.write_timeout", "1s")
	v.SetDefault("cache.redis.pool_size", 0)
	v.SetDefault("cache.badger.path", DefaultBadgerPath())
	v.SetDefault("cache.badger.in_memory", false)

	// Batch defaults
	v.SetDefault("batch.interval", "10m")
	v.SetDefault("batch.flush_interval", "5m")
	v.SetDefault("batch.flush_workers", 4)
	v.SetDefault("batch.flush_on_shutdown", true)
	v.SetDefault("batch.scheduler_enabled", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// Load decodes the effective settings of v into a validated Config.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = NewViper()
	}

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Store the loaded config
	setConfig(cfg)

	return cfg, nil
}

// Validate checks cross-field constraints that defaults alone cannot enforce.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Batch.Interval <= 0 {
		return errors.New("batch.interval must be positive")
	}
	if c.Batch.FlushInterval <= 0 {
		return errors.New("batch.flush_interval must be positive")
	}
	if c.Batch.FlushInterval >= c.Batch.Interval {
		return fmt.Errorf("batch.flush_interval (%s) must be shorter than batch.interval (%s)",
			c.Batch.FlushInterval, c.Batch.Interval)
	}
	if c.Batch.FlushWorkers < 1 {
		return errors.New("batch.flush_workers must be at least 1")
	}

	switch strings.ToLower(strings.TrimSpace(c.Cache.Driver)) {
	case CacheDriverRedis:
		if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
			return errors.New("cache.redis.addr is required for the redis driver")
		}
	case CacheDriverBadger:
		if !c.Cache.Badger.InMemory && strings.TrimSpace(c.Cache.Badger.Path) == "" {
			return errors.New("cache.badger.path is required unless cache.badger.in_memory is set")
		}
	default:
		return fmt.Errorf("unsupported cache driver: %s", c.Cache.Driver)
	}

	if c.Cache.OpTimeout <= 0 {
		return errors.New("cache.op_timeout must be positive")
	}
	if c.Store.OpTimeout <= 0 {
		return errors.New("store.op_timeout must be positive")
	}
	if c.Cache.LiveTTL < 0 {
		return errors.New("cache.live_ttl must not be negative")
	}

	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG-compliant config directory for the app.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := DefaultConfigDir()
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// DefaultBadgerPath returns the directory used by the embedded fast layer.
func DefaultBadgerPath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + "-kv"
	}
	return filepath.Join(dataDir, "kv")
}

// durationOrDefault returns d when positive, otherwise fallback.
func durationOrDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// ShutdownTimeout returns the configured shutdown timeout with a 10s floor default.
func (c *Config) ShutdownTimeout() time.Duration {
	if c == nil {
		return 10 * time.Second
	}
	return durationOrDefault(c.Server.ShutdownTimeout, 10*time.Second)
}
