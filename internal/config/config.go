package config

import (
	"time"
)

// Config represents the complete application configuration.
// Values are layered: built-in defaults, then the config file, then
// FLUENTLENS_* environment variables and bound CLI flags.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains durable store configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`

	// OpTimeout bounds every durable store call made by the aggregation core.
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// CacheConfig contains the fast key-value layer configuration.
//
// Driver selects between a shared Redis server ("redis") and an embedded
// Badger database ("badger"). Only Redis is shared across processes.
type CacheConfig struct {
	Driver    string        `mapstructure:"driver"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`

	// LiveTTL optionally expires live counters; zero keeps them until evicted.
	LiveTTL time.Duration `mapstructure:"live_ttl"`

	Redis  RedisConfig  `mapstructure:"redis"`
	Badger BadgerConfig `mapstructure:"badger"`
}

// RedisConfig configures the Redis client.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

// BadgerConfig configures the embedded Badger store.
type BadgerConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// BatchConfig controls the accumulator window and the flush scheduler.
type BatchConfig struct {
	// Interval is the accumulator TTL, set once when an entry is created.
	Interval time.Duration `mapstructure:"interval"`

	// FlushInterval is the scheduler period. It must be shorter than Interval
	// or accumulated deltas can expire before they are applied.
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	// FlushWorkers bounds how many accumulator keys are applied concurrently.
	FlushWorkers int `mapstructure:"flush_workers"`

	// FlushOnShutdown drains the accumulator one last time during shutdown.
	FlushOnShutdown bool `mapstructure:"flush_on_shutdown"`

	// SchedulerEnabled toggles the periodic flush in serve mode.
	SchedulerEnabled bool `mapstructure:"scheduler_enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
