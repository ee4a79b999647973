// Package observability owns the process-wide loggers and the telemetry
// system used for metrics.
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

var (
	// CLILogger writes human-oriented output for one-shot commands.
	CLILogger *logging.Logger

	// ServerLogger writes JSON lines for serve mode.
	ServerLogger *logging.Logger

	fallbackOnce   sync.Once
	fallbackLogger *logging.Logger
)

// Logger returns the server logger in serve mode, otherwise the CLI logger,
// otherwise a lazily built CLI logger for tests and library callers.
func Logger() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	if CLILogger != nil {
		return CLILogger
	}
	fallbackOnce.Do(func() {
		fallbackLogger = mustLogger(logging.NewCLI("fluentlens"))("fallback")
	})
	return fallbackLogger
}

// InitCLILogger installs the CLI logger. verbose lowers the level to DEBUG.
func InitCLILogger(serviceName string, verbose bool) {
	logger := mustLogger(logging.NewCLI(serviceName))("CLI")
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitServerLogger installs the structured JSON logger used by serve. An
// unrecognized level falls back to INFO with a warning. namespace, when
// given, is attached to every line.
func InitServerLogger(serviceName, level string, namespace ...string) {
	severity, known := normalizeLevel(level)

	ns := ""
	if len(namespace) > 0 {
		ns = namespace[0]
	}

	logger := mustLogger(logging.New(serverLoggerConfig(serviceName, severity, ns)))("server")
	if !known {
		logger.Warn("Unknown logging.level; using INFO", zap.String("level", level))
	}
	ServerLogger = logger
}

func serverLoggerConfig(serviceName, severity, namespace string) *logging.LoggerConfig {
	static := map[string]any{}
	if namespace != "" {
		static["namespace"] = namespace
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: severity,
		Service:      serviceName,
		Environment:  "production",
		StaticFields: static,
		Middleware: []logging.MiddlewareConfig{{
			Name:    "correlation",
			Enabled: true,
			Order:   100,
			Config:  map[string]any{},
		}},
		Sinks: []logging.SinkConfig{{
			Type:    "console",
			Format:  "json",
			Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
		}},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

var levelAliases = map[string]string{
	"trace":   "TRACE",
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// normalizeLevel maps a config level to the gofulmen severity name.
func normalizeLevel(level string) (string, bool) {
	if severity, ok := levelAliases[strings.ToLower(strings.TrimSpace(level))]; ok {
		return severity, true
	}
	return "INFO", false
}

// mustLogger exits with ExitConfigInvalid when a logger cannot be built.
// No logger exists yet at that point, so the failure goes to stderr.
func mustLogger(logger *logging.Logger, err error) func(kind string) *logging.Logger {
	return func(kind string) *logging.Logger {
		if err == nil {
			return logger
		}
		code := foundry.ExitConfigInvalid
		fmt.Fprintf(os.Stderr, "FATAL: failed to initialize %s logger: %v\n", kind, err)
		if info, ok := foundry.GetExitCodeInfo(code); ok {
			fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
			os.Exit(info.Code)
		}
		os.Exit(int(code))
		return nil
	}
}
