// Package metrics names every series FluentLens emits and records them
// through the gofulmen telemetry system. All helpers are no-ops until
// observability.InitMetrics installs a system.
package metrics

import (
	"time"

	"github.com/fluentlens/fluentlens/internal/observability"
)

type labels = map[string]string

func counter(name string, value float64, l labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(name, value, l)
	}
}

func gauge(name string, value float64, l labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, l)
	}
}

func histogram(name string, d time.Duration, l labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(name, d, l)
	}
}

// outcome maps ok to one of two label values.
func outcome(ok bool, good, bad string) string {
	if ok {
		return good
	}
	return bad
}
