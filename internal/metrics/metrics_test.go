package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/require"

	"github.com/fluentlens/fluentlens/internal/observability"
)

func withCollector(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })
	return collector
}

func TestAggregationMetrics(t *testing.T) {
	collector := withCollector(t)

	RecordReport(3, true)
	RecordReport(1, false)
	RecordLiveSeed(true)
	RecordAccumulate(2, true)
	RecordAccumulate(1, false)
	RecordFlushKey("applied")
	RecordFlushRun("scheduled", 3, 0, 15*time.Millisecond)

	require.Equal(t, 2, collector.CountMetricsByName(ReportsTotal))
	require.Equal(t, 1, collector.CountMetricsByName(LiveIncrementsTotal))
	require.Equal(t, 1, collector.CountMetricsByName(LiveSeedsTotal))
	require.Equal(t, 2, collector.CountMetricsByName(AccumulatedDeltaTotal))
	require.Equal(t, 1, collector.CountMetricsByName(AccumulatorWindows))
	require.Equal(t, 1, collector.CountMetricsByName(FlushKeysTotal))
	require.Equal(t, 1, collector.CountMetricsByName(FlushRunsTotal))
	require.Greater(t, collector.CountMetricsByName(FlushDuration), 0)
}

func TestServiceMetrics(t *testing.T) {
	collector := withCollector(t)

	RecordOperation("flush", true)
	RecordHealthCheck("kv", false, time.Millisecond)
	SetServerStartTime(time.Now().Unix())
	RecordError("SERVICE_UNAVAILABLE", 503)
	RecordErrorByEndpoint("/v1/reports", "SERVICE_UNAVAILABLE")
	RecordPanic()

	require.Equal(t, 1, collector.CountMetricsByName(OperationsTotal))
	require.Equal(t, 1, collector.CountMetricsByName(HealthCheckTotal))
	require.Equal(t, 1, collector.CountMetricsByName(ServerStartTime))
	require.Equal(t, 1, collector.CountMetricsByName(ErrorsTotalName))
	require.Equal(t, 1, collector.CountMetricsByName(ErrorsByEndpointName))
	require.Equal(t, 1, collector.CountMetricsByName(PanicsTotalName))
}

func TestMetricsAreNoopsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	RecordReport(1, true)
	RecordFlushRun("manual", 0, 1, time.Second)
	RecordHealthCheck("store", true, time.Millisecond)
}

func TestOutcome(t *testing.T) {
	require.Equal(t, "store", outcome(true, "store", "empty"))
	require.Equal(t, "empty", outcome(false, "store", "empty"))
}
