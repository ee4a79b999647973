package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopMetricsWithoutInit(t *testing.T) {
	require.NoError(t, StopMetrics())
	assert.Nil(t, PrometheusExporter)
	assert.Nil(t, TelemetrySystem)
	assert.Zero(t, GetMetricsPort())
}

func TestResolvePort(t *testing.T) {
	port, err := resolvePort("[::]:9464")
	require.NoError(t, err)
	assert.Equal(t, 9464, port)

	port, err = resolvePort("127.0.0.1:0")
	require.NoError(t, err)
	assert.Zero(t, port)

	_, err = resolvePort("no-port")
	require.Error(t, err)
}
