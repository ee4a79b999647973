//go:build cgo

// Package integration drives the HTTP API end to end against miniredis and
// an in-memory libsql store.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/fluentlens/fluentlens/internal/config"
	"github.com/fluentlens/fluentlens/internal/core/aggregate"
	"github.com/fluentlens/fluentlens/internal/core/kv"
	"github.com/fluentlens/fluentlens/internal/core/store"
	"github.com/fluentlens/fluentlens/internal/observability"
	"github.com/fluentlens/fluentlens/internal/server"
	"github.com/fluentlens/fluentlens/internal/server/handlers"
)

type harness struct {
	t      *testing.T
	url    string
	client *http.Client
	redis  *miniredis.Miniredis
	agg    *aggregate.Aggregator
}

// newHarness wires the full stack the way serve does and listens on IPv4
// loopback. It skips when the sandbox refuses sockets.
func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info")

	mr := miniredis.RunT(t)
	fast, err := kv.Open(ctx, config.CacheConfig{
		Driver: config.CacheDriverRedis,
		Redis:  config.RedisConfig{Addr: mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fast.Close() })

	db, err := store.Open(ctx, config.StoreConfig{Driver: "libsql", Path: ":memory:", OpTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	agg, err := aggregate.New(aggregate.Options{
		KV:            fast,
		Store:         db,
		BatchInterval: 10 * time.Minute,
		CacheTimeout:  2 * time.Second,
		StoreTimeout:  5 * time.Second,
		FlushWorkers:  4,
	})
	require.NoError(t, err)

	handlers.InitHealthManager("test")
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("kv", handlers.CheckerFunc(fast.Ping))
	hm.RegisterChecker("store", handlers.CheckerFunc(db.Ping))
	hm.MarkStarted()

	srv := server.New(config.ServerConfig{Host: "127.0.0.1"}, handlers.NewReportsHandler(agg))

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("loopback listen not permitted: %v", err)
		}
		require.NoError(t, err)
	}
	ts := &httptest.Server{Listener: listener, Config: &http.Server{Handler: srv.Handler()}}
	ts.Start()
	t.Cleanup(ts.Close)

	return &harness{t: t, url: ts.URL, client: ts.Client(), redis: mr, agg: agg}
}

// withMetrics starts the telemetry exporter on a random port for the test.
func withMetrics(t *testing.T) {
	t.Helper()
	if err := observability.InitMetrics("test", 0, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("metrics exporter bind not permitted: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = observability.StopMetrics() })
}

func (h *harness) post(path string, body any) *http.Response {
	h.t.Helper()
	data, err := json.Marshal(body)
	require.NoError(h.t, err)
	resp, err := h.client.Post(h.url+path, "application/json", bytes.NewReader(data))
	require.NoError(h.t, err)
	return resp
}

func (h *harness) get(path string) *http.Response {
	h.t.Helper()
	resp, err := h.client.Get(h.url + path)
	require.NoError(h.t, err)
	return resp
}

// decode reads resp as JSON into out after checking the status.
func decode(t *testing.T, resp *http.Response, status int, out any) {
	t.Helper()
	defer resp.Body.Close() // nolint:errcheck // test cleanup
	require.Equal(t, status, resp.StatusCode)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func isPermissionError(err error) bool {
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "not permitted")
}
