package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/observability"
)

// statusRecorder captures the status code and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	written     int64
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.wroteHeader {
		return
	}
	rec.status = code
	rec.wroteHeader = true
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// endpointPrefixes collapse unrouted paths into low-cardinality labels.
var endpointPrefixes = []struct {
	prefix string
	label  string
}{
	{"/health", "/health/*"},
	{"/v1/", "/v1/*"},
	{"/admin/", "/admin/*"},
}

var exactEndpoints = map[string]bool{
	"/":                      true,
	"/version":               true,
	"/metrics":               true,
	"/simulate-and-generate": true,
	"/generate-exercise":     true,
}

// endpointLabel prefers the chi route pattern so user IDs never become
// label values.
func endpointLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	if exactEndpoints[path] {
		return path
	}
	for _, p := range endpointPrefixes {
		if strings.HasPrefix(path, p.prefix) {
			return p.label
		}
	}
	return "/unknown"
}

func requestSize(r *http.Request) int64 {
	if r.ContentLength > 0 {
		return r.ContentLength
	}
	if size, err := strconv.ParseInt(r.Header.Get("Content-Length"), 10, 64); err == nil && size > 0 {
		return size
	}
	return 0
}

// RequestMetrics emits request counters, latency and payload sizes through
// the telemetry system and logs one line per request.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		endpoint := endpointLabel(r)
		status := strconv.Itoa(rec.status)
		inBytes := requestSize(r)

		if sys := observability.TelemetrySystem; sys != nil {
			labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}
			sizeLabels := map[string]string{"method": r.Method, "endpoint": endpoint}

			_ = sys.Counter("http_requests_total", 1, labels)
			_ = sys.Histogram("http_request_duration_ms", elapsed, labels)
			_ = sys.Gauge("http_request_size_bytes", float64(inBytes), sizeLabels)
			_ = sys.Gauge("http_response_size_bytes", float64(rec.written), sizeLabels)

			if rec.status >= http.StatusBadRequest {
				class := "client_error"
				if rec.status >= http.StatusInternalServerError {
					class = "server_error"
				}
				_ = sys.Counter("http_errors_total", 1, map[string]string{
					"method":     r.Method,
					"endpoint":   endpoint,
					"status":     status,
					"error_type": class,
				})
			}
		}

		logRequest(r, endpoint, rec, elapsed, inBytes)
	})
}

func logRequest(r *http.Request, endpoint string, rec *statusRecorder, elapsed time.Duration, inBytes int64) {
	logger := observability.ServerLogger
	if logger == nil {
		return
	}

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("endpoint", endpoint),
		zap.Int("status", rec.status),
		zap.Duration("duration", elapsed),
		zap.Int64("request_size", inBytes),
		zap.Int64("response_size", rec.written),
		zap.String("request_id", GetRequestID(r.Context())),
	}

	switch {
	case rec.status >= http.StatusInternalServerError:
		logger.Warn("HTTP request failed", fields...)
	case strings.HasPrefix(endpoint, "/health"):
		// Probes fire every few seconds.
		logger.Debug("HTTP request completed", fields...)
	default:
		logger.Info("HTTP request completed", fields...)
	}
}
