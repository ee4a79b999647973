package metrics

import (
	"strconv"
	"time"
)

// Service-level series.
const (
	OperationsTotal      = "app_operations_total"
	HealthCheckTotal     = "app_health_check_total"
	HealthCheckDuration  = "app_health_check_duration_ms"
	ServerStartTime      = "app_server_start_time_seconds"
	ErrorsTotalName      = "errors_total"
	ErrorsByEndpointName = "errors_by_endpoint"
	PanicsTotalName      = "panics_total"
)

// RecordOperation counts a CLI command or API call by outcome.
func RecordOperation(operation string, success bool) {
	counter(OperationsTotal, 1, labels{
		"operation": operation,
		"status":    outcome(success, "success", "failure"),
	})
}

// RecordHealthCheck counts one dependency check and its latency.
func RecordHealthCheck(check string, healthy bool, duration time.Duration) {
	counter(HealthCheckTotal, 1, labels{
		"check":  check,
		"status": outcome(healthy, "healthy", "unhealthy"),
	})
	histogram(HealthCheckDuration, duration, labels{"check": check})
}

// SetServerStartTime publishes the serve start time as a Unix timestamp.
func SetServerStartTime(unix int64) {
	gauge(ServerStartTime, float64(unix), nil)
}

// RecordError counts an API error response.
func RecordError(code string, httpStatus int) {
	counter(ErrorsTotalName, 1, labels{
		"error_code":  code,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordErrorByEndpoint counts an API error against the request path.
func RecordErrorByEndpoint(endpoint, code string) {
	counter(ErrorsByEndpointName, 1, labels{"endpoint": endpoint, "error_code": code})
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	counter(PanicsTotalName, 1, nil)
}
