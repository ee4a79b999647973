package errors

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/metrics"
	"github.com/fluentlens/fluentlens/internal/observability"
	"github.com/fluentlens/fluentlens/internal/server/middleware"
)

// HTTPErrorDetail is the error body returned to API callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail under an "error" key.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes err and writes it as a JSON error response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope logs envelope, counts it, and writes the response.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	var ctx context.Context
	path, endpoint := "", ""
	if r != nil {
		ctx = r.Context()
		path = r.URL.Path
		endpoint = routePattern(r)
	}
	envelope = EnsureCorrelationID(envelope, ctx)
	status := HTTPStatusFromEnvelope(envelope)

	logEnvelope(envelope, status, path)
	metrics.RecordError(envelope.Code, status)
	if endpoint != "" {
		metrics.RecordErrorByEndpoint(endpoint, envelope.Code)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   ResponseDetails(envelope),
			RequestID: envelope.CorrelationID,
		},
	})
}

// routePattern labels errors by chi route so user IDs stay out of series.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// EnsureCorrelationID sets a correlation ID on envelopes that lack one.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil || envelope.CorrelationID != "" {
		return envelope
	}
	if ctx != nil {
		if id := middleware.GetRequestID(ctx); id != "" {
			return envelope.WithCorrelationID(id)
		}
	}
	return envelope.WithCorrelationID("fallback-" + errors.GenerateCorrelationID())
}

// ResponseDetails merges envelope details with its context. Details win on
// key collisions.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil || len(envelope.Details)+len(envelope.Context) == 0 {
		return nil
	}

	merged := make(map[string]interface{}, len(envelope.Details)+len(envelope.Context))
	for key, value := range envelope.Context {
		merged[key] = value
	}
	for key, value := range envelope.Details {
		merged[key] = value
	}
	return merged
}

func logEnvelope(envelope *errors.ErrorEnvelope, status int, path string) {
	logger := observability.ServerLogger
	if logger == nil {
		return
	}

	fields := make([]zap.Field, 0, 5+len(envelope.Context))
	fields = append(fields,
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", status),
		zap.String("request_id", envelope.CorrelationID),
	)
	if path != "" {
		fields = append(fields, zap.String("path", path))
	}
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error(envelope.Message, fields...)
	case status == http.StatusNotFound:
		logger.Debug(envelope.Message, fields...)
	default:
		logger.Info(envelope.Message, fields...)
	}
}
