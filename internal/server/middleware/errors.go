package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/metrics"
	"github.com/fluentlens/fluentlens/internal/observability"
)

// panicResponse mirrors the API error body. It is duplicated here because
// internal/errors imports this package.
type panicResponse struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

// Recovery turns handler panics into a 500 INTERNAL_ERROR envelope. The
// panic value and stack go to the log only. http.ErrAbortHandler is
// re-raised so net/http can abort the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", "internal server error").
				WithCorrelationID(GetRequestID(r.Context()))
			if updated, err := envelope.WithSeverity(errors.SeverityCritical); err == nil {
				envelope = updated
			}

			metrics.RecordPanic()
			observability.Logger().Error("Recovered from handler panic",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", envelope.CorrelationID),
				zap.String("severity", string(envelope.Severity)),
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()))

			var body panicResponse
			body.Error.Code = envelope.Code
			body.Error.Message = envelope.Message
			body.Error.RequestID = envelope.CorrelationID

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(body)
		}()

		next.ServeHTTP(w, r)
	})
}
