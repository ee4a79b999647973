// Package errors builds gofulmen error envelopes for the HTTP API and CLI
// and renders them as JSON responses.
package errors

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"

	"github.com/fluentlens/fluentlens/internal/server/middleware"
)

// Error codes used in API responses.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeConfigInvalid      = "CONFIG_INVALID"
)

var codeStatus = map[string]int{
	CodeInvalidInput:       http.StatusBadRequest,
	CodeValidationFailed:   http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeMethodNotAllowed:   http.StatusMethodNotAllowed,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
}

// HTTPStatusFromCode resolves the HTTP status for an error code. Unknown
// codes map to 500.
func HTTPStatusFromCode(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HTTPStatusFromEnvelope resolves the HTTP status for an envelope.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewValidationError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeValidationFailed, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	return escalate(errors.NewErrorEnvelope(CodeInternal, message))
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return escalate(errors.NewErrorEnvelope(CodeServiceUnavailable, message))
}

// NewConfigInvalidError reports a configuration that failed to load or validate.
func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeConfigInvalid, message)
}

func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeInvalidInput, err, message)
}

func WrapValidationError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeValidationFailed, err, message)
}

func WrapNotFound(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeNotFound, err, message)
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeInternal, err, message)
}

func WrapServiceUnavailable(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeServiceUnavailable, err, message)
}

func WrapTimeout(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeTimeout, err, message)
}

// Wrap builds an envelope for code carrying the request ID from ctx and the
// text of err under the wrapped_error context key. err is kept as Original.
func Wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	id := requestID(ctx)
	envelope := errors.NewErrorEnvelope(code, message).
		WithCorrelationID(id).
		WithTraceID(id)
	if err != nil {
		if updated, ctxErr := envelope.WithContext(map[string]interface{}{"wrapped_error": err.Error()}); ctxErr == nil {
			envelope = updated
		}
		envelope.Original = err
	}
	return escalate(envelope)
}

// escalate raises severity for codes that indicate a server-side fault.
func escalate(envelope *errors.ErrorEnvelope) *errors.ErrorEnvelope {
	var updated *errors.ErrorEnvelope
	var err error
	switch envelope.Code {
	case CodeInternal, CodeServiceUnavailable:
		updated, err = envelope.WithSeverity(errors.SeverityHigh)
	case CodeTimeout:
		updated, err = envelope.WithSeverity(errors.SeverityMedium)
	default:
		return envelope
	}
	if err != nil {
		return envelope
	}
	return updated
}

// requestID returns the chi request ID from ctx, or a fresh UUID when the
// call did not originate from an HTTP request.
func requestID(ctx context.Context) string {
	if ctx != nil {
		if id := middleware.GetRequestID(ctx); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// EnsureEnvelope normalizes any error into an envelope. Plain errors become
// INTERNAL_ERROR with their text preserved as context.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	var envelope *errors.ErrorEnvelope
	switch {
	case err == nil:
		envelope = errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		if updated, sevErr := envelope.WithSeverity(errors.SeverityCritical); sevErr == nil {
			envelope = updated
		}
		return envelope
	case stderrors.As(err, &envelope) && envelope != nil:
		return envelope
	default:
		return Wrap(context.Background(), CodeInternal, err, "unexpected error")
	}
}
