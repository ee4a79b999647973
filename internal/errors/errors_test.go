package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluentlens/fluentlens/internal/core/aggregate"
)

func TestHTTPStatusFromCode(t *testing.T) {
	tests := map[string]int{
		CodeInvalidInput:       http.StatusBadRequest,
		CodeValidationFailed:   http.StatusBadRequest,
		CodeNotFound:           http.StatusNotFound,
		CodeMethodNotAllowed:   http.StatusMethodNotAllowed,
		CodeTimeout:            http.StatusGatewayTimeout,
		CodeServiceUnavailable: http.StatusServiceUnavailable,
		CodeInternal:           http.StatusInternalServerError,
		CodeConfigInvalid:      http.StatusInternalServerError,
		"SOMETHING_ELSE":       http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, HTTPStatusFromCode(code), code)
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}

func TestWrapKeepsOriginalAndContext(t *testing.T) {
	cause := stderrors.New("redis: connection refused")
	env := WrapServiceUnavailable(context.Background(), cause, "Counter cache unavailable")

	assert.Equal(t, CodeServiceUnavailable, env.Code)
	assert.Equal(t, errors.SeverityHigh, env.Severity)
	assert.Equal(t, "redis: connection refused", env.Context["wrapped_error"])
	assert.Equal(t, cause, env.Original)
	assert.NotEmpty(t, env.CorrelationID)
}

func TestEnsureEnvelope(t *testing.T) {
	env := NewNotFoundError("missing")
	assert.Same(t, env, EnsureEnvelope(fmt.Errorf("lookup: %w", env)))

	plain := EnsureEnvelope(stderrors.New("boom"))
	assert.Equal(t, CodeInternal, plain.Code)
	assert.Equal(t, "boom", plain.Context["wrapped_error"])

	assert.Equal(t, errors.SeverityCritical, EnsureEnvelope(nil).Severity)
}

func TestFromAggregateError(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("get: %w", context.DeadlineExceeded), CodeTimeout},
		{fmt.Errorf("%w: empty category", aggregate.ErrInvalidReport), CodeValidationFailed},
		{aggregate.ErrNotFound, CodeNotFound},
		{fmt.Errorf("%w: dial", aggregate.ErrCacheUnavailable), CodeServiceUnavailable},
		{fmt.Errorf("%w: locked", aggregate.ErrStoreUnavailable), CodeServiceUnavailable},
		{stderrors.New("other"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, FromAggregateError(ctx, tt.err).Code, tt.err.Error())
	}
}

func TestRespondWithError(t *testing.T) {
	env := NewValidationError("bad report").WithDetails(map[string]interface{}{"field": "user_id"})

	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodPost, "/v1/reports", nil), env)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, CodeValidationFailed, resp.Error.Code)
	assert.Equal(t, "user_id", resp.Error.Details["field"])
	assert.NotEmpty(t, resp.Error.RequestID)
}

func TestResponseDetailsPrefersDetails(t *testing.T) {
	env := NewInternalError("x").WithDetails(map[string]interface{}{"k": "detail"})
	env, err := env.WithContext(map[string]interface{}{"k": "context", "other": 1})
	require.NoError(t, err)

	details := ResponseDetails(env)
	assert.Equal(t, "detail", details["k"])
	assert.Equal(t, 1, details["other"])
	assert.Nil(t, ResponseDetails(NewNotFoundError("none")))
}
