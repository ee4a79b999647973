package errors

import (
	"context"
	stderrors "errors"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/fluentlens/fluentlens/internal/core/aggregate"
)

// FromAggregateError maps aggregation pipeline failures onto API envelopes.
// Deadlines are checked first so a timed-out cache call reports TIMEOUT
// rather than SERVICE_UNAVAILABLE.
func FromAggregateError(ctx context.Context, err error) *errors.ErrorEnvelope {
	switch {
	case err == nil:
		return EnsureEnvelope(nil)
	case stderrors.Is(err, context.DeadlineExceeded):
		return WrapTimeout(ctx, err, "Operation timed out")
	case stderrors.Is(err, aggregate.ErrInvalidReport):
		return WrapValidationError(ctx, err, "Invalid error report")
	case stderrors.Is(err, aggregate.ErrNotFound):
		return WrapNotFound(ctx, err, "No error frequencies recorded for user")
	case stderrors.Is(err, aggregate.ErrCacheUnavailable):
		return WrapServiceUnavailable(ctx, err, "Counter cache unavailable")
	case stderrors.Is(err, aggregate.ErrStoreUnavailable):
		return WrapServiceUnavailable(ctx, err, "Frequency store unavailable")
	default:
		return WrapInternal(ctx, err, "Unexpected aggregation failure")
	}
}
