package aggregate

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by TopErrors when a user has no durable records.
	ErrNotFound = errors.New("no error frequencies recorded")

	// ErrCacheUnavailable wraps failures of the fast key-value layer.
	ErrCacheUnavailable = errors.New("fast counter cache unavailable")

	// ErrStoreUnavailable wraps failures of the durable frequency store.
	ErrStoreUnavailable = errors.New("frequency store unavailable")

	// ErrMalformedKey marks an accumulator key that cannot be parsed.
	ErrMalformedKey = errors.New("malformed accumulator key")

	// ErrInvalidReport marks input rejected before any state is touched.
	ErrInvalidReport = errors.New("invalid error report")
)

// cacheError wraps err so both ErrCacheUnavailable and the cause (for example
// context.DeadlineExceeded) stay matchable with errors.Is.
func cacheError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrCacheUnavailable, err)
}

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidReport, fmt.Sprintf(format, args...))
}
