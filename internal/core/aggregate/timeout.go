package aggregate

import (
	"context"
	"time"
)

// withTimeout2 and withTimeout3 bound a single fast-layer or store call.
// A zero timeout leaves the caller's deadline untouched.
func withTimeout2[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := boundContext(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

func withTimeout3[T, U any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, U, error)) (T, U, error) {
	ctx, cancel := boundContext(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

func withTimeout1(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := boundContext(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

func boundContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
