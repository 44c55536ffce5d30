package chain

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultRetryAttempts and DefaultRetryDelay cover the common case of a
	// node that has the block but has not indexed its transactions yet.
	DefaultRetryAttempts = 5
	DefaultRetryDelay    = 2 * time.Second
)

// Retry calls fn up to attempts times, sleeping delay between failures, and
// returns the first success. The final failure is wrapped in
// ErrRetriesExhausted.
func Retry[T any](ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, lastErr)
}
