package storage

import (
	"context"
	"math/rand/v2"
	"time"
)

// WithRetry executes fn, retrying up to maxRetries times when retriable
// reports a transient error. Retries use jittered exponential backoff
// starting at baseDelay; exhaustion surfaces the last error to the
// caller, which treats it as fatal.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, retriable func(error) bool, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !retriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}
