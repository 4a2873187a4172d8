// Package retry implements a bounded, fixed-delay retry loop gated by an
// error predicate. It exists to contain the workaround for the transport's
// spurious-abort defect in one testable place.
package retry

import (
	"context"
	"time"
)

// Do runs fn up to attempts times, sleeping delay between attempts, but only
// while shouldRetry reports the returned error as retryable. Any other error
// is returned immediately. Context cancellation wins over the delay.
func Do(ctx context.Context, attempts int, delay time.Duration, shouldRetry func(error) bool, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if shouldRetry == nil || !shouldRetry(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return err
}
