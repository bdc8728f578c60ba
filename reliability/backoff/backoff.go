// Package backoff computes retry delays for the outbox publisher, the
// stream consumers and the broker's XADD attempts.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Exponential returns base doubled attempt times, saturating at
// math.MaxInt64. Negative attempts count as zero.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	delay := base

	for range max(attempt, 0) {
		if delay > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}

		delay *= 2
	}

	return delay
}

// Capped is Exponential bounded by ceiling. A non-positive ceiling means
// no bound.
func Capped(base time.Duration, attempt int, ceiling time.Duration) time.Duration {
	delay := Exponential(base, attempt)
	if ceiling > 0 {
		return min(delay, ceiling)
	}

	return delay
}

// FullJitter picks a delay uniformly from [0, delay).
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	return rand.N(delay) // #nosec G404 -- retry spreading, not security
}

// ExponentialWithJitter is FullJitter(Exponential(base, attempt)).
func ExponentialWithJitter(base time.Duration, attempt int) time.Duration {
	return FullJitter(Exponential(base, attempt))
}

// SleepWithContext waits for d or until ctx is done. Non-positive d
// returns immediately.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
