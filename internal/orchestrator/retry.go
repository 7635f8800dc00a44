package orchestrator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tachikoma-run/tachikoma/internal/pool"
)

// shouldRetry implements: shouldRetry(p, n) = n < p.MaxRetries.
func shouldRetry(policy pool.RetryPolicy, attempt int) bool {
	return attempt < policy.MaxRetries
}

// unboundedInterval stands in for "no cap" when policy.MaxDelay is unset:
// backoff.ExponentialBackOff always wants a MaxInterval, and the formula
// only caps growth when a cap was actually configured.
const unboundedInterval = 365 * 24 * time.Hour

// calculateRetryDelay implements the formula base · backoffFactor^(attempt-1),
// capped at maxDelay if set, built on backoff.ExponentialBackOff rather than
// a hand-rolled power loop: a fresh backoff is reset per call and stepped
// attempt times, so its stateful NextBackOff() progression reproduces the
// sequence while reusing the library's own jitter instead of a bespoke one.
func calculateRetryDelay(policy pool.RetryPolicy, attempt int) time.Duration {
	base := policy.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	maxInterval := policy.MaxDelay
	if maxInterval <= 0 {
		maxInterval = unboundedInterval
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(base),
		backoff.WithMultiplier(factor),
		backoff.WithRandomizationFactor(0.1),
		backoff.WithMaxInterval(maxInterval),
	)

	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d < 0 {
		d = 0
	}
	if policy.MaxDelay > 0 && d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	return d
}

// sleepCancellable resolves after d, or returns ctx.Err() immediately if
// the context is cancelled during the wait.
func sleepCancellable(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
