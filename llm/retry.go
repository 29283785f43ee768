// ABOUTME: Transport-level retry with exponential backoff and full jitter for provider calls.
// ABOUTME: Only errors classified retryable (rate limits, 5xx, network) are retried.
package llm

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures transport retry for provider API calls. This is
// distinct from the pipeline's validation retry loop: it covers transient
// transport failures, not bad model output.
type RetryPolicy struct {
	MaxRetries        int           // retries beyond the initial call
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultRetryPolicy returns 2 retries, 1s base, 30s cap, 2x backoff, jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// delayForAttempt computes base * multiplier^attempt capped at MaxDelay,
// randomized over [0, delay] when jitter is enabled.
func (p RetryPolicy) delayForAttempt(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	delay := time.Duration(d)
	if p.Jitter && delay > 0 {
		delay = time.Duration(rand.Int64N(int64(delay) + 1))
	}
	return delay
}

// retryable is implemented by errors that know whether they are transient.
type retryable interface {
	IsRetryable() bool
}

// Retry runs fn, retrying per the policy while the returned error reports
// itself retryable. Errors without a retryability classification are not
// retried.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		r, ok := lastErr.(retryable)
		if !ok || !r.IsRetryable() || attempt >= policy.MaxRetries {
			return lastErr
		}
		delay := policy.delayForAttempt(attempt)
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
}
