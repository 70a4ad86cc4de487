// Package retry provides bounded retry with exponential backoff and jitter.
// Every external-capability call in taskpilot goes through Do with the same
// configuration shape, rather than scattering ad hoc sleep loops per call
// site.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Config holds retry parameters.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to the delay on each subsequent retry.
	BackoffMultiplier float64

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
}

// DefaultConfig returns sensible defaults for external-capability calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Do runs fn up to cfg.MaxAttempts times. A failed attempt is retried only
// when retryable(err) is true; otherwise the error is returned immediately.
// The sleep between attempts honors ctx cancellation.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(cfg, attempt)):
		}
	}
	return lastErr
}

// Backoff computes the exponential backoff for the given attempt (1-based)
// with +/- 25% jitter to prevent synchronized retries.
func Backoff(cfg Config, attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= cfg.BackoffMultiplier
	}

	backoff := time.Duration(float64(cfg.BackoffBase) * multiplier)
	if backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
