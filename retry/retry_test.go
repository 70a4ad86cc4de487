package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(error) bool { return true }, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), fastConfig(), func(error) bool { return true }, func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	err := Do(context.Background(), fastConfig(), func(error) bool { return false }, func() error {
		calls++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(), func(error) bool { return true }, func() error {
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	cfg := Config{
		MaxAttempts:       5,
		BackoffBase:       100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        300 * time.Millisecond,
	}

	// Jitter is +/- 25%, so check bands rather than exact values.
	b1 := Backoff(cfg, 1)
	assert.InDelta(t, float64(100*time.Millisecond), float64(b1), float64(25*time.Millisecond))

	b3 := Backoff(cfg, 3)
	assert.InDelta(t, float64(300*time.Millisecond), float64(b3), float64(75*time.Millisecond), "capped at MaxBackoff before jitter")
}
