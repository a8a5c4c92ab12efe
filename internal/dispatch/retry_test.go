package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainhooks/internal/logging"
)

func fastBackoff(maxAttempts int) BackoffConfig {
	return BackoffConfig{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithBackoffSucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastBackoff(3), logging.New(), "op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithBackoffRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastBackoff(3), logging.New(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffExhaustsAttemptsAndReturnsError(t *testing.T) {
	calls := 0
	wantErr := errors.New("always fails")
	err := WithBackoff(context.Background(), fastBackoff(3), logging.New(), "op", func() error {
		calls++
		return wantErr
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, wantErr)
}

func TestWithBackoffStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := WithBackoff(ctx, fastBackoff(3), logging.New(), "op", func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestCalculateBackoffRespectsMaxDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 10}
	d := calculateBackoff(cfg, 5)
	// jitter can push the result up to 15% above MaxDelay; it must never
	// reflect the pre-cap exponential growth (10^4 seconds).
	assert.Less(t, d, 2300*time.Millisecond)
}

func TestCalculateBackoffGrowsWithAttempt(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Hour, Multiplier: 2.0}
	d1 := calculateBackoff(cfg, 1)
	d5 := calculateBackoff(cfg, 5)
	assert.Less(t, d1, d5)
}
