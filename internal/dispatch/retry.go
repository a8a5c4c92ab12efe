package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls WithBackoff's retry schedule. Defaults match
// spec §4.E: base 1s, cap 30s, at most 3 attempts.
type BackoffConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// WithBackoff runs fn up to cfg.MaxAttempts times, sleeping with
// exponential backoff and jitter between attempts.
func WithBackoff(ctx context.Context, cfg BackoffConfig, log *slog.Logger, operation string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				log.Info("dispatch succeeded after retry", "operation", operation, "attempt", attempt)
			}
			return nil
		}

		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
		}

		delay := calculateBackoff(cfg, attempt)
		log.Warn("dispatch attempt failed, retrying", "operation", operation, "attempt", attempt, "retry_in", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}

func calculateBackoff(cfg BackoffConfig, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	jitter := rand.Float64() * 0.3 * delay
	delay = delay + jitter - (0.15 * delay)
	return time.Duration(delay)
}
