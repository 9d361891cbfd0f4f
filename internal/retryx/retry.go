// Package retryx provides a bounded-attempt exponential-backoff wrapper
// around a fallible call. It sits above the transport-level retry resty
// already performs on 5xx responses (internal/exchange) — this layer exists
// for call-sites where the exchange client itself fails (after its own
// retries are exhausted) and the caller still wants another shot at the
// whole operation.
package retryx

import (
	"context"
	"log/slog"
	"time"
)

// Config controls attempt count and backoff shape.
type Config struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64 // multiplier applied after each failed attempt
}

// DefaultConfig mirrors the exchange-client retry discipline: up to 3
// attempts, 1s initial delay, doubling.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, Delay: time.Second, Backoff: 2}
}

// Do invokes fn up to cfg.MaxAttempts times, waiting cfg.Delay*cfg.Backoff^k
// between failed attempts (k starting at 0). The final failure is returned
// unchanged; interim failures are logged at warning level. Returns early if
// ctx is cancelled.
func Do(ctx context.Context, cfg Config, logger *slog.Logger, fn func() error) error {
	_, err := DoValue(ctx, cfg, logger, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoValue is the generic form of Do for calls that return a value.
func DoValue[T any](ctx context.Context, cfg Config, logger *slog.Logger, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.Delay
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		val, err := fn()
		if err == nil {
			return val, nil
		}
		lastErr = err

		if attempt < cfg.MaxAttempts-1 {
			if logger != nil {
				logger.Warn("retryx: attempt failed, retrying",
					"attempt", attempt+1, "max_attempts", cfg.MaxAttempts, "delay", delay, "error", err)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
			delay = time.Duration(float64(delay) * cfg.Backoff)
		}
	}

	return zero, lastErr
}
