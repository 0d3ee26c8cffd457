// Package retry runs an operation a bounded number of times with a fixed
// backoff, retrying only errors an explicit predicate accepts.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/dikwickley/promptoncron/internal/apperr"
)

const (
	defaultMaxAttempts = 2
	defaultBackoff     = 1 * time.Second
)

// Config represents retry configuration.
type Config struct {
	MaxAttempts int           // total attempts including the first (default: 2)
	Backoff     time.Duration // fixed wait between attempts (default: 1s)

	// Retryable decides whether an error is worth another attempt. Nil means
	// IsRetryable.
	Retryable func(error) bool

	// OnRetry, if set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Error reports that every attempt failed. It unwraps to the last error.
type Error struct {
	Attempts int
	Last     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *Error) Unwrap() error { return e.Last }

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. Context cancellation is checked during backoff.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.Retryable == nil {
		cfg.Retryable = IsRetryable
	}

	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.Retryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		timer := time.NewTimer(cfg.Backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
		}
	}

	return zero, &Error{Attempts: cfg.MaxAttempts, Last: lastErr}
}

// IsRetryable accepts only transient provider failures. Configuration and
// validation errors repeat identically on every attempt.
func IsRetryable(err error) bool {
	return apperr.Is(err, apperr.Provider)
}

// DefaultConfig is two attempts one second apart.
func DefaultConfig() Config {
	return Config{MaxAttempts: defaultMaxAttempts, Backoff: defaultBackoff}
}
