// Package resilience provides the retry primitive used at the service
// boundary. The engine itself never retries: optimistic-lock conflicts
// and transient repository failures are surfaced to the caller, and this
// package is how callers rerun the full operation.
package resilience

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 10 * time.Millisecond
)

// RetryConfig holds tuning knobs for [Retry].
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxAttempts is the total number of tries, including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; it doubles on each
	// further attempt. Default: 10ms.
	BaseDelay time.Duration

	// Retryable decides whether an error is worth another attempt. When
	// nil, every error is retried.
	Retryable func(error) bool
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx is cancelled. The last error is returned
// unwrapped so callers can still branch on its kind.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}

	delay := cfg.BaseDelay
	var err error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		slog.Debug("retrying after error",
			"name", cfg.Name,
			"attempt", attempt,
			"delay", delay,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
