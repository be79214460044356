package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lalo-ai/lalocore/core"
)

// RetryConfig configures Retry. Unlike the teacher's hand-rolled
// exponential-backoff loop, this wraps the pack's real
// github.com/cenkalti/backoff/v5 dependency (already present transitively
// in the teacher's own go.sum) per SPEC_FULL.md §1.4.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  backoff.ExponentialBackOff
}

// DefaultRetryConfig matches the teacher's defaults: 3 attempts, 100ms
// initial delay, 5s cap, 2x multiplier with jitter.
func DefaultRetryConfig() *RetryConfig {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	eb.Multiplier = 2
	return &RetryConfig{MaxAttempts: 3, InitialDelay: *eb}
}

// Retry executes fn, retrying on error up to config.MaxAttempts times with
// jittered exponential backoff. Once attempts are exhausted it returns an
// error that wraps core.ErrMaxRetriesExceeded and carries the last error's
// text in its message (the last error itself is not wrapped).
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	op := func() (struct{}, error) {
		err := fn()
		if err != nil {
			lastErr = err
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	eb := config.InitialDelay
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&eb),
		backoff.WithMaxTries(uint(config.MaxAttempts)),
	)
	if err != nil {
		return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
	}
	return nil
}

// RetryWithCircuitBreaker combines Retry with a CircuitBreaker so a tripped
// breaker short-circuits remaining attempts instead of waiting them out.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		return cb.Execute(ctx, fn)
	})
}
