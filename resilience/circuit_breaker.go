// Package resilience provides the concrete CircuitBreaker implementation
// and retry helpers every LALO component builds fallback/backoff behavior
// on top of (spec §5 "Backpressure", §7 error taxonomy's retryable kinds).
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/lalo-ai/lalocore/core"
)

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config configures a CircuitBreaker instance.
type Config struct {
	Threshold        int
	Timeout          time.Duration
	HalfOpenRequests int
}

// DefaultConfig trips the breaker after 5 failures, cools down for 30s,
// and allows 3 half-open probes before fully closing again.
func DefaultConfig() Config {
	return Config{Threshold: 5, Timeout: 30 * time.Second, HalfOpenRequests: 3}
}

// CircuitBreaker implements core.CircuitBreaker with closed/open/half-open
// states (spec §5.6 "a lock that is only taken on credential mutation;
// reads are lock-free" is not applicable here, but the same
// rarely-written/often-read shape applies to state transitions).
type CircuitBreaker struct {
	name   string
	cfg    Config
	logger core.Logger

	mu              sync.Mutex
	st              state
	failures        int
	successesHalf   int
	openedAt        time.Time
	totalRequests   int64
	totalFailures   int64
	totalRejections int64
}

var _ core.CircuitBreaker = (*CircuitBreaker)(nil)

// New builds a CircuitBreaker. A nil logger defaults to a no-op logger.
func New(name string, cfg Config, logger core.Logger) *CircuitBreaker {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &CircuitBreaker{name: name, cfg: cfg, logger: logger, st: stateClosed}
}

// CanExecute reports whether a call would currently be allowed through.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.canExecuteLocked()
}

func (cb *CircuitBreaker) canExecuteLocked() bool {
	switch cb.st {
	case stateClosed:
		return true
	case stateHalfOpen:
		return cb.successesHalf < cb.cfg.HalfOpenRequests
	default: // open
		if time.Since(cb.openedAt) >= cb.cfg.Timeout {
			cb.st = stateHalfOpen
			cb.successesHalf = 0
			return true
		}
		return false
	}
}

// Execute runs fn under circuit-breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	if !cb.canExecuteLocked() {
		cb.totalRejections++
		cb.mu.Unlock()
		return core.ErrCircuitBreakerOpen
	}
	cb.totalRequests++
	cb.mu.Unlock()

	err := fn()
	cb.record(err)
	return err
}

// ExecuteWithTimeout runs fn under circuit-breaker protection and a hard
// deadline, surfacing core.ErrTimeout when the deadline elapses first.
func (cb *CircuitBreaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	if !cb.CanExecute() {
		cb.mu.Lock()
		cb.totalRejections++
		cb.mu.Unlock()
		return core.ErrCircuitBreakerOpen
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		cb.record(err)
		return err
	case <-ctx.Done():
		cb.record(core.ErrTimeout)
		return core.ErrTimeout
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.totalFailures++
		switch cb.st {
		case stateHalfOpen:
			cb.trip()
		case stateClosed:
			cb.failures++
			if cb.failures >= cb.cfg.Threshold {
				cb.trip()
			}
		}
		return
	}

	switch cb.st {
	case stateHalfOpen:
		cb.successesHalf++
		if cb.successesHalf >= cb.cfg.HalfOpenRequests {
			cb.st = stateClosed
			cb.failures = 0
		}
	case stateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) trip() {
	cb.st = stateOpen
	cb.openedAt = time.Now()
	cb.failures = 0
	cb.logger.Warn("circuit breaker opened", map[string]interface{}{"name": cb.name})
}

// GetState returns "closed", "open", or "half-open".
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.st.String()
}

// Reset forces the breaker back to closed, clearing the failure and
// half-open success counters; the cumulative request, failure and
// rejection totals are kept.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.st = stateClosed
	cb.failures = 0
	cb.successesHalf = 0
}

// GetMetrics returns point-in-time counters for observability.
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"name":             cb.name,
		"state":            cb.st.String(),
		"total_requests":   cb.totalRequests,
		"total_failures":   cb.totalFailures,
		"total_rejections": cb.totalRejections,
	}
}
