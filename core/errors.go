package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error taxonomy enumerated in spec §7. Every
// component wraps one of these via NewEngineError rather than returning an
// ad-hoc error string, so callers can classify failures with errors.Is.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrAuthFailed            = errors.New("authentication failed")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrRateLimited           = errors.New("rate limited")
	ErrQuotaExceeded         = errors.New("quota exceeded")
	ErrSaturated             = errors.New("saturated")
	ErrTimeout               = errors.New("operation timed out")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrValidationFailed      = errors.New("validation failed")
	ErrSandboxViolation      = errors.New("sandbox violation")
	ErrExecutionFailed       = errors.New("execution failed")
	ErrNotFound              = errors.New("not found")
	ErrCancelled             = errors.New("cancelled")
	ErrInternal              = errors.New("internal error")

	// ErrMaxRetriesExceeded and ErrCircuitBreakerOpen are resilience-specific
	// sentinels distinct from the caller-facing taxonomy above.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
)

// EngineError wraps a sentinel from the taxonomy above with the operation
// that failed and a human-readable message, giving every component a
// uniform structured-error shape (grounded on the teacher's FrameworkError).
type EngineError struct {
	Op      string // e.g. "router.Route", "tools.Execute"
	Kind    string // one of the sentinel error strings above
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Op != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError builds an EngineError wrapping one of the sentinels above.
func NewEngineError(op string, kind error, message string) *EngineError {
	return &EngineError{Op: op, Kind: kind.Error(), Message: message, Err: kind}
}

// IsRetryable reports whether err represents a transient condition the
// caller may retry (spec §7: RateLimited, QuotaExceeded, Saturated, Timeout
// and DependencyUnavailable are all retryable/fallback-triggering).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrSaturated) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrDependencyUnavailable) ||
		errors.Is(err, ErrMaxRetriesExceeded)
}

// IsNotFound reports whether err represents a missing session/tool/agent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsSandboxViolation reports whether err represents a tool-executor policy
// breach (path traversal, disallowed SQL, container policy).
func IsSandboxViolation(err error) bool {
	return errors.Is(err, ErrSandboxViolation)
}

// IsPermissionError reports an auth/permission failure on the caller side.
func IsPermissionError(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrPermissionDenied)
}

// Kind extracts the taxonomy sentinel string from err for error envelopes
// (spec §7/§8: the structured error envelope carries "the error kind").
func Kind(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return ErrInvalidInput.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	case IsRetryable(err):
		return ErrDependencyUnavailable.Error()
	default:
		return ErrInternal.Error()
	}
}
