// Package inference implements C1, the Inference Provider Gateway: a
// uniform generate/stream surface over local and remote models with
// per-principal model availability (spec §4.1). Grounded on the teacher's
// ai/provider.go (multi-provider AIConfig + functional options) and
// ai/interfaces.go (AIClient contract), generalized from a single AI-agent
// client into the gateway spec.md describes.
package inference

import (
	"context"
	"errors"
	"time"

	"github.com/lalo-ai/lalocore/core"
)

// VendorErrorKind classifies a provider failure into the bucket spec §4.1
// names: {auth, rate_limit, quota, timeout, other}.
type VendorErrorKind string

const (
	VendorErrAuth      VendorErrorKind = "auth"
	VendorErrRateLimit VendorErrorKind = "rate_limit"
	VendorErrQuota     VendorErrorKind = "quota"
	VendorErrTimeout   VendorErrorKind = "timeout"
	VendorErrOther     VendorErrorKind = "other"
)

// VendorError wraps a concrete provider's failure with its classified kind.
type VendorError struct {
	Provider string
	Kind     VendorErrorKind
	Err      error
}

func (e *VendorError) Error() string {
	return e.Provider + " (" + string(e.Kind) + "): " + e.Err.Error()
}

func (e *VendorError) Unwrap() error { return e.Err }

// ToEngineError maps a VendorError onto the core error taxonomy so callers
// above the gateway (C8's fallback chain) only need to know core's
// sentinels, not every vendor's error shapes.
func (e *VendorError) ToEngineError() error {
	switch e.Kind {
	case VendorErrAuth:
		return core.NewEngineError("inference.Generate", core.ErrAuthFailed, e.Error())
	case VendorErrRateLimit:
		return core.NewEngineError("inference.Generate", core.ErrRateLimited, e.Error())
	case VendorErrQuota:
		return core.NewEngineError("inference.Generate", core.ErrQuotaExceeded, e.Error())
	case VendorErrTimeout:
		return core.NewEngineError("inference.Generate", core.ErrTimeout, e.Error())
	default:
		return core.NewEngineError("inference.Generate", core.ErrDependencyUnavailable, e.Error())
	}
}

// Params bundles the generation parameters named in spec §6's Inference
// Provider contract.
type Params struct {
	MaxTokens   int
	Temperature float32
	TopP        float32
	Stop        []string
	SystemPrompt string
}

// Chunk is one piece of a streamed response.
type Chunk struct {
	Delta string
	Done  bool
}

// Provider is the interface every concrete vendor (or local) adapter
// implements; the gateway dispatches to one of these per model.
type Provider interface {
	Name() string
	// SupportsModel reports whether this provider can serve the given model
	// identifier (e.g. "gpt-4o", "claude-3-5-sonnet", "anthropic.claude-v2").
	SupportsModel(model string) bool
	Generate(ctx context.Context, prompt, model string, params Params) (string, core.TokenUsage, error)
	Stream(ctx context.Context, prompt, model string, params Params) (<-chan Chunk, error)
}

// SecretsProvider is the consumed interface spec §6 names: `get`, `set`,
// `list`, `delete` scoped by an optional principal. The gateway only calls
// List/Get to populate the per-principal model map; encryption/storage
// details are explicitly out of scope (spec §1).
type SecretsProvider interface {
	Get(ctx context.Context, name string, userID string) (string, bool, error)
	List(ctx context.Context, userID string) ([]string, error)
}

// Option configures a Gateway, following the teacher's functional-options
// idiom (ai/provider.go's AIOption).
type Option func(*Gateway)

// WithLogger overrides the gateway's logger.
func WithLogger(l core.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithTelemetry overrides the gateway's telemetry sink.
func WithTelemetry(t core.Telemetry) Option {
	return func(g *Gateway) { g.telemetry = t }
}

// WithTimeout overrides the default 60s per-call timeout (spec §4.1).
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithSecretsProvider wires in the consumed secrets provider.
func WithSecretsProvider(s SecretsProvider) Option {
	return func(g *Gateway) { g.secrets = s }
}

var ErrNoProviderForModel = errors.New("no provider registered for model")
var ErrModelUnavailableForPrincipal = errors.New("model not available for principal")
