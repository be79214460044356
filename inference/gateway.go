package inference

import (
	"context"
	"sync"
	"time"

	"github.com/lalo-ai/lalocore/core"
)

// Gateway is C1: it dispatches generate/stream calls to whichever concrete
// Provider supports the requested model, and maintains a per-principal
// model map populated from the principal's stored credentials (spec
// §4.1). The map sits behind a sync.RWMutex: RefreshPrincipalModels and
// RegisterLocalModel take the write lock, and AvailableModels takes the
// read lock on every call, so reads are not lock-free.
type Gateway struct {
	logger    core.Logger
	telemetry core.Telemetry
	timeout   time.Duration
	secrets   SecretsProvider

	providers []Provider

	mu             sync.RWMutex
	principalModel map[string][]string // userID -> available model identifiers
	localModels    map[string]bool     // models backed by a locally-present binary artifact, always available
}

// NewGateway builds a Gateway over the given providers, applying opts.
func NewGateway(providers []Provider, opts ...Option) *Gateway {
	g := &Gateway{
		logger:         &core.NoOpLogger{},
		telemetry:      &core.NoOpTelemetry{},
		timeout:        60 * time.Second,
		providers:      providers,
		principalModel: make(map[string][]string),
		localModels:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterLocalModel marks a model as always-available because its binary
// artifact is present on this node (spec §4.1).
func (g *Gateway) RegisterLocalModel(model string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.localModels[model] = true
}

// RefreshPrincipalModels re-derives the principal's available models from
// the secrets provider, keeping each listed credential whose Get succeeds
// and reports it present; credentials are not validated against the
// vendor. It takes the write lock, as RegisterLocalModel does;
// AvailableModels takes the read lock.
func (g *Gateway) RefreshPrincipalModels(ctx context.Context, userID string) error {
	if g.secrets == nil {
		return nil
	}
	names, err := g.secrets.List(ctx, userID)
	if err != nil {
		return core.NewEngineError("inference.RefreshPrincipalModels", core.ErrDependencyUnavailable, err.Error())
	}

	valid := make([]string, 0, len(names))
	for _, credName := range names {
		if _, ok, err := g.secrets.Get(ctx, credName, userID); err == nil && ok {
			valid = append(valid, credName)
		}
	}

	g.mu.Lock()
	g.principalModel[userID] = valid
	g.mu.Unlock()
	return nil
}

// AvailableModels returns the models usable by the given principal: local
// models (always available) plus whatever credential-backed remote models
// have been validated for them (spec §4.1's `available_models(principal)`).
func (g *Gateway) AvailableModels(principal core.Principal) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.localModels)+len(g.principalModel[principal.UserID]))
	for m := range g.localModels {
		out = append(out, m)
	}
	out = append(out, g.principalModel[principal.UserID]...)
	return out
}

func (g *Gateway) providerFor(model string) Provider {
	for _, p := range g.providers {
		if p.SupportsModel(model) {
			return p
		}
	}
	return nil
}

// Generate dispatches to the provider backing model, enforcing the 60s
// default timeout (spec §4.1: "the gateway does not retry — retry policy
// lives in C8's fallback chain").
func (g *Gateway) Generate(ctx context.Context, prompt, model string, params Params) (string, core.TokenUsage, error) {
	ctx, span := g.telemetry.StartSpan(ctx, "inference.Generate")
	defer span.End()
	span.SetAttribute("model", model)

	p := g.providerFor(model)
	if p == nil {
		err := core.NewEngineError("inference.Generate", core.ErrNotFound, ErrNoProviderForModel.Error()+": "+model)
		span.RecordError(err)
		return "", core.TokenUsage{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, usage, err := p.Generate(ctx, prompt, model, params)
	if err != nil {
		if ctx.Err() != nil {
			err = core.NewEngineError("inference.Generate", core.ErrTimeout, "provider call exceeded "+g.timeout.String())
		} else if ve, ok := err.(*VendorError); ok {
			err = ve.ToEngineError()
		}
		span.RecordError(err)
		g.logger.ErrorWithContext(ctx, "inference generate failed", map[string]interface{}{"model": model, "error": err.Error()})
		return "", core.TokenUsage{}, err
	}
	return text, usage, nil
}

// Stream dispatches a streaming generate call.
func (g *Gateway) Stream(ctx context.Context, prompt, model string, params Params) (<-chan Chunk, error) {
	ctx, span := g.telemetry.StartSpan(ctx, "inference.Stream")
	defer span.End()

	p := g.providerFor(model)
	if p == nil {
		err := core.NewEngineError("inference.Stream", core.ErrNotFound, ErrNoProviderForModel.Error()+": "+model)
		span.RecordError(err)
		return nil, err
	}
	return p.Stream(ctx, prompt, model, params)
}
