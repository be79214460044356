package handler_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/handler"
	"github.com/lalo-ai/lalocore/inference"
	"github.com/lalo-ai/lalocore/orchestrator"
	"github.com/lalo-ai/lalocore/planner"
	"github.com/lalo-ai/lalocore/router"
	"github.com/lalo-ai/lalocore/scorer"
	"github.com/lalo-ai/lalocore/store"
	"github.com/lalo-ai/lalocore/tools"
)

func TestHandleTrivialMathNoModelNeeded(t *testing.T) {
	fake := &inference.FakeProvider{ProviderName: "fake", Models: []string{"tinyllama"}, Default: "4"}
	gw := inference.NewGateway([]inference.Provider{fake})
	sc := scorer.New(gw)
	o := orchestrator.New(gw, nil, sc, nil)
	h := handler.New(router.New(nil), o)

	resp, err := h.Handle(context.Background(), "what is 2 + 2?", core.Principal{UserID: "u1"}, nil, nil, false)
	require.NoError(t, err)

	assert.Equal(t, handler.StatusCompleted, resp.Status)
	assert.Equal(t, router.PathSimple, resp.Path)
	require.NotNil(t, resp.RoutingDecision)
	assert.Equal(t, 0.1, resp.RoutingDecision.Complexity)
	assert.Equal(t, 0.95, resp.RoutingDecision.Confidence)
	assert.LessOrEqual(t, len(resp.Metadata.FallbackAttempts), 1)
}

func TestHandleComplexDesignRequestProducesMultiStepPlan(t *testing.T) {
	planModel := &inference.FakeProvider{
		ProviderName: "plan",
		Models:       []string{"plan-model"},
		Default: `{"steps":[
			{"id":1,"action":"research the topic","tool":"none","model":"gpt-4o","expected_outcome":"research notes"},
			{"id":2,"action":"write the report","tool":"none","model":"gpt-4o","dependencies":[1],"expected_outcome":"final report"}
		]}`,
	}
	genModel := &inference.FakeProvider{
		ProviderName: "gen",
		Models:       []string{"gpt-4o"},
		Default:      "a confident, detailed, and complete final report with enough length to score well across every rubric dimension",
	}
	gw := inference.NewGateway([]inference.Provider{planModel, genModel})
	sc := scorer.New(gw)
	pl := planner.New(gw, planner.WithModel("plan-model"))
	o := orchestrator.New(gw, nil, sc, pl)
	h := handler.New(router.New(nil), o)

	resp, err := h.Handle(context.Background(), "design a microservices architecture for a fintech platform", core.Principal{UserID: "u1"}, nil, nil, false)
	require.NoError(t, err)

	assert.Equal(t, handler.StatusCompleted, resp.Status)
	assert.Equal(t, router.PathComplex, resp.Path)
	assert.Contains(t, resp.Models, "gpt-4o")
	assert.NotEmpty(t, resp.Response)
}

func TestHandleFallbackChainRecordsAttempts(t *testing.T) {
	// The heuristic router's "simple" bucket always recommends "tinyllama";
	// the hedging fake serves it with "I don't know", which scores below
	// acceptance, so the chain falls through to the configured fallbacks.
	hedging := &inference.FakeProvider{ProviderName: "hedging", Models: []string{"tinyllama"}, Default: "I don't know"}
	good := &inference.FakeProvider{ProviderName: "good", Models: []string{"second-model"}, Default: "a confident, detailed, and complete answer that is long enough to be accepted"}
	gw := inference.NewGateway([]inference.Provider{hedging, good})
	sc := scorer.New(gw)
	o := orchestrator.New(gw, nil, sc, nil, orchestrator.WithFallbackModels([]string{"second-model"}))
	h := handler.New(router.New(nil), o)

	resp, err := h.Handle(context.Background(), "what is the capital of France", core.Principal{UserID: "u1"}, []string{"tinyllama", "second-model"}, nil, false)
	require.NoError(t, err)

	assert.Equal(t, handler.StatusCompleted, resp.Status)
	require.GreaterOrEqual(t, len(resp.Metadata.FallbackAttempts), 1)
	assert.Equal(t, "tinyllama", resp.Metadata.FallbackAttempts[0].Model)
	assert.Equal(t, "second-model", resp.Model)
}

func TestHandleEmptyRequestReturnsInvalidInput(t *testing.T) {
	gw := inference.NewGateway(nil)
	sc := scorer.New(gw)
	o := orchestrator.New(gw, nil, sc, nil)
	h := handler.New(router.New(nil), o)

	resp, err := h.Handle(context.Background(), "   ", core.Principal{UserID: "u1"}, nil, nil, false)
	require.NoError(t, err)

	assert.Equal(t, handler.StatusFailed, resp.Status)
	assert.Equal(t, core.ErrInvalidInput.Error(), resp.ErrorKind)
	assert.NotEmpty(t, resp.Error)
}

// webSearchTool is a minimal fake tool standing in for C2's real web-search
// tool, tracking whether Execute was ever called so the test can prove the
// permission gate short-circuits before invocation (spec §8 scenario 4).
type webSearchTool struct {
	called bool
}

func (t *webSearchTool) Definition() tools.Definition {
	return tools.Definition{Name: "web_search", Description: "search the web", Category: "web"}
}

func (t *webSearchTool) Execute(ctx context.Context, params map[string]interface{}) (tools.ExecutionResult, error) {
	t.called = true
	return tools.ExecutionResult{Success: true, Output: "results"}, nil
}

// TestHandlePermissionDenialDoesNotFailHandler drives a full Handle() call
// whose planner-produced step names a permission-gated tool the calling
// principal lacks. Per spec §7's propagation policy, a tool's permission
// denial is captured as a StepResult error, never raised across C6's
// boundary, so Handle still returns a completed (if low-confidence)
// envelope rather than a failed one (spec §8 scenario 4, exercised at the
// C8 entry point instead of directly against C2).
func TestHandlePermissionDenialDoesNotFailHandler(t *testing.T) {
	tool := &webSearchTool{}
	registry := tools.NewRegistry(nil)
	require.NoError(t, registry.Register(tool, "web_access"))
	executor := tools.NewExecutor(registry, nil)

	planModel := &inference.FakeProvider{
		ProviderName: "plan",
		Models:       []string{"plan-model"},
		Default:      `{"steps":[{"id":1,"action":"search the web","tool":"web_search","expected_outcome":"results"}]}`,
	}
	gw := inference.NewGateway([]inference.Provider{planModel})
	sc := scorer.New(gw)
	pl := planner.New(gw, planner.WithModel("plan-model"))
	o := orchestrator.New(gw, executor, sc, pl)
	h := handler.New(router.New(nil), o)

	principalWithoutAccess := core.Principal{UserID: "u1", Permissions: map[string]struct{}{}}
	resp, err := h.Handle(context.Background(), "design a plan that searches the web for interest rate news", principalWithoutAccess, nil, nil, false)
	require.NoError(t, err)

	assert.Equal(t, handler.StatusCompleted, resp.Status)
	assert.False(t, tool.called)
}

// TestHandleStepFailureCascadesSkip mirrors spec §8 scenario 6's first
// half at the C8 entry point: a two-step plan where step 1 fails causes
// step 2 (which depends on it) to be skipped, without Handle reporting a
// failed envelope — the orchestrator's own StepResults carry the
// cascade, matching C6's cascade-skip contract that
// orchestrator_test.go already covers directly.
func TestHandleStepFailureCascadesSkip(t *testing.T) {
	planModel := &inference.FakeProvider{
		ProviderName: "plan",
		Models:       []string{"plan-model"},
		Default:      `{"steps":[{"id":1,"action":"step that fails","tool":"none","model":"bad-model"},{"id":2,"action":"depends on failed step","tool":"none","model":"bad-model","dependencies":[1]}]}`,
	}
	failing := &inference.FakeProvider{ProviderName: "failing", Models: []string{"bad-model"}, Err: forcedErr{}}
	gw := inference.NewGateway([]inference.Provider{planModel, failing})
	sc := scorer.New(gw)
	pl := planner.New(gw, planner.WithModel("plan-model"))
	o := orchestrator.New(gw, nil, sc, pl)
	h := handler.New(router.New(nil), o)

	resp, err := h.Handle(context.Background(), "design a two phase migration plan for the billing system", core.Principal{UserID: "u1"}, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, handler.StatusCompleted, resp.Status)
}

type forcedErr struct{}

func (forcedErr) Error() string { return "forced failure" }

func TestHandleBackpressureRejectsOverLimitWithoutCallingOrchestrator(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bp := store.NewBackpressure(client, 1, time.Minute, &core.NoOpLogger{})

	fake := &inference.FakeProvider{ProviderName: "fake", Models: []string{"tinyllama"}, Default: "4"}
	gw := inference.NewGateway([]inference.Provider{fake})
	sc := scorer.New(gw)
	o := orchestrator.New(gw, nil, sc, nil)
	h := handler.New(router.New(nil), o, handler.WithBackpressure(bp))

	ctx := context.Background()
	principal := core.Principal{UserID: "u1"}

	require.NoError(t, bp.Acquire(ctx, "u1")) // consume the one slot directly

	resp, err := h.Handle(ctx, "what is 2 + 2?", principal, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, handler.StatusFailed, resp.Status)
	assert.Equal(t, core.ErrRateLimited.Error(), resp.ErrorKind)
}
