package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/inference"
	"github.com/lalo-ai/lalocore/orchestrator"
	"github.com/lalo-ai/lalocore/planner"
	"github.com/lalo-ai/lalocore/router"
	"github.com/lalo-ai/lalocore/scorer"
)

func TestExecuteSimpleAcceptsFirstGoodModel(t *testing.T) {
	fake := &inference.FakeProvider{ProviderName: "fake", Models: []string{"gpt-4o"}, Default: "a confident, detailed, and complete answer that is long enough"}
	gw := inference.NewGateway([]inference.Provider{fake})
	sc := scorer.New(gw)
	o := orchestrator.New(gw, nil, sc, nil)

	decision := router.RoutingDecision{Path: router.PathSimple, RecommendedModel: "gpt-4o"}
	result, err := o.Execute(context.Background(), "what is 2+2?", core.Principal{UserID: "u1"}, decision)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", result.ModelUsed)
	assert.LessOrEqual(t, len(result.FallbackAttempts), 3)
}

func TestExecuteSimpleFallsBackThroughChain(t *testing.T) {
	bad := &inference.FakeProvider{ProviderName: "bad", Models: []string{"bad-model"}, Default: "i don't know"}
	good := &inference.FakeProvider{ProviderName: "good", Models: []string{"good-model"}, Default: "a confident, detailed, and complete answer that is long enough"}
	gw := inference.NewGateway([]inference.Provider{bad, good})
	sc := scorer.New(gw)
	o := orchestrator.New(gw, nil, sc, nil, orchestrator.WithFallbackModels([]string{"good-model"}))

	decision := router.RoutingDecision{Path: router.PathSimple, RecommendedModel: "bad-model"}
	result, err := o.Execute(context.Background(), "explain something", core.Principal{UserID: "u1"}, decision)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(result.FallbackAttempts), 1)
}

func TestExecuteComplexRunsPlanAndAggregatesLastStep(t *testing.T) {
	fake := &inference.FakeProvider{ProviderName: "fake", Models: []string{"gpt-4o"}, Default: "final detailed and complete answer with enough length to score well"}
	gw := inference.NewGateway([]inference.Provider{fake})
	sc := scorer.New(gw)
	o := orchestrator.New(gw, nil, sc, nil)

	decision := router.RoutingDecision{
		Path: router.PathComplex,
		ActionPlan: []planner.Step{
			{ID: 1, Action: "research the topic", Tool: "none", Model: "gpt-4o"},
			{ID: 2, Action: "write the report", Tool: "none", Model: "gpt-4o", Dependencies: []int{1}},
		},
	}
	result, err := o.Execute(context.Background(), "design a microservices architecture", core.Principal{UserID: "u1"}, decision)
	require.NoError(t, err)
	require.NotNil(t, result.Plan)
	assert.Len(t, result.StepResults, 2)
	assert.NotEmpty(t, result.Output)
}

func TestExecuteComplexCascadesSkipOnStepFailure(t *testing.T) {
	failing := &inference.FakeProvider{ProviderName: "failing", Models: []string{"bad-model"}, Err: forcedErr{}}
	gw := inference.NewGateway([]inference.Provider{failing})
	sc := scorer.New(gw)
	o := orchestrator.New(gw, nil, sc, nil)

	decision := router.RoutingDecision{
		Path: router.PathComplex,
		ActionPlan: []planner.Step{
			{ID: 1, Action: "step that fails", Tool: "none", Model: "bad-model"},
			{ID: 2, Action: "depends on failed step", Tool: "none", Model: "bad-model", Dependencies: []int{1}},
		},
	}
	result, err := o.Execute(context.Background(), "anything", core.Principal{UserID: "u1"}, decision)
	require.NoError(t, err)
	require.Len(t, result.StepResults, 2)

	var sawSkipped bool
	for _, r := range result.StepResults {
		if r.StepID == 2 {
			sawSkipped = r.Skipped
		}
	}
	assert.True(t, sawSkipped)
}

func TestExecuteSpecializedDelegatesToComplexWhenActionPlanPresent(t *testing.T) {
	fake := &inference.FakeProvider{ProviderName: "fake", Models: []string{"gpt-4o"}, Default: "a reasonably complete and well formed answer for this test case"}
	gw := inference.NewGateway([]inference.Provider{fake})
	sc := scorer.New(gw)
	o := orchestrator.New(gw, nil, sc, nil)

	decision := router.RoutingDecision{
		Path:             router.PathSpecialized,
		RecommendedModel: "gpt-4o",
		ActionPlan:       []planner.Step{{ID: 1, Action: "do the one thing", Tool: "none", Model: "gpt-4o"}},
	}
	result, err := o.Execute(context.Background(), "extract the date from this text", core.Principal{UserID: "u1"}, decision)
	require.NoError(t, err)
	require.NotNil(t, result.Plan)
}

func TestExecuteSpecializedDelegatesToSimpleOtherwise(t *testing.T) {
	fake := &inference.FakeProvider{ProviderName: "fake", Models: []string{"gpt-4o"}, Default: "a reasonably complete and well formed answer for this test case"}
	gw := inference.NewGateway([]inference.Provider{fake})
	sc := scorer.New(gw)
	o := orchestrator.New(gw, nil, sc, nil)

	decision := router.RoutingDecision{Path: router.PathSpecialized, RecommendedModel: "gpt-4o"}
	result, err := o.Execute(context.Background(), "what is the boiling point of water", core.Principal{UserID: "u1"}, decision)
	require.NoError(t, err)
	assert.Nil(t, result.Plan)
	assert.Equal(t, "gpt-4o", result.ModelUsed)
}

type forcedErr struct{}

func (forcedErr) Error() string { return "forced failure" }
