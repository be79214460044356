package planner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalo-ai/lalocore/inference"
	"github.com/lalo-ai/lalocore/planner"
)

type forcedError struct{}

func (forcedError) Error() string { return "forced failure" }

func TestCreatePlanTerminatesAtConfidenceThreshold(t *testing.T) {
	fake := &inference.FakeProvider{
		ProviderName: "fake",
		Models:       []string{"gpt-4-turbo-preview"},
		Default:      `{"confidence":0.9,"critique":"solid","suggestions":[]}`,
	}
	gw := inference.NewGateway([]inference.Provider{fake})
	p := planner.New(gw)

	plan := p.CreatePlan(context.Background(), "design a microservices architecture", nil)
	require.GreaterOrEqual(t, plan.Confidence, 0.8)
	assert.LessOrEqual(t, plan.Iterations, 3)
}

func TestCreatePlanDegradesOnGatewayFailure(t *testing.T) {
	fake := &inference.FakeProvider{
		ProviderName: "fake",
		Models:       []string{"gpt-4-turbo-preview"},
		Err:          forcedError{},
	}
	gw := inference.NewGateway([]inference.Provider{fake})
	p := planner.New(gw)

	plan := p.CreatePlan(context.Background(), "do something impossible", nil)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "unable to generate plan", plan.Steps[0].Action)
}

func TestCreatePlanWithNilGatewayReturnsDegradedPlan(t *testing.T) {
	p := planner.New(nil)
	plan := p.CreatePlan(context.Background(), "anything", nil)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, 0.0, plan.Confidence)
}

func TestCreatePlanRespectsMaxIterations(t *testing.T) {
	fake := &inference.FakeProvider{
		ProviderName: "fake",
		Models:       []string{"gpt-4-turbo-preview"},
		Default:      `{"confidence":0.5,"critique":"meh","suggestions":[]}`,
	}
	gw := inference.NewGateway([]inference.Provider{fake})
	p := planner.New(gw, planner.WithMaxIterations(2))

	plan := p.CreatePlan(context.Background(), "a vague goal", nil)
	assert.LessOrEqual(t, plan.Iterations, 2)
}
