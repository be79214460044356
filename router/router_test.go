package router_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lalo-ai/lalocore/inference"
	"github.com/lalo-ai/lalocore/router"
)

func TestRouteArithmeticShortCircuit(t *testing.T) {
	r := router.New(nil)
	decision := r.Route(context.Background(), "what is 2 + 2?", nil)

	assert.Equal(t, router.PathSimple, decision.Path)
	assert.Equal(t, 0.1, decision.Complexity)
	assert.Equal(t, 0.95, decision.Confidence)
}

func TestRouteHeuristicComplexKeyword(t *testing.T) {
	r := router.New(nil)
	decision := r.Route(context.Background(), "design a microservices architecture for a fintech platform", nil)

	assert.Equal(t, router.PathComplex, decision.Path)
	assert.Greater(t, decision.Complexity, 0.6)
}

func TestRouteHeuristicSimpleKeyword(t *testing.T) {
	r := router.New(nil)
	decision := r.Route(context.Background(), "what is the capital of France", nil)

	assert.Equal(t, router.PathSimple, decision.Path)
}

func TestRouteHeuristicDetectsToolKeywords(t *testing.T) {
	r := router.New(nil)
	decision := r.Route(context.Background(), "search for the latest news on fusion energy", nil)

	assert.True(t, decision.RequiresTools)
}

func TestRouteModelBasedDecision(t *testing.T) {
	fake := &inference.FakeProvider{
		ProviderName: "fake",
		Models:       []string{"liquid-tool"},
		Default:      `{"complexity":0.5,"confidence":0.7,"path":"specialized","reasoning":"ok","recommended_model":"gpt-4o","requires_tools":false,"requires_workflow":false}`,
	}
	gw := inference.NewGateway([]inference.Provider{fake})
	r := router.New(gw)

	decision := r.Route(context.Background(), "summarize this legal contract for risk clauses", nil)
	assert.Equal(t, router.PathSpecialized, decision.Path)
	assert.Equal(t, "gpt-4o", decision.RecommendedModel)
}

func TestRouteModelBasedDecisionFallsBackOnUnparsable(t *testing.T) {
	fake := &inference.FakeProvider{
		ProviderName: "fake",
		Models:       []string{"liquid-tool"},
		Default:      "not json",
	}
	gw := inference.NewGateway([]inference.Provider{fake})
	r := router.New(gw)

	decision := r.Route(context.Background(), "explain how tides work", nil)
	assert.Equal(t, "Heuristic-based routing (model unavailable)", decision.Reasoning)
}

func TestRouteComplexityInvariantForcesComplexPath(t *testing.T) {
	fake := &inference.FakeProvider{
		ProviderName: "fake",
		Models:       []string{"liquid-tool"},
		Default:      `{"complexity":0.9,"confidence":0.5,"path":"simple","reasoning":"ok"}`,
	}
	gw := inference.NewGateway([]inference.Provider{fake})
	r := router.New(gw)

	decision := r.Route(context.Background(), "investigate and optimize this supply chain network", nil)
	assert.Equal(t, router.PathComplex, decision.Path)
}
