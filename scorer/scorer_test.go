package scorer_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/inference"
	"github.com/lalo-ai/lalocore/scorer"
)

func gatewayWithResponse(t *testing.T, model, response string) *inference.Gateway {
	t.Helper()
	fake := &inference.FakeProvider{ProviderName: "fake", Models: []string{model}, Default: response}
	return inference.NewGateway([]inference.Provider{fake})
}

func TestScoreParsesModelJSON(t *testing.T) {
	response := `{"factual":0.9,"consistent":0.9,"complete":0.9,"grounded":0.9,"issues":[],"reasoning":"looks right"}`
	gw := gatewayWithResponse(t, "qwen-0.5b", response)
	s := scorer.New(gw)

	score := s.Score(context.Background(), "the answer is 4", "what is 2+2?", nil, nil, "gpt-4o")
	require.Equal(t, scorer.RecommendAccept, score.Recommendation)
	assert.InDelta(t, 0.9, score.Overall, 0.01)
}

func TestScoreStripsFencedJSON(t *testing.T) {
	response := "```json\n{\"factual\":0.5,\"consistent\":0.5,\"complete\":0.5,\"grounded\":0.5,\"issues\":[\"vague\"],\"reasoning\":\"meh\"}\n```"
	gw := gatewayWithResponse(t, "qwen-0.5b", response)
	s := scorer.New(gw)

	score := s.Score(context.Background(), "it depends", "explain quantum tunneling", nil, nil, "")
	assert.Equal(t, scorer.RecommendEscalate, score.Recommendation)
}

func TestScoreFallsBackToHeuristicOnUnparsableOutput(t *testing.T) {
	gw := gatewayWithResponse(t, "qwen-0.5b", "not json at all")
	s := scorer.New(gw)

	score := s.Score(context.Background(), "I'm not sure about this one.", "what's the capital of France?", nil, nil, "")
	assert.Contains(t, score.Issues, "Heuristic scoring (model unavailable)")
	assert.Less(t, score.Grounded, 0.8)
}

func TestScoreWithNilGatewayUsesHeuristics(t *testing.T) {
	s := scorer.New(nil)
	score := s.Score(context.Background(), "a short reply", "hi", nil, nil, "")
	assert.NotEmpty(t, score.Reasoning)
}

func TestRecommendationThresholdBoundaries(t *testing.T) {
	cases := []struct {
		overall  float64
		expected scorer.Recommendation
	}{
		{0.8, scorer.RecommendAccept},
		{0.79, scorer.RecommendRetry},
		{0.6, scorer.RecommendRetry},
		{0.59, scorer.RecommendEscalate},
		{0.4, scorer.RecommendEscalate},
		{0.39, scorer.RecommendHumanReview},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, recommendationForTest(t, tc.overall))
	}
}

// recommendationForTest scores through Score with a model response whose
// four dimensions all equal overall, so the weighted overall equals it.
func recommendationForTest(t *testing.T, overall float64) scorer.Recommendation {
	t.Helper()
	response := fmt.Sprintf(`{"factual":%v,"consistent":%v,"complete":%v,"grounded":%v,"issues":[],"reasoning":"boundary"}`, overall, overall, overall, overall)
	s := scorer.New(gatewayWithResponse(t, "qwen-0.5b", response))
	return s.Score(context.Background(), "output", "request", nil, nil, "").Recommendation
}

func TestValidateMultiOutputPicksHighestConfidence(t *testing.T) {
	gw := gatewayWithResponse(t, "qwen-0.5b", `{"factual":0.95,"consistent":0.95,"complete":0.95,"grounded":0.95}`)
	s := scorer.New(gw)

	result := s.ValidateMultiOutput(context.Background(), []scorer.OutputCandidate{
		{Text: "candidate one", Model: "model-a"},
		{Text: "candidate two", Model: "model-b"},
	}, "original request")

	assert.Len(t, result.AllScores, 2)
	assert.NotEmpty(t, result.BestModel)
}

func TestShouldRetryEscalateHumanReviewHelpers(t *testing.T) {
	assert.True(t, scorer.ShouldRetry(0.5))
	assert.False(t, scorer.ShouldRetry(0.8))
	assert.True(t, scorer.ShouldEscalate(0.45))
	assert.False(t, scorer.ShouldEscalate(0.9))
	assert.True(t, scorer.NeedsHumanReview(0.1))
	assert.False(t, scorer.NeedsHumanReview(0.5))
}

var _ core.Logger = (*core.NoOpLogger)(nil)
