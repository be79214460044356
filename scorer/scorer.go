// Package scorer implements C3, the Confidence Scorer: a four-dimensional
// rubric (factual, consistent, complete, grounded) over a generated output,
// with a model-based primary path and a heuristic fallback, grounded on
// original_source/core/services/confidence_model.py. The scorer never
// raises — on any internal failure it degrades to the heuristic path and
// returns a low-confidence score rather than propagating an error (spec
// §7's "the scorer never raises").
package scorer

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/inference"
)

// Recommendation is the discrete action the orchestrator takes in response
// to a ConfidenceScore.
type Recommendation string

const (
	RecommendAccept       Recommendation = "accept"
	RecommendRetry        Recommendation = "retry"
	RecommendEscalate     Recommendation = "escalate"
	RecommendHumanReview  Recommendation = "human_review"
)

const (
	thresholdAccept   = 0.8
	thresholdRetry    = 0.6
	thresholdEscalate = 0.4
)

// ConfidenceScore is the rubric result spec §3 names. Overall is always
// the weighted combination of the four dimensions; Recommendation is
// always the threshold mapping of Overall.
type ConfidenceScore struct {
	Overall        float64        `json:"overall"`
	Factual        float64        `json:"factual"`
	Consistent     float64        `json:"consistent"`
	Complete       float64        `json:"complete"`
	Grounded       float64        `json:"grounded"`
	Issues         []string       `json:"issues"`
	Recommendation Recommendation `json:"recommendation"`
	Reasoning      string         `json:"reasoning"`
}

// Scorer scores generated outputs using a lightweight validation model,
// falling back to heuristics when the model is unavailable or its output
// doesn't parse.
type Scorer struct {
	gateway *inference.Gateway
	model   string
	logger  core.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithLogger overrides the scorer's logger.
func WithLogger(l core.Logger) Option {
	return func(s *Scorer) { s.logger = l }
}

// WithModel overrides the validation model identifier (default "qwen-0.5b",
// matching the teacher's choice of a small, fast model dedicated to
// scoring rather than the primary generation model).
func WithModel(model string) Option {
	return func(s *Scorer) { s.model = model }
}

// New builds a Scorer over the given inference gateway. gateway may be
// nil, in which case Score always uses the heuristic path.
func New(gateway *inference.Gateway, opts ...Option) *Scorer {
	s := &Scorer{
		gateway: gateway,
		model:   "qwen-0.5b",
		logger:  &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score evaluates output against the original request, optional sources,
// optional context, and the name of the model that produced the output.
func (s *Scorer) Score(ctx context.Context, output, originalRequest string, sources []string, scoreCtx map[string]interface{}, modelUsed string) ConfidenceScore {
	if s.gateway == nil {
		return s.heuristicScore(output, originalRequest)
	}

	prompt := buildScoringPrompt(output, originalRequest, sources, scoreCtx, modelUsed)
	raw, _, err := s.gateway.Generate(ctx, prompt, s.model, inference.Params{
		MaxTokens:   256,
		Temperature: 0.2,
		Stop:        []string{"<|user|>", "\n\n\n"},
	})
	if err != nil {
		s.logger.Warn("confidence model unavailable, using heuristics", map[string]interface{}{"error": err.Error()})
		return s.heuristicScore(output, originalRequest)
	}

	parsed, ok := parseModelScore(raw)
	if !ok {
		s.logger.Warn("failed to parse confidence scores, using heuristics", nil)
		return s.heuristicScore(output, originalRequest)
	}
	return normalize(parsed.Factual, parsed.Consistent, parsed.Complete, parsed.Grounded, parsed.Issues, parsed.Reasoning)
}

// modelScore is the raw shape the validation model is prompted to return.
type modelScore struct {
	Factual    float64  `json:"factual"`
	Consistent float64  `json:"consistent"`
	Complete   float64  `json:"complete"`
	Grounded   float64  `json:"grounded"`
	Issues     []string `json:"issues"`
	Reasoning  string   `json:"reasoning"`
}

func parseModelScore(raw string) (modelScore, bool) {
	raw = stripFence(strings.TrimSpace(raw))
	var m modelScore
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return modelScore{}, false
	}
	return m, true
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func buildScoringPrompt(output, originalRequest string, sources []string, scoreCtx map[string]interface{}, modelUsed string) string {
	sourcesText := "None provided"
	if len(sources) > 0 {
		sourcesText = strings.Join(sources, "\n")
	}
	contextText := "None"
	if len(scoreCtx) > 0 {
		if b, err := json.Marshal(scoreCtx); err == nil {
			contextText = string(b)
		}
	}
	if modelUsed == "" {
		modelUsed = "Unknown"
	}

	var b strings.Builder
	b.WriteString("<|system|>\nYou are a quality validator. Evaluate the AI-generated output for quality and accuracy.\n\n")
	b.WriteString("Score each criterion (0-1 scale): factual, consistent, complete, grounded.\n")
	b.WriteString("Respond ONLY with valid JSON: {\"factual\":0.9,\"consistent\":0.85,\"complete\":0.95,\"grounded\":0.8,\"issues\":[],\"reasoning\":\"...\"}\n")
	b.WriteString("<|user|>\nOriginal Request: ")
	b.WriteString(originalRequest)
	b.WriteString("\n\nGenerated Output: ")
	b.WriteString(output)
	b.WriteString("\n\nSources: ")
	b.WriteString(sourcesText)
	b.WriteString("\n\nContext: ")
	b.WriteString(contextText)
	b.WriteString("\n\nModel Used: ")
	b.WriteString(modelUsed)
	b.WriteString("\n<|assistant|>\n")
	return b.String()
}

// normalize clamps each dimension into [0,1], computes the weighted
// overall, and maps it onto a Recommendation (spec §3's exact formula and
// thresholds).
func normalize(factual, consistent, complete, grounded float64, issues []string, reasoning string) ConfidenceScore {
	factual = clamp01(factual)
	consistent = clamp01(consistent)
	complete = clamp01(complete)
	grounded = clamp01(grounded)

	overall := clamp01(factual*0.4 + consistent*0.3 + complete*0.2 + grounded*0.1)

	if issues == nil {
		issues = []string{}
	}
	if reasoning == "" {
		reasoning = "Automated scoring"
	}

	return ConfidenceScore{
		Overall:        overall,
		Factual:        factual,
		Consistent:     consistent,
		Complete:       complete,
		Grounded:       grounded,
		Issues:         issues,
		Recommendation: recommendationFor(overall),
		Reasoning:      reasoning,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// recommendationFor maps overall confidence onto spec §3's four buckets:
// accept ≥ 0.8, retry ∈ [0.6,0.8), escalate ∈ [0.4,0.6), human_review < 0.4.
func recommendationFor(overall float64) Recommendation {
	switch {
	case overall >= thresholdAccept:
		return RecommendAccept
	case overall >= thresholdRetry:
		return RecommendRetry
	case overall >= thresholdEscalate:
		return RecommendEscalate
	default:
		return RecommendHumanReview
	}
}

var hedgingPhrases = []string{"as an ai", "i don't have", "i don't know", "i cannot", "i'm not sure"}

// heuristicScore is the no-model fallback: length bands set completeness,
// hedging phrases lower groundedness, excessive unstructured length lowers
// factuality, and consistency takes a neutral default (spec §3's Heuristic
// path, grounded on confidence_model.py's _heuristic_scoring).
func (s *Scorer) heuristicScore(output, originalRequest string) ConfidenceScore {
	_ = originalRequest
	outputLen := len(output)

	var completeness float64
	switch {
	case outputLen < 20:
		completeness = 0.3
	case outputLen < 50:
		completeness = 0.6
	default:
		completeness = 0.8
	}

	factual := 0.7
	if outputLen > 2000 && strings.Count(output, "\n") < 3 {
		factual = 0.6
	}

	grounded := 0.8
	lower := strings.ToLower(output)
	for _, phrase := range hedgingPhrases {
		if strings.Contains(lower, phrase) {
			grounded = 0.6
			break
		}
	}

	consistent := 0.75

	score := normalize(factual, consistent, completeness, grounded, []string{"Heuristic scoring (model unavailable)"}, "Fallback heuristic analysis")
	return score
}

// OutputCandidate is one of several competing generations to be validated
// and ranked by ValidateMultiOutput.
type OutputCandidate struct {
	Text  string
	Model string
}

// MultiOutputResult is the best candidate among several, plus every
// candidate's score for audit purposes.
type MultiOutputResult struct {
	BestOutput string
	BestModel  string
	Confidence float64
	AllScores  []ConfidenceScore
}

// ValidateMultiOutput scores every candidate and returns the highest-
// confidence one, keeping the full score list for the caller's audit trail
// (spec §3, grounded on confidence_model.py's validate_multi_output).
func (s *Scorer) ValidateMultiOutput(ctx context.Context, candidates []OutputCandidate, originalRequest string) MultiOutputResult {
	scores := make([]ConfidenceScore, len(candidates))
	bestIdx := 0
	for i, c := range candidates {
		scores[i] = s.Score(ctx, c.Text, originalRequest, nil, nil, c.Model)
		if scores[i].Overall > scores[bestIdx].Overall {
			bestIdx = i
		}
	}
	result := MultiOutputResult{AllScores: scores}
	if len(candidates) > 0 {
		result.BestOutput = candidates[bestIdx].Text
		result.BestModel = candidates[bestIdx].Model
		result.Confidence = scores[bestIdx].Overall
	}
	return result
}

// ShouldRetry reports whether overall confidence warrants a retry attempt.
func ShouldRetry(overall float64) bool { return overall < thresholdRetry }

// ShouldEscalate reports whether overall confidence falls in the
// escalate-to-a-more-capable-model band.
func ShouldEscalate(overall float64) bool {
	return overall >= thresholdEscalate && overall < thresholdRetry
}

// NeedsHumanReview reports whether overall confidence is below the
// escalate floor and must be flagged for manual review.
func NeedsHumanReview(overall float64) bool { return overall < thresholdEscalate }
