// Package planner implements C5: a self-critiquing plan generator that
// refines a step list against a separate critique model up to a bounded
// number of iterations. Grounded on
// original_source/core/services/action_planner.py, generalized from the
// original's RTI-microservice-plus-GPT-4-fallback split onto a single
// inference.Gateway (the gateway's own per-model routing already covers
// "use a retrieval-backed planner model when configured, else a general
// one").
package planner

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/inference"
)

const defaultMaxIterations = 3
const confidenceThreshold = 0.8

// Step is one unit of work in a Plan (spec §3). Model is consulted by C6
// when Tool is "none" or "auto" and no tool resolution applies — the
// orchestrator's direct-inference path for steps that are pure generation
// rather than a tool invocation.
type Step struct {
	ID              int    `json:"id"`
	Action          string `json:"action"`
	Tool            string `json:"tool"`
	Model           string `json:"model,omitempty"`
	ExpectedOutcome string `json:"expected_outcome"`
	Dependencies    []int  `json:"dependencies"`
	Parallelizable  bool   `json:"parallelizable"`
}

// Plan is the refined step list C5 produces (spec §3).
type Plan struct {
	Steps              []Step        `json:"steps"`
	Confidence         float64       `json:"confidence"`
	Iterations         int           `json:"iterations"`
	Critiques          []string      `json:"critiques"`
	RetrievedExamples  []interface{} `json:"retrieved_examples,omitempty"`
	SourceIntent       string        `json:"source_intent"`
}

// RetrievalStore supplies prior successful plans as few-shot examples for
// the initial generation step (spec §4.5's "retrieval-augmented store of
// prior plans"). Optional: a nil store skips retrieval entirely.
type RetrievalStore interface {
	SimilarPlans(ctx context.Context, intent string, limit int) ([]interface{}, error)
}

// Planner creates and iteratively refines Plans.
type Planner struct {
	gateway       *inference.Gateway
	retrieval     RetrievalStore
	model         string
	maxIterations int
	logger        core.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger overrides the planner's logger.
func WithLogger(l core.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithModel overrides the planning/critique model (default
// "gpt-4-turbo-preview", matching the teacher's fallback choice).
func WithModel(model string) Option {
	return func(p *Planner) { p.model = model }
}

// WithMaxIterations overrides the refinement loop bound (default 3).
func WithMaxIterations(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxIterations = n
		}
	}
}

// WithRetrievalStore wires in a store of prior successful plans consulted
// for the initial generation.
func WithRetrievalStore(r RetrievalStore) Option {
	return func(p *Planner) { p.retrieval = r }
}

// New builds a Planner over gateway.
func New(gateway *inference.Gateway, opts ...Option) *Planner {
	p := &Planner{
		gateway:       gateway,
		model:         "gpt-4-turbo-preview",
		maxIterations: defaultMaxIterations,
		logger:        &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreatePlan runs the generate→critique→refine loop, terminating when
// confidence reaches the acceptance threshold or a refinement fails to
// improve on the prior best (spec §3's Plan invariant: "if any refinement
// lowers confidence, the loop terminates and the prior plan is returned").
func (p *Planner) CreatePlan(ctx context.Context, intent string, planCtx map[string]interface{}) Plan {
	var steps []Step
	var retrieved []interface{}
	var critiques []string
	bestConfidence := 0.0
	bestSteps := steps
	iterations := 0

	for iter := 0; iter < p.maxIterations; iter++ {
		iterations = iter + 1

		var candidateSteps []Step
		var candidateRetrieved []interface{}
		if iter == 0 {
			candidateSteps, candidateRetrieved = p.generateInitialPlan(ctx, intent, planCtx)
			retrieved = candidateRetrieved
		} else {
			candidateSteps = p.refinePlan(ctx, intent, steps, critiques[len(critiques)-1])
		}
		steps = candidateSteps

		confidence, critiqueText := p.critiquePlan(ctx, intent, steps)
		critiques = append(critiques, critiqueText)

		if confidence >= confidenceThreshold {
			bestConfidence = confidence
			bestSteps = steps
			break
		}
		if iter > 0 && confidence <= bestConfidence {
			break
		}
		bestConfidence = confidence
		bestSteps = steps
	}

	return Plan{
		Steps:             bestSteps,
		Confidence:        bestConfidence,
		Iterations:        iterations,
		Critiques:         critiques,
		RetrievedExamples: retrieved,
		SourceIntent:      intent,
	}
}

// generateInitialPlan consults the retrieval store if configured, then
// falls back to prompting the planning model directly for a strict-JSON
// step list (spec §4.5's "Initial plan" path).
func (p *Planner) generateInitialPlan(ctx context.Context, intent string, planCtx map[string]interface{}) ([]Step, []interface{}) {
	var retrieved []interface{}
	if p.retrieval != nil {
		if examples, err := p.retrieval.SimilarPlans(ctx, intent, 3); err == nil {
			retrieved = examples
		} else {
			p.logger.Warn("retrieval store unavailable for planning", map[string]interface{}{"error": err.Error()})
		}
	}

	if p.gateway == nil {
		return degradedSteps(), retrieved
	}

	prompt := buildGenerationPrompt(intent, retrieved)
	raw, _, err := p.gateway.Generate(ctx, prompt, p.model, inference.Params{MaxTokens: 1000, Temperature: 0.5})
	if err != nil {
		p.logger.Warn("initial plan generation failed, using degraded plan", map[string]interface{}{"error": err.Error()})
		return degradedSteps(), retrieved
	}

	steps, ok := parseSteps(raw)
	if !ok {
		p.logger.Warn("failed to parse initial plan JSON, using degraded plan", nil)
		return degradedSteps(), retrieved
	}
	return steps, retrieved
}

// refinePlan asks the model to improve the current steps in light of the
// latest critique; on any failure the unmodified current plan is returned
// (spec §4.5: refinement never destroys a working plan).
func (p *Planner) refinePlan(ctx context.Context, intent string, current []Step, critique string) []Step {
	if p.gateway == nil {
		return current
	}
	prompt := buildRefinementPrompt(intent, current, critique)
	raw, _, err := p.gateway.Generate(ctx, prompt, p.model, inference.Params{MaxTokens: 1000, Temperature: 0.5})
	if err != nil {
		p.logger.Warn("plan refinement failed, keeping prior plan", map[string]interface{}{"error": err.Error()})
		return current
	}
	steps, ok := parseSteps(raw)
	if !ok {
		return current
	}
	return steps
}

// critiquePlan scores the current plan via a separate critique prompt,
// returning a neutral 0.5 confidence when the critique call fails or its
// response cannot be parsed (original's _critique_plan fallback), and 0.0
// when no gateway is configured.
func (p *Planner) critiquePlan(ctx context.Context, intent string, steps []Step) (float64, string) {
	if p.gateway == nil {
		return 0.0, "no inference gateway configured"
	}
	prompt := buildCritiquePrompt(intent, steps)
	raw, _, err := p.gateway.Generate(ctx, prompt, p.model, inference.Params{MaxTokens: 500, Temperature: 0.3})
	if err != nil {
		return 0.5, "critique failed: " + err.Error()
	}

	var parsed struct {
		Confidence  float64  `json:"confidence"`
		Critique    string   `json:"critique"`
		Suggestions []string `json:"suggestions"`
	}
	clean := stripFence(strings.TrimSpace(raw))
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return 0.5, "critique failed: unparsable response"
	}
	if parsed.Confidence == 0 {
		parsed.Confidence = 0.5
	}
	return clamp01(parsed.Confidence), parsed.Critique
}

// degradedSteps is the singleton fallback plan returned when generation
// fails outright (spec §4.5's parsing policy: "return a singleton
// degraded plan with confidence 0.0 rather than propagating the parse
// error").
func degradedSteps() []Step {
	return []Step{{
		ID:              1,
		Action:          "unable to generate plan",
		Tool:            "none",
		ExpectedOutcome: "error",
	}}
}

func parseSteps(raw string) ([]Step, bool) {
	clean := stripFence(strings.TrimSpace(raw))
	var wrapper struct {
		Steps []Step `json:"steps"`
	}
	if err := json.Unmarshal([]byte(clean), &wrapper); err != nil {
		return nil, false
	}
	return wrapper.Steps, true
}

// stripFence removes a ```...``` fence wrapping a JSON payload (spec
// §4.5's "Parsing policy: when a model wraps JSON in a fenced block,
// strip the fence").
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 3 {
		return s
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
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

func buildGenerationPrompt(intent string, retrieved []interface{}) string {
	var b strings.Builder
	b.WriteString("Create a detailed action plan to accomplish this goal:\n\n")
	b.WriteString(intent)
	b.WriteString("\n\nBreak down the task into clear, executable steps.\n")
	if len(retrieved) > 0 {
		if enc, err := json.Marshal(retrieved); err == nil {
			b.WriteString("Similar successful plans: ")
			b.Write(enc)
			b.WriteString("\n")
		}
	}
	b.WriteString(`Format as JSON: {"steps":[{"id":1,"action":"...","tool":"...","expected_outcome":"...","dependencies":[],"parallelizable":false}]}`)
	b.WriteString("\nProvide ONLY the JSON, no other text.")
	return b.String()
}

func buildRefinementPrompt(intent string, current []Step, critique string) string {
	var b strings.Builder
	b.WriteString("Improve this action plan based on the critique provided.\n\nOriginal Goal: ")
	b.WriteString(intent)
	b.WriteString("\n\nCurrent Plan:\n")
	if enc, err := json.Marshal(current); err == nil {
		b.Write(enc)
	}
	b.WriteString("\n\nCritique:\n")
	b.WriteString(critique)
	b.WriteString(`

Create an improved plan addressing the critique. Format as JSON: {"steps":[{"id":1,"action":"...","tool":"...","expected_outcome":"...","dependencies":[],"parallelizable":false}]}
Provide ONLY the JSON, no other text.`)
	return b.String()
}

func buildCritiquePrompt(intent string, steps []Step) string {
	var b strings.Builder
	b.WriteString("Critique this action plan for accomplishing the given goal.\n\nGoal: ")
	b.WriteString(intent)
	b.WriteString("\n\nPlan:\n")
	if enc, err := json.Marshal(steps); err == nil {
		b.Write(enc)
	}
	b.WriteString(`

Evaluate the plan and provide a confidence score (0.0-1.0) that this plan will succeed, plus a critique and suggestions.
Format as JSON: {"confidence":0.0,"critique":"...","suggestions":["..."]}
Provide ONLY the JSON, no other text.`)
	return b.String()
}
