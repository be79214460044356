// Package orchestrator implements C6: the three execution strategies
// (simple, specialized, complex) that turn a RoutingDecision into a
// scored response, invoking C1/C2/C3/C5 as needed. Grounded on the
// teacher's orchestration.Orchestrator/Executor (dispatch shape,
// topological step scheduling via workflow_dag.go) generalized from
// agent-capability dispatch onto the plan/step execution model
// original_source/core/services/agent_orchestrator.py describes.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/inference"
	"github.com/lalo-ai/lalocore/planner"
	"github.com/lalo-ai/lalocore/router"
	"github.com/lalo-ai/lalocore/scorer"
	"github.com/lalo-ai/lalocore/tools"
)

const defaultMaxFallbackAttempts = 3
const stepContextTruncation = 200
const defaultStepConcurrency = 4

// FallbackAttempt is an immutable audit record of one model attempt in
// the Simple strategy's fallback chain (spec §3).
type FallbackAttempt struct {
	Model         string    `json:"model"`
	Confidence    float64   `json:"confidence"`
	Reason        string    `json:"reason"`
	OutputExcerpt string    `json:"output_excerpt"`
	Timestamp     time.Time `json:"timestamp"`
}

// StepResult is one executed step's outcome, keyed by Step.ID in Result.
type StepResult struct {
	StepID  int    `json:"step_id"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Result is the orchestrator's output for any of the three strategies: the
// final text, the confidence score over it, and the full audit trail.
type Result struct {
	Output           string                 `json:"output"`
	ModelUsed        string                 `json:"model_used"`
	Confidence       scorer.ConfidenceScore `json:"confidence"`
	FallbackAttempts []FallbackAttempt      `json:"fallback_attempts"`
	Plan             *planner.Plan          `json:"plan,omitempty"`
	StepResults      []StepResult           `json:"step_results,omitempty"`
}

// Orchestrator wires C1 (inference), C2 (tools), C3 (scorer), and C5
// (planner) together behind the three strategies spec §4.6 names.
type Orchestrator struct {
	gateway         *inference.Gateway
	toolExecutor    *tools.Executor
	scorer          *scorer.Scorer
	planner         *planner.Planner
	logger          core.Logger
	maxFallbacks    int
	stepConcurrency int
	fallbackModels  []string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the orchestrator's logger.
func WithLogger(l core.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMaxFallbackAttempts overrides the Simple strategy's attempt bound
// (default 3, per spec §4.6).
func WithMaxFallbackAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxFallbacks = n
		}
	}
}

// WithStepConcurrency overrides how many parallelizable steps a single
// wave may run concurrently (default 4).
func WithStepConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.stepConcurrency = n
		}
	}
}

// WithFallbackModels sets the ordered list of models tried after the
// routing decision's recommended model, when scoring calls for a retry.
func WithFallbackModels(models []string) Option {
	return func(o *Orchestrator) { o.fallbackModels = models }
}

// New builds an Orchestrator over its four collaborators. toolExecutor may
// be nil if no request in this deployment ever needs tools.
func New(gateway *inference.Gateway, toolExecutor *tools.Executor, sc *scorer.Scorer, pl *planner.Planner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gateway:         gateway,
		toolExecutor:    toolExecutor,
		scorer:          sc,
		planner:         pl,
		logger:          &core.NoOpLogger{},
		maxFallbacks:    defaultMaxFallbackAttempts,
		stepConcurrency: defaultStepConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute dispatches request per decision.Path, delegating Specialized to
// Complex or Simple per spec §4.6's rule.
func (o *Orchestrator) Execute(ctx context.Context, request string, principal core.Principal, decision router.RoutingDecision) (Result, error) {
	switch decision.Path {
	case router.PathComplex:
		return o.executeComplex(ctx, request, principal, decision)
	case router.PathSpecialized:
		if len(decision.ActionPlan) > 0 || len(decision.RequiredModels) > 1 {
			return o.executeComplex(ctx, request, principal, decision)
		}
		return o.executeSimple(ctx, request, principal, decision.RecommendedModel)
	default:
		return o.executeSimple(ctx, request, principal, decision.RecommendedModel)
	}
}

// executeSimple is the Simple strategy: generate, score, and walk the
// fallback chain while the scorer recommends retry or escalate, stopping at
// the first accept or human_review recommendation or at the attempt bound,
// and return the best-scoring output seen (spec §4.6).
func (o *Orchestrator) executeSimple(ctx context.Context, request string, principal core.Principal, preferredModel string) (Result, error) {
	modelOrder := o.modelOrder(principal, preferredModel)
	if len(modelOrder) == 0 {
		return Result{}, core.NewEngineError("orchestrator.Simple", core.ErrDependencyUnavailable, "no model available for principal")
	}

	var attempts []FallbackAttempt
	var best struct {
		output string
		model  string
		score  scorer.ConfidenceScore
		set    bool
	}

	for i, model := range modelOrder {
		if i >= o.maxFallbacks {
			break
		}
		output, _, err := o.gateway.Generate(ctx, request, model, inference.Params{})
		if err != nil {
			attempts = append(attempts, FallbackAttempt{Model: model, Confidence: 0, Reason: err.Error(), Timestamp: now()})
			continue
		}

		score := o.score(ctx, output, request, nil, nil, model)
		attempts = append(attempts, FallbackAttempt{
			Model:         model,
			Confidence:    score.Overall,
			Reason:        string(score.Recommendation),
			OutputExcerpt: excerpt(output, stepContextTruncation),
			Timestamp:     now(),
		})

		if !best.set || score.Overall > best.score.Overall {
			best.output, best.model, best.score, best.set = output, model, score, true
		}

		if score.Recommendation != scorer.RecommendRetry && score.Recommendation != scorer.RecommendEscalate {
			break
		}
	}

	if !best.set {
		return Result{FallbackAttempts: attempts}, core.NewEngineError("orchestrator.Simple", core.ErrDependencyUnavailable, "every model in the fallback chain failed")
	}
	return Result{
		Output:           best.output,
		ModelUsed:        best.model,
		Confidence:       best.score,
		FallbackAttempts: attempts,
	}, nil
}

// modelOrder builds the fallback order: the preferred model first (if
// non-empty), then the configured fallback models, then whatever else is
// available to the principal — deduplicated.
func (o *Orchestrator) modelOrder(principal core.Principal, preferred string) []string {
	seen := make(map[string]bool)
	var order []string
	add := func(m string) {
		if m != "" && !seen[m] {
			seen[m] = true
			order = append(order, m)
		}
	}
	add(preferred)
	for _, m := range o.fallbackModels {
		add(m)
	}
	if o.gateway != nil {
		for _, m := range o.gateway.AvailableModels(principal) {
			add(m)
		}
	}
	return order
}

// executeComplex is the Complex strategy's three phases: plan acquisition,
// topologically-ordered step execution with cascading skip on failure, and
// final-output aggregation scored once (spec §4.6).
func (o *Orchestrator) executeComplex(ctx context.Context, request string, principal core.Principal, decision router.RoutingDecision) (Result, error) {
	plan := o.acquirePlan(ctx, decision, request)

	order, err := topologicalOrder(plan.Steps)
	if err != nil {
		return Result{Plan: &plan}, core.NewEngineError("orchestrator.Complex", core.ErrInternal, err.Error())
	}

	outputs := make(map[int]string)
	failed := make(map[int]bool)
	results := make([]StepResult, 0, len(plan.Steps))
	byID := make(map[int]planner.Step, len(plan.Steps))
	for _, s := range plan.Steps {
		byID[s.ID] = s
	}

	for _, wave := range order {
		waveResults := o.runWave(ctx, wave, byID, outputs, failed, request, principal)
		for _, r := range waveResults {
			results = append(results, r)
			if r.Skipped || r.Error != "" {
				failed[r.StepID] = true
			} else {
				outputs[r.StepID] = r.Output
			}
		}
	}

	finalOutput := lastCompletedOutput(order, outputs, failed)
	score := o.score(ctx, finalOutput, request, nil, nil, "")

	return Result{
		Output:      finalOutput,
		Confidence:  score,
		Plan:        &plan,
		StepResults: results,
	}, nil
}

// acquirePlan uses an attached plan when present, otherwise calls C5 with
// request as the intent (spec §4.6 phase 1).
func (o *Orchestrator) acquirePlan(ctx context.Context, decision router.RoutingDecision, request string) planner.Plan {
	if len(decision.ActionPlan) > 0 {
		return planner.Plan{Steps: decision.ActionPlan, SourceIntent: request, Confidence: decision.Confidence}
	}
	if o.planner != nil {
		return o.planner.CreatePlan(ctx, request, nil)
	}
	return planner.Plan{SourceIntent: request}
}

// runWave executes the eligible Parallelizable steps in wave concurrently,
// bounded by stepConcurrency; each step that is not Parallelizable runs
// alone once the steps already in flight have finished. Results are
// serialized back before the caller schedules the next wave (spec §4.6's
// "Concurrency within a plan").
func (o *Orchestrator) runWave(ctx context.Context, wave []int, byID map[int]planner.Step, outputs map[int]string, failed map[int]bool, request string, principal core.Principal) []StepResult {
	sem := make(chan struct{}, o.stepConcurrency)
	var wg sync.WaitGroup
	results := make([]StepResult, len(wave))

	for i, stepID := range wave {
		step := byID[stepID]
		if anyDependencyFailed(step.Dependencies, failed) {
			results[i] = StepResult{StepID: stepID, Skipped: true}
			continue
		}
		if !step.Parallelizable {
			wg.Wait()
			results[i] = o.runStep(ctx, step, outputs, byID, request, principal)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, step planner.Step) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = o.runStep(ctx, step, outputs, byID, request, principal)
		}(i, step)
	}
	wg.Wait()
	return results
}

func anyDependencyFailed(deps []int, failed map[int]bool) bool {
	for _, d := range deps {
		if failed[d] {
			return true
		}
	}
	return false
}

// runStep executes one step: resolve the tool via C2 when Tool != "none",
// otherwise call C1 with the step's model (spec §4.6 phase 2). A failure
// is captured on the step rather than propagated, so the wave loop can
// cascade-skip dependents.
func (o *Orchestrator) runStep(ctx context.Context, step planner.Step, outputs map[int]string, byID map[int]planner.Step, request string, principal core.Principal) StepResult {
	stepPrompt := buildStepContext(request, step, outputs)

	if step.Tool != "" && step.Tool != "none" && step.Tool != "auto" && o.toolExecutor != nil {
		result, err := o.toolExecutor.Invoke(ctx, principal, step.Tool, map[string]interface{}{"input": stepPrompt})
		if err != nil {
			return StepResult{StepID: step.ID, Error: err.Error()}
		}
		return StepResult{StepID: step.ID, Output: fmt.Sprintf("%v", result.Output)}
	}

	if o.gateway == nil {
		return StepResult{StepID: step.ID, Error: "no inference gateway configured"}
	}
	model := step.Model
	if model == "" {
		model = "gpt-4o"
	}
	output, _, err := o.gateway.Generate(ctx, stepPrompt, model, inference.Params{})
	if err != nil {
		return StepResult{StepID: step.ID, Error: err.Error()}
	}
	return StepResult{StepID: step.ID, Output: output}
}

// buildStepContext builds the deterministic prompt spec §4.6 names:
// "Original request: …\nPrevious steps:\nStep k: <truncated output>",
// 200 characters per prior step.
func buildStepContext(request string, step planner.Step, outputs map[int]string) string {
	var b strings.Builder
	b.WriteString("Original request: ")
	b.WriteString(request)
	b.WriteString("\nPrevious steps:\n")
	for _, depID := range step.Dependencies {
		if out, ok := outputs[depID]; ok {
			b.WriteString(fmt.Sprintf("Step %d: %s\n", depID, excerpt(out, stepContextTruncation)))
		}
	}
	b.WriteString("Current step: ")
	b.WriteString(step.Action)
	return b.String()
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func lastCompletedOutput(order [][]int, outputs map[int]string, failed map[int]bool) string {
	for w := len(order) - 1; w >= 0; w-- {
		wave := order[w]
		for i := len(wave) - 1; i >= 0; i-- {
			id := wave[i]
			if out, ok := outputs[id]; ok && !failed[id] {
				return out
			}
		}
	}
	return ""
}

// score delegates to C3, or returns a low-confidence internal-failure
// score when no scorer is configured (spec §7: "the scorer never
// raises").
func (o *Orchestrator) score(ctx context.Context, output, request string, sources []string, scoreCtx map[string]interface{}, model string) scorer.ConfidenceScore {
	if o.scorer == nil {
		return scorer.ConfidenceScore{Recommendation: scorer.RecommendHumanReview, Reasoning: "no scorer configured"}
	}
	return o.scorer.Score(ctx, output, request, sources, scoreCtx, model)
}

func now() time.Time { return time.Now() }

// topologicalOrder groups plan.Steps into dependency waves (spec §4.6
// phase 2's "topological sort over dependencies; cycle-free is an
// invariant enforced at plan construction by ignoring back-edges; unknown
// dependencies are treated as satisfied"). Each returned wave's steps have
// every dependency resolved by an earlier wave; within a wave, any step
// may run concurrently.
func topologicalOrder(steps []planner.Step) ([][]int, error) {
	byID := make(map[int]planner.Step, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}

	remaining := make(map[int]bool, len(steps))
	for _, s := range steps {
		remaining[s.ID] = true
	}

	var waves [][]int
	seen := make(map[int]bool)

	for len(remaining) > 0 {
		var wave []int
		for id := range remaining {
			step := byID[id]
			if allSatisfied(step.Dependencies, seen, byID) {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			// Cycle or unresolvable remainder: flush remaining steps as a
			// final wave rather than looping forever — unknown/circular
			// dependencies are treated as satisfied per spec §4.6.
			for id := range remaining {
				wave = append(wave, id)
			}
		}
		sort.Ints(wave)
		waves = append(waves, wave)
		for _, id := range wave {
			seen[id] = true
			delete(remaining, id)
		}
	}
	return waves, nil
}

func allSatisfied(deps []int, seen map[int]bool, byID map[int]planner.Step) bool {
	for _, d := range deps {
		if _, known := byID[d]; !known {
			continue // unknown dependency: treated as satisfied
		}
		if !seen[d] {
			return false
		}
	}
	return true
}
