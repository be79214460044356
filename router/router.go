// Package router implements C4: the first-touch classifier that assigns
// every incoming request an execution path before C6 ever runs. Grounded
// on original_source/core/services/router_model.py, generalized from the
// original's local-llm-only design onto the inference.Gateway abstraction
// so any configured provider can serve the routing model.
package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/inference"
	"github.com/lalo-ai/lalocore/planner"
)

// Path is the execution path a RoutingDecision selects.
type Path string

const (
	PathSimple      Path = "simple"
	PathComplex     Path = "complex"
	PathSpecialized Path = "specialized"
)

const arithmeticShortCircuitMaxLen = 80

var arithmeticOperators = []string{"+", "-", "*", "/"}

// RoutingDecision is the immutable classification spec §3 names.
type RoutingDecision struct {
	Path             Path     `json:"path"`
	Complexity       float64  `json:"complexity"`
	Confidence       float64  `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
	RecommendedModel string   `json:"recommended_model"`
	RequiresTools    bool     `json:"requires_tools"`
	RequiresWorkflow bool     `json:"requires_workflow"`
	RequiredModels   []string `json:"required_models,omitempty"`
	// ActionPlan is attached by a caller that has already produced a Plan
	// for this request (e.g. a workflow resuming mid-session); the
	// Specialized strategy's delegate-to-Complex rule keys off whether
	// this is non-empty (spec §4.6).
	ActionPlan []planner.Step `json:"action_plan,omitempty"`
}

// Router classifies a request into a RoutingDecision using a lightweight
// model with a deterministic arithmetic short-circuit and a heuristic
// keyword-bank fallback when the model is unavailable or unparsable.
type Router struct {
	gateway       *inference.Gateway
	model         string
	defaultModel  string
	logger        core.Logger
	decisionSchema *jsonschema.Schema
}

// Option configures a Router.
type Option func(*Router)

// WithLogger overrides the router's logger.
func WithLogger(l core.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithModel overrides the routing model identifier (default "liquid-tool",
// matching the teacher's fast classification model choice).
func WithModel(model string) Option {
	return func(r *Router) { r.model = model }
}

// WithDefaultModel overrides the recommended model used when the
// classification model's JSON omits recommended_model (default
// "tinyllama"). The heuristic fallback picks its own models.
func WithDefaultModel(model string) Option {
	return func(r *Router) { r.defaultModel = model }
}

// New builds a Router over the given inference gateway. gateway may be
// nil, in which case Route always uses the heuristic path.
func New(gateway *inference.Gateway, opts ...Option) *Router {
	r := &Router{
		gateway:      gateway,
		model:        "liquid-tool",
		defaultModel: "tinyllama",
		logger:       &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.decisionSchema = mustCompileDecisionSchema()
	return r
}

// Route classifies request, applying spec §4's order of operations:
// deterministic short-circuit, then model-based classification, then
// heuristic fallback — each step normalized through the same invariant
// (`complexity > 0.7 ⇒ path=complex`; `complexity < 0.3 ∧ confidence >
// 0.8 ⇒ path=simple`).
func (r *Router) Route(ctx context.Context, request string, routeCtx map[string]interface{}) RoutingDecision {
	if decision, ok := arithmeticShortCircuit(request); ok {
		return decision
	}

	if r.gateway != nil {
		if decision, ok := r.modelRoute(ctx, request, routeCtx); ok {
			return decision
		}
	}

	r.logger.Warn("routing model unavailable or unparsable, using heuristics", nil)
	return r.heuristicRoute(request)
}

// arithmeticShortCircuit detects a short request containing an arithmetic
// operator and bypasses model latency entirely (spec §4's "deterministic
// short-circuit", exactly reproducing the original's inline heuristic).
func arithmeticShortCircuit(request string) (RoutingDecision, bool) {
	lower := strings.ToLower(request)
	if len(lower) >= arithmeticShortCircuitMaxLen {
		return RoutingDecision{}, false
	}
	for _, op := range arithmeticOperators {
		if strings.Contains(lower, op) {
			return RoutingDecision{
				Path:             PathSimple,
				Complexity:       0.1,
				Confidence:       0.95,
				Reasoning:        "deterministic math detection",
				RecommendedModel: "tinyllama",
				RequiresTools:    false,
				RequiresWorkflow: false,
			}, true
		}
	}
	return RoutingDecision{}, false
}

func mustCompileDecisionSchema() *jsonschema.Schema {
	doc := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"complexity":        map[string]interface{}{"type": "number"},
			"confidence":        map[string]interface{}{"type": "number"},
			"path":              map[string]interface{}{"type": "string", "enum": []interface{}{"simple", "complex", "specialized"}},
			"reasoning":         map[string]interface{}{"type": "string"},
			"recommended_model": map[string]interface{}{"type": "string"},
			"requires_tools":    map[string]interface{}{"type": "boolean"},
			"requires_workflow": map[string]interface{}{"type": "boolean"},
		},
		"required": []interface{}{"complexity", "confidence", "path"},
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("routing-decision.json", doc); err != nil {
		return nil
	}
	schema, err := compiler.Compile("routing-decision.json")
	if err != nil {
		return nil
	}
	return schema
}

// modelRoute prompts the routing model for strict JSON, validates it
// against the routing-decision schema, and normalizes it. Returns ok=false
// on any generate/parse/validate failure so the caller falls back to
// heuristics.
func (r *Router) modelRoute(ctx context.Context, request string, routeCtx map[string]interface{}) (RoutingDecision, bool) {
	prompt := buildRoutingPrompt(request, routeCtx)
	raw, _, err := r.gateway.Generate(ctx, prompt, r.model, inference.Params{
		MaxTokens:   256,
		Temperature: 0.3,
		Stop:        []string{"<|user|>", "\n\n\n"},
	})
	if err != nil {
		return RoutingDecision{}, false
	}

	raw = stripFence(strings.TrimSpace(raw))
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return RoutingDecision{}, false
	}
	if r.decisionSchema != nil && r.decisionSchema.Validate(parsed) != nil {
		return RoutingDecision{}, false
	}

	var raw2 struct {
		Complexity       float64  `json:"complexity"`
		Confidence       float64  `json:"confidence"`
		Path             string   `json:"path"`
		Reasoning        string   `json:"reasoning"`
		RecommendedModel string   `json:"recommended_model"`
		RequiresTools    bool     `json:"requires_tools"`
		RequiresWorkflow bool     `json:"requires_workflow"`
		RequiredModels   []string `json:"required_models"`
	}
	if err := json.Unmarshal([]byte(raw), &raw2); err != nil {
		return RoutingDecision{}, false
	}

	decision := RoutingDecision{
		Path:             Path(raw2.Path),
		Complexity:       clamp01(raw2.Complexity),
		Confidence:       clamp01(raw2.Confidence),
		Reasoning:        raw2.Reasoning,
		RecommendedModel: raw2.RecommendedModel,
		RequiresTools:    raw2.RequiresTools,
		RequiresWorkflow: raw2.RequiresWorkflow,
		RequiredModels:   raw2.RequiredModels,
	}
	if decision.Reasoning == "" {
		decision.Reasoning = "Auto-classified"
	}
	if decision.RecommendedModel == "" {
		decision.RecommendedModel = r.defaultModel
	}
	return normalizePath(decision), true
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

// normalizePath enforces spec §3's two invariants and coerces any unknown
// path onto simple (spec §4.4: "All unknown paths coerce to simple").
func normalizePath(d RoutingDecision) RoutingDecision {
	switch d.Path {
	case PathSimple, PathComplex, PathSpecialized:
	default:
		d.Path = PathSimple
	}
	if d.Complexity > 0.7 {
		d.Path = PathComplex
	} else if d.Complexity < 0.3 && d.Confidence > 0.8 {
		d.Path = PathSimple
	}
	return d
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

var simpleKeywords = []string{
	"what is", "define", "who is", "when did", "where is",
	"how many", "what does", "meaning of",
}

var mediumKeywords = []string{
	"how to", "compare", "explain", "summarize", "list",
	"describe", "why", "difference between",
}

var complexKeywords = []string{
	"design", "analyze", "research", "create plan", "optimize",
	"develop", "implement", "architecture", "strategy",
	"investigate", "solve", "calculate complex",
}

var toolKeywords = []string{
	"search", "find information", "look up", "browse",
	"read file", "open file", "save", "write to",
	"execute", "run", "calculate", "compute",
	"latest", "current", "today", "news",
}

// heuristicRoute is the no-model fallback: a complexity keyword bank
// adjusted by request length and question count, then mapped onto a path
// and a tool-need flag (spec §4.4's heuristic fallback, grounded on
// router_model.py's _fallback_routing/estimate_complexity_sync).
func (r *Router) heuristicRoute(request string) RoutingDecision {
	complexity := estimateComplexity(request)

	var path Path
	var model string
	switch {
	case complexity < 0.3:
		path, model = PathSimple, "tinyllama"
	case complexity > 0.6:
		path, model = PathComplex, "tinyllama"
	default:
		path, model = PathSpecialized, "liquid-tool"
	}
	if model == "" {
		model = r.defaultModel
	}

	decision := RoutingDecision{
		Path:             path,
		Complexity:       complexity,
		Confidence:       0.6,
		Reasoning:        "Heuristic-based routing (model unavailable)",
		RecommendedModel: model,
		RequiresTools:    requiresTools(request),
		RequiresWorkflow: complexity > 0.6,
	}
	return normalizePath(decision)
}

func estimateComplexity(request string) float64 {
	lower := strings.ToLower(request)

	var base float64
	switch {
	case containsAny(lower, complexKeywords):
		base = 0.8
	case containsAny(lower, mediumKeywords):
		base = 0.5
	case containsAny(lower, simpleKeywords):
		base = 0.2
	default:
		base = 0.4
	}

	wordCount := len(strings.Fields(request))
	lengthFactor := float64(wordCount) / 100
	if lengthFactor > 0.3 {
		lengthFactor = 0.3
	}

	questionCount := strings.Count(request, "?")
	questionFactor := float64(questionCount) * 0.1
	if questionFactor > 0.2 {
		questionFactor = 0.2
	}

	final := base + lengthFactor + questionFactor
	if final > 1.0 {
		final = 1.0
	}
	return final
}

func requiresTools(request string) bool {
	return containsAny(strings.ToLower(request), toolKeywords)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func buildRoutingPrompt(request string, routeCtx map[string]interface{}) string {
	contextText := "None"
	if len(routeCtx) > 0 {
		if b, err := json.Marshal(routeCtx); err == nil {
			contextText = string(b)
		}
	}

	var b strings.Builder
	b.WriteString("<|system|>\nYou are a request router. Analyze the user request and determine the optimal execution path.\n")
	b.WriteString("Classify complexity (0-1), confidence (0-1), path (simple|complex|specialized), requires_tools, requires_workflow.\n")
	b.WriteString("Respond ONLY with valid JSON: {\"complexity\":0.5,\"confidence\":0.8,\"path\":\"simple\",\"reasoning\":\"...\",\"recommended_model\":\"tinyllama\",\"requires_tools\":false,\"requires_workflow\":false}\n")
	b.WriteString("<|user|>\nRequest: ")
	b.WriteString(request)
	b.WriteString("\nContext: ")
	b.WriteString(contextText)
	b.WriteString("\n<|assistant|>\n")
	return b.String()
}
