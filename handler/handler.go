// Package handler implements C8, the Unified Handler: the single entry
// point spec §6 names (handle_request) that validates a request, routes it
// (C4), dispatches it (C6, which internally drives C1/C2/C3/C5), and
// persists the outcome. Grounded on the teacher's
// orchestration.Orchestrator.ProcessRequest (request-id/span/metric
// wiring, structured logging at entry and exit) generalized from the
// teacher's agent-capability dispatch onto the router → orchestrator
// pipeline original_source/core/services/unified_request_handler.py
// describes, with the same catch-everything error envelope discipline.
package handler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/orchestrator"
	"github.com/lalo-ai/lalocore/router"
	"github.com/lalo-ai/lalocore/scorer"
	"github.com/lalo-ai/lalocore/store"
)

// Status is the terminal outcome of a handled request.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Metadata is the envelope's bookkeeping block (spec §6: "metadata: {
// execution_time_ms, fallback_attempts, user_id, … }").
type Metadata struct {
	RequestID        string                         `json:"request_id"`
	ExecutionTimeMS  int64                          `json:"execution_time_ms"`
	FallbackAttempts []orchestrator.FallbackAttempt `json:"fallback_attempts,omitempty"`
	UserID           string                         `json:"user_id"`
}

// Response is the envelope spec §6 names: `{ response, model | [model],
// path, routing_decision, confidence, confidence_details, metadata }`.
// Model carries the single model used for the Simple/Specialized
// strategies; Models carries the distinct per-step models a Complex plan
// exercised. Models is set when any step recorded a model; otherwise Model
// is set from the orchestrator result, which leaves it empty for a Complex
// plan whose steps recorded no model.
type Response struct {
	Status            Status                  `json:"status"`
	Response          string                  `json:"response,omitempty"`
	Model             string                  `json:"model,omitempty"`
	Models            []string                `json:"models,omitempty"`
	Path              router.Path             `json:"path,omitempty"`
	RoutingDecision   *router.RoutingDecision `json:"routing_decision,omitempty"`
	Confidence        float64                 `json:"confidence,omitempty"`
	ConfidenceDetails *scorer.ConfidenceScore `json:"confidence_details,omitempty"`
	Error             string                  `json:"error,omitempty"`
	ErrorKind         string                  `json:"error_kind,omitempty"`
	Metadata          Metadata                `json:"metadata"`
}

// Handler wires C4 (router) and C6 (orchestrator) together behind a single
// validated, persisted, backpressure-bounded call.
type Handler struct {
	router       *router.Router
	orchestrator *orchestrator.Orchestrator
	db           *store.DB
	backpressure *store.Backpressure
	logger       core.Logger
	telemetry    core.Telemetry
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger overrides the handler's logger.
func WithLogger(l core.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithTelemetry attaches a tracing/metrics facade.
func WithTelemetry(t core.Telemetry) Option {
	return func(h *Handler) { h.telemetry = t }
}

// WithStore attaches persistence. Without it, Handle still runs but never
// writes a Request row — suitable for embedding the engine in a caller
// that persists the envelope itself.
func WithStore(db *store.DB) Option {
	return func(h *Handler) { h.db = db }
}

// WithBackpressure attaches the per-principal in-flight request limiter.
func WithBackpressure(bp *store.Backpressure) Option {
	return func(h *Handler) { h.backpressure = bp }
}

// New builds a Handler over its two required collaborators.
func New(r *router.Router, o *orchestrator.Orchestrator, opts ...Option) *Handler {
	h := &Handler{
		router:       r,
		orchestrator: o,
		logger:       &core.NoOpLogger{},
		telemetry:    &core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(h)
	}
	if cal, ok := h.logger.(core.ComponentAwareLogger); ok {
		h.logger = cal.WithComponent("engine/handler")
	}
	return h
}

// Handle implements handle_request(request_text, principal,
// available_models, context?, stream=false) -> Response (spec §6).
//
// availableModels is accepted for interface parity with spec §6 and to let
// a caller constrain which models C6's fallback chain may try; the
// gateway itself (C1) is the source of truth for per-principal
// credentialed availability. stream is accepted for the same parity;
// transport-level chunked delivery is out of scope (spec §1 Non-goals:
// "does not define a new wire protocol") so Handle always computes the
// full response before returning, regardless of stream.
//
// Handle never propagates an error for a failed request — per spec §7's
// "C8 catches everything and returns a structured error envelope" — its
// error return is always nil; every failure, context cancellation
// included, is reported through the returned envelope.
func (h *Handler) Handle(ctx context.Context, requestText string, principal core.Principal, availableModels []string, reqContext map[string]interface{}, stream bool) (Response, error) {
	requestID := uuid.New().String()
	start := time.Now()

	ctx, span := h.telemetry.StartSpan(ctx, "handler.Handle")
	defer span.End()
	span.SetAttribute("request_id", requestID)
	span.SetAttribute("user_id", principal.UserID)

	h.logger.InfoWithContext(ctx, "request received", map[string]interface{}{
		"request_id": requestID,
		"user_id":    principal.UserID,
	})

	if strings.TrimSpace(requestText) == "" {
		err := core.NewEngineError("handler.Handle", core.ErrInvalidInput, "request text must not be empty")
		h.persistPending(ctx, requestID, principal.UserID, requestText)
		h.persistFailure(ctx, requestID, userFacingMessage(err), nil)
		return h.errorResponse(requestID, principal.UserID, start, nil, err), nil
	}

	if h.backpressure != nil {
		if err := h.backpressure.Acquire(ctx, principal.UserID); err != nil {
			h.logger.WarnWithContext(ctx, "request rejected by backpressure", map[string]interface{}{
				"request_id": requestID, "user_id": principal.UserID,
			})
			return h.errorResponse(requestID, principal.UserID, start, nil, err), nil
		}
		defer h.backpressure.Release(ctx, principal.UserID)
	}

	h.persistPending(ctx, requestID, principal.UserID, requestText)

	routeCtx := reqContext
	if routeCtx == nil {
		routeCtx = map[string]interface{}{}
	}
	if len(availableModels) > 0 {
		routeCtx["available_models"] = availableModels
	}
	decision := h.router.Route(ctx, requestText, routeCtx)
	span.SetAttribute("path", string(decision.Path))

	result, err := h.orchestrator.Execute(ctx, requestText, principal, decision)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorWithContext(ctx, "request failed", map[string]interface{}{
			"request_id": requestID, "error": err.Error(), "path": string(decision.Path),
		})
		h.persistFailure(ctx, requestID, userFacingMessage(err), result.FallbackAttempts)
		return h.errorResponse(requestID, principal.UserID, start, &decision, err), nil
	}

	elapsed := time.Since(start)
	h.persistSuccess(ctx, requestID, result)

	resp := Response{
		Status:            StatusCompleted,
		Response:          result.Output,
		Path:              decision.Path,
		RoutingDecision:   &decision,
		Confidence:        result.Confidence.Overall,
		ConfidenceDetails: &result.Confidence,
		Metadata: Metadata{
			RequestID:        requestID,
			ExecutionTimeMS:  elapsed.Milliseconds(),
			FallbackAttempts: result.FallbackAttempts,
			UserID:           principal.UserID,
		},
	}
	if models := stepModels(result); len(models) > 0 {
		resp.Models = models
	} else {
		resp.Model = result.ModelUsed
	}

	h.telemetry.RecordMetric("handler.requests.total", 1, map[string]string{"path": string(decision.Path), "status": "completed"})
	h.logger.InfoWithContext(ctx, "request completed", map[string]interface{}{
		"request_id": requestID, "confidence": result.Confidence.Overall, "execution_time_ms": elapsed.Milliseconds(),
	})
	return resp, nil
}

// stepModels returns the distinct, ordered, non-empty models a Complex
// plan's steps named, for the Response envelope's `model: [model]` form.
func stepModels(result orchestrator.Result) []string {
	if result.Plan == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var models []string
	for _, step := range result.Plan.Steps {
		if step.Model == "" {
			continue
		}
		if _, ok := seen[step.Model]; ok {
			continue
		}
		seen[step.Model] = struct{}{}
		models = append(models, step.Model)
	}
	return models
}

// userFacingMessage renders a terse, stack-trace-free message for a
// failed request (spec §6: "no stack traces, no provider internals").
func userFacingMessage(err error) string {
	switch core.Kind(err) {
	case core.ErrInvalidInput.Error():
		return "request was invalid"
	case core.ErrPermissionDenied.Error(), core.ErrAuthFailed.Error():
		return "insufficient permissions"
	case core.ErrNotFound.Error():
		return "requested resource was not found"
	case core.ErrDependencyUnavailable.Error(), core.ErrTimeout.Error(), core.ErrRateLimited.Error(), core.ErrQuotaExceeded.Error(), core.ErrSaturated.Error():
		return "a dependency was unavailable; please retry"
	case core.ErrSandboxViolation.Error():
		return "request violated sandbox policy"
	default:
		return "request failed"
	}
}

// errorResponse builds the structured error envelope spec §7 names: the
// error kind, a human-readable message, and the partial routing_decision
// if one was obtained before the failure.
func (h *Handler) errorResponse(requestID, userID string, start time.Time, decision *router.RoutingDecision, err error) Response {
	resp := Response{
		Status:    StatusFailed,
		Error:     userFacingMessage(err),
		ErrorKind: core.Kind(err),
		Metadata: Metadata{
			RequestID:       requestID,
			ExecutionTimeMS: time.Since(start).Milliseconds(),
			UserID:          userID,
		},
	}
	if decision != nil {
		resp.RoutingDecision = decision
		resp.Path = decision.Path
	}
	h.telemetry.RecordMetric("handler.requests.total", 1, map[string]string{"status": "failed", "kind": resp.ErrorKind})
	return resp
}

func (h *Handler) persistPending(ctx context.Context, requestID, userID, prompt string) {
	if h.db == nil {
		return
	}
	if err := h.db.CreateRequest(ctx, &store.Request{
		ID:     requestID,
		UserID: userID,
		Prompt: prompt,
		Status: store.RequestPending,
	}); err != nil {
		h.logger.WarnWithContext(ctx, "failed to persist pending request", map[string]interface{}{"request_id": requestID, "error": err.Error()})
	}
}

func (h *Handler) persistSuccess(ctx context.Context, requestID string, result orchestrator.Result) {
	if h.db == nil {
		return
	}
	if err := h.db.CompleteRequest(ctx, requestID, result.Output, 0, 0, result.FallbackAttempts); err != nil {
		h.logger.WarnWithContext(ctx, "failed to persist completed request", map[string]interface{}{"request_id": requestID, "error": err.Error()})
	}
}

// persistFailure marks an already-created pending row failed. Every call
// site creates the row via persistPending first, so this never needs to
// insert one itself (spec §8: "no Request row side effects beyond the
// initial row marked failed" — one row, one transition).
func (h *Handler) persistFailure(ctx context.Context, requestID, message string, attempts []orchestrator.FallbackAttempt) {
	if h.db == nil {
		return
	}
	if err := h.db.FailRequest(ctx, requestID, message, attempts); err != nil {
		h.logger.WarnWithContext(ctx, "failed to persist failed request", map[string]interface{}{"request_id": requestID, "error": err.Error()})
	}
}
