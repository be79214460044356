package workflow

import (
	"context"
	"fmt"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/inference"
	"github.com/lalo-ai/lalocore/orchestrator"
	"github.com/lalo-ai/lalocore/planner"
	"github.com/lalo-ai/lalocore/router"
	"github.com/lalo-ai/lalocore/scorer"
)

// Activities holds the non-deterministic side-effecting calls the
// Temporal workflow function delegates to — every call to C1/C2/C5/C6
// happens here rather than in workflow code, per the Temporal SDK's
// determinism requirement (mirrors the teacher's activity/workflow split
// in runtime/agent/engine/temporal).
type Activities struct {
	Gateway      *inference.Gateway
	Planner      *planner.Planner
	Orchestrator *orchestrator.Orchestrator
	Scorer       *scorer.Scorer
	Logger       core.Logger
}

// InterpretResult is what InterpretRequest returns: a semantic restatement
// of the user's request plus a confidence gating the interpretation
// approval gate (spec §4.7).
type InterpretResult struct {
	Interpretation string
	Confidence     float64
}

// InterpretRequest produces a semantic interpretation of the raw request
// via C1, scored by C3 as a proxy for interpretation confidence (the
// original's interpretation step doubles as an intent-clarity check).
func (a *Activities) InterpretRequest(ctx context.Context, request string) (InterpretResult, error) {
	if a.Gateway == nil {
		return InterpretResult{Interpretation: request, Confidence: 0.5}, nil
	}
	prompt := "Restate the following user request as a clear, unambiguous task description:\n\n" + request
	text, _, err := a.Gateway.Generate(ctx, prompt, "gpt-4o", inference.Params{MaxTokens: 300})
	if err != nil {
		return InterpretResult{}, core.NewEngineError("workflow.Interpret", core.ErrDependencyUnavailable, err.Error())
	}
	confidence := 0.7
	if a.Scorer != nil {
		confidence = a.Scorer.Score(ctx, text, request, nil, nil, "gpt-4o").Overall
	}
	return InterpretResult{Interpretation: text, Confidence: confidence}, nil
}

// CreatePlan calls C5 to produce a Plan from the approved interpretation.
func (a *Activities) CreatePlan(ctx context.Context, intent string) (planner.Plan, error) {
	if a.Planner == nil {
		return planner.Plan{SourceIntent: intent}, nil
	}
	return a.Planner.CreatePlan(ctx, intent, nil), nil
}

// Backup captures a pre-image identifier for every mutating step in plan
// before execution begins (spec §4.7's "Backup/verify semantics"). The
// Open Question decision in DESIGN.md resolves the backup identifier as
// an opaque string; this reference implementation tags it with the
// session ID and plan step count rather than performing a real
// filesystem/DB snapshot, since C2's tools already refuse destructive
// operations outside their sandbox root.
func (a *Activities) Backup(ctx context.Context, sessionID string, plan planner.Plan) (string, error) {
	return fmt.Sprintf("backup-%s-%d-steps", sessionID, len(plan.Steps)), nil
}

// ExecutePlan runs plan via C6's Complex strategy.
func (a *Activities) ExecutePlan(ctx context.Context, request string, principal core.Principal, plan planner.Plan) (orchestrator.Result, error) {
	if a.Orchestrator == nil {
		return orchestrator.Result{}, core.NewEngineError("workflow.Execute", core.ErrDependencyUnavailable, "no orchestrator configured")
	}
	decision := router.RoutingDecision{Path: router.PathComplex, ActionPlan: plan.Steps}
	return a.Orchestrator.Execute(ctx, request, principal, decision)
}

// Verify checks each step's output against its expected outcome: MVP
// non-empty-and-error-free (spec §4.7's verifier MVP definition). Returns
// (bool, error) rather than a bare bool because every Temporal activity
// must satisfy func(ctx, args...) (T, error) — the SDK validates this
// shape when the workflow registers and executes it.
func (a *Activities) Verify(ctx context.Context, results []orchestrator.StepResult) (bool, error) {
	for _, r := range results {
		if r.Skipped {
			continue
		}
		if r.Error != "" || r.Output == "" {
			return false, nil
		}
	}
	return true, nil
}

// Restore rolls back to backupID. The reference implementation is a
// no-op acknowledgment since the opaque BackupID here never captured a
// real mutable snapshot (see Backup's comment and DESIGN.md's Open
// Question #2 decision); a deployment with a real filesystem/DB backend
// implements actual restoration behind the same signature.
func (a *Activities) Restore(ctx context.Context, backupID string) error {
	a.logger().Warn("restoring backup", map[string]interface{}{"backup_id": backupID})
	return nil
}

// Commit marks the end of a session. This implementation only logs the
// session ID and final state and writes nothing to store.DB; the durable
// record is the Temporal workflow history itself.
func (a *Activities) Commit(ctx context.Context, session Session) error {
	a.logger().Info("workflow session finalized", map[string]interface{}{"session_id": session.SessionID, "state": string(session.State)})
	return nil
}

func (a *Activities) logger() core.Logger {
	if a.Logger == nil {
		return &core.NoOpLogger{}
	}
	return a.Logger
}
