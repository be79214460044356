package workflow

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/orchestrator"
	"github.com/lalo-ai/lalocore/planner"
)

// Signal names the workflow listens for (spec §4.7/§6's
// approve_interpretation/approve_plan/approve_results plus a reject path
// for Planning/Reviewing's re-plan edges).
const (
	SignalApproveInterpretation = "approve_interpretation"
	SignalApprovePlan           = "approve_plan"
	SignalApproveResults        = "approve_results"
	SignalReject                = "reject"

	// QueryGetSession returns the current Session snapshot (spec §6:
	// "get_session(session_id) → WorkflowSession").
	QueryGetSession = "get_session"
)

// ApprovalSignal is the payload every approval/reject signal carries.
type ApprovalSignal struct {
	Feedback string  `json:"feedback,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
}

// Input starts a new session (spec §6: start_workflow(user_request,
// principal) → WorkflowSession).
type Input struct {
	SessionID   string
	UserRequest string
	Principal   core.Principal
}

// Run is the Temporal workflow function implementing C7's eight-state
// graph (spec §4.7). Every transition loads-acts-persists atomically
// within the workflow's own durable history — Temporal's event log is the
// atomic persistence mechanism spec §6 calls for — and a FeedbackEvent is
// appended exactly when a human signal participated in the transition;
// auto-approved transitions append nothing (spec §8's HITL scenario).
func Run(ctx workflow.Context, input Input, activities *Activities) (Session, error) {
	session := newSession(input.SessionID, input.Principal.UserID, input.UserRequest)
	session.CreatedAt = workflow.Now(ctx)
	session.UpdatedAt = session.CreatedAt

	if err := workflow.SetQueryHandler(ctx, QueryGetSession, func() (Session, error) {
		return *session, nil
	}); err != nil {
		return *session, err
	}

	interpretApproveCh := workflow.GetSignalChannel(ctx, SignalApproveInterpretation)
	planApproveCh := workflow.GetSignalChannel(ctx, SignalApprovePlan)
	reviewApproveCh := workflow.GetSignalChannel(ctx, SignalApproveResults)
	rejectCh := workflow.GetSignalChannel(ctx, SignalReject)

	ctx = workflow.WithLocalActivityOptions(ctx, workflow.LocalActivityOptions{StartToCloseTimeout: time.Minute})

	for session.State != StateCompleted && session.State != StateError {
		var err error
		switch session.State {
		case StateInterpreting:
			err = runInterpreting(ctx, session, activities, interpretApproveCh, rejectCh)
		case StatePlanning:
			err = runPlanning(ctx, session, activities, planApproveCh, rejectCh)
		case StateBackupVerify:
			err = runBackupVerify(ctx, session, activities)
		case StateExecuting:
			err = runExecuting(ctx, session, input, activities)
		case StateReviewing:
			err = runReviewing(ctx, session, reviewApproveCh, rejectCh)
		case StateFinalizing:
			err = runFinalizing(ctx, session, activities)
		}
		if err != nil {
			session.State = StateError
			session.Error = err.Error()
			session.UpdatedAt = workflow.Now(ctx)
		}
	}

	return *session, nil
}

// runInterpreting executes the Interpreting state's action (spec §4.7):
// interpret via C1/C3, then either auto-approve (confidence ≥ 0.75) or
// block on the approve/reject signal.
func runInterpreting(ctx workflow.Context, session *Session, activities *Activities, approveCh, rejectCh workflow.ReceiveChannel) error {
	var result InterpretResult
	if err := workflow.ExecuteLocalActivity(ctx, activities.InterpretRequest, session.UserRequest).Get(ctx, &result); err != nil {
		return err
	}
	session.Interpretation = result.Interpretation
	session.InterpretationConfidence = result.Confidence
	session.UpdatedAt = workflow.Now(ctx)

	if result.Confidence >= InterpretationAutoApproveThreshold {
		session.InterpretationApproval = ApprovalApproved
		session.State = StatePlanning
		return nil
	}

	approved, signal := awaitApproval(ctx, approveCh, rejectCh)
	session.appendFeedback(StateInterpreting, approved, signal.Feedback, signal.Rating, workflow.Now(ctx))
	if approved {
		session.InterpretationApproval = ApprovalApproved
		session.State = StatePlanning
	} else {
		session.InterpretationApproval = ApprovalRejected
		// stays in Interpreting for a fresh interpretation pass (spec §4.7
		// graph edge: Interpreting --refine--> Interpreting)
	}
	return nil
}

// runPlanning executes the Planning state's action: call C5, then either
// auto-approve (confidence ≥ 0.85) or block on the approve/reject signal.
func runPlanning(ctx workflow.Context, session *Session, activities *Activities, approveCh, rejectCh workflow.ReceiveChannel) error {
	intent := session.Interpretation
	if intent == "" {
		intent = session.UserRequest
	}

	var plan planner.Plan
	if err := workflow.ExecuteLocalActivity(ctx, activities.CreatePlan, intent).Get(ctx, &plan); err != nil {
		return err
	}
	session.Plan = &plan
	session.UpdatedAt = workflow.Now(ctx)

	if plan.Confidence >= PlanAutoApproveThreshold {
		session.PlanApproval = ApprovalApproved
		session.State = StateBackupVerify
		return nil
	}

	approved, signal := awaitApproval(ctx, approveCh, rejectCh)
	session.appendFeedback(StatePlanning, approved, signal.Feedback, signal.Rating, workflow.Now(ctx))
	if approved {
		session.PlanApproval = ApprovalApproved
		session.State = StateBackupVerify
	} else {
		session.PlanApproval = ApprovalRejected
		// re-plan with feedback (spec §4.7 graph edge: Planning --reject--> Planning)
	}
	return nil
}

// runBackupVerify captures the pre-execution backup identifier.
func runBackupVerify(ctx workflow.Context, session *Session, activities *Activities) error {
	var backupID string
	if err := workflow.ExecuteLocalActivity(ctx, activities.Backup, session.SessionID, *session.Plan).Get(ctx, &backupID); err != nil {
		return err
	}
	session.BackupID = backupID
	session.State = StateExecuting
	session.UpdatedAt = workflow.Now(ctx)
	return nil
}

// runExecuting runs the plan via C6, verifies the outcome, and restores
// the backup on verifier failure (spec §4.7's backup/verify semantics and
// cascading-failure rule: a failure followed by successful restoration is
// non-fatal, a failure where restoration itself fails is fatal).
func runExecuting(ctx workflow.Context, session *Session, input Input, activities *Activities) error {
	execCtx := workflow.WithLocalActivityOptions(ctx, workflow.LocalActivityOptions{StartToCloseTimeout: DefaultExecutingTimeout})

	var execResult orchestrator.Result
	if err := workflow.ExecuteLocalActivity(execCtx, activities.ExecutePlan, session.UserRequest, input.Principal, *session.Plan).Get(execCtx, &execResult); err != nil {
		return err
	}
	session.ExecutionResults = execResult.StepResults
	session.UpdatedAt = workflow.Now(ctx)

	var ok bool
	if err := workflow.ExecuteLocalActivity(ctx, activities.Verify, execResult.StepResults).Get(ctx, &ok); err != nil {
		return err
	}

	if !ok && session.BackupID != "" {
		if err := workflow.ExecuteLocalActivity(ctx, activities.Restore, session.BackupID).Get(ctx, nil); err != nil {
			return err // restoration itself failed: fatal per spec §4.7
		}
	}

	session.State = StateReviewing
	return nil
}

// runReviewing blocks on the human approve/reject signal over the
// execution results — Reviewing has no auto-approve gate in spec §4.7's
// graph, it is always human-gated.
func runReviewing(ctx workflow.Context, session *Session, approveCh, rejectCh workflow.ReceiveChannel) error {
	approved, signal := awaitApproval(ctx, approveCh, rejectCh)
	session.appendFeedback(StateReviewing, approved, signal.Feedback, signal.Rating, workflow.Now(ctx))
	session.ReviewFeedback = signal.Feedback
	session.SuccessRating = signal.Rating

	if approved {
		session.ReviewApproval = ApprovalApproved
		session.State = StateFinalizing
	} else {
		session.ReviewApproval = ApprovalRejected
		session.State = StatePlanning // re-plan (spec §4.7 graph edge: Reviewing --reject--> Planning)
	}
	return nil
}

// runFinalizing commits the session and transitions to the terminal
// Completed state.
func runFinalizing(ctx workflow.Context, session *Session, activities *Activities) error {
	session.FinalFeedback = session.ReviewFeedback
	if err := workflow.ExecuteLocalActivity(ctx, activities.Commit, *session).Get(ctx, nil); err != nil {
		return err
	}
	session.State = StateCompleted
	session.UpdatedAt = workflow.Now(ctx)
	return nil
}

// awaitApproval blocks on whichever of the approve/reject signal channels
// fires first, returning the decision and its accompanying payload.
func awaitApproval(ctx workflow.Context, approveCh, rejectCh workflow.ReceiveChannel) (bool, ApprovalSignal) {
	selector := workflow.NewSelector(ctx)
	var approved bool
	var signal ApprovalSignal
	selector.AddReceive(approveCh, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, &signal)
		approved = true
	})
	selector.AddReceive(rejectCh, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, &signal)
		approved = false
	})
	selector.Select(ctx)
	return approved, signal
}