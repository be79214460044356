package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/orchestrator"
	"github.com/lalo-ai/lalocore/planner"
	"github.com/lalo-ai/lalocore/workflow"
)

func startInput() workflow.Input {
	return workflow.Input{
		SessionID:   "session-1",
		UserRequest: "summarize last quarter's incident reports",
		Principal:   core.Principal{UserID: "user-1"},
	}
}

// TestHappyPathWithInterpretationApprovalAndReviewApproval mirrors the HITL
// acceptance scenario: interpretation confidence 0.7 sits below the 0.75
// auto-approve gate and requires a human signal; plan confidence 0.9 clears
// the 0.85 gate and auto-advances; the review gate is always human-gated.
// Exactly one FeedbackEvent is expected for interpretation, one for review,
// and none for planning.
func TestHappyPathWithInterpretationApprovalAndReviewApproval(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	activities := &workflow.Activities{}
	env.OnActivity(activities.InterpretRequest, mock.Anything, mock.Anything).
		Return(workflow.InterpretResult{Interpretation: "produce an incident summary", Confidence: 0.7}, nil)
	env.OnActivity(activities.CreatePlan, mock.Anything, mock.Anything).
		Return(planner.Plan{Confidence: 0.9, SourceIntent: "produce an incident summary"}, nil)
	env.OnActivity(activities.Backup, mock.Anything, mock.Anything, mock.Anything).
		Return("backup-session-1-0-steps", nil)
	env.OnActivity(activities.ExecutePlan, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(orchestrator.Result{Output: "summary complete", StepResults: []orchestrator.StepResult{{StepID: 1, Output: "summary complete"}}}, nil)
	env.OnActivity(activities.Verify, mock.Anything, mock.Anything).Return(true, nil)
	env.OnActivity(activities.Commit, mock.Anything, mock.Anything).Return(nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(workflow.SignalApproveInterpretation, workflow.ApprovalSignal{Feedback: "looks right"})
	}, 0)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(workflow.SignalApproveResults, workflow.ApprovalSignal{Rating: 0.9})
	}, 0)

	env.ExecuteWorkflow(workflow.Run, startInput(), activities)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var session workflow.Session
	require.NoError(t, env.GetWorkflowResult(&session))

	require.Equal(t, workflow.StateCompleted, session.State)
	require.Len(t, session.FeedbackHistory, 2)
	require.Equal(t, workflow.StateInterpreting, session.FeedbackHistory[0].State)
	require.True(t, session.FeedbackHistory[0].Approved)
	require.Equal(t, workflow.StateReviewing, session.FeedbackHistory[1].State)
	require.Equal(t, 0.9, session.FeedbackHistory[1].Rating)
	require.Equal(t, workflow.ApprovalApproved, session.InterpretationApproval)
	require.Equal(t, workflow.ApprovalApproved, session.PlanApproval)
	require.Equal(t, workflow.ApprovalApproved, session.ReviewApproval)
}

// TestBothAutoApproveGatesSkipHumanSignal confirms that when both
// interpretation and plan confidence clear their thresholds, the only
// FeedbackEvent recorded is the always-human-gated review approval.
func TestBothAutoApproveGatesSkipHumanSignal(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	activities := &workflow.Activities{}
	env.OnActivity(activities.InterpretRequest, mock.Anything, mock.Anything).
		Return(workflow.InterpretResult{Interpretation: "high confidence interpretation", Confidence: 0.95}, nil)
	env.OnActivity(activities.CreatePlan, mock.Anything, mock.Anything).
		Return(planner.Plan{Confidence: 0.9}, nil)
	env.OnActivity(activities.Backup, mock.Anything, mock.Anything, mock.Anything).
		Return("backup-session-2-0-steps", nil)
	env.OnActivity(activities.ExecutePlan, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(orchestrator.Result{Output: "done", StepResults: []orchestrator.StepResult{{StepID: 1, Output: "done"}}}, nil)
	env.OnActivity(activities.Verify, mock.Anything, mock.Anything).Return(true, nil)
	env.OnActivity(activities.Commit, mock.Anything, mock.Anything).Return(nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(workflow.SignalApproveResults, workflow.ApprovalSignal{Rating: 1.0})
	}, 0)

	env.ExecuteWorkflow(workflow.Run, startInput(), activities)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var session workflow.Session
	require.NoError(t, env.GetWorkflowResult(&session))
	require.Equal(t, workflow.StateCompleted, session.State)
	require.Len(t, session.FeedbackHistory, 1)
	require.Equal(t, workflow.StateReviewing, session.FeedbackHistory[0].State)
}

// TestVerifyFailureTriggersRestoreThenContinuesToReview confirms the
// non-fatal failure path: a verifier failure with a successful restore
// still reaches Reviewing rather than Error.
func TestVerifyFailureTriggersRestoreThenContinuesToReview(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	activities := &workflow.Activities{}
	env.OnActivity(activities.InterpretRequest, mock.Anything, mock.Anything).
		Return(workflow.InterpretResult{Interpretation: "intent", Confidence: 0.9}, nil)
	env.OnActivity(activities.CreatePlan, mock.Anything, mock.Anything).
		Return(planner.Plan{Confidence: 0.9}, nil)
	env.OnActivity(activities.Backup, mock.Anything, mock.Anything, mock.Anything).
		Return("backup-session-3-0-steps", nil)
	env.OnActivity(activities.ExecutePlan, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(orchestrator.Result{Output: "", StepResults: []orchestrator.StepResult{{StepID: 1, Error: "tool unavailable"}}}, nil)
	env.OnActivity(activities.Verify, mock.Anything, mock.Anything).Return(false, nil)
	env.OnActivity(activities.Restore, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(activities.Commit, mock.Anything, mock.Anything).Return(nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(workflow.SignalApproveResults, workflow.ApprovalSignal{Rating: 0.4})
	}, 0)

	env.ExecuteWorkflow(workflow.Run, startInput(), activities)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var session workflow.Session
	require.NoError(t, env.GetWorkflowResult(&session))
	require.Equal(t, workflow.StateCompleted, session.State)
	env.AssertExpectations(t)
}
