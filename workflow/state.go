// Package workflow implements C7: the durable, human-in-the-loop session
// lifecycle spec §4.7 describes, backed by Temporal for checkpointed,
// signal-driven execution. Grounded on the teacher's
// runtime/agent/engine/temporal package (workflow.Context wiring,
// signal/query idiom) generalized from the teacher's agent-turn loop onto
// the interpret→plan→backup→execute→review→finalize session graph
// original_source/core/services/workflow_orchestrator.py and
// workflow_state.py describe.
package workflow

import (
	"time"

	"github.com/lalo-ai/lalocore/orchestrator"
	"github.com/lalo-ai/lalocore/planner"
)

// State is one of the eight states in spec §4.7's graph.
type State string

const (
	StateInterpreting State = "Interpreting"
	StatePlanning      State = "Planning"
	StateBackupVerify  State = "BackupVerify"
	StateExecuting     State = "Executing"
	StateReviewing     State = "Reviewing"
	StateFinalizing    State = "Finalizing"
	StateCompleted     State = "Completed"
	StateError         State = "Error"
)

// ApprovalFlag is the per-step approval tri-state spec §3 names.
type ApprovalFlag int

const (
	ApprovalPending  ApprovalFlag = 0
	ApprovalApproved ApprovalFlag = 1
	ApprovalRejected ApprovalFlag = -1
)

// FeedbackEvent is one append-only human-input record (spec §3).
type FeedbackEvent struct {
	State     State     `json:"state"`
	Approved  bool      `json:"approved"`
	Feedback  string    `json:"feedback,omitempty"`
	Rating    float64   `json:"rating,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the durable WorkflowSession record spec §3 names.
type Session struct {
	SessionID   string `json:"session_id"`
	UserRequest string `json:"user_request"`
	UserID      string `json:"user_id"`
	State       State  `json:"state"`

	Interpretation           string       `json:"interpretation,omitempty"`
	InterpretationApproval   ApprovalFlag `json:"interpretation_approval"`
	InterpretationConfidence float64      `json:"interpretation_confidence"`

	Plan         *planner.Plan `json:"plan,omitempty"`
	PlanApproval ApprovalFlag  `json:"plan_approval"`

	BackupID string `json:"backup_id,omitempty"`

	ExecutionResults []orchestrator.StepResult `json:"execution_results,omitempty"`

	ReviewFeedback string       `json:"review_feedback,omitempty"`
	ReviewApproval ApprovalFlag `json:"review_approval"`

	FinalFeedback string  `json:"final_feedback,omitempty"`
	SuccessRating float64 `json:"success_rating,omitempty"`

	FeedbackHistory []FeedbackEvent `json:"feedback_history"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	// InterpretationAutoApproveThreshold is the confidence at which
	// interpretation auto-advances without a human signal (spec §4.7).
	InterpretationAutoApproveThreshold = 0.75
	// PlanAutoApproveThreshold is the confidence at which a plan
	// auto-advances without a human signal (spec §4.7).
	PlanAutoApproveThreshold = 0.85
	// DefaultExecutingTimeout bounds the Executing state's wall clock
	// (spec §6: "default 5m for the Executing state").
	DefaultExecutingTimeout = 5 * time.Minute
)

func newSession(sessionID, userID, userRequest string) *Session {
	return &Session{
		SessionID:       sessionID,
		UserID:          userID,
		UserRequest:     userRequest,
		State:           StateInterpreting,
		FeedbackHistory: []FeedbackEvent{},
	}
}

func (s *Session) appendFeedback(state State, approved bool, feedback string, rating float64, at time.Time) {
	s.FeedbackHistory = append(s.FeedbackHistory, FeedbackEvent{
		State:     state,
		Approved:  approved,
		Feedback:  feedback,
		Rating:    rating,
		Timestamp: at,
	})
}
