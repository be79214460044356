package store

import (
	"context"
	"time"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/workflow"
)

const feedbackEventsSchema = `
CREATE TABLE IF NOT EXISTS feedback_events (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	state      TEXT NOT NULL,
	approved   BOOLEAN NOT NULL,
	feedback   TEXT NOT NULL DEFAULT '',
	rating     DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);`

// RecordFeedbackEvent appends one human-in-the-loop decision as an
// append-only row (spec §6: "append-only writes on AuditLog and
// FeedbackEvent"), independent of the FeedbackEvent Temporal already
// carries inline on the Session — this mirror makes cross-session feedback
// queryable without replaying workflow history.
func (db *DB) RecordFeedbackEvent(ctx context.Context, sessionID string, ev workflow.FeedbackEvent) error {
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO feedback_events (session_id, state, approved, feedback, rating, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID, string(ev.State), ev.Approved, ev.Feedback, ev.Rating, at)
	if err != nil {
		return core.NewEngineError("store.RecordFeedbackEvent", core.ErrDependencyUnavailable, err.Error())
	}
	return nil
}

// ListFeedbackEvents returns every recorded feedback row for a session in
// chronological order.
func (db *DB) ListFeedbackEvents(ctx context.Context, sessionID string) ([]workflow.FeedbackEvent, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT state, approved, feedback, rating, created_at FROM feedback_events
		WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, core.NewEngineError("store.ListFeedbackEvents", core.ErrDependencyUnavailable, err.Error())
	}
	defer rows.Close()

	var events []workflow.FeedbackEvent
	for rows.Next() {
		var ev workflow.FeedbackEvent
		var state string
		if err := rows.Scan(&state, &ev.Approved, &ev.Feedback, &ev.Rating, &ev.Timestamp); err != nil {
			return nil, core.NewEngineError("store.ListFeedbackEvents", core.ErrInternal, err.Error())
		}
		ev.State = workflow.State(state)
		events = append(events, ev)
	}
	return events, rows.Err()
}
