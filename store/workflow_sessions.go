package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/workflow"
)

const workflowSessionsSchema = `
CREATE TABLE IF NOT EXISTS workflow_sessions (
	session_id TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	state      TEXT NOT NULL,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`

// SaveWorkflowSession upserts a read-query mirror of a Temporal-durable
// workflow.Session. Temporal's own event history is the durable source of
// truth (spec §6's "Persistence" interface is satisfied by Temporal for
// C7's atomic read-modify-write requirement); this table exists purely so
// operational queries ("list sessions in Reviewing") don't require
// Temporal's visibility API.
func (db *DB) SaveWorkflowSession(ctx context.Context, s *workflow.Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return core.NewEngineError("store.SaveWorkflowSession", core.ErrInvalidInput, err.Error())
	}
	_, err = db.pool.Exec(ctx, `
		INSERT INTO workflow_sessions (session_id, user_id, state, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET state = $3, payload = $4, updated_at = $5`,
		s.SessionID, s.UserID, string(s.State), payload, time.Now().UTC())
	if err != nil {
		return core.NewEngineError("store.SaveWorkflowSession", core.ErrDependencyUnavailable, err.Error())
	}
	return nil
}

// GetWorkflowSession fetches the mirrored session snapshot by ID.
func (db *DB) GetWorkflowSession(ctx context.Context, sessionID string) (*workflow.Session, error) {
	row := db.pool.QueryRow(ctx, `SELECT payload FROM workflow_sessions WHERE session_id = $1`, sessionID)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == pgx.ErrNoRows {
			return nil, core.NewEngineError("store.GetWorkflowSession", core.ErrNotFound, fmt.Sprintf("session %s not found", sessionID))
		}
		return nil, core.NewEngineError("store.GetWorkflowSession", core.ErrDependencyUnavailable, err.Error())
	}
	var s workflow.Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, core.NewEngineError("store.GetWorkflowSession", core.ErrInternal, err.Error())
	}
	return &s, nil
}

// ListWorkflowSessionsByState lists mirrored sessions in a given state —
// the operational query this table exists to serve.
func (db *DB) ListWorkflowSessionsByState(ctx context.Context, state workflow.State) ([]*workflow.Session, error) {
	rows, err := db.pool.Query(ctx, `SELECT payload FROM workflow_sessions WHERE state = $1`, string(state))
	if err != nil {
		return nil, core.NewEngineError("store.ListWorkflowSessionsByState", core.ErrDependencyUnavailable, err.Error())
	}
	defer rows.Close()

	var sessions []*workflow.Session
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, core.NewEngineError("store.ListWorkflowSessionsByState", core.ErrInternal, err.Error())
		}
		var s workflow.Session
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, core.NewEngineError("store.ListWorkflowSessionsByState", core.ErrInternal, err.Error())
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}
