package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/tools"
)

const toolExecutionsSchema = `
CREATE TABLE IF NOT EXISTS tool_executions (
	id                TEXT PRIMARY KEY,
	tool_name         TEXT NOT NULL,
	user_id           TEXT NOT NULL,
	params            JSONB NOT NULL,
	success           BOOLEAN NOT NULL,
	error             TEXT NOT NULL DEFAULT '',
	execution_time_ms INTEGER NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL
);`

// RecordToolExecution appends one ToolExecutionResult as an audit row
// (spec §6's "tool_executions" collection). The tools Executor does not
// call it; rows are written only by callers that invoke it directly.
func (db *DB) RecordToolExecution(ctx context.Context, id, toolName, userID string, params map[string]interface{}, result tools.ExecutionResult) error {
	data, err := json.Marshal(params)
	if err != nil {
		return core.NewEngineError("store.RecordToolExecution", core.ErrInvalidInput, err.Error())
	}
	_, err = db.pool.Exec(ctx, `
		INSERT INTO tool_executions (id, tool_name, user_id, params, success, error, execution_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, toolName, userID, data, result.Success, result.Error, result.ExecutionTime.Milliseconds(), time.Now().UTC())
	if err != nil {
		return core.NewEngineError("store.RecordToolExecution", core.ErrDependencyUnavailable, err.Error())
	}
	return nil
}
