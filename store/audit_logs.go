package store

import (
	"context"
	"time"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/orchestrator"
)

const auditLogsSchema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id           BIGSERIAL PRIMARY KEY,
	request_id   TEXT NOT NULL,
	model        TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	reason       TEXT NOT NULL,
	output_excerpt TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);`

// RecordFallbackAttempt appends one FallbackAttempt to the compliance
// trail (spec §6: "Fallback attempts are stored both inline on the
// requests row ... and in audit_logs for compliance trail"). Inline
// storage is Request.FallbackAttempts; this is the append-only mirror.
func (db *DB) RecordFallbackAttempt(ctx context.Context, requestID string, attempt orchestrator.FallbackAttempt) error {
	at := attempt.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO audit_logs (request_id, model, confidence, reason, output_excerpt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		requestID, attempt.Model, attempt.Confidence, attempt.Reason, attempt.OutputExcerpt, at)
	if err != nil {
		return core.NewEngineError("store.RecordFallbackAttempt", core.ErrDependencyUnavailable, err.Error())
	}
	return nil
}

// ListAuditLog returns every fallback attempt recorded for a request, in
// chronological order, for compliance review.
func (db *DB) ListAuditLog(ctx context.Context, requestID string) ([]orchestrator.FallbackAttempt, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT model, confidence, reason, output_excerpt, created_at FROM audit_logs
		WHERE request_id = $1 ORDER BY created_at ASC`, requestID)
	if err != nil {
		return nil, core.NewEngineError("store.ListAuditLog", core.ErrDependencyUnavailable, err.Error())
	}
	defer rows.Close()

	var attempts []orchestrator.FallbackAttempt
	for rows.Next() {
		var a orchestrator.FallbackAttempt
		if err := rows.Scan(&a.Model, &a.Confidence, &a.Reason, &a.OutputExcerpt, &a.Timestamp); err != nil {
			return nil, core.NewEngineError("store.ListAuditLog", core.ErrInternal, err.Error())
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
