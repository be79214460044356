package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lalo-ai/lalocore/core"
	"github.com/lalo-ai/lalocore/orchestrator"
)

// RequestStatus is the lifecycle status of a persisted Request row.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

// Request is the persisted record spec §3 names, created when C8 enters
// and updated on completion or failure.
type Request struct {
	ID               string
	UserID           string
	Model            string
	Prompt           string
	Response         string
	Status           RequestStatus
	TokensUsed       int
	Cost             float64
	Error            string
	CreatedAt        time.Time
	CompletedAt      *time.Time
	FallbackAttempts []orchestrator.FallbackAttempt
}

const requestsSchema = `
CREATE TABLE IF NOT EXISTS requests (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	model             TEXT NOT NULL DEFAULT '',
	prompt            TEXT NOT NULL,
	response          TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	tokens_used       INTEGER NOT NULL DEFAULT 0,
	cost              DOUBLE PRECISION NOT NULL DEFAULT 0,
	error             TEXT NOT NULL DEFAULT '',
	fallback_attempts JSONB NOT NULL DEFAULT '[]',
	created_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ
);`

// EnsureSchema creates every table this package owns if absent. Schema
// migration tooling is explicitly out of scope (spec §1); this is the
// bootstrap-only equivalent a local/demo deployment runs once at startup.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{requestsSchema, workflowSessionsSchema, toolExecutionsSchema, feedbackEventsSchema, auditLogsSchema, agentsSchema} {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return core.NewEngineError("store.EnsureSchema", core.ErrDependencyUnavailable, err.Error())
		}
	}
	return nil
}

// CreateRequest inserts a new pending Request row (spec §3: "Created when
// C8 enters").
func (db *DB) CreateRequest(ctx context.Context, r *Request) error {
	if r.ID == "" {
		return core.NewEngineError("store.CreateRequest", core.ErrInvalidInput, "request id is required")
	}
	if r.Status == "" {
		r.Status = RequestPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	attempts, err := json.Marshal(r.FallbackAttempts)
	if err != nil {
		return core.NewEngineError("store.CreateRequest", core.ErrInvalidInput, err.Error())
	}

	_, err = db.pool.Exec(ctx, `
		INSERT INTO requests (id, user_id, model, prompt, response, status, tokens_used, cost, error, fallback_attempts, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.UserID, r.Model, r.Prompt, r.Response, string(r.Status), r.TokensUsed, r.Cost, r.Error, attempts, r.CreatedAt, r.CompletedAt)
	if err != nil {
		return core.NewEngineError("store.CreateRequest", core.ErrDependencyUnavailable, err.Error())
	}
	return nil
}

// CompleteRequest atomically transitions a Request row to completed,
// recording the response, usage, cost, and fallback audit trail in one
// read-modify-write (spec §6: "Atomic read-modify-write on Request rows").
func (db *DB) CompleteRequest(ctx context.Context, id, response string, tokensUsed int, cost float64, attempts []orchestrator.FallbackAttempt) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		data, err := json.Marshal(attempts)
		if err != nil {
			return core.NewEngineError("store.CompleteRequest", core.ErrInvalidInput, err.Error())
		}
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx, `
			UPDATE requests SET status = $1, response = $2, tokens_used = $3, cost = $4, fallback_attempts = $5, completed_at = $6
			WHERE id = $7`,
			string(RequestCompleted), response, tokensUsed, cost, data, now, id)
		if err != nil {
			return core.NewEngineError("store.CompleteRequest", core.ErrDependencyUnavailable, err.Error())
		}
		if tag.RowsAffected() == 0 {
			return core.NewEngineError("store.CompleteRequest", core.ErrNotFound, fmt.Sprintf("request %s not found", id))
		}
		return nil
	})
}

// FailRequest atomically transitions a Request row to failed with a terse,
// user-visible message (spec §6: "Failed requests return status=failed
// with a terse message — no stack traces, no provider internals").
func (db *DB) FailRequest(ctx context.Context, id, errMsg string, attempts []orchestrator.FallbackAttempt) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		data, err := json.Marshal(attempts)
		if err != nil {
			return core.NewEngineError("store.FailRequest", core.ErrInvalidInput, err.Error())
		}
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx, `
			UPDATE requests SET status = $1, error = $2, fallback_attempts = $3, completed_at = $4
			WHERE id = $5`,
			string(RequestFailed), errMsg, data, now, id)
		if err != nil {
			return core.NewEngineError("store.FailRequest", core.ErrDependencyUnavailable, err.Error())
		}
		if tag.RowsAffected() == 0 {
			return core.NewEngineError("store.FailRequest", core.ErrNotFound, fmt.Sprintf("request %s not found", id))
		}
		return nil
	})
}

// GetRequest fetches a Request row by ID.
func (db *DB) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, user_id, model, prompt, response, status, tokens_used, cost, error, fallback_attempts, created_at, completed_at
		FROM requests WHERE id = $1`, id)

	var r Request
	var status string
	var attempts []byte
	if err := row.Scan(&r.ID, &r.UserID, &r.Model, &r.Prompt, &r.Response, &status, &r.TokensUsed, &r.Cost, &r.Error, &attempts, &r.CreatedAt, &r.CompletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, core.NewEngineError("store.GetRequest", core.ErrNotFound, fmt.Sprintf("request %s not found", id))
		}
		return nil, core.NewEngineError("store.GetRequest", core.ErrDependencyUnavailable, err.Error())
	}
	r.Status = RequestStatus(status)
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &r.FallbackAttempts); err != nil {
			return nil, core.NewEngineError("store.GetRequest", core.ErrInternal, err.Error())
		}
	}
	return &r, nil
}
