// Package store implements the persisted state layout spec §6 names:
// requests, workflow_sessions, tool_executions, feedback_events, audit_logs,
// agents, plus the Redis-backed backpressure counter and tool-result
// idempotence cache. Grounded on basegraphhq-basegraph's pgxpool/WithTx
// wrapper (core/db/db.go) for the Postgres half — no other example repo in
// the corpus carries a relational store, and spec §6's six tables are
// naturally relational — and on the teacher's own
// orchestration/redis_task_store.go for the Redis half (SetNX/Scan/TTL
// idiom, ComponentAwareLogger wiring).
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lalo-ai/lalocore/core"
)

// Config configures the Postgres connection pool.
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// DB wraps a pgxpool.Pool and provides transaction support for the six
// tables spec §6's "Persisted state layout" names.
type DB struct {
	pool   *pgxpool.Pool
	logger core.Logger
}

// Open creates a new DB instance, verifying connectivity with a ping.
func Open(ctx context.Context, cfg Config, logger core.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, core.NewEngineError("store.Open", core.ErrInvalidInput, fmt.Sprintf("parsing DSN: %v", err))
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	} else {
		poolCfg.MinConns = 2
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, core.NewEngineError("store.Open", core.ErrDependencyUnavailable, fmt.Sprintf("creating pool: %v", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, core.NewEngineError("store.Open", core.ErrDependencyUnavailable, fmt.Sprintf("pinging database: %v", err))
	}

	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &DB{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// WithTx runs fn inside a transaction, rolling back on any returned error
// and committing otherwise (adapted from basegraph's db.WithTx, minus the
// sqlc-generated Queries layer — this module hand-writes SQL per table).
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return core.NewEngineError("store.WithTx", core.ErrDependencyUnavailable, fmt.Sprintf("beginning transaction: %v", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return core.NewEngineError("store.WithTx", core.ErrDependencyUnavailable, fmt.Sprintf("committing transaction: %v", err))
	}
	return nil
}
