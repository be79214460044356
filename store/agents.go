package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lalo-ai/lalocore/core"
)

const agentsSchema = `
CREATE TABLE IF NOT EXISTS agents (
	name    TEXT PRIMARY KEY,
	model   TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE
);`

// Agent is the minimal persisted record spec §6's agents collection names.
// Admin CRUD over this table is explicitly out of scope (spec §1) — this
// package exposes only the read path C4/C6 need to resolve a configured
// agent's backing model, plus an Upsert for seeding/test fixtures.
type Agent struct {
	Name    string
	Model   string
	Enabled bool
}

// UpsertAgent inserts or updates an agent record.
func (db *DB) UpsertAgent(ctx context.Context, a Agent) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO agents (name, model, enabled) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET model = $2, enabled = $3`,
		a.Name, a.Model, a.Enabled)
	if err != nil {
		return core.NewEngineError("store.UpsertAgent", core.ErrDependencyUnavailable, err.Error())
	}
	return nil
}

// GetAgent fetches one agent by name.
func (db *DB) GetAgent(ctx context.Context, name string) (*Agent, error) {
	row := db.pool.QueryRow(ctx, `SELECT name, model, enabled FROM agents WHERE name = $1`, name)
	var a Agent
	if err := row.Scan(&a.Name, &a.Model, &a.Enabled); err != nil {
		if err == pgx.ErrNoRows {
			return nil, core.NewEngineError("store.GetAgent", core.ErrNotFound, fmt.Sprintf("agent %s not found", name))
		}
		return nil, core.NewEngineError("store.GetAgent", core.ErrDependencyUnavailable, err.Error())
	}
	return &a, nil
}

// ListEnabledAgents returns every agent currently enabled.
func (db *DB) ListEnabledAgents(ctx context.Context) ([]Agent, error) {
	rows, err := db.pool.Query(ctx, `SELECT name, model, enabled FROM agents WHERE enabled = TRUE`)
	if err != nil {
		return nil, core.NewEngineError("store.ListEnabledAgents", core.ErrDependencyUnavailable, err.Error())
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.Name, &a.Model, &a.Enabled); err != nil {
			return nil, core.NewEngineError("store.ListEnabledAgents", core.ErrInternal, err.Error())
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
