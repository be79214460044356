// Package database implements the read-only SQL query tool from spec §4.2,
// grounded on original_source/core/tools/database_query.py: a SELECT/WITH-only
// statement gate, a row cap, and a statement timeout, adapted onto
// jackc/pgx/v5 (the corpus's Postgres driver) instead of the original's
// SQLAlchemy engine.
package database

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lalo-ai/lalocore/tools"
)

// Tool executes read-only SQL against a pgx pool: the query text is run as
// given, with no bind parameters, and only SELECT/WITH statements pass.
type Tool struct {
	Pool      *pgxpool.Pool
	RowLimit  int
	Timeout   time.Duration
}

// New builds a database Tool over an already-connected pool.
func New(pool *pgxpool.Pool, rowLimit int, timeout time.Duration) *Tool {
	return &Tool{Pool: pool, RowLimit: rowLimit, Timeout: timeout}
}

func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "database_query",
		Description: "Execute safe, read-only SQL queries against the configured database",
		Category:    "database",
		Parameters: []tools.Parameter{
			{Name: "sql", Type: "string", Description: "SELECT query to execute", Required: true},
		},
	}
}

func isSelect(sql string) bool {
	s := strings.ToLower(strings.TrimSpace(sql))
	return strings.HasPrefix(s, "select ") || strings.HasPrefix(s, "with ")
}

func (t *Tool) Execute(ctx context.Context, params map[string]interface{}) (tools.ExecutionResult, error) {
	sql, _ := params["sql"].(string)
	if !isSelect(sql) {
		return tools.ExecutionResult{Success: false, Error: "only SELECT queries are allowed"}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	rows, err := t.Pool.Query(ctx, sql)
	if err != nil {
		return tools.ExecutionResult{Success: false, Error: err.Error()}, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	colNames := make([]string, len(fields))
	for i, f := range fields {
		colNames[i] = string(f.Name)
	}

	var out []map[string]interface{}
	for rows.Next() {
		if len(out) >= t.RowLimit {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return tools.ExecutionResult{Success: false, Error: err.Error()}, err
		}
		row := make(map[string]interface{}, len(colNames))
		for i, name := range colNames {
			if i < len(values) {
				row[name] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return tools.ExecutionResult{Success: false, Error: err.Error()}, err
	}

	return tools.ExecutionResult{Success: true, Output: map[string]interface{}{
		"rows": out, "row_count": len(out),
	}}, nil
}
