package main

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Executor runs ad-hoc SQL through the policy gate and shapes the result.
// Each call opens its own short-lived connection via the session.
type Executor struct {
	session *Session
	policy  *Policy

	defaultTimeout time.Duration
	defaultMaxRows int
	log            zerolog.Logger
}

// NewExecutor wires an executor to a session and policy gate.
func NewExecutor(session *Session, policy *Policy, cfg *Config, log zerolog.Logger) *Executor {
	return &Executor{
		session:        session,
		policy:         policy,
		defaultTimeout: cfg.QueryTimeout,
		defaultMaxRows: cfg.MaxRows,
		log:            log.With().Str("component", "executor").Logger(),
	}
}

// ExecuteQuery runs a single SQL statement with the given timeout and row
// cap and returns a bounded result set. Elapsed time covers the whole
// call, connection setup included.
func (e *Executor) ExecuteQuery(ctx context.Context, sqlText string, timeout time.Duration, maxRows int) (*QueryResult, error) {
	return e.execute(ctx, sqlText, nil, timeout, maxRows)
}

// ExecuteQueryParams is ExecuteQuery with named parameters bound through
// the driver, never interpolated. Policy inspects the raw SQL text exactly
// as the unparameterized path does.
func (e *Executor) ExecuteQueryParams(ctx context.Context, sqlText string, params map[string]any, timeout time.Duration, maxRows int) (*QueryResult, error) {
	return e.execute(ctx, sqlText, namedArgs(params), timeout, maxRows)
}

func (e *Executor) execute(ctx context.Context, sqlText string, args []any, timeout time.Duration, maxRows int) (*QueryResult, error) {
	if err := e.policy.AuthorizeQuery(sqlText); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if maxRows <= 0 {
		maxRows = e.defaultMaxRows
	}

	start := time.Now()

	db, err := e.session.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.QueryContext(qctx, sqlText, args...)
	if err != nil {
		return nil, errEngine("query failed", err)
	}
	defer rows.Close()

	result, err := collectRows(rows, maxRows)
	if err != nil {
		return nil, err
	}
	result.Elapsed = time.Since(start)

	e.log.Debug().
		Int("rows", result.RowCount()).
		Bool("truncated", result.Truncated).
		Dur("elapsed", result.Elapsed).
		Msg("query executed")
	return result, nil
}

// collectRows drains up to maxRows rows and then probes once more to learn
// whether the source had additional rows, without materializing them.
func collectRows(rows *sql.Rows, maxRows int) (*QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, errEngine("could not read result metadata", err)
	}
	if len(cols) == 0 {
		// Statements that produce no result set (plain DML under a
		// permissive policy) come back without column metadata.
		return &QueryResult{}, nil
	}

	result := &QueryResult{Columns: cols}
	for len(result.Rows) < maxRows && rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errEngine("could not scan row", err)
		}

		cells := make([]Value, len(cols))
		for i, v := range raw {
			cells[i] = newValue(v)
		}
		result.Rows = append(result.Rows, cells)
	}

	if len(result.Rows) == maxRows && rows.Next() {
		result.Truncated = true
	}
	if err := rows.Err(); err != nil {
		return nil, errEngine("error iterating rows", err)
	}
	return result, nil
}

// namedArgs converts a name→value map into driver named arguments.
// A leading @ on the key is accepted and stripped; the driver adds the
// sigil back at the wire level.
func namedArgs(params map[string]any) []any {
	if len(params) == 0 {
		return nil
	}
	args := make([]any, 0, len(params))
	for name, value := range params {
		args = append(args, sql.Named(strings.TrimPrefix(name, "@"), value))
	}
	return args
}
