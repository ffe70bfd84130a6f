package main

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// newTestSession builds a session backed by an in-memory SQLite database.
// Every operation opens a fresh connection, so tests use self-contained
// statements that need no pre-created tables.
func newTestSession(t *testing.T, connString string) *Session {
	t.Helper()
	return &Session{
		connString:     connString,
		driver:         "sqlite",
		connectTimeout: 5 * time.Second,
		log:            zerolog.Nop(),
	}
}

func newTestExecutor(t *testing.T, policy *Policy) *Executor {
	t.Helper()
	cfg := &Config{QueryTimeout: 5 * time.Second, MaxRows: 100}
	return NewExecutor(newTestSession(t, ":memory:"), policy, cfg, zerolog.Nop())
}

func TestExecuteQuery_SimpleSelect(t *testing.T) {
	exec := newTestExecutor(t, &Policy{ReadOnly: true})

	result, err := exec.ExecuteQuery(context.Background(), "SELECT 1 AS x, 2 AS y", 0, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y"}, result.Columns)
	require.Equal(t, 1, result.RowCount())
	assert.Equal(t, "1", result.Rows[0][0].String())
	assert.Equal(t, "2", result.Rows[0][1].String())
	assert.False(t, result.Truncated)
	assert.Greater(t, result.Elapsed, time.Duration(0))
}

// countingQuery produces exactly n rows without needing a table.
const countingQuery = `
	WITH RECURSIVE cnt(x) AS (
		SELECT 1 UNION ALL SELECT x + 1 FROM cnt WHERE x < %d
	)
	SELECT x FROM cnt`

func TestExecuteQuery_Truncation(t *testing.T) {
	exec := newTestExecutor(t, &Policy{ReadOnly: true})
	ctx := context.Background()
	query := func(n int) string {
		return fmt.Sprintf(countingQuery, n)
	}

	t.Run("source exceeds cap", func(t *testing.T) {
		result, err := exec.ExecuteQuery(ctx, query(10), 0, 5)
		require.NoError(t, err)
		assert.Equal(t, 5, result.RowCount())
		assert.True(t, result.Truncated)
	})

	t.Run("source exactly at cap", func(t *testing.T) {
		result, err := exec.ExecuteQuery(ctx, query(10), 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 10, result.RowCount())
		assert.False(t, result.Truncated, "a source with exactly maxRows rows is not truncated")
	})

	t.Run("source below cap", func(t *testing.T) {
		result, err := exec.ExecuteQuery(ctx, query(3), 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, result.RowCount())
		assert.False(t, result.Truncated)
	})
}

func TestExecuteQuery_PolicyCheckedBeforeConnecting(t *testing.T) {
	// The session's driver does not exist, so any connection attempt would
	// surface as a connection error. A policy violation proves the gate
	// runs first.
	session := &Session{connString: "x", driver: "no-such-driver", log: zerolog.Nop()}
	cfg := &Config{QueryTimeout: time.Second, MaxRows: 10}
	exec := NewExecutor(session, &Policy{ReadOnly: true}, cfg, zerolog.Nop())

	_, err := exec.ExecuteQuery(context.Background(), "DELETE FROM users", 0, 0)
	require.Error(t, err)
	assert.True(t, IsPolicyViolation(err), "expected a policy violation, got: %v", err)
}

func TestExecuteQueryParams_NamedParameters(t *testing.T) {
	exec := newTestExecutor(t, &Policy{ReadOnly: true})

	// The @ sigil on the key is accepted and stripped before binding.
	result, err := exec.ExecuteQueryParams(context.Background(),
		"SELECT @x AS x, @y AS y",
		map[string]any{"@x": int64(7), "y": "seven"}, 0, 0)
	require.NoError(t, err)

	require.Equal(t, 1, result.RowCount())
	assert.Equal(t, "7", result.Rows[0][0].String())
	assert.Equal(t, "seven", result.Rows[0][1].String())
}

func TestExecuteQuery_NoResultSet(t *testing.T) {
	exec := newTestExecutor(t, &Policy{ReadOnly: false})

	result, err := exec.ExecuteQuery(context.Background(), "CREATE TABLE t (x INTEGER)", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RowCount())
	assert.Empty(t, result.Columns)
}

func TestExecuteQuery_EngineError(t *testing.T) {
	exec := newTestExecutor(t, &Policy{ReadOnly: true})

	_, err := exec.ExecuteQuery(context.Background(), "SELECT * FROM no_such_table", 0, 0)
	require.Error(t, err)
	assert.False(t, IsPolicyViolation(err))
	assert.False(t, IsConnectionError(err))
}

func TestExecuteFunction(t *testing.T) {
	exec := newTestExecutor(t, &Policy{AllowFunctions: true})

	result, err := exec.ExecuteFunction(context.Background(), "abs", []any{int64(-5)}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, result.RowCount())
	assert.Equal(t, []string{"result"}, result.Columns)
	assert.Equal(t, "5", result.Rows[0][0].String())
}

func TestExecuteFunction_Gates(t *testing.T) {
	t.Run("disabled by policy", func(t *testing.T) {
		exec := newTestExecutor(t, &Policy{})
		_, err := exec.ExecuteFunction(context.Background(), "abs", []any{int64(1)}, 0)
		require.Error(t, err)
		assert.True(t, IsPolicyViolation(err))
	})

	t.Run("invalid name", func(t *testing.T) {
		exec := newTestExecutor(t, &Policy{AllowFunctions: true})
		_, err := exec.ExecuteFunction(context.Background(), "abs(); DROP TABLE t", nil, 0)
		require.Error(t, err)
		assert.True(t, IsInvalidArgument(err))
	})
}

func TestExecuteProcedure_Gates(t *testing.T) {
	cfg := &Config{QueryTimeout: time.Second, MaxRows: 10}
	session := &Session{connString: "x", driver: "no-such-driver", log: zerolog.Nop()}

	t.Run("disabled by policy", func(t *testing.T) {
		exec := NewExecutor(session, &Policy{ReadOnly: true}, cfg, zerolog.Nop())
		_, err := exec.ExecuteProcedure(context.Background(), "dbo.usp_x", nil, nil, 0, true)
		require.Error(t, err)
		assert.True(t, IsPolicyViolation(err))
	})

	t.Run("allowlist miss", func(t *testing.T) {
		policy := &Policy{AllowProcedures: true, ProcedureAllowlist: []string{"reporting.*"}}
		exec := NewExecutor(session, policy, cfg, zerolog.Nop())
		_, err := exec.ExecuteProcedure(context.Background(), "dbo.usp_x", nil, nil, 0, true)
		require.Error(t, err)
		assert.True(t, IsPolicyViolation(err))
	})

	t.Run("invalid name", func(t *testing.T) {
		exec := NewExecutor(session, &Policy{AllowProcedures: true}, cfg, zerolog.Nop())
		_, err := exec.ExecuteProcedure(context.Background(), "dbo.usp_x; DROP TABLE t", nil, nil, 0, true)
		require.Error(t, err)
		assert.True(t, IsInvalidArgument(err))
	})
}

func TestProcedureArgs(t *testing.T) {
	params := map[string]any{"@in_value": 42, "inout": "seed"}
	args, outputs := procedureArgs(params, []string{"@result", "inout"})

	assert.Len(t, args, 3)
	require.Len(t, outputs, 2)
	require.Contains(t, outputs, "result")
	require.Contains(t, outputs, "inout")
	assert.Equal(t, "seed", outputs["inout"].String, "input value seeds the in/out holder")
	assert.True(t, outputs["inout"].Valid)
	assert.False(t, outputs["result"].Valid, "pure output holder starts out NULL")
}

func TestOutputValue_NullOutputParameter(t *testing.T) {
	null := outputValue(&sql.NullString{})
	assert.True(t, null.IsNull())
	assert.Equal(t, "NULL", null.String())

	set := outputValue(&sql.NullString{String: "99", Valid: true})
	assert.Equal(t, "99", set.String())
}

func TestDrainRows_ConsumesWithoutMaterializing(t *testing.T) {
	session := newTestSession(t, ":memory:")
	db, err := session.open(context.Background())
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.QueryContext(context.Background(), fmt.Sprintf(countingQuery, 50))
	require.NoError(t, err)
	defer rows.Close()

	drainRows(rows)
	assert.False(t, rows.Next(), "drain leaves nothing behind")
	require.NoError(t, rows.Err())
}

func TestCollectRows_PropagatesMetadataErrors(t *testing.T) {
	session := newTestSession(t, ":memory:")
	db, err := session.open(context.Background())
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.QueryContext(context.Background(), "SELECT 1 AS x")
	require.NoError(t, err)
	require.NoError(t, rows.Close())

	_, err = collectRows(rows, 10)
	require.Error(t, err, "a closed cursor is an error, not an empty result")
}
