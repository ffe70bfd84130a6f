package main

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/golang-sql/sqlexp"
)

// objectNamePattern matches a plain or schema-qualified object name.
// Procedure and function names travel as RPC targets or interpolated
// identifiers, neither of which can be parameterized.
var objectNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)?$`)

// ExecuteProcedure runs a stored procedure through the policy gate.
// Input parameters are bound by name through the driver. Names listed in
// outputParams are declared as output parameters and their final values
// are read back (as text) once every result set has been drained. The
// procedure's integer return code is captured through a synthetic
// parameter. Informational messages (PRINT, RAISERROR severity 0-10) are
// collected in emission order.
//
// Result sets are capped at the executor's default row limit, same as
// ExecuteQuery, so a runaway procedure cannot exhaust memory. With
// returnResultSets=false each result set is drained without scanning a
// single row; the return code, output parameters and messages still come
// back.
func (e *Executor) ExecuteProcedure(ctx context.Context, name string, params map[string]any, outputParams []string, timeout time.Duration, returnResultSets bool) (*ProcedureResult, error) {
	if !objectNamePattern.MatchString(name) {
		return nil, errInvalidArgument(fmt.Sprintf("invalid procedure name %q", name))
	}
	if err := e.policy.AuthorizeProcedure(name); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	start := time.Now()

	db, err := e.session.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args, outputs := procedureArgs(params, outputParams)

	var returnStatus mssql.ReturnStatus
	args = append(args, &returnStatus)

	retmsg := &sqlexp.ReturnMessage{}
	rows, err := db.QueryContext(qctx, name, append(args, retmsg)...)
	if err != nil {
		return nil, errEngine(fmt.Sprintf("procedure %q failed", name), err)
	}
	defer rows.Close()

	result := &ProcedureResult{OutputParams: map[string]Value{}}

	active := true
	for active {
		msg := retmsg.Message(qctx)
		switch m := msg.(type) {
		case sqlexp.MsgNotice:
			result.Messages = append(result.Messages, fmt.Sprint(m.Message))
		case sqlexp.MsgNext:
			if !returnResultSets {
				drainRows(rows)
				continue
			}
			set, err := collectRows(rows, e.defaultMaxRows)
			if err != nil {
				return nil, err
			}
			result.ResultSets = append(result.ResultSets, *set)
		case sqlexp.MsgNextResultSet:
			active = rows.NextResultSet()
		case sqlexp.MsgError:
			return nil, errEngine(fmt.Sprintf("procedure %q raised an error", name), m.Error)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errEngine(fmt.Sprintf("procedure %q failed", name), err)
	}

	for pname, holder := range outputs {
		result.OutputParams[pname] = outputValue(holder)
	}
	result.ReturnCode = int64(returnStatus)
	result.Elapsed = time.Since(start)

	e.log.Debug().
		Str("procedure", name).
		Int("result_sets", len(result.ResultSets)).
		Int64("return_code", result.ReturnCode).
		Dur("elapsed", result.Elapsed).
		Msg("procedure executed")
	return result, nil
}

// procedureArgs builds driver arguments from the input map plus the output
// declarations. A name present in both is an input/output parameter: its
// input value seeds the holder and In is set. Holders are NullString so a
// procedure that leaves an output parameter NULL does not fail the call.
func procedureArgs(params map[string]any, outputParams []string) ([]any, map[string]*sql.NullString) {
	outputs := map[string]*sql.NullString{}
	for _, name := range outputParams {
		outputs[strings.TrimPrefix(name, "@")] = new(sql.NullString)
	}

	args := make([]any, 0, len(params)+len(outputs))
	for name, value := range params {
		name = strings.TrimPrefix(name, "@")
		if holder, ok := outputs[name]; ok {
			holder.String = fmt.Sprint(value)
			holder.Valid = true
			args = append(args, sql.Named(name, sql.Out{Dest: holder, In: true}))
			continue
		}
		args = append(args, sql.Named(name, value))
	}
	for name, holder := range outputs {
		if _, alsoInput := params[name]; alsoInput {
			continue
		}
		if _, alsoInput := params["@"+name]; alsoInput {
			continue
		}
		args = append(args, sql.Named(name, sql.Out{Dest: holder}))
	}
	return args, outputs
}

// outputValue maps a drained output holder to a result cell.
func outputValue(h *sql.NullString) Value {
	if !h.Valid {
		return Value{Kind: KindNull}
	}
	return Value{Kind: KindText, Str: h.String}
}

// drainRows consumes the remainder of the current result set without
// scanning any cells.
func drainRows(rows *sql.Rows) {
	for rows.Next() {
	}
}

// ExecuteFunction invokes a scalar function with positional arguments and
// returns its single value. Governed solely by the function-execution flag.
func (e *Executor) ExecuteFunction(ctx context.Context, name string, arguments []any, timeout time.Duration) (*QueryResult, error) {
	if !objectNamePattern.MatchString(name) {
		return nil, errInvalidArgument(fmt.Sprintf("invalid function name %q", name))
	}
	if err := e.policy.AuthorizeFunction(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	placeholders := make([]string, len(arguments))
	args := make([]any, len(arguments))
	for i, v := range arguments {
		pname := fmt.Sprintf("p%d", i+1)
		placeholders[i] = "@" + pname
		args[i] = sql.Named(pname, v)
	}

	// The function name is a validated identifier; arguments are bound.
	sqlText := fmt.Sprintf("SELECT %s(%s) AS result", name, strings.Join(placeholders, ", "))

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
		return nil, errEngine(fmt.Sprintf("function %q failed", name), err)
	}
	defer rows.Close()

	result, err := collectRows(rows, 1)
	if err != nil {
		return nil, err
	}
	result.Elapsed = time.Since(start)
	return result, nil
}
