package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// query runs a fixed introspection statement on a fresh connection and
// shapes the rows like the executor does. These statements are built from
// constants plus bound parameters; they never carry caller SQL.
func (s *Session) query(ctx context.Context, sqlText string, maxRows int, args ...any) (*QueryResult, error) {
	start := time.Now()

	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, errEngine("catalog query failed", err)
	}
	defer rows.Close()

	result, err := collectRows(rows, maxRows)
	if err != nil {
		return nil, err
	}
	result.Elapsed = time.Since(start)
	return result, nil
}

// ListTables returns the user tables of the current database, optionally
// restricted to one schema.
func (s *Session) ListTables(ctx context.Context, schema string) (*QueryResult, error) {
	const q = `
		SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE
		FROM INFORMATION_SCHEMA.TABLES
		WHERE (@schema = '' OR TABLE_SCHEMA = @schema)
		ORDER BY TABLE_SCHEMA, TABLE_NAME`
	return s.query(ctx, q, DefaultMaxRows, sql.Named("schema", schema))
}

// DescribeTable returns column metadata for one table. The schema defaults
// to dbo. A table with no matching columns does not exist.
func (s *Session) DescribeTable(ctx context.Context, schema, table string) (*QueryResult, error) {
	if schema == "" {
		schema = "dbo"
	}
	const q = `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE,
		       CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE,
		       COLUMN_DEFAULT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
		ORDER BY ORDINAL_POSITION`
	result, err := s.query(ctx, q, DefaultMaxRows, sql.Named("schema", schema), sql.Named("table", table))
	if err != nil {
		return nil, err
	}
	if result.RowCount() == 0 {
		return nil, errNotFound(fmt.Sprintf("table %s.%s does not exist", schema, table))
	}
	return result, nil
}

// ListProcedures returns the stored procedures of the current database,
// optionally restricted to one schema.
func (s *Session) ListProcedures(ctx context.Context, schema string) (*QueryResult, error) {
	const q = `
		SELECT sch.name AS schema_name, p.name AS procedure_name,
		       p.create_date, p.modify_date
		FROM sys.procedures p
		JOIN sys.schemas sch ON p.schema_id = sch.schema_id
		WHERE (@schema = '' OR sch.name = @schema)
		ORDER BY sch.name, p.name`
	return s.query(ctx, q, DefaultMaxRows, sql.Named("schema", schema))
}

// ProcedureDefinition returns the source text of a stored procedure and
// its parameter signature.
func (s *Session) ProcedureDefinition(ctx context.Context, name string) (string, *QueryResult, error) {
	if !objectNamePattern.MatchString(name) {
		return "", nil, errInvalidArgument(fmt.Sprintf("invalid procedure name %q", name))
	}

	definition, err := s.query(ctx,
		"SELECT OBJECT_DEFINITION(OBJECT_ID(@name)) AS definition", 1,
		sql.Named("name", name))
	if err != nil {
		return "", nil, err
	}
	if definition.RowCount() == 0 || definition.Rows[0][0].IsNull() {
		return "", nil, errNotFound(fmt.Sprintf("procedure %q does not exist (or its definition is not visible to this login)", name))
	}

	const sig = `
		SELECT pr.name AS parameter_name,
		       TYPE_NAME(pr.user_type_id) AS data_type,
		       pr.max_length, pr.is_output
		FROM sys.parameters pr
		WHERE pr.object_id = OBJECT_ID(@name)
		ORDER BY pr.parameter_id`
	signature, err := s.query(ctx, sig, DefaultMaxRows, sql.Named("name", name))
	if err != nil {
		return "", nil, err
	}

	return definition.Rows[0][0].String(), signature, nil
}

// ActiveConnections lists the server's current client connections. Needs
// VIEW SERVER STATE; a permission denial comes back with that hint.
func (s *Session) ActiveConnections(ctx context.Context) (*QueryResult, error) {
	const q = `
		SELECT c.session_id, c.client_net_address, c.connect_time,
		       se.login_name, se.host_name, se.program_name, se.status,
		       DB_NAME(se.database_id) AS database_name
		FROM sys.dm_exec_connections c
		JOIN sys.dm_exec_sessions se ON c.session_id = se.session_id
		ORDER BY c.connect_time DESC`
	return s.query(ctx, q, DefaultMaxRows)
}

// QueryStats returns the top cached query plans by total elapsed time.
// TOP cannot be parameterized; top is a validated integer formatted in.
func (s *Session) QueryStats(ctx context.Context, top int) (*QueryResult, error) {
	if top <= 0 {
		top = 20
	}
	if top > 500 {
		top = 500
	}
	q := fmt.Sprintf(`
		SELECT TOP %d
		       SUBSTRING(st.text, (qs.statement_start_offset/2) + 1,
		           ((CASE qs.statement_end_offset WHEN -1 THEN DATALENGTH(st.text)
		             ELSE qs.statement_end_offset END - qs.statement_start_offset)/2) + 1) AS query_text,
		       qs.execution_count,
		       qs.total_elapsed_time / 1000 AS total_elapsed_ms,
		       qs.total_elapsed_time / qs.execution_count / 1000 AS avg_elapsed_ms,
		       qs.total_logical_reads,
		       qs.total_worker_time / 1000 AS total_cpu_ms,
		       qs.last_execution_time
		FROM sys.dm_exec_query_stats qs
		CROSS APPLY sys.dm_exec_sql_text(qs.sql_handle) st
		ORDER BY qs.total_elapsed_time DESC`, top)
	return s.query(ctx, q, top)
}
