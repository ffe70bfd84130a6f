package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools wires every tool onto the MCP server. Handlers translate
// tool arguments into core calls and render results through the formatter;
// no database logic lives here.
func RegisterTools(s *server.MCPServer, session *Session, exec *Executor) {
	s.AddTool(mcp.NewTool("execute_query",
		mcp.WithDescription("Execute a SQL statement against the current database and return a bounded result set. In read-only mode, statements starting with a mutation keyword (INSERT, UPDATE, DELETE, DROP, CREATE, ALTER, TRUNCATE, EXEC) are rejected."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to execute")),
		mcp.WithObject("parameters",
			mcp.Description("Optional named parameters referenced in the SQL as @name; bound through the driver, never interpolated")),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Statement timeout in seconds (default from server config)")),
		mcp.WithNumber("max_rows",
			mcp.Description("Row cap; the result reports whether it was truncated (default from server config)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sqlText, ok := argString(request, "sql")
		if !ok {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		params := argObject(request, "parameters")
		timeout := argSeconds(request, "timeout_seconds")
		maxRows := argInt(request, "max_rows")

		var result *QueryResult
		var err error
		if len(params) > 0 {
			result, err = exec.ExecuteQueryParams(ctx, sqlText, params, timeout, maxRows)
		} else {
			result, err = exec.ExecuteQuery(ctx, sqlText, timeout, maxRows)
		}
		if err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		return mcp.NewToolResultText(FormatQueryResult(result)), nil
	})

	s.AddTool(mcp.NewTool("execute_stored_procedure",
		mcp.WithDescription("Execute a stored procedure with named parameters. Returns its result sets, output parameter values, informational messages and integer return code. Subject to the procedure allowlist."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Procedure name, optionally schema-qualified (e.g. reporting.usp_daily_totals)")),
		mcp.WithObject("parameters",
			mcp.Description("Named input parameters (without the @ sigil)")),
		mcp.WithArray("output_parameters",
			mcp.Description("Names of parameters to declare as output; their final values are returned as text")),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Execution timeout in seconds")),
		mcp.WithBoolean("return_result_sets",
			mcp.Description("Set false for procedures invoked purely for side effects (default true)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, ok := argString(request, "name")
		if !ok {
			return mcp.NewToolResultError("name parameter is required"), nil
		}
		params := argObject(request, "parameters")
		outputs := argStringArray(request, "output_parameters")
		timeout := argSeconds(request, "timeout_seconds")
		returnSets := argBool(request, "return_result_sets", true)

		result, err := exec.ExecuteProcedure(ctx, name, params, outputs, timeout, returnSets)
		if err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		return mcp.NewToolResultText(FormatProcedureResult(result)), nil
	})

	s.AddTool(mcp.NewTool("execute_scalar_function",
		mcp.WithDescription("Invoke a scalar function with positional arguments and return its value. Only available when function execution is enabled."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Function name, optionally schema-qualified (e.g. dbo.fn_tax_rate)")),
		mcp.WithArray("arguments",
			mcp.Description("Positional arguments, bound through the driver")),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Execution timeout in seconds")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, ok := argString(request, "name")
		if !ok {
			return mcp.NewToolResultError("name parameter is required"), nil
		}
		arguments := argArray(request, "arguments")
		timeout := argSeconds(request, "timeout_seconds")

		result, err := exec.ExecuteFunction(ctx, name, arguments, timeout)
		if err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		return mcp.NewToolResultText(FormatQueryResult(result)), nil
	})

	s.AddTool(mcp.NewTool("describe_table",
		mcp.WithDescription("Show the columns, types and nullability of a table."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("Table name")),
		mcp.WithString("schema",
			mcp.Description("Schema name (defaults to dbo)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, ok := argString(request, "table")
		if !ok {
			return mcp.NewToolResultError("table parameter is required"), nil
		}
		schema, _ := argString(request, "schema")

		result, err := session.DescribeTable(ctx, schema, table)
		if err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		return mcp.NewToolResultText(FormatQueryResult(result)), nil
	})

	s.AddTool(mcp.NewTool("list_tables",
		mcp.WithDescription("List the tables and views of the current database."),
		mcp.WithString("schema",
			mcp.Description("Restrict to one schema")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		schema, _ := argString(request, "schema")
		result, err := session.ListTables(ctx, schema)
		if err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		return mcp.NewToolResultText(FormatQueryResult(result)), nil
	})

	s.AddTool(mcp.NewTool("list_databases",
		mcp.WithDescription("List the user databases on the server with state, recovery model and size."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbs, err := session.ListDatabases(ctx)
		if err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		return mcp.NewToolResultText(FormatDatabases(dbs)), nil
	})

	s.AddTool(mcp.NewTool("get_current_database",
		mcp.WithDescription("Return the name of the database the session currently operates on."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := session.CurrentDatabase(ctx)
		if err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Current database: %s", name)), nil
	})

	s.AddTool(mcp.NewTool("switch_database",
		mcp.WithDescription("Switch the session to another database on the same server. The change is durable: subsequent tool calls run against the new database."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Database name (letters, digits and underscore only)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, ok := argString(request, "name")
		if !ok {
			return mcp.NewToolResultError("name parameter is required"), nil
		}
		if err := session.SwitchDatabase(ctx, name); err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Switched to database %s", name)), nil
	})

	s.AddTool(mcp.NewTool("change_connection_string",
		mcp.WithDescription("Replace the active connection string. The new string is validated with a trial connection first; on failure the previous connection stays in effect."),
		mcp.WithString("connection_string",
			mcp.Required(),
			mcp.Description("Full SQL Server connection string (key=value pairs or sqlserver:// URL)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conn, ok := argString(request, "connection_string")
		if !ok {
			return mcp.NewToolResultError("connection_string parameter is required"), nil
		}
		if err := session.Replace(ctx, conn); err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		name, err := session.CurrentDatabase(ctx)
		if err != nil {
			return mcp.NewToolResultText("Connection string replaced."), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Connection string replaced. Current database: %s", name)), nil
	})

	s.AddTool(mcp.NewTool("list_stored_procedures",
		mcp.WithDescription("List the stored procedures of the current database."),
		mcp.WithString("schema",
			mcp.Description("Restrict to one schema")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		schema, _ := argString(request, "schema")
		result, err := session.ListProcedures(ctx, schema)
		if err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		return mcp.NewToolResultText(FormatQueryResult(result)), nil
	})

	s.AddTool(mcp.NewTool("get_procedure_definition",
		mcp.WithDescription("Show the source text and parameter signature of a stored procedure."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Procedure name, optionally schema-qualified")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, ok := argString(request, "name")
		if !ok {
			return mcp.NewToolResultError("name parameter is required"), nil
		}
		definition, signature, err := session.ProcedureDefinition(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		text := definition + "\n"
		if signature.RowCount() > 0 {
			text += "\nParameters:\n" + FormatQueryResult(signature)
		}
		return mcp.NewToolResultText(text), nil
	})

	s.AddTool(mcp.NewTool("list_active_connections",
		mcp.WithDescription("List the server's active client connections (session, login, host, program). Requires VIEW SERVER STATE."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := session.ActiveConnections(ctx)
		if err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		return mcp.NewToolResultText(FormatQueryResult(result)), nil
	})

	s.AddTool(mcp.NewTool("query_performance_stats",
		mcp.WithDescription("Show the most expensive cached queries by total elapsed time, with execution counts, CPU and logical reads. Requires VIEW SERVER STATE."),
		mcp.WithNumber("top",
			mcp.Description("How many queries to return (default 20, max 500)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		top := argInt(request, "top")
		result, err := session.QueryStats(ctx, top)
		if err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		return mcp.NewToolResultText(FormatQueryResult(result)), nil
	})

	s.AddTool(mcp.NewTool("discover_connection_strings",
		mcp.WithDescription("Scan a project directory (.env, appsettings*.json, web.config/app.config) for SQL Server connection strings. Passwords are masked in the output."),
		mcp.WithString("directory",
			mcp.Required(),
			mcp.Description("Directory to scan")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dir, ok := argString(request, "directory")
		if !ok {
			return mcp.NewToolResultError("directory parameter is required"), nil
		}
		found, err := DiscoverConnectionStrings(dir)
		if err != nil {
			return mcp.NewToolResultError(FormatError(err)), nil
		}
		return mcp.NewToolResultText(FormatDiscoveries(found)), nil
	})
}

// --- argument helpers ---

func argString(request mcp.CallToolRequest, name string) (string, bool) {
	v, ok := request.Params.Arguments[name].(string)
	return v, ok && v != ""
}

func argObject(request mcp.CallToolRequest, name string) map[string]any {
	if v, ok := request.Params.Arguments[name].(map[string]any); ok {
		return v
	}
	return nil
}

func argArray(request mcp.CallToolRequest, name string) []any {
	if v, ok := request.Params.Arguments[name].([]any); ok {
		return v
	}
	return nil
}

func argStringArray(request mcp.CallToolRequest, name string) []string {
	var out []string
	for _, v := range argArray(request, name) {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// argInt reads a JSON number argument; zero means "not provided".
func argInt(request mcp.CallToolRequest, name string) int {
	if v, ok := request.Params.Arguments[name].(float64); ok {
		return int(v)
	}
	return 0
}

func argSeconds(request mcp.CallToolRequest, name string) time.Duration {
	return time.Duration(argInt(request, name)) * time.Second
}

func argBool(request mcp.CallToolRequest, name string, def bool) bool {
	if v, ok := request.Params.Arguments[name].(bool); ok {
		return v
	}
	return def
}
