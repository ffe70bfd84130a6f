package main

import (
	"testing"
)

func TestAuthorizeQuery_AllowedStatements(t *testing.T) {
	policy := &Policy{ReadOnly: true}

	allowed := []string{
		"SELECT * FROM users",
		"SELECT id, name FROM users WHERE id = 1",
		"select * from users", // lowercase
		"  SELECT 1  ",        // surrounding whitespace
		"WITH totals AS (SELECT 1 AS n) SELECT * FROM totals",
		"SELECT * FROM settings",                              // 'settings' contains 'set'
		"SELECT created_at FROM orders",                       // 'created' contains 'create'
		"SELECT updated_at FROM products",                     // 'updated' contains 'update'
		"SELECT deleted FROM items",                           // 'deleted' contains 'delete'
		"SELECT * FROM users WHERE name = 'DROP TABLE users'", // keyword in string literal
		"SELECT * FROM EXECUTIONS",                            // table name starts with EXEC
		"DECLARE @x INT = 1 SELECT @x",
	}

	for _, query := range allowed {
		t.Run(query, func(t *testing.T) {
			if err := policy.AuthorizeQuery(query); err != nil {
				t.Errorf("expected query to be allowed, got: %v", err)
			}
		})
	}
}

func TestAuthorizeQuery_BlockedStatements(t *testing.T) {
	policy := &Policy{ReadOnly: true}

	blocked := []struct {
		query   string
		keyword string
	}{
		{"INSERT INTO users VALUES (1, 'test')", "INSERT"},
		{"UPDATE users SET name = 'test'", "UPDATE"},
		{"DELETE FROM users", "DELETE"},
		{"DROP TABLE users", "DROP"},
		{"CREATE TABLE test (id INT)", "CREATE"},
		{"ALTER TABLE users ADD age INT", "ALTER"},
		{"TRUNCATE TABLE users", "TRUNCATE"},
		{"EXEC sp_who", "EXEC"},
		{"EXECUTE sp_who", "EXECUTE"},
		{"exec sp_who", "EXEC"},
		{"  delete from users", "DELETE"},
		{"DELETE\nFROM users", "DELETE"},
		{"DELETE\tFROM users", "DELETE"},
		{"DELETE", "DELETE"},                        // bare keyword
		{"EXEC('DROP TABLE users')", "EXEC"},        // dynamic SQL, no space after the keyword
		{"EXECUTE('DELETE FROM users')", "EXECUTE"},
		{"DELETE[users]", "DELETE"},                 // bracket-quoted target
		{"INSERT/*c*/INTO t VALUES (1)", "INSERT"},  // comment instead of whitespace
		{"UPDATE[t] SET x = 1", "UPDATE"},
	}

	for _, tc := range blocked {
		t.Run(tc.query, func(t *testing.T) {
			err := policy.AuthorizeQuery(tc.query)
			if err == nil {
				t.Errorf("expected %s statement to be blocked, but it was allowed", tc.keyword)
				return
			}
			if !IsPolicyViolation(err) {
				t.Errorf("expected a policy violation, got: %v", err)
			}
		})
	}
}

// The gate is a prefix check, not a parser: a batch whose forbidden
// statement comes second is accepted. This documents the limitation.
func TestAuthorizeQuery_MultiStatementBatchSlipsThrough(t *testing.T) {
	policy := &Policy{ReadOnly: true}
	if err := policy.AuthorizeQuery("SELECT 1; DELETE FROM users"); err != nil {
		t.Errorf("prefix check unexpectedly blocked a trailing statement: %v", err)
	}
}

func TestAuthorizeQuery_WritableMode(t *testing.T) {
	policy := &Policy{ReadOnly: false}
	for _, query := range []string{"DELETE FROM users", "INSERT INTO t VALUES (1)", "EXEC sp_who"} {
		if err := policy.AuthorizeQuery(query); err != nil {
			t.Errorf("writable mode should allow %q, got: %v", query, err)
		}
	}
}

func TestAuthorizeProcedure_Flags(t *testing.T) {
	cases := []struct {
		name    string
		policy  Policy
		allowed bool
	}{
		{"read-only without procedures", Policy{ReadOnly: true}, false},
		{"writable without procedures", Policy{ReadOnly: false}, false},
		{"read-only with procedures", Policy{ReadOnly: true, AllowProcedures: true}, true},
		{"writable with procedures", Policy{ReadOnly: false, AllowProcedures: true}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.AuthorizeProcedure("dbo.usp_anything")
			if tc.allowed && err != nil {
				t.Errorf("expected procedure to be allowed, got: %v", err)
			}
			if !tc.allowed {
				if err == nil {
					t.Error("expected procedure to be blocked, but it was allowed")
				} else if !IsPolicyViolation(err) {
					t.Errorf("expected a policy violation, got: %v", err)
				}
			}
		})
	}
}

func TestAuthorizeProcedure_Allowlist(t *testing.T) {
	policy := &Policy{
		AllowProcedures:    true,
		ProcedureAllowlist: []string{"dbo.usp_get_report", "reporting.*"},
	}

	cases := []struct {
		name    string
		allowed bool
	}{
		{"dbo.usp_get_report", true},
		{"DBO.USP_GET_REPORT", true}, // case-insensitive
		{"reporting.usp_daily_totals", true},
		{"reporting.anything_at_all", true},
		{"dbo.usp_delete_everything", false},
		{"reporting_extra.usp_x", false}, // wildcard binds to the dot
		{"usp_get_report", false},        // exact match includes the schema
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := policy.AuthorizeProcedure(tc.name)
			if tc.allowed && err != nil {
				t.Errorf("expected %q to match the allowlist, got: %v", tc.name, err)
			}
			if !tc.allowed && err == nil {
				t.Errorf("expected %q to be rejected by the allowlist", tc.name)
			}
		})
	}
}

func TestAuthorizeProcedure_EmptyAllowlistPermitsAll(t *testing.T) {
	policy := &Policy{AllowProcedures: true}
	if err := policy.AuthorizeProcedure("any.procedure"); err != nil {
		t.Errorf("empty allowlist should permit every procedure, got: %v", err)
	}
}

func TestAuthorizeFunction(t *testing.T) {
	enabled := &Policy{AllowFunctions: true}
	if err := enabled.AuthorizeFunction(); err != nil {
		t.Errorf("expected function execution to be allowed, got: %v", err)
	}

	disabled := &Policy{}
	err := disabled.AuthorizeFunction()
	if err == nil {
		t.Error("expected function execution to be blocked")
	} else if !IsPolicyViolation(err) {
		t.Errorf("expected a policy violation, got: %v", err)
	}
}
