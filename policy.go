package main

import (
	"fmt"
	"strings"
)

// deniedPrefixes are the statement-leading keywords blocked in read-only
// mode. This is deliberately a prefix check, not a parser: a multi-statement
// batch whose forbidden statement is not first slips through. Callers who
// need a hard guarantee should connect with a read-only login instead.
var deniedPrefixes = []string{
	"INSERT",
	"UPDATE",
	"DELETE",
	"DROP",
	"CREATE",
	"ALTER",
	"TRUNCATE",
	"EXEC",
	"EXECUTE",
}

// Policy decides whether a requested operation is permitted. It is loaded
// once at startup and never mutated afterwards; every method is a pure
// function of the config and its input.
type Policy struct {
	ReadOnly           bool
	AllowProcedures    bool
	ProcedureAllowlist []string
	AllowFunctions     bool
}

// AuthorizeQuery gates a raw SQL statement. In read-only mode the trimmed,
// upper-cased statement must not start with a mutation or execution keyword.
// A bare prefix check on purpose: T-SQL statements never start with an
// identifier, so there is nothing legitimate for EXEC('...'), DELETE[t] or
// INSERT/*c*/INTO to collide with.
func (p *Policy) AuthorizeQuery(sqlText string) error {
	if !p.ReadOnly {
		return nil
	}
	upper := strings.ToUpper(strings.TrimSpace(sqlText))
	for _, kw := range deniedPrefixes {
		if strings.HasPrefix(upper, kw) {
			return errPolicy(fmt.Sprintf("read-only mode: %s statements are not allowed", kw))
		}
	}
	return nil
}

// AuthorizeProcedure gates a stored procedure call. With a non-empty
// allowlist the name must match an entry exactly (case-insensitive) or
// match a "schema.*" wildcard entry by prefix.
func (p *Policy) AuthorizeProcedure(name string) error {
	if p.ReadOnly && !p.AllowProcedures {
		return errPolicy("read-only mode: stored procedure execution is disabled")
	}
	if !p.AllowProcedures {
		return errPolicy("stored procedure execution is disabled")
	}
	if len(p.ProcedureAllowlist) == 0 {
		return nil
	}
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, pattern := range p.ProcedureAllowlist {
		pat := strings.ToLower(strings.TrimSpace(pattern))
		if pat == "" {
			continue
		}
		if strings.HasSuffix(pat, ".*") {
			if strings.HasPrefix(lower, strings.TrimSuffix(pat, "*")) {
				return nil
			}
			continue
		}
		if lower == pat {
			return nil
		}
	}
	return errPolicy(fmt.Sprintf("procedure %q is not on the allowlist", name))
}

// AuthorizeFunction gates scalar function execution. No allowlist applies.
func (p *Policy) AuthorizeFunction() error {
	if !p.AllowFunctions {
		return errPolicy("function execution is disabled")
	}
	return nil
}
