package main

import (
	"errors"
	"fmt"

	mssql "github.com/denisenkom/go-mssqldb"
)

// ErrKind categorizes a tool failure without exposing driver internals.
type ErrKind int

const (
	KindEngineError     ErrKind = iota // uncategorized engine failure, original message preserved
	KindPolicyViolation                // denied by the policy gate
	KindConnectionError                // could not open or use a connection
	KindInvalidArgument                // malformed caller input (bad identifier, bad parameter)
	KindNotFound                       // target table/procedure/database does not exist
)

func (k ErrKind) String() string {
	switch k {
	case KindPolicyViolation:
		return "policy_violation"
	case KindConnectionError:
		return "connection_error"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	default:
		return "engine_error"
	}
}

// ToolError is the single error type returned by all core operations.
// The underlying engine error, if any, is preserved as Cause so callers
// can diagnose failures without server-side log access.
type ToolError struct {
	Kind    ErrKind
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

func errPolicy(msg string) *ToolError {
	return &ToolError{Kind: KindPolicyViolation, Message: msg}
}

func errConnection(msg string, cause error) *ToolError {
	return &ToolError{Kind: KindConnectionError, Message: msg, Cause: cause}
}

func errInvalidArgument(msg string) *ToolError {
	return &ToolError{Kind: KindInvalidArgument, Message: msg}
}

func errNotFound(msg string) *ToolError {
	return &ToolError{Kind: KindNotFound, Message: msg}
}

// errEngine wraps an engine failure. Permission denials on server-level
// DMVs get an actionable hint since they are user-correctable, not bugs.
func errEngine(msg string, cause error) *ToolError {
	var me mssql.Error
	if errors.As(cause, &me) {
		switch me.Number {
		case 297, 300: // "The user does not have permission ..." / "... permission was denied"
			return &ToolError{
				Kind:    KindConnectionError,
				Message: msg + " (insufficient permission; grant VIEW SERVER STATE to this login)",
				Cause:   cause,
			}
		case 2812: // could not find stored procedure
			return &ToolError{Kind: KindNotFound, Message: msg, Cause: cause}
		}
	}
	return &ToolError{Kind: KindEngineError, Message: msg, Cause: cause}
}

// IsPolicyViolation reports whether err was denied by the policy gate.
func IsPolicyViolation(err error) bool { return kindOf(err) == KindPolicyViolation }

// IsConnectionError reports whether err is a connectivity or auth failure.
func IsConnectionError(err error) bool { return kindOf(err) == KindConnectionError }

// IsInvalidArgument reports whether err was caused by bad caller input.
func IsInvalidArgument(err error) bool { return kindOf(err) == KindInvalidArgument }

// IsNotFound reports whether the requested object does not exist.
func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

func kindOf(err error) ErrKind {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindEngineError
}
