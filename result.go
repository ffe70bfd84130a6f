package main

import (
	"fmt"
	"strconv"
	"time"
)

// ValueKind tags the dynamic type of a single result cell.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInteger
	KindReal
	KindDecimal
	KindText
	KindDateTime
	KindBoolean
	KindBinary
)

// Value is a tagged scalar cell. Exactly one field matching Kind is set.
// Decimals arrive from the driver as byte strings and keep their textual
// form so no precision is lost before formatting.
type Value struct {
	Kind    ValueKind
	Int     int64
	Float   float64
	Decimal string
	Str     string
	Time    time.Time
	Bool    bool
	Bytes   []byte
}

// newValue classifies a raw database/sql scan result into a tagged Value.
func newValue(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Value{Kind: KindNull}
	case int64:
		return Value{Kind: KindInteger, Int: v}
	case float64:
		return Value{Kind: KindReal, Float: v}
	case bool:
		return Value{Kind: KindBoolean, Bool: v}
	case time.Time:
		return Value{Kind: KindDateTime, Time: v}
	case string:
		return Value{Kind: KindText, Str: v}
	case []byte:
		// go-mssqldb delivers DECIMAL/NUMERIC and MONEY as byte strings;
		// anything that parses as a number is a decimal, the rest is binary.
		if s := string(v); isDecimalString(s) {
			return Value{Kind: KindDecimal, Decimal: s}
		}
		b := make([]byte, len(v))
		copy(b, v)
		return Value{Kind: KindBinary, Bytes: b}
	default:
		return Value{Kind: KindText, Str: fmt.Sprint(v)}
	}
}

func isDecimalString(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// IsNull reports whether the cell is SQL NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// String renders the cell for display.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindReal:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindDecimal:
		return v.Decimal
	case KindText:
		return v.Str
	case KindDateTime:
		return v.Time.Format("2006-01-02 15:04:05.999")
	case KindBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindBinary:
		return fmt.Sprintf("0x%X", v.Bytes)
	default:
		return ""
	}
}

// QueryResult is one bounded result set. Every row has exactly
// len(Columns) cells. Immutable once returned.
type QueryResult struct {
	Columns   []string
	Rows      [][]Value
	Truncated bool
	Elapsed   time.Duration
}

// RowCount returns the number of materialized rows.
func (r *QueryResult) RowCount() int { return len(r.Rows) }

// ProcedureResult carries everything a stored procedure produced:
// result sets in emission order, final output parameter values, the
// integer return code, and any informational messages the engine printed.
type ProcedureResult struct {
	ResultSets   []QueryResult
	OutputParams map[string]Value
	ReturnCode   int64
	Messages     []string
	Elapsed      time.Duration
}
