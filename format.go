package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// maxCellWidth keeps a single oversized value (definition text, XML blobs)
// from blowing up the whole table.
const maxCellWidth = 120

// FormatQueryResult renders a result set as a padded text table with a
// row-count/elapsed footer and a truncation notice when the cap was hit.
func FormatQueryResult(r *QueryResult) string {
	var b strings.Builder

	if len(r.Columns) == 0 {
		b.WriteString("Statement completed. No result set returned.\n")
	} else {
		writeTable(&b, r)
	}

	fmt.Fprintf(&b, "(%d row(s), %s)\n", r.RowCount(), r.Elapsed.Round(time.Millisecond))
	if r.Truncated {
		fmt.Fprintf(&b, "Result truncated at %d rows; more rows exist. Narrow the query or raise max_rows.\n", r.RowCount())
	}
	return b.String()
}

// FormatProcedureResult renders every result set a procedure produced,
// followed by its messages, output parameters and return code.
func FormatProcedureResult(p *ProcedureResult) string {
	var b strings.Builder

	for i := range p.ResultSets {
		set := &p.ResultSets[i]
		fmt.Fprintf(&b, "Result set %d:\n", i+1)
		if len(set.Columns) == 0 {
			b.WriteString("(empty)\n")
		} else {
			writeTable(&b, set)
			fmt.Fprintf(&b, "(%d row(s))\n", set.RowCount())
			if set.Truncated {
				fmt.Fprintf(&b, "Result set truncated at %d rows.\n", set.RowCount())
			}
		}
		b.WriteString("\n")
	}

	if len(p.Messages) > 0 {
		b.WriteString("Messages:\n")
		for _, msg := range p.Messages {
			fmt.Fprintf(&b, "  %s\n", msg)
		}
		b.WriteString("\n")
	}

	if len(p.OutputParams) > 0 {
		b.WriteString("Output parameters:\n")
		for name, value := range p.OutputParams {
			fmt.Fprintf(&b, "  @%s = %s\n", name, value.String())
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Return code: %d (%s)\n", p.ReturnCode, p.Elapsed.Round(time.Millisecond))
	return b.String()
}

// FormatDatabases renders the user database catalog.
func FormatDatabases(dbs []DatabaseInfo) string {
	var b strings.Builder
	table := tablewriter.NewWriter(&b)
	table.SetHeader([]string{"name", "id", "created", "state", "recovery_model", "size_mb"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, d := range dbs {
		table.Append([]string{
			d.Name,
			strconv.FormatInt(d.ID, 10),
			d.Created.Format("2006-01-02 15:04:05"),
			d.State,
			d.RecoveryModel,
			strconv.FormatFloat(d.SizeMB, 'f', 2, 64),
		})
	}
	table.Render()
	fmt.Fprintf(&b, "(%d database(s))\n", len(dbs))
	return b.String()
}

// FormatDiscoveries renders connection strings found in project files.
// Credentials arrive already masked.
func FormatDiscoveries(found []DiscoveredConnection) string {
	if len(found) == 0 {
		return "No connection strings found.\n"
	}
	var b strings.Builder
	table := tablewriter.NewWriter(&b)
	table.SetHeader([]string{"file", "source", "connection_string"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, d := range found {
		table.Append([]string{d.File, d.Source, clip(d.ConnectionString)})
	}
	table.Render()
	fmt.Fprintf(&b, "(%d connection string(s))\n", len(found))
	return b.String()
}

// FormatError renders a failure as the error-prefixed text block every
// tool returns on failure.
func FormatError(err error) string {
	return "Error: " + err.Error()
}

func writeTable(b *strings.Builder, r *QueryResult) {
	table := tablewriter.NewWriter(b)
	table.SetHeader(r.Columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, row := range r.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = clip(v.String())
		}
		table.Append(cells)
	}
	table.Render()
}

func clip(s string) string {
	if len(s) <= maxCellWidth {
		return s
	}
	return s[:maxCellWidth-3] + "..."
}
