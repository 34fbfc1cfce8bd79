// Package aggregate merges reconciled records back into the source table and
// classifies how much the run actually produced.
package aggregate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/schema"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/table"
)

// Merge appends the target columns to t, row by row, and drops the identifier column.
//
// records must hold exactly one entry per row of t, in row order.
func Merge(t *table.Table, targets []string, records []core.Record) (*table.Table, error) {
	if len(records) != t.Len() {
		return nil, fmt.Errorf("merge: got %d records for %d rows", len(records), t.Len())
	}
	if idCol := t.ColumnIndex(core.RowIDKey); idCol >= 0 {
		for i, row := range t.Rows {
			if got, want := records[i].ID, core.RowID(row[idCol].Text); got != want {
				return nil, fmt.Errorf("merge: record %d has row id %q, want %q", i, got, want)
			}
		}
	}

	base := t.Without(core.RowIDKey)
	out := &table.Table{
		Columns: append(append([]string(nil), base.Columns...), targets...),
		Fields:  append([]schema.Field(nil), base.Fields...),
		Rows:    make([][]table.Cell, len(base.Rows)),
	}
	for _, name := range targets {
		out.Fields = append(out.Fields, schema.Field{Name: name, Type: schema.TypeString, Nullable: true})
	}
	for i, row := range base.Rows {
		cells := make([]table.Cell, 0, len(out.Columns))
		cells = append(cells, row...)
		for _, name := range targets {
			cells = append(cells, Render(records[i].Values[name]))
		}
		out.Rows[i] = cells
	}
	return out, nil
}

// Render converts a reply value to a table cell. nil becomes a missing cell;
// strings and numbers keep their text; other values are written as compact JSON.
func Render(v any) table.Cell {
	switch x := v.(type) {
	case nil:
		return table.Null
	case string:
		return table.Text(x)
	case json.Number:
		return table.Text(x.String())
	case bool:
		return table.Text(strconv.FormatBool(x))
	case float64:
		return table.Text(strconv.FormatFloat(x, 'f', -1, 64))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return table.Text(fmt.Sprint(v))
	}
	return table.Text(string(b))
}

// Present reports whether a target value counts as generated: non-nil and, for
// strings, non-blank after trimming.
func Present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	}
	return true
}

// Classify decides the run outcome column-wise: success when every target column
// has at least one present value somewhere, no_change when none does, partial
// otherwise. It does not require any single row to be complete.
func Classify(targets []string, records []core.Record) core.Outcome {
	filled := 0
	for _, name := range targets {
		for _, rec := range records {
			if Present(rec.Values[name]) {
				filled++
				break
			}
		}
	}
	switch {
	case filled == 0:
		return core.OutcomeNoChange
	case filled == len(targets):
		return core.OutcomeSuccess
	default:
		return core.OutcomePartial
	}
}
