// Package table loads delimited tabular input into an identifier-tagged table and
// validates it before any enrichment request is built.
package table

import (
	"encoding/csv"
	"io"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/schema"
)

// Cell is one table value. Valid is false for a missing value.
type Cell struct {
	Text  string
	Valid bool
}

// Text returns a present cell holding s.
func Text(s string) Cell {
	return Cell{Text: s, Valid: true}
}

// Null is the missing-value cell.
var Null = Cell{}

// Table is a column-ordered set of rows. Fields is parallel to Columns.
type Table struct {
	Columns []string
	Fields  []schema.Field
	Rows    [][]Cell
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of the first column with the given name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Without returns a copy of t with every column named name removed.
func (t *Table) Without(name string) *Table {
	keep := make([]int, 0, len(t.Columns))
	for i, c := range t.Columns {
		if c != name {
			keep = append(keep, i)
		}
	}
	out := &Table{
		Columns: make([]string, 0, len(keep)),
		Fields:  make([]schema.Field, 0, len(keep)),
		Rows:    make([][]Cell, len(t.Rows)),
	}
	for _, i := range keep {
		out.Columns = append(out.Columns, t.Columns[i])
		out.Fields = append(out.Fields, t.Fields[i])
	}
	for r, row := range t.Rows {
		cells := make([]Cell, 0, len(keep))
		for _, i := range keep {
			cells = append(cells, row[i])
		}
		out.Rows[r] = cells
	}
	return out
}

// WriteCSV writes the header and every row. Missing cells are written as empty fields.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range rec {
			rec[i] = ""
			if i < len(row) && row[i].Valid {
				rec[i] = row[i].Text
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
