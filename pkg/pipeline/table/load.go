package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/schema"
)

const bytesPerMB = 1024 * 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// MBToBytes converts a megabyte limit to bytes.
func MBToBytes(mb int) int64 {
	return int64(mb) * bytesPerMB
}

// LoadOptions controls validation of raw input.
type LoadOptions struct {
	// MaxBytes rejects larger payloads. <=0 disables the check.
	MaxBytes int64

	// SourceColumns is the explicit source column request. Nil selects every
	// text column.
	SourceColumns []string
}

// Loaded is a validated table tagged with row identifiers.
type Loaded struct {
	// Table includes the trailing core.RowIDKey column.
	Table *Table

	// Sources is the resolved SourceColumnSet, in request (or header) order.
	Sources []string
}

// ParseColumnList splits a comma-separated column override. Each entry is trimmed
// and otherwise kept verbatim. An empty string yields nil (no override).
func ParseColumnList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// Load parses and validates raw CSV bytes.
//
// Checks run in order: size, encoding and shape, emptiness, then (after the row
// identifier column is appended) unknown source columns, duplicate header names,
// and an empty source selection.
func Load(raw []byte, opts LoadOptions) (*Loaded, error) {
	if opts.MaxBytes > 0 && int64(len(raw)) > opts.MaxBytes {
		return nil, &core.Error{
			Kind: core.KindPayloadTooLarge,
			Msg:  fmt.Sprintf("file size exceeds maximum allowed size of %s", formatLimit(opts.MaxBytes)),
		}
	}
	if !utf8.Valid(raw) {
		return nil, &core.Error{Kind: core.KindMalformedInput, Msg: "input is not valid UTF-8"}
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &core.Error{Kind: core.KindEmptyInput, Msg: "the CSV is empty, no rows to process"}
	}

	t, err := parseCSV(raw)
	if err != nil {
		return nil, err
	}
	if t.Len() == 0 {
		return nil, &core.Error{Kind: core.KindEmptyInput, Msg: "the CSV is empty, no rows to process"}
	}

	assignRowIDs(t)

	sources, err := resolveSources(t, opts.SourceColumns)
	if err != nil {
		return nil, err
	}
	if dups := duplicateColumns(t.Columns); len(dups) > 0 {
		return nil, &core.Error{
			Kind:    core.KindDuplicateColumns,
			Msg:     "CSV contains duplicate columns",
			Columns: dups,
		}
	}
	if len(sources) == 0 {
		return nil, &core.Error{Kind: core.KindNoColumnsSelected, Msg: "no columns to process"}
	}
	return &Loaded{Table: t, Sources: sources}, nil
}

func parseCSV(raw []byte) (*Table, error) {
	t, err := readTable(raw, false)
	if errors.Is(err, csv.ErrBareQuote) {
		// A quote inside an unquoted field (`TV 55" screen`) is a literal
		// character. Unterminated quoted fields stay an error.
		t, err = readTable(raw, true)
	}
	if err != nil {
		return nil, err
	}
	t.Fields = make([]schema.Field, len(t.Columns))
	for i, name := range t.Columns {
		t.Fields[i] = inferField(name, t.Rows, i)
	}
	return t, nil
}

// readTable reads the header and records. A bare-quote failure is returned as
// the raw csv error so parseCSV can retry with lazy quotes.
func readTable(raw []byte, lazyQuotes bool) (*Table, error) {
	cr := csv.NewReader(bytes.NewReader(raw))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = lazyQuotes

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, csv.ErrBareQuote) {
			return nil, err
		}
		return nil, malformed("could not parse the CSV header", err)
	}
	t := &Table{Columns: append([]string(nil), header...)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, csv.ErrBareQuote) {
			return nil, err
		}
		if err != nil {
			return nil, malformed("could not parse the CSV", err)
		}
		if len(rec) > len(header) {
			return nil, &core.Error{
				Kind: core.KindMalformedInput,
				Msg:  fmt.Sprintf("record on line %d has %d fields, header has %d", line, len(rec), len(header)),
			}
		}
		cells := make([]Cell, len(header))
		for i, v := range rec {
			if v != "" {
				cells[i] = Text(v)
			}
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

func inferField(name string, rows [][]Cell, col int) schema.Field {
	values := make([]string, 0, len(rows))
	nullable := false
	for _, row := range rows {
		if !row[col].Valid {
			nullable = true
			continue
		}
		values = append(values, row[col].Text)
	}
	return schema.Field{Name: name, Type: schema.InferType(values), Nullable: nullable}
}

func assignRowIDs(t *Table) {
	t.Columns = append(t.Columns, core.RowIDKey)
	t.Fields = append(t.Fields, schema.Field{Name: core.RowIDKey, Type: schema.TypeInteger})
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], Text(strconv.Itoa(i)))
	}
}

func resolveSources(t *Table, requested []string) ([]string, error) {
	if requested == nil {
		var out []string
		seen := make(map[string]struct{})
		for i, f := range t.Fields {
			if t.Columns[i] == core.RowIDKey || !f.IsText() {
				continue
			}
			if _, ok := seen[t.Columns[i]]; ok {
				continue
			}
			seen[t.Columns[i]] = struct{}{}
			out = append(out, t.Columns[i])
		}
		return out, nil
	}

	out := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	var missing []string
	for _, name := range requested {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if t.ColumnIndex(name) < 0 {
			missing = append(missing, name)
			continue
		}
		out = append(out, name)
	}
	if len(missing) > 0 {
		return nil, &core.Error{
			Kind:    core.KindUnknownColumns,
			Msg:     "the following source columns do not exist in the CSV",
			Columns: missing,
		}
	}
	return out, nil
}

func duplicateColumns(columns []string) []string {
	counts := make(map[string]int, len(columns))
	var dups []string
	for _, c := range columns {
		counts[c]++
		if counts[c] == 2 {
			dups = append(dups, c)
		}
	}
	return dups
}

// Project returns each row restricted to the source columns plus its identifier,
// with missing source values blank-filled to "".
func (l *Loaded) Project() []core.Row {
	t := l.Table
	idCol := t.ColumnIndex(core.RowIDKey)
	type src struct {
		name  string
		idx   int
		field schema.Field
	}
	srcs := make([]src, 0, len(l.Sources))
	for _, name := range l.Sources {
		if name == core.RowIDKey {
			continue
		}
		i := t.ColumnIndex(name)
		srcs = append(srcs, src{name: name, idx: i, field: t.Fields[i]})
	}

	rows := make([]core.Row, t.Len())
	for r, cells := range t.Rows {
		fields := make([]core.Field, len(srcs))
		for j, s := range srcs {
			fields[j] = core.Field{Name: s.name, Value: cellValue(cells[s.idx], s.field)}
		}
		rows[r] = core.Row{ID: core.RowID(cells[idCol].Text), Fields: fields}
	}
	return rows
}

func cellValue(c Cell, f schema.Field) any {
	if !c.Valid {
		return ""
	}
	switch f.Type {
	case schema.TypeInteger:
		if n, err := strconv.ParseInt(strings.TrimSpace(c.Text), 10, 64); err == nil {
			return n
		}
	case schema.TypeDouble:
		if n, ok := schema.ParseNumber(c.Text); ok {
			return n
		}
	}
	return c.Text
}

func malformed(msg string, err error) error {
	return &core.Error{Kind: core.KindMalformedInput, Msg: msg, Err: err}
}

func formatLimit(n int64) string {
	if n%bytesPerMB == 0 {
		return fmt.Sprintf("%dMB", n/bytesPerMB)
	}
	return fmt.Sprintf("%d bytes", n)
}
