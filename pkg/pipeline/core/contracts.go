package core

import (
	"bytes"
	"context"
	"encoding/json"
)

// RowIDKey is the column/key that carries a row's identifier through every
// representation handed to or received from the reasoning service.
const RowIDKey = "__row_id__"

// RowID is the opaque per-row correlation token (the zero-based row index, as text).
type RowID string

// Field is one named source value of a row.
type Field struct {
	Name  string
	Value any
}

// Row is a source-projected row: its identifier plus the values of the selected
// source columns, in source-column order.
type Row struct {
	ID     RowID
	Fields []Field
}

// MarshalJSON encodes the row as a JSON object with stable key order: the source
// fields first, then the identifier.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeKV := func(k string, v any) error {
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return nil
	}
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKV(f.Name, f.Value); err != nil {
			return nil, err
		}
	}
	if len(r.Fields) > 0 {
		buf.WriteByte(',')
	}
	if err := writeKV(RowIDKey, string(r.ID)); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Batch is a bounded, ordered group of rows sent in one service request.
type Batch struct {
	// Index is the zero-based position of the batch within the run.
	Index int
	Rows  []Row
}

// Record is the enrichment output for exactly one input row.
//
// Values holds the reply object's keys (minus the identifier). A nil value means
// the service could not determine it or the row was missing from the reply.
type Record struct {
	ID     RowID
	Values map[string]any
}

// Outcome classifies a finished run.
type Outcome string

const (
	OutcomeNoChange Outcome = "no_change"
	OutcomePartial  Outcome = "partial"
	OutcomeSuccess  Outcome = "success"
)

// Generator is the reasoning-service capability: given one batch and the target
// columns, return the service's raw textual reply.
type Generator interface {
	Generate(ctx context.Context, batch Batch, targets []string) (string, error)
}

// GenerateFunc adapts a function to the Generator interface.
type GenerateFunc func(ctx context.Context, batch Batch, targets []string) (string, error)

func (f GenerateFunc) Generate(ctx context.Context, batch Batch, targets []string) (string, error) {
	return f(ctx, batch, targets)
}
