package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
)

// Generator produces the raw reply for one batch.
type Generator = core.Generator

// Stub is an offline Generator for smoke runs and tests.
//
// For every row it fills each target column with "<target>:<first non-blank
// source value>", or null when the row has no source text. The reply follows the
// same contract as a real model: one object per row keyed by the row identifier.
type Stub struct {
	// Model is reported in logs; defaults to "stub".
	Model string
}

func (s Stub) Generate(ctx context.Context, b core.Batch, targets []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out := make([]map[string]any, 0, len(b.Rows))
	for _, row := range b.Rows {
		obj := map[string]any{core.RowIDKey: string(row.ID)}
		seed := firstText(row)
		for _, t := range targets {
			if seed == "" {
				obj[t] = nil
				continue
			}
			obj[t] = t + ":" + seed
		}
		out = append(out, obj)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("stub: marshal reply: %w", err)
	}
	return string(raw), nil
}

func (s Stub) ModelName() string {
	if s.Model == "" {
		return "stub"
	}
	return s.Model
}

func firstText(r core.Row) string {
	for _, f := range r.Fields {
		if v := strings.TrimSpace(fmt.Sprint(f.Value)); v != "" {
			return v
		}
	}
	return ""
}
