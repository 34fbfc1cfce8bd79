// Package prompt renders the instruction text sent to the reasoning service.
package prompt

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
)

//go:embed enrich.tmpl
var enrichTemplate string

var tmpl = template.Must(template.New("enrich").Parse(enrichTemplate))

type data struct {
	RowIDKey string
	Rows     string
	Columns  string
}

// Render substitutes a batch and the requested columns into the instruction template.
func Render(b core.Batch, targets []string) (string, error) {
	rows := b.Rows
	if rows == nil {
		rows = []core.Row{}
	}
	rowsJSON, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("prompt: encode rows: %w", err)
	}
	if targets == nil {
		targets = []string{}
	}
	colsJSON, err := json.Marshal(targets)
	if err != nil {
		return "", fmt.Errorf("prompt: encode columns: %w", err)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data{
		RowIDKey: core.RowIDKey,
		Rows:     string(rowsJSON),
		Columns:  string(colsJSON),
	}); err != nil {
		return "", fmt.Errorf("prompt: render: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}
