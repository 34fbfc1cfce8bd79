package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/aggregate"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/batch"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/reconcile"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/table"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/worker"
)

// Upper is a Generator that fills every target with the upper-cased first
// source value of the row.
type Upper struct{}

func (Upper) Generate(_ context.Context, b core.Batch, targets []string) (string, error) {
	out := make([]map[string]any, 0, len(b.Rows))
	for _, row := range b.Rows {
		obj := map[string]any{core.RowIDKey: string(row.ID)}
		for _, t := range targets {
			obj[t] = nil
			if len(row.Fields) > 0 {
				obj[t] = strings.ToUpper(strings.TrimSpace(fmt.Sprint(row.Fields[0].Value)))
			}
		}
		out = append(out, obj)
	}
	raw, err := json.Marshal(out)
	return string(raw), err
}

// Enrich runs the pipeline kit end to end with gen.
func Enrich(ctx context.Context, raw []byte, targets []string, gen core.Generator) (*table.Table, core.Outcome, error) {
	loaded, err := table.Load(raw, table.LoadOptions{})
	if err != nil {
		return nil, "", err
	}
	results, err := worker.ProcessSequential(ctx, batch.Partition(loaded.Project(), 2), func(ctx context.Context, b core.Batch) ([]core.Record, error) {
		reply, err := gen.Generate(ctx, b, targets)
		if err != nil {
			return nil, err
		}
		return reconcile.Reconcile(reply, b, targets)
	}, worker.Options{})
	if err != nil {
		return nil, "", err
	}
	var records []core.Record
	for _, r := range results {
		records = append(records, r.Output...)
	}
	merged, err := aggregate.Merge(loaded.Table, targets, records)
	if err != nil {
		return nil, "", err
	}
	return merged, aggregate.Classify(targets, records), nil
}
