package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/aggregate"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/batch"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/reconcile"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/table"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/worker"
)

// Request is one enrichment run's input.
type Request struct {
	// Input is the raw delimited table.
	Input []byte

	// SourceColumns overrides the columns the service may read. Nil selects
	// every text column.
	SourceColumns []string

	// TargetColumns are the new columns to generate, in output order.
	TargetColumns []string
}

type Options struct {
	// MaxBytes rejects larger inputs. <=0 disables the check.
	MaxBytes  int64
	BatchSize int

	// RequestTimeout bounds each service call. <=0 waits indefinitely.
	RequestTimeout time.Duration
	RateLimitRPS   float64

	Logger *zap.Logger
}

// Result is a finished run.
type Result struct {
	// Table holds the original columns followed by the target columns.
	Table   *table.Table
	Outcome core.Outcome
	Batches int
}

// ParseTargetColumns splits a comma-separated target list, trimming entries and
// dropping blank ones.
func ParseTargetColumns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Run validates the input, enriches it batch by batch, and merges the result.
//
// Batches are sent strictly one at a time in input order. The first service
// failure or unusable reply aborts the run and nothing is returned.
func Run(ctx context.Context, req Request, gen core.Generator, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	loaded, err := table.Load(req.Input, table.LoadOptions{
		MaxBytes:      opts.MaxBytes,
		SourceColumns: req.SourceColumns,
	})
	if err != nil {
		return nil, err
	}
	targets, err := validateTargets(loaded.Table, req.TargetColumns)
	if err != nil {
		return nil, err
	}
	logger.Info("input validated",
		zap.Int("rows", loaded.Table.Len()),
		zap.Strings("sourceColumns", loaded.Sources),
		zap.Strings("targetColumns", targets),
	)

	var batches []core.Batch
	records := make([]core.Record, 0, loaded.Table.Len())
	if len(targets) == 0 {
		logger.Info("no target columns requested; skipping service calls")
		for _, row := range loaded.Project() {
			records = append(records, core.Record{ID: row.ID, Values: map[string]any{}})
		}
	} else {
		batches = batch.Partition(loaded.Project(), opts.BatchSize)
		logger.Info("batches planned", zap.Int("batches", len(batches)), zap.Int("batchSize", opts.BatchSize))

		enrichBatch := func(ctx context.Context, b core.Batch) ([]core.Record, error) {
			raw, err := request(ctx, gen, b, targets)
			if err != nil {
				return nil, err
			}
			return reconcile.Reconcile(raw, b, targets)
		}
		onBatch := func(r worker.Result[core.Batch, []core.Record]) error {
			records = append(records, r.Output...)
			logger.Debug("batch reconciled",
				zap.Int("batch", r.Index),
				zap.Int("rows", len(r.Input.Rows)),
				zap.Int("recordsSoFar", len(records)),
			)
			return nil
		}
		if _, err := worker.ProcessSequentialWithCallback(ctx, batches, enrichBatch, onBatch, worker.Options{
			RequestTimeout: opts.RequestTimeout,
			RateLimitRPS:   opts.RateLimitRPS,
		}); err != nil {
			return nil, err
		}
	}

	merged, err := aggregate.Merge(loaded.Table, targets, records)
	if err != nil {
		return nil, err
	}
	outcome := aggregate.Classify(targets, records)
	logger.Info("enrichment complete",
		zap.String("outcome", string(outcome)),
		zap.Int("records", len(records)),
		zap.Int("batches", len(batches)),
	)
	return &Result{Table: merged, Outcome: outcome, Batches: len(batches)}, nil
}

// request issues one service call. Any failure that is not already classified
// is reported as the service being unavailable.
func request(ctx context.Context, gen core.Generator, b core.Batch, targets []string) (string, error) {
	raw, err := gen.Generate(ctx, b, targets)
	if err == nil {
		return raw, nil
	}
	var pe *core.Error
	if errors.As(err, &pe) {
		return "", err
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return "", err
	}
	return "", &core.Error{
		Kind: core.KindServiceUnavailable,
		Msg:  fmt.Sprintf("batch %d", b.Index),
		Err:  err,
	}
}

func validateTargets(t *table.Table, targets []string) ([]string, error) {
	out := make([]string, 0, len(targets))
	seen := make(map[string]struct{}, len(targets))
	var dups []string
	for _, name := range targets {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok || t.ColumnIndex(name) >= 0 {
			dups = append(dups, name)
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(dups) > 0 {
		return nil, &core.Error{
			Kind:    core.KindDuplicateColumns,
			Msg:     "new columns collide with existing or repeated column names",
			Columns: dups,
		}
	}
	return out, nil
}
