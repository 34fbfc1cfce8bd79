// Package app wires the enrichment pipeline to its input and output locations:
// local files or Foundry datasets.
package app

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-column-enricher/internal/enrich"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/pipeline"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/foundry"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
	foundryio "github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/io/foundry"
	localio "github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/io/local"
)

// Job names the columns one run reads and generates.
type Job struct {
	// SourceColumns overrides the default (every text column) when non-nil.
	SourceColumns []string
	TargetColumns []string
}

// FoundryTarget locates the datasets of a Foundry run by RESOURCE_ALIAS_MAP alias.
type FoundryTarget struct {
	InputAlias     string
	OutputAlias    string
	OutputFilename string
}

// RunLocal enriches the CSV at inputPath and writes the result to outputPath.
// A no_change outcome leaves outputPath untouched.
func RunLocal(ctx context.Context, inputPath, outputPath string, job Job, gen core.Generator, opts pipeline.Options) (*pipeline.Result, error) {
	opts, gen = startRun(opts, gen)
	logger := opts.Logger
	logger.Info("local run start", zap.String("input", inputPath), zap.String("output", outputPath))

	raw, err := localio.ReadInputFile(inputPath, opts.MaxBytes)
	if err != nil {
		return nil, err
	}
	res, err := pipeline.Run(ctx, pipeline.Request{
		Input:         raw,
		SourceColumns: job.SourceColumns,
		TargetColumns: job.TargetColumns,
	}, gen, opts)
	if err != nil {
		return nil, err
	}
	if res.Outcome == core.OutcomeNoChange {
		logger.Info("no new values generated; output not written")
		return res, nil
	}
	if err := localio.WriteTableFile(outputPath, res.Table); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}
	logger.Info("local run complete", zap.String("outcome", string(res.Outcome)), zap.Int("rows", res.Table.Len()))
	return res, nil
}

// RunFoundry reads the input dataset, enriches it, and writes the result into the
// output dataset. A no_change outcome skips the upload.
func RunFoundry(ctx context.Context, env foundry.Env, target FoundryTarget, job Job, gen core.Generator, opts pipeline.Options) (*pipeline.Result, error) {
	opts, gen = startRun(opts, gen)
	logger := opts.Logger
	runStart := time.Now()

	inputRef, err := env.Alias(target.InputAlias)
	if err != nil {
		return nil, err
	}
	outputRef, err := env.Alias(target.OutputAlias)
	if err != nil {
		return nil, err
	}
	logger.Info("foundry run start",
		zap.String("input", inputRef.RID+"@"+inputRef.BranchOrDefault()),
		zap.String("output", outputRef.RID+"@"+outputRef.BranchOrDefault()),
		zap.Int("batchSize", opts.BatchSize),
		zap.Duration("requestTimeout", opts.RequestTimeout),
		zap.Float64("rateLimitRPS", opts.RateLimitRPS),
	)

	client, err := foundry.NewClient(env.Services.APIGateway, env.Token, env.DefaultCAPath)
	if err != nil {
		return nil, err
	}

	readStart := time.Now()
	raw, err := foundryio.ReadInputCSV(ctx, client, inputRef, opts.MaxBytes)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded input dataset", zap.Int("bytes", len(raw)), zap.Duration("duration", time.Since(readStart).Round(time.Millisecond)))

	res, err := pipeline.Run(ctx, pipeline.Request{
		Input:         raw,
		SourceColumns: job.SourceColumns,
		TargetColumns: job.TargetColumns,
	}, gen, opts)
	if err != nil {
		return nil, err
	}
	if res.Outcome == core.OutcomeNoChange {
		logger.Info("no new values generated; output dataset left unchanged")
		return res, nil
	}

	var buf bytes.Buffer
	if err := res.Table.WriteCSV(&buf); err != nil {
		return nil, fmt.Errorf("write output csv: %w", err)
	}
	writeStart := time.Now()
	if err := foundryio.UploadDatasetCSV(ctx, client, outputRef, target.OutputFilename, buf.Bytes()); err != nil {
		return nil, err
	}
	logger.Info("foundry run complete",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("rows", res.Table.Len()),
		zap.Duration("writeDuration", time.Since(writeStart).Round(time.Millisecond)),
		zap.Duration("duration", time.Since(runStart).Round(time.Millisecond)),
	)
	return res, nil
}

// startRun tags the run's logger with a fresh run id and traces every batch call.
func startRun(opts pipeline.Options, gen core.Generator) (pipeline.Options, core.Generator) {
	base := opts.Logger
	if base == nil {
		base = zap.NewNop()
	}
	opts.Logger = base.With(zap.String("run", uuid.NewString()))
	return opts, enrich.Traced(gen, opts.Logger, opts.RequestTimeout)
}
