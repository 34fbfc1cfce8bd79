package computemodule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-column-enricher/internal/enrich"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/pipeline"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/server"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/table"
)

// EnrichQuery is the function input. Columns and NewColumns are comma separated,
// like the upload form fields.
type EnrichQuery struct {
	CSV        string `json:"csv"`
	Columns    string `json:"columns"`
	NewColumns string `json:"new_columns"`
}

// EnrichResult is the function output. CSV is set for success and partial outcomes.
type EnrichResult struct {
	server.Envelope
	CSV string `json:"csv,omitempty"`
}

// QueryTypeEnrich is the only query type EnrichHandler accepts.
const QueryTypeEnrich = "enrich"

// EnrichHandler runs each job's query through the pipeline. Pipeline failures are
// encoded in the result rather than returned, so the caller always receives JSON.
func EnrichHandler(gen core.Generator, opts pipeline.Options) HandlerFunc {
	base := opts.Logger
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, job Job) ([]byte, error) {
		if qt := strings.TrimSpace(job.QueryType); qt != QueryTypeEnrich {
			return json.Marshal(EnrichResult{Envelope: server.Envelope{
				Status:  "error",
				Message: fmt.Sprintf("unsupported query type %q (want %q)", qt, QueryTypeEnrich),
			}})
		}
		var q EnrichQuery
		if err := json.Unmarshal(job.Query, &q); err != nil {
			return json.Marshal(EnrichResult{Envelope: server.Envelope{
				Status:  "error",
				Message: fmt.Sprintf("invalid query: %v", err),
			}})
		}

		runOpts := opts
		runOpts.Logger = base.With(zap.String("run", uuid.NewString()), zap.String("jobId", job.JobID))

		res, err := pipeline.Run(ctx, pipeline.Request{
			Input:         []byte(q.CSV),
			SourceColumns: table.ParseColumnList(q.Columns),
			TargetColumns: pipeline.ParseTargetColumns(q.NewColumns),
		}, enrich.Traced(gen, runOpts.Logger, runOpts.RequestTimeout), runOpts)
		if err != nil {
			_, env := server.ErrorResponse(err)
			return json.Marshal(EnrichResult{Envelope: env})
		}
		if res.Outcome == core.OutcomeNoChange {
			return json.Marshal(EnrichResult{Envelope: server.Envelope{
				Status:  string(res.Outcome),
				Message: server.NoChangeMessage,
			}})
		}

		var buf bytes.Buffer
		if err := res.Table.WriteCSV(&buf); err != nil {
			return nil, fmt.Errorf("write csv: %w", err)
		}
		return json.Marshal(EnrichResult{
			Envelope: server.Envelope{Status: string(res.Outcome), Message: "CSV processed successfully."},
			CSV:      buf.String(),
		})
	}
}
