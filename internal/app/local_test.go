package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/palantir-compute-module-column-enricher/internal/app"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/enrich"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/pipeline"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
)

func TestRunLocal(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "products.csv")
	out := filepath.Join(dir, "out", "enriched.csv")
	require.NoError(t, os.WriteFile(in, []byte("id,name\n0,Widget\n1,Gadget\n"), 0o644))

	res, err := app.RunLocal(context.Background(), in, out, app.Job{
		SourceColumns: []string{"name"},
		TargetColumns: []string{"category"},
	}, enrich.Stub{}, pipeline.Options{BatchSize: 1})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeSuccess, res.Outcome)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "id,name,category\n0,Widget,category:Widget\n1,Gadget,category:Gadget\n", string(got))
}

func TestRunLocal_NoChangeWritesNothing(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "products.csv")
	out := filepath.Join(dir, "enriched.csv")
	require.NoError(t, os.WriteFile(in, []byte("name\nWidget\n"), 0o644))

	res, err := app.RunLocal(context.Background(), in, out, app.Job{}, enrich.Stub{}, pipeline.Options{BatchSize: 5})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeNoChange, res.Outcome)
	assert.NoFileExists(t, out)
}

func TestRunLocal_FailedRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "products.csv")
	out := filepath.Join(dir, "enriched.csv")
	require.NoError(t, os.WriteFile(in, []byte("name\nWidget\n"), 0o644))

	gen := core.GenerateFunc(func(context.Context, core.Batch, []string) (string, error) {
		return `{"not": "an array"}`, nil
	})
	_, err := app.RunLocal(context.Background(), in, out, app.Job{TargetColumns: []string{"category"}}, gen, pipeline.Options{BatchSize: 5})
	assert.ErrorIs(t, err, core.ErrResponseShape)
	assert.NoFileExists(t, out)
}
