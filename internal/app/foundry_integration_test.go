package app_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-column-enricher/internal/app"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/enrich"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/mockfoundry"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/pipeline"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/foundry"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
)

const (
	inputRID  = "ri.foundry.main.dataset.11111111-1111-1111-1111-111111111111"
	outputRID = "ri.foundry.main.dataset.22222222-2222-2222-2222-222222222222"
)

func mockEnv(t *testing.T, input string) (*mockfoundry.Server, foundry.Env) {
	t.Helper()
	mock := mockfoundry.New()
	mock.RequireBearerToken("dummy-token")
	mock.PutTable(inputRID, []byte(input))
	ts := httptest.NewServer(mock.Handler())
	t.Cleanup(ts.Close)

	return mock, foundry.Env{
		Services: foundry.Services{APIGateway: ts.URL + "/api"},
		Token:    "dummy-token",
		Aliases: map[string]foundry.DatasetRef{
			"input":  {RID: inputRID},
			"output": {RID: outputRID},
		},
	}
}

var target = app.FoundryTarget{InputAlias: "input", OutputAlias: "output"}

func TestRunFoundry_EndToEndAgainstMock(t *testing.T) {
	t.Parallel()

	mock, env := mockEnv(t, "sku,name\n1,Widget\n2,Gadget\n3,\n")

	res, err := app.RunFoundry(context.Background(), env, target, app.Job{
		TargetColumns: []string{"category"},
	}, enrich.Stub{}, pipeline.Options{BatchSize: 2, Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 2, res.Batches)

	head, ok := mock.Table(outputRID)
	require.True(t, ok, "output dataset should be committed")
	rows, err := csv.NewReader(bytes.NewReader(head)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"sku", "name", "category"},
		{"1", "Widget", "category:Widget"},
		{"2", "Gadget", "category:Gadget"},
		{"3", "", ""},
	}, rows)
}

func TestRunFoundry_NoChangeSkipsUpload(t *testing.T) {
	t.Parallel()

	mock, env := mockEnv(t, "name\nWidget\n")
	res, err := app.RunFoundry(context.Background(), env, target, app.Job{}, enrich.Stub{}, pipeline.Options{BatchSize: 5})
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeNoChange, res.Outcome)

	assert.Empty(t, mock.Uploads())
	for _, c := range mock.Calls() {
		assert.Equal(t, http.MethodGet, c.Method, "unexpected write call %s %s", c.Method, c.Path)
	}
}

func TestRunFoundry_ValidationErrorSkipsService(t *testing.T) {
	t.Parallel()

	mock, env := mockEnv(t, "name\nWidget\n")
	calls := 0
	gen := core.GenerateFunc(func(context.Context, core.Batch, []string) (string, error) {
		calls++
		return "[]", nil
	})

	_, err := app.RunFoundry(context.Background(), env, target, app.Job{
		SourceColumns: []string{"colour"},
		TargetColumns: []string{"category"},
	}, gen, pipeline.Options{BatchSize: 5})
	assert.ErrorIs(t, err, core.ErrUnknownColumns)
	assert.Zero(t, calls)
	assert.Empty(t, mock.Uploads())
}

func TestRunFoundry_OversizedDataset(t *testing.T) {
	t.Parallel()

	_, env := mockEnv(t, "name\nWidget\nGadget\nGizmo\n")
	_, err := app.RunFoundry(context.Background(), env, target, app.Job{
		TargetColumns: []string{"category"},
	}, enrich.Stub{}, pipeline.Options{BatchSize: 5, MaxBytes: 8})
	assert.ErrorIs(t, err, core.ErrPayloadTooLarge)
}

func TestRunFoundry_MissingAlias(t *testing.T) {
	t.Parallel()

	_, env := mockEnv(t, "name\nWidget\n")
	_, err := app.RunFoundry(context.Background(), env, app.FoundryTarget{InputAlias: "input", OutputAlias: "nope"},
		app.Job{}, enrich.Stub{}, pipeline.Options{BatchSize: 5})
	assert.ErrorContains(t, err, `missing alias "nope"`)
}
