package enrich_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/palantir/palantir-compute-module-column-enricher/internal/enrich"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
)

func TestTracedLogsRequestAndResponse(t *testing.T) {
	obs, logs := observer.New(zapcore.InfoLevel)
	gen := enrich.Traced(enrich.Stub{}, zap.New(obs), 0)

	b := core.Batch{Index: 3, Rows: []core.Row{
		{ID: "6", Fields: []core.Field{{Name: "name", Value: "Widget"}}},
		{ID: "7", Fields: []core.Field{{Name: "name", Value: "Gadget"}}},
	}}
	_, err := gen.Generate(context.Background(), b, []string{"category"})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "enrich request", entries[0].Message)
	assert.Equal(t, int64(3), entries[0].ContextMap()["batch"])
	assert.Equal(t, "6", entries[0].ContextMap()["firstRow"])
	assert.Equal(t, "7", entries[0].ContextMap()["lastRow"])
	assert.Equal(t, "enrich response", entries[1].Message)
	assert.Equal(t, "ok", entries[1].ContextMap()["status"])
}

func TestTracedRedactsErrors(t *testing.T) {
	obs, logs := observer.New(zapcore.InfoLevel)
	failing := core.GenerateFunc(func(context.Context, core.Batch, []string) (string, error) {
		return "", errors.New("GET https://example.test/v1?key=AIzaSecretValue failed")
	})
	gen := enrich.Traced(failing, zap.New(obs), 0)

	_, err := gen.Generate(context.Background(), core.Batch{}, []string{"category"})
	require.Error(t, err)

	resp := logs.FilterMessage("enrich response").All()
	require.Len(t, resp, 1)
	assert.Equal(t, zapcore.WarnLevel, resp[0].Level)
	assert.NotContains(t, resp[0].ContextMap()["error"], "AIzaSecretValue")
}
