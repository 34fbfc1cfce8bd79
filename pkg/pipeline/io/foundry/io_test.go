package foundryio_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/palantir-compute-module-column-enricher/internal/mockfoundry"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/foundry"
	foundryio "github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/io/foundry"
)

const (
	inputRID  = "ri.foundry.main.dataset.input"
	outputRID = "ri.foundry.main.dataset.output"
)

func setup(t *testing.T) (*mockfoundry.Server, *foundry.Client) {
	t.Helper()
	srv := mockfoundry.New()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	client, err := foundry.NewClient(ts.URL+"/api", "tok", "")
	require.NoError(t, err)
	return srv, client
}

func TestReadInputCSV_RetriesTransientFailures(t *testing.T) {
	srv, client := setup(t)
	srv.PutTable(inputRID, []byte("name\nWidget\n"))
	srv.FailNext("readTable", http.StatusServiceUnavailable)

	b, err := foundryio.ReadInputCSV(context.Background(), client, foundry.DatasetRef{RID: inputRID}, 0)
	require.NoError(t, err)
	assert.Equal(t, "name\nWidget\n", string(b))
}

func TestReadInputCSV_DoesNotRetryClientErrors(t *testing.T) {
	srv, client := setup(t)

	_, err := foundryio.ReadInputCSV(context.Background(), client, foundry.DatasetRef{RID: inputRID}, 0)
	var he *foundry.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusNotFound, he.StatusCode)
	assert.Len(t, srv.Calls(), 1, "a 404 must not be retried")
}

func TestUploadDatasetCSV_CreatesAndCommits(t *testing.T) {
	srv, client := setup(t)
	want := []byte("name,category\nWidget,Tools\n")

	err := foundryio.UploadDatasetCSV(context.Background(), client, foundry.DatasetRef{RID: outputRID}, "", want)
	require.NoError(t, err)

	uploads := srv.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, foundryio.DefaultOutputFilename, uploads[0].FilePath)

	head, ok := srv.Table(outputRID)
	require.True(t, ok)
	assert.Equal(t, want, head)
}

func TestUploadDatasetCSV_ReusesOpenTransaction(t *testing.T) {
	srv, client := setup(t)
	open := srv.OpenTransaction(outputRID, foundry.DefaultBranch)

	err := foundryio.UploadDatasetCSV(context.Background(), client, foundry.DatasetRef{RID: outputRID}, "out.csv", []byte("a\n1\n"))
	require.NoError(t, err)

	uploads := srv.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, open, uploads[0].TxnID)

	_, committed := srv.Table(outputRID)
	assert.False(t, committed, "a transaction opened elsewhere is left for its owner to commit")
}

func TestUploadDatasetCSV_RetriesTransientCommit(t *testing.T) {
	srv, client := setup(t)
	srv.FailNext("commitTransaction", http.StatusBadGateway)

	err := foundryio.UploadDatasetCSV(context.Background(), client, foundry.DatasetRef{RID: outputRID}, "", []byte("a\n1\n"))
	require.NoError(t, err)

	_, committed := srv.Table(outputRID)
	assert.True(t, committed)
}
