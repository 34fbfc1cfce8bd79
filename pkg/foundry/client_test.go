package foundry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTableCSV_PinsSnapshotAndBoundsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch {
		case strings.HasSuffix(r.URL.Path, "/branches/develop"):
			_, _ = w.Write([]byte(`{"name":"develop","transactionRid":"ri.txn.7"}`))
		case strings.HasSuffix(r.URL.Path, "/readTable"):
			q := r.URL.Query()
			assert.Equal(t, "develop", q.Get("branchName"))
			assert.Equal(t, "ri.txn.7", q.Get("startTransactionRid"))
			assert.Equal(t, "ri.txn.7", q.Get("endTransactionRid"))
			assert.Equal(t, "CSV", q.Get("format"))
			_, _ = w.Write([]byte("name\nWidget\nGadget\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL+"/api", " tok ", "")
	require.NoError(t, err)

	b, err := c.ReadTableCSV(context.Background(), "ri.ds", "develop", 0)
	require.NoError(t, err)
	assert.Equal(t, "name\nWidget\nGadget\n", string(b))

	b, err = c.ReadTableCSV(context.Background(), "ri.ds", "develop", 4)
	require.NoError(t, err)
	assert.Equal(t, "name\n", string(b), "reads at most maxBytes+1")
}

func TestHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/transactions") {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"errorCode":"CONFLICT","errorName":"Datasets:OpenTransactionAlreadyExists","errorInstanceId":"abc"}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream said Authorization: Bearer sekrit\nand more"))
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL, "tok", "")
	require.NoError(t, err)

	_, err = c.CreateTransaction(context.Background(), "ri.ds", "")
	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusConflict, he.StatusCode)
	assert.Equal(t, "CONFLICT", he.ErrorCode)
	assert.Equal(t, "createTransaction", he.Op)
	assert.Empty(t, he.Snippet)

	err = c.CommitTransaction(context.Background(), "ri.ds", "ri.txn")
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusBadGateway, he.StatusCode)
	assert.NotContains(t, err.Error(), "sekrit")
	assert.NotContains(t, he.Snippet, "\n")
}

func TestParseBaseURL(t *testing.T) {
	u, err := parseBaseURL("stack.example.com/api", "api gateway")
	require.NoError(t, err)
	assert.Equal(t, "https://stack.example.com/api/", u.String())

	_, err = parseBaseURL("  ", "api gateway")
	assert.ErrorContains(t, err, "api gateway base URL is required")
}

func TestEscapeURLPath(t *testing.T) {
	assert.Equal(t, "out/enriched%20v2.csv", escapeURLPath("/out//enriched v2.csv"))
	assert.Equal(t, "", escapeURLPath("/"))
	assert.Equal(t, "a.csv", escapeURLPath("../a.csv"))
}

func TestHTTPErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       HTTPError
		transient bool
		conflict  bool
	}{
		{"open txn", HTTPError{StatusCode: http.StatusConflict, ErrorName: "Datasets:OpenTransactionAlreadyExists"}, false, true},
		{"generic conflict", HTTPError{StatusCode: http.StatusConflict, ErrorCode: "CONFLICT"}, false, true},
		{"other 409", HTTPError{StatusCode: http.StatusConflict, ErrorName: "Datasets:BranchExists"}, false, false},
		{"throttled", HTTPError{StatusCode: http.StatusTooManyRequests}, true, false},
		{"unavailable", HTTPError{StatusCode: http.StatusServiceUnavailable}, true, false},
		{"not found", HTTPError{StatusCode: http.StatusNotFound}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, tt.err.Transient())
			assert.Equal(t, tt.conflict, tt.err.Conflict("OpenTransactionAlreadyExists"))
		})
	}
}
