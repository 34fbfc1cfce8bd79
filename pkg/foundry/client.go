package foundry

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultBranch is used whenever a dataset reference leaves the branch empty.
const DefaultBranch = "master"

// Client is a minimal HTTP client for the dataset endpoints the enricher needs:
// reading a table as CSV and writing a file through a transaction.
type Client struct {
	apiBaseURL *url.URL
	token      string
	http       *http.Client
}

// NewClient constructs a client for the API gateway base URL, which should look
// like "https://<stack>.palantirfoundry.com/api".
//
// defaultCAPath is optional and, when provided, is used as the TLS trust store.
func NewClient(apiGatewayURL, token, defaultCAPath string) (*Client, error) {
	apiBase, err := parseBaseURL(apiGatewayURL, "api gateway")
	if err != nil {
		return nil, err
	}
	hc, err := newHTTPClient(defaultCAPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		apiBaseURL: apiBase,
		token:      strings.TrimSpace(token),
		http:       hc,
	}, nil
}

func parseBaseURL(raw string, name string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s base URL is required", name)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s base URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s base URL must include a host (got %q)", name, raw)
	}
	// A trailing slash makes ResolveReference treat the base path as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(defaultCAPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if p := strings.TrimSpace(defaultCAPath); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	accept      string

	// maxBody caps the response body read; 0 reads it all.
	maxBody int64
}

// do sends r and returns the response body, or an *HTTPError for non-2xx replies.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	u := c.resolveAPI(r.path)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var src io.Reader = resp.Body
	if r.maxBody > 0 && resp.StatusCode/100 == 2 {
		src = io.LimitReader(resp.Body, r.maxBody)
	}
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newHTTPError(r.op, resp, b)
	}
	return b, nil
}

type branchResponse struct {
	Name           string `json:"name"`
	TransactionRID string `json:"transactionRid"`
}

// GetBranchTransactionRID returns the most recent OPEN or COMMITTED transaction on the branch.
// It pins a readTable request to a deterministic snapshot.
func (c *Client) GetBranchTransactionRID(ctx context.Context, datasetRID, branch string) (string, error) {
	datasetRID = strings.TrimSpace(datasetRID)
	if datasetRID == "" {
		return "", fmt.Errorf("dataset rid is required")
	}
	b, err := c.do(ctx, request{
		op:     "getBranch",
		method: http.MethodGet,
		path:   fmt.Sprintf("v2/datasets/%s/branches/%s", url.PathEscape(datasetRID), url.PathEscape(branchOrDefault(branch))),
		accept: "application/json",
	})
	if err != nil {
		return "", err
	}
	var out branchResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return "", fmt.Errorf("parse get branch response: %w", err)
	}
	return strings.TrimSpace(out.TransactionRID), nil
}

// ReadTableCSV reads the dataset's current snapshot as CSV bytes.
//
// When maxBytes > 0 at most maxBytes+1 bytes are read, so callers can detect an
// oversized table without buffering all of it.
func (c *Client) ReadTableCSV(ctx context.Context, datasetRID, branch string, maxBytes int64) ([]byte, error) {
	branch = branchOrDefault(branch)
	txnRID, err := c.GetBranchTransactionRID(ctx, datasetRID, branch)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("branchName", branch)
	if txnRID != "" {
		q.Set("startTransactionRid", txnRID)
		q.Set("endTransactionRid", txnRID)
	}
	q.Set("format", "CSV")

	var limit int64
	if maxBytes > 0 {
		limit = maxBytes + 1
	}
	return c.do(ctx, request{
		op:      "readTable",
		method:  http.MethodGet,
		path:    fmt.Sprintf("v2/datasets/%s/readTable", url.PathEscape(datasetRID)),
		query:   q,
		accept:  "text/csv",
		maxBody: limit,
	})
}

type createTxnRequest struct {
	TransactionType string `json:"transactionType"`
}

type createTxnResponse struct {
	RID           string `json:"rid"`
	TransactionID string `json:"transactionId"`
}

// CreateTransaction opens a SNAPSHOT transaction and returns its id.
func (c *Client) CreateTransaction(ctx context.Context, datasetRID, branch string) (string, error) {
	body, err := json.Marshal(createTxnRequest{TransactionType: "SNAPSHOT"})
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("branchName", branchOrDefault(branch))

	rb, err := c.do(ctx, request{
		op:          "createTransaction",
		method:      http.MethodPost,
		path:        fmt.Sprintf("v2/datasets/%s/transactions", url.PathEscape(datasetRID)),
		query:       q,
		body:        body,
		contentType: "application/json",
		accept:      "application/json",
	})
	if err != nil {
		return "", err
	}

	var out createTxnResponse
	if err := json.Unmarshal(rb, &out); err != nil {
		return "", fmt.Errorf("parse create transaction response: %w", err)
	}
	txnID := strings.TrimSpace(out.TransactionID)
	if txnID == "" {
		txnID = strings.TrimSpace(out.RID)
	}
	if txnID == "" {
		return "", fmt.Errorf("create transaction response missing rid")
	}
	return txnID, nil
}

type Transaction struct {
	TransactionType string  `json:"transactionType"`
	CreatedTime     string  `json:"createdTime"`
	RID             string  `json:"rid"`
	ClosedTime      *string `json:"closedTime,omitempty"`
	Status          string  `json:"status"`
}

type listTxnsResponse struct {
	Data          []Transaction `json:"data"`
	NextPageToken string        `json:"nextPageToken"`
}

// ListTransactions lists transactions for a dataset, newest first.
//
// The endpoint is a preview API and requires preview=true.
func (c *Client) ListTransactions(ctx context.Context, datasetRID string, pageSize int, pageToken string) ([]Transaction, string, error) {
	q := url.Values{}
	q.Set("preview", "true")
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if t := strings.TrimSpace(pageToken); t != "" {
		q.Set("pageToken", t)
	}
	rb, err := c.do(ctx, request{
		op:     "listTransactions",
		method: http.MethodGet,
		path:   fmt.Sprintf("v2/datasets/%s/transactions", url.PathEscape(datasetRID)),
		query:  q,
		accept: "application/json",
	})
	if err != nil {
		return nil, "", err
	}
	var out listTxnsResponse
	if err := json.Unmarshal(rb, &out); err != nil {
		return nil, "", fmt.Errorf("parse list transactions response: %w", err)
	}
	return out.Data, strings.TrimSpace(out.NextPageToken), nil
}

// FindLatestOpenTransaction returns the RID of the newest OPEN transaction, looking
// at no more than five pages.
func (c *Client) FindLatestOpenTransaction(ctx context.Context, datasetRID string) (string, bool, error) {
	pageToken := ""
	for i := 0; i < 5; i++ {
		txns, next, err := c.ListTransactions(ctx, datasetRID, 100, pageToken)
		if err != nil {
			return "", false, err
		}
		for _, t := range txns {
			if strings.EqualFold(strings.TrimSpace(t.Status), "OPEN") && strings.TrimSpace(t.RID) != "" {
				return strings.TrimSpace(t.RID), true, nil
			}
		}
		if next == "" {
			break
		}
		pageToken = next
	}
	return "", false, nil
}

// UploadFile uploads b to filePath inside the transaction.
func (c *Client) UploadFile(ctx context.Context, datasetRID, txnID, filePath string, contentType string, b []byte) error {
	q := url.Values{}
	if t := strings.TrimSpace(txnID); t != "" {
		q.Set("transactionRid", t)
	}
	if b == nil {
		b = []byte{}
	}
	_, err := c.do(ctx, request{
		op:          "uploadFile",
		method:      http.MethodPost,
		path:        fmt.Sprintf("v2/datasets/%s/files/%s/upload", url.PathEscape(datasetRID), escapeURLPath(filePath)),
		query:       q,
		body:        b,
		contentType: contentType,
	})
	return err
}

// CommitTransaction commits a transaction.
func (c *Client) CommitTransaction(ctx context.Context, datasetRID, txnID string) error {
	_, err := c.do(ctx, request{
		op:     "commitTransaction",
		method: http.MethodPost,
		path:   fmt.Sprintf("v2/datasets/%s/transactions/%s/commit", url.PathEscape(datasetRID), url.PathEscape(txnID)),
		accept: "application/json",
	})
	return err
}

func (c *Client) resolveAPI(relPath string) *url.URL {
	rel := &url.URL{Path: strings.TrimPrefix(relPath, "/")}
	return c.apiBaseURL.ResolveReference(rel)
}

func branchOrDefault(branch string) string {
	if b := strings.TrimSpace(branch); b != "" {
		return b
	}
	return DefaultBranch
}

// escapeURLPath escapes each segment of p, keeping "/" separators.
func escapeURLPath(p string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" || cleaned == "." {
		return ""
	}
	parts := strings.Split(cleaned, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
