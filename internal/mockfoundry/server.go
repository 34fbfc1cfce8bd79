// Package mockfoundry is an in-memory stand-in for the Foundry dataset API surface
// used by the enricher. Tests and the local harness point a foundry.Client at it.
package mockfoundry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Upload records a file upload into a dataset transaction.
type Upload struct {
	DatasetRID string
	TxnID      string
	FilePath   string
	Bytes      []byte
}

// Server implements the v2 dataset endpoints: getBranch, readTable, transactions
// (create, list, commit) and file upload.
type Server struct {
	mu      sync.Mutex
	calls   []Call
	uploads []Upload

	expectedAuthorization string

	nextTxn int
	txns    map[string]*txnState
	// order lists transaction ids newest first, matching listTransactions.
	order []string

	// heads holds the last committed table per dataset RID.
	heads map[string][]byte

	// failures are injected error statuses keyed by operation name.
	failures map[string][]int
}

type txnState struct {
	datasetRID string
	branch     string
	committed  bool
	files      map[string][]byte
}

// New constructs an empty mock server.
func New() *Server {
	return &Server{
		nextTxn:  1,
		txns:     make(map[string]*txnState),
		heads:    make(map[string][]byte),
		failures: make(map[string][]int),
	}
}

// RequireBearerToken enforces that requests carry the token. An empty token
// disables the check.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// PutTable sets the committed contents of a dataset.
func (s *Server) PutTable(datasetRID string, csv []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads[datasetRID] = append([]byte(nil), csv...)
}

// Table returns the committed contents of a dataset.
func (s *Server) Table(datasetRID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.heads[datasetRID]
	return b, ok
}

// OpenTransaction starts a transaction outside the client, as another writer
// (or the platform itself) would, and returns its id.
func (s *Server) OpenTransaction(datasetRID, branch string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openTxnLocked(datasetRID, branch)
}

// FailNext makes the next len(statuses) calls to op fail with those statuses.
// op is one of getBranch, readTable, createTransaction, listTransactions,
// uploadFile, commitTransaction.
func (s *Server) FailNext(op string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], statuses...)
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/datasets/{rid}/branches/{branch}", s.wrap("getBranch", s.handleGetBranch))
	mux.HandleFunc("GET /api/v2/datasets/{rid}/readTable", s.wrap("readTable", s.handleReadTable))
	mux.HandleFunc("POST /api/v2/datasets/{rid}/transactions", s.wrap("createTransaction", s.handleCreateTransaction))
	mux.HandleFunc("GET /api/v2/datasets/{rid}/transactions", s.wrap("listTransactions", s.handleListTransactions))
	mux.HandleFunc("POST /api/v2/datasets/{rid}/transactions/{txn}/commit", s.wrap("commitTransaction", s.handleCommit))
	mux.HandleFunc("POST /api/v2/datasets/{rid}/files/{file...}", s.wrap("uploadFile", s.handleUpload))
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Uploads returns a snapshot of uploads made to the server.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Upload, len(s.uploads))
	copy(out, s.uploads)
	return out
}

func (s *Server) wrap(op string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
		expected := s.expectedAuthorization
		var fail int
		if q := s.failures[op]; len(q) > 0 {
			fail, s.failures[op] = q[0], q[1:]
		}
		s.mu.Unlock()

		if expected != "" && r.Header.Get("Authorization") != expected {
			writeConjureError(w, http.StatusUnauthorized, "Default:Unauthorized", "UNAUTHORIZED")
			return
		}
		if fail != 0 {
			writeConjureError(w, fail, "Mock:InjectedFailure", "INTERNAL")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	rid, branch := r.PathValue("rid"), r.PathValue("branch")

	s.mu.Lock()
	_, hasHead := s.heads[rid]
	latest := ""
	for _, id := range s.order {
		if t := s.txns[id]; t.datasetRID == rid && t.branch == branch {
			latest = id
			break
		}
	}
	s.mu.Unlock()

	if !hasHead && latest == "" {
		writeConjureError(w, http.StatusNotFound, "Datasets:BranchNotFound", "NOT_FOUND")
		return
	}
	writeJSON(w, map[string]string{"name": branch, "transactionRid": latest})
}

func (s *Server) handleReadTable(w http.ResponseWriter, r *http.Request) {
	rid := r.PathValue("rid")
	if r.URL.Query().Get("format") != "CSV" {
		http.Error(w, "format=CSV is required", http.StatusBadRequest)
		return
	}
	b, ok := s.Table(rid)
	if !ok {
		writeConjureError(w, http.StatusNotFound, "Datasets:DatasetNotFound", "NOT_FOUND")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	_, _ = w.Write(b)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	rid := r.PathValue("rid")
	branch := r.URL.Query().Get("branchName")

	var req struct {
		TransactionType string `json:"transactionType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TransactionType == "" {
		http.Error(w, "transactionType is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	for _, t := range s.txns {
		if t.datasetRID == rid && t.branch == branch && !t.committed {
			s.mu.Unlock()
			writeConjureError(w, http.StatusConflict, "Datasets:OpenTransactionAlreadyExists", "CONFLICT")
			return
		}
	}
	txnID := s.openTxnLocked(rid, branch)
	s.mu.Unlock()

	writeJSON(w, map[string]string{"rid": txnID, "transactionType": req.TransactionType, "status": "OPEN"})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	rid := r.PathValue("rid")
	if r.URL.Query().Get("preview") != "true" {
		http.Error(w, "preview=true is required", http.StatusBadRequest)
		return
	}

	type txn struct {
		RID             string `json:"rid"`
		TransactionType string `json:"transactionType"`
		Status          string `json:"status"`
	}
	var data []txn
	s.mu.Lock()
	for _, id := range s.order {
		t := s.txns[id]
		if t.datasetRID != rid {
			continue
		}
		status := "OPEN"
		if t.committed {
			status = "COMMITTED"
		}
		data = append(data, txn{RID: id, TransactionType: "SNAPSHOT", Status: status})
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"data": data})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	rid := r.PathValue("rid")
	filePath, ok := strings.CutSuffix(r.PathValue("file"), "/upload")
	if !ok || !isSafeFilePath(filePath) {
		http.Error(w, "invalid file path", http.StatusBadRequest)
		return
	}
	txnID := r.URL.Query().Get("transactionRid")

	b, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[txnID]
	if !ok || txn.datasetRID != rid {
		writeConjureError(w, http.StatusNotFound, "Datasets:TransactionNotFound", "NOT_FOUND")
		return
	}
	if txn.committed {
		writeConjureError(w, http.StatusConflict, "Datasets:TransactionNotOpen", "CONFLICT")
		return
	}
	txn.files[filePath] = b
	s.uploads = append(s.uploads, Upload{DatasetRID: rid, TxnID: txnID, FilePath: filePath, Bytes: b})

	writeJSON(w, map[string]string{"path": filePath, "transactionRid": txnID})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	rid, txnID := r.PathValue("rid"), r.PathValue("txn")

	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[txnID]
	if !ok || txn.datasetRID != rid {
		writeConjureError(w, http.StatusNotFound, "Datasets:TransactionNotFound", "NOT_FOUND")
		return
	}
	if txn.committed {
		writeConjureError(w, http.StatusConflict, "Datasets:TransactionNotOpen", "CONFLICT")
		return
	}
	if len(txn.files) != 1 {
		http.Error(w, fmt.Sprintf("transaction has %d uploaded files, want 1", len(txn.files)), http.StatusBadRequest)
		return
	}
	for _, b := range txn.files {
		s.heads[rid] = append([]byte(nil), b...)
	}
	txn.committed = true

	writeJSON(w, map[string]string{"rid": txnID, "status": "COMMITTED"})
}

func (s *Server) openTxnLocked(datasetRID, branch string) string {
	txnID := fmt.Sprintf("ri.foundry.main.transaction.%06d", s.nextTxn)
	s.nextTxn++
	s.txns[txnID] = &txnState{
		datasetRID: datasetRID,
		branch:     branch,
		files:      make(map[string][]byte),
	}
	s.order = append([]string{txnID}, s.order...)
	return txnID
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeConjureError(w http.ResponseWriter, status int, name, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"errorCode":       code,
		"errorName":       name,
		"errorInstanceId": "00000000-0000-0000-0000-000000000000",
	})
}

func isSafeFilePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
