package foundry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/redact"
)

const maxErrorSnippet = 256

// HTTPError summarises a non-2xx API reply. Raw bodies never reach it: Conjure
// envelopes are reduced to their identifiers and anything else to a redacted
// snippet.
type HTTPError struct {
	Op         string `json:"-"`
	StatusCode int    `json:"-"`
	Status     string `json:"-"`

	ErrorName       string `json:"errorName"`
	ErrorCode       string `json:"errorCode"`
	ErrorInstanceID string `json:"errorInstanceId"`

	Snippet string `json:"-"`
}

func (e *HTTPError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "foundry api error: op=%s status=%s", e.Op, e.Status)
	for _, kv := range [][2]string{
		{"errorName", e.ErrorName},
		{"errorCode", e.ErrorCode},
		{"instance", e.ErrorInstanceID},
		{"body", e.Snippet},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, " %s=%s", kv[0], kv[1])
		}
	}
	return b.String()
}

// Transient reports whether the same call may succeed later.
func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode/100 == 5
}

// Conflict reports a 409 whose Conjure error name ends with name, or any 409
// carrying the generic CONFLICT code.
func (e *HTTPError) Conflict(name string) bool {
	if e.StatusCode != http.StatusConflict {
		return false
	}
	return strings.HasSuffix(e.ErrorName, name) || e.ErrorCode == "CONFLICT"
}

func newHTTPError(op string, resp *http.Response, body []byte) *HTTPError {
	h := &HTTPError{Op: op, StatusCode: resp.StatusCode, Status: resp.Status}
	if len(body) > 0 && json.Unmarshal(body, h) == nil {
		h.ErrorName = strings.TrimSpace(h.ErrorName)
		h.ErrorCode = strings.TrimSpace(h.ErrorCode)
		h.ErrorInstanceID = strings.TrimSpace(h.ErrorInstanceID)
		if h.ErrorName+h.ErrorCode+h.ErrorInstanceID != "" {
			return h
		}
	}
	h.Snippet = redact.Snippet(string(body), maxErrorSnippet)
	return h
}
