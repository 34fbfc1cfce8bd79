// Package computemodule runs the enricher as a Foundry compute module in function
// mode: it polls the platform for jobs, handles each one, and posts the result.
package computemodule

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/redact"
)

type jobEnvelope struct {
	ComputeModuleJobV1 Job `json:"computeModuleJobV1"`
}

// Job is one function invocation handed out by the platform.
type Job struct {
	JobID     string          `json:"jobId"`
	QueryType string          `json:"queryType"`
	Query     json.RawMessage `json:"query"`
}

// HandlerFunc produces the result bytes for a job. A returned error is still
// reported to the platform as the job's result.
type HandlerFunc func(ctx context.Context, job Job) ([]byte, error)

type Config struct {
	GetJobURI       string
	PostResultURI   string
	ModuleAuthToken string
	DefaultCAPath   string

	// PollInterval is the wait after an empty poll; defaults to 500ms.
	PollInterval time.Duration
}

// LoadConfigFromEnv reads GET_JOB_URI, POST_RESULT_URI, MODULE_AUTH_TOKEN and
// DEFAULT_CA_PATH. ok is false when the job URIs are absent, meaning the process
// is not running in function mode.
func LoadConfigFromEnv() (cfg Config, ok bool, err error) {
	getJob := strings.TrimSpace(os.Getenv("GET_JOB_URI"))
	postRes := strings.TrimSpace(os.Getenv("POST_RESULT_URI"))
	if getJob == "" || postRes == "" {
		return Config{}, false, nil
	}

	tok, err := readValueOrFile(os.Getenv("MODULE_AUTH_TOKEN"))
	if err != nil {
		return Config{}, false, fmt.Errorf("read MODULE_AUTH_TOKEN: %w", err)
	}
	if tok == "" {
		return Config{}, false, fmt.Errorf("MODULE_AUTH_TOKEN is required when GET_JOB_URI/POST_RESULT_URI are set")
	}
	return Config{
		GetJobURI:       getJob,
		PostResultURI:   postRes,
		ModuleAuthToken: tok,
		DefaultCAPath:   strings.TrimSpace(os.Getenv("DEFAULT_CA_PATH")),
	}, true, nil
}

// readValueOrFile returns v itself, or the contents of the file v names.
func readValueOrFile(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	if st, err := os.Stat(v); err == nil && !st.IsDir() {
		b, err := os.ReadFile(v)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	return v, nil
}

// Client polls for jobs and posts their results.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	hc, err := newHTTPClient(cfg.DefaultCAPath)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, http: hc, logger: logger}, nil
}

func newHTTPClient(caPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if caPath != "" {
		b, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: tr, Timeout: 30 * time.Second}, nil
}

// Run handles jobs one at a time until ctx is cancelled, which is its only
// return path besides a setup failure.
func (c *Client) Run(ctx context.Context, handle HandlerFunc) error {
	c.logger.Info("compute module client enabled", zap.String("getJobURI", c.cfg.GetJobURI))

	backoff := c.cfg.PollInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, ok, err := c.nextJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("get job failed", zap.String("error", redact.Secrets(err.Error())), zap.Duration("retryIn", backoff))
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = c.cfg.PollInterval
		if !ok {
			if err := sleep(ctx, c.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}

		jobID := strings.TrimSpace(job.JobID)
		if jobID == "" {
			c.logger.Warn("received job without jobId; skipping")
			continue
		}
		logger := c.logger.With(zap.String("jobId", jobID))
		logger.Info("received job", zap.String("queryType", job.QueryType))

		result, jobErr := handle(ctx, job)
		if jobErr != nil {
			logger.Warn("job failed", zap.String("error", redact.Secrets(jobErr.Error())))
			if len(result) == 0 {
				result = []byte(redact.Secrets(jobErr.Error()))
			}
		}
		c.postWithRetry(ctx, logger, jobID, result)
	}
}

func (c *Client) postWithRetry(ctx context.Context, logger *zap.Logger, jobID string, result []byte) {
	const attempts = 5
	for i := 0; i < attempts; i++ {
		err := c.postResult(ctx, jobID, result)
		if err == nil {
			return
		}
		logger.Warn("post result failed", zap.Int("attempt", i+1), zap.String("error", redact.Secrets(err.Error())))
		if sleep(ctx, time.Duration(i+1)*c.cfg.PollInterval) != nil {
			return
		}
	}
}

func (c *Client) nextJob(ctx context.Context) (Job, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.GetJobURI, nil)
	if err != nil {
		return Job{}, false, err
	}
	req.Header.Set("Module-Auth-Token", c.cfg.ModuleAuthToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Job{}, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return Job{}, false, nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Job{}, false, err
	}
	if resp.StatusCode/100 != 2 {
		return Job{}, false, fmt.Errorf("GET job: status=%d body=%s", resp.StatusCode, redact.Snippet(string(b), 256))
	}

	var env jobEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Job{}, false, fmt.Errorf("parse GET job response: %w", err)
	}
	return env.ComputeModuleJobV1, true, nil
}

func (c *Client) postResult(ctx context.Context, jobID string, result []byte) error {
	base := strings.TrimRight(c.cfg.PostResultURI, "/")
	u := base + "/" + path.Clean("/" + jobID)[1:]

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(result))
	if err != nil {
		return err
	}
	req.Header.Set("Module-Auth-Token", c.cfg.ModuleAuthToken)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST result: status=%d body=%s", resp.StatusCode, redact.Snippet(string(b), 256))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
