package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"

	"github.com/palantir/palantir-compute-module-column-enricher/internal/enrich/prompt"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// Generator asks a Gemini model to fill target columns for a batch of rows.
type Generator struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Generator{
		client: client,
		model:  strings.TrimSpace(cfg.Model),
	}, nil
}

// ModelName returns the configured model id.
func (g *Generator) ModelName() string {
	return g.model
}

// Generate renders the batch into the enrichment prompt and returns the model's
// reply text unparsed. Shape validation belongs to the caller.
func (g *Generator) Generate(ctx context.Context, b core.Batch, targets []string) (string, error) {
	text, err := prompt.Render(b, targets)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(text),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			Temperature:      genai.Ptr[float32](0),
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return "", classifyErr(err)
	}
	return resp.Text(), nil
}

// classifyErr maps every client failure to a service-unavailable pipeline error,
// keeping the API status in the message for logs.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	msg := "gemini request failed"
	var apiErr genai.APIError
	var ne net.Error
	switch {
	case errors.As(err, &apiErr):
		msg = fmt.Sprintf("gemini api error: code=%d status=%s", apiErr.Code, strings.TrimSpace(apiErr.Status))
	case errors.Is(err, context.DeadlineExceeded):
		msg = "gemini request deadline exceeded"
	case errors.As(err, &ne) && ne.Timeout():
		msg = "gemini request timed out"
	}
	return &core.Error{Kind: core.KindServiceUnavailable, Msg: msg, Err: err}
}
