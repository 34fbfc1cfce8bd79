package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-column-enricher/internal/config"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/enrich"
	"github.com/palantir/palantir-compute-module-column-enricher/internal/enrich/gemini"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
)

type generator interface {
	core.Generator
	ModelName() string
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", EnvVars: []string{"ENRICHER_CONFIG"}},
		&cli.StringFlag{Name: "provider", Usage: "Reasoning service: gemini or stub", EnvVars: []string{"ENRICHER_PROVIDER"}},
		&cli.StringFlag{Name: "model", Usage: "Model id", EnvVars: []string{"GEMINI_MODEL"}},
		&cli.StringFlag{Name: "base-url", Usage: "Override the Gemini API base URL", EnvVars: []string{"GEMINI_BASE_URL"}},
		&cli.IntFlag{Name: "batch-size", Usage: "Rows per service call", EnvVars: []string{"BATCH_SIZE"}},
		&cli.IntFlag{Name: "max-file-size-mb", Usage: "Input size limit in MB", EnvVars: []string{"MAX_FILE_SIZE_MB"}},
		&cli.DurationFlag{Name: "request-timeout", Usage: "Per-call timeout (0 disables)", EnvVars: []string{"REQUEST_TIMEOUT"}},
		&cli.Float64Flag{Name: "rate-limit-rps", Usage: "Max service calls per second (0 disables)", EnvVars: []string{"RATE_LIMIT_RPS"}},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", EnvVars: []string{"LOG_LEVEL"}},
	}
}

// loadConfig layers file, then flags/env, then validates.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadFile(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("provider") {
		cfg.Provider = strings.ToLower(strings.TrimSpace(c.String("provider")))
	}
	if c.IsSet("model") {
		cfg.Model = strings.TrimSpace(c.String("model"))
	}
	if c.IsSet("base-url") {
		cfg.BaseURL = strings.TrimSpace(c.String("base-url"))
	}
	if c.IsSet("batch-size") {
		cfg.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("max-file-size-mb") {
		cfg.MaxFileSizeMB = c.Int("max-file-size-mb")
	}
	if c.IsSet("request-timeout") {
		cfg.RequestTimeout = c.Duration("request-timeout")
	}
	if c.IsSet("rate-limit-rps") {
		cfg.RateLimitRPS = c.Float64("rate-limit-rps")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = strings.TrimSpace(c.String("log-level"))
	}
	if c.IsSet("listen") {
		cfg.Listen = strings.TrimSpace(c.String("listen"))
	}
	if c.IsSet("cors-origins") {
		cfg.CORSOrigins = config.ParseOrigins(c.String("cors-origins"))
	}
	cfg.APIKey = os.Getenv("GEMINI_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func newGenerator(ctx context.Context, cfg *config.Config) (generator, error) {
	switch cfg.Provider {
	case config.ProviderStub:
		return enrich.Stub{Model: cfg.Model}, nil
	case config.ProviderGemini:
		g, err := gemini.New(ctx, gemini.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
