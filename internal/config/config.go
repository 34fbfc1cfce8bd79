// Package config holds the enricher's runtime settings.
//
// Settings are layered: Default, then an optional YAML file (LoadFile), then
// environment variables and flags applied by the command line.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/table"
)

const (
	ProviderGemini = "gemini"
	ProviderStub   = "stub"
)

type Config struct {
	// Provider selects the reasoning service: "gemini" or "stub".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`

	// APIKey is only ever read from the environment.
	APIKey string `yaml:"-"`

	BatchSize     int `yaml:"batch_size"`
	MaxFileSizeMB int `yaml:"max_file_size_mb"`

	// RequestTimeout bounds a single service call; 0 disables it.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`

	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Provider:       ProviderGemini,
		Model:          "gemini-2.5-flash",
		BatchSize:      50,
		MaxFileSizeMB:  10,
		RequestTimeout: 2 * time.Minute,
		Listen:         ":8000",
		LogLevel:       "info",
	}
}

// LoadFile layers the YAML file at path over Default. An empty path returns the
// defaults; a missing file is an error because it was asked for explicitly.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderGemini:
		if strings.TrimSpace(c.Model) == "" {
			errs = append(errs, errors.New("model is required for the gemini provider"))
		}
	case ProviderStub:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q (want %s or %s)", c.Provider, ProviderGemini, ProviderStub))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize))
	}
	if c.MaxFileSizeMB < 1 {
		errs = append(errs, fmt.Errorf("max file size must be at least 1 MB, got %d", c.MaxFileSizeMB))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request timeout must not be negative, got %s", c.RequestTimeout))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %g", c.RateLimitRPS))
	}
	return errors.Join(errs...)
}

// MaxFileSizeBytes is the upload limit in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return table.MBToBytes(c.MaxFileSizeMB)
}

// ParseOrigins splits a comma-separated CORS allow-list.
func ParseOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}
