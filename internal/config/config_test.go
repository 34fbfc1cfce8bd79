package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enricher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxFileSizeBytes())
}

func TestLoadFile_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile_OverridesDefaults(t *testing.T) {
	path := writeFile(t, `
provider: stub
batch_size: 5
request_timeout: 45s
cors_origins:
  - https://app.example.com
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderStub, cfg.Provider)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, 10, cfg.MaxFileSizeMB, "unset keys keep their defaults")
}

func TestLoadFile_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	_, err = LoadFile(writeFile(t, "batch_sise: 3\n"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = LoadFile(writeFile(t, "api_key: secret\n"))
	assert.Error(t, err, "the API key must not be accepted from a file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "batch size", mutate: func(c *Config) { c.BatchSize = 0 }, want: "batch size"},
		{name: "file size", mutate: func(c *Config) { c.MaxFileSizeMB = 0 }, want: "max file size"},
		{name: "timeout", mutate: func(c *Config) { c.RequestTimeout = -time.Second }, want: "request timeout"},
		{name: "rate", mutate: func(c *Config) { c.RateLimitRPS = -1 }, want: "rate limit"},
		{name: "provider", mutate: func(c *Config) { c.Provider = "openai" }, want: "unknown provider"},
		{name: "model", mutate: func(c *Config) { c.Model = " " }, want: "model is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	stub := Default()
	stub.Provider = ProviderStub
	stub.Model = ""
	assert.NoError(t, stub.Validate())
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t,
		[]string{"http://localhost:3000", "https://app.example.com"},
		ParseOrigins(" http://localhost:3000 , https://app.example.com/ ,,"),
	)
	assert.Nil(t, ParseOrigins(""))
}
