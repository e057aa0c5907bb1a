package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreBadger, cfg.Store)
	assert.Equal(t, 1024, cfg.EmbedDimension)
	assert.Equal(t, 20, cfg.RetrieveK)
	assert.Equal(t, 5, cfg.RerankN)
	assert.Equal(t, 500, cfg.EventBufferSize)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FINRAG_STORE", "surrealdb")
	t.Setenv("FINRAG_EMBED_DIMENSION", "384")
	t.Setenv("FINRAG_HEARTBEAT_INTERVAL", "2s")
	t.Setenv("FINRAG_OUTPUT_PRICE_PER_MTOK", "1.5")
	t.Setenv("FINRAG_JOB_CONCURRENCY", "not-a-number")

	cfg := Load()
	assert.Equal(t, StoreSurrealDB, cfg.Store)
	assert.Equal(t, 384, cfg.EmbedDimension)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	assert.InDelta(t, 1.5, cfg.OutputPricePer, 1e-9)
	assert.Equal(t, 2, cfg.JobConcurrency, "unparseable values fall back to the default")
}

func TestLoadZeroTimeoutRejected(t *testing.T) {
	t.Setenv("FINRAG_PARSE_TIMEOUT", "0s")

	cfg := Load()
	assert.Zero(t, cfg.ParseTimeout)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse timeout")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown store", func(c *Config) { c.Store = "qdrant" }, `store: unknown value "qdrant"`},
		{"unknown llm", func(c *Config) { c.LLMProvider = "gemini" }, "llm provider"},
		{"zero buffer", func(c *Config) { c.EventBufferSize = 0 }, "event buffer must be positive"},
		{"gcs without bucket", func(c *Config) { c.FilingSource = "gcs" }, "FINRAG_GCS_BUCKET"},
		{"zero parse timeout", func(c *Config) { c.ParseTimeout = 0 }, "parse timeout must be positive"},
		{"negative generate timeout", func(c *Config) { c.GenerateTimeout = -time.Second }, "generate timeout must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("bogus"))
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)
	logger.Info("job created", "job_id", "abc123")
	logger.Debug("hidden")

	assert.Contains(t, stderr.String(), "job_id=abc123")
	assert.True(t, strings.HasPrefix(file.String(), "{"), "file output should be JSON")
	assert.NotContains(t, file.String(), "hidden")
}
