// Package config loads settings from the environment and sets up logging.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreSurrealDB = "surrealdb"
	StoreBadger    = "badger"
	StorePgvector  = "pgvector"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	ServerPort int
	ServerURL  string // used by the CLI

	// Chunk store
	Store              string
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string
	BadgerPath         string // empty means in-memory
	PostgresDSN        string

	// Embedding
	EmbedProvider  string // ollama, openai, voyage
	EmbedModel     string
	EmbedDimension int
	EmbedBatchSize int
	OllamaHost     string
	OpenAIKey      string
	VoyageKey      string

	// Generation
	LLMProvider    string // ollama, openai, anthropic, bedrock
	LLMModel       string
	AnthropicKey   string
	AWSRegion      string
	InputPricePer  float64 // USD per million input tokens
	OutputPricePer float64 // USD per million output tokens

	// Reranking
	RerankProvider string // cohere, none
	RerankURL      string
	RerankModel    string
	RerankKey      string

	// Document parsing
	ParserProvider string // llamaparse, builtin
	LlamaParseURL  string
	LlamaParseKey  string

	// Filing source
	FilingSource string // dir, gcs
	FilingsDir   string
	GCSBucket    string
	GCSPrefix    string

	// Collaborator timeouts
	DownloadTimeout time.Duration
	ParseTimeout    time.Duration
	EmbedTimeout    time.Duration
	RerankTimeout   time.Duration
	GenerateTimeout time.Duration
	StoreTimeout    time.Duration

	// Orchestration
	JobConcurrency    int
	TickerConcurrency int
	EventBufferSize   int
	HeartbeatInterval time.Duration
	JobRetention      time.Duration

	// Query pipeline
	RetrieveK int
	RerankN   int

	// Optional NATS mirror of progress events
	NATSURL     string
	NATSSubject string

	// Tracing
	OTelEnabled  bool
	OTelEndpoint string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		ServerPort: getEnvInt("FINRAG_SERVER_PORT", 8484),
		ServerURL:  getEnv("FINRAG_SERVER_URL", "http://localhost:8484"),

		Store:              getEnv("FINRAG_STORE", StoreBadger),
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "finrag"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "filings"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),
		BadgerPath:         getEnv("FINRAG_BADGER_PATH", ""),
		PostgresDSN:        getEnv("FINRAG_POSTGRES_DSN", "host=localhost user=finrag password=finrag dbname=finrag port=5432 sslmode=disable"),

		EmbedProvider:  getEnv("FINRAG_EMBED_PROVIDER", "ollama"),
		EmbedModel:     getEnv("FINRAG_EMBED_MODEL", "bge-large"),
		EmbedDimension: getEnvInt("FINRAG_EMBED_DIMENSION", 1024),
		EmbedBatchSize: getEnvInt("FINRAG_EMBED_BATCH_SIZE", 64),
		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIKey:      getEnv("OPENAI_API_KEY", ""),
		VoyageKey:      getEnv("VOYAGE_API_KEY", ""),

		LLMProvider:    getEnv("FINRAG_LLM_PROVIDER", "ollama"),
		LLMModel:       getEnv("FINRAG_LLM_MODEL", "llama3.1"),
		AnthropicKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		InputPricePer:  getEnvFloat("FINRAG_INPUT_PRICE_PER_MTOK", 0.15),
		OutputPricePer: getEnvFloat("FINRAG_OUTPUT_PRICE_PER_MTOK", 0.60),

		RerankProvider: getEnv("FINRAG_RERANK_PROVIDER", "none"),
		RerankURL:      getEnv("FINRAG_RERANK_URL", "https://api.cohere.com/v2/rerank"),
		RerankModel:    getEnv("FINRAG_RERANK_MODEL", "rerank-english-v3.0"),
		RerankKey:      getEnv("COHERE_API_KEY", ""),

		ParserProvider: getEnv("FINRAG_PARSER_PROVIDER", "builtin"),
		LlamaParseURL:  getEnv("LLAMAPARSE_URL", "https://api.cloud.llamaindex.ai/api/parsing"),
		LlamaParseKey:  getEnv("LLAMA_CLOUD_API_KEY", ""),

		FilingSource: getEnv("FINRAG_FILING_SOURCE", "dir"),
		FilingsDir:   getEnv("FINRAG_FILINGS_DIR", "data/raw/sec-edgar-filings"),
		GCSBucket:    getEnv("FINRAG_GCS_BUCKET", ""),
		GCSPrefix:    getEnv("FINRAG_GCS_PREFIX", "sec-edgar-filings"),

		DownloadTimeout: getEnvDuration("FINRAG_DOWNLOAD_TIMEOUT", 2*time.Minute),
		ParseTimeout:    getEnvDuration("FINRAG_PARSE_TIMEOUT", 5*time.Minute),
		EmbedTimeout:    getEnvDuration("FINRAG_EMBED_TIMEOUT", 2*time.Minute),
		RerankTimeout:   getEnvDuration("FINRAG_RERANK_TIMEOUT", 30*time.Second),
		GenerateTimeout: getEnvDuration("FINRAG_GENERATE_TIMEOUT", 90*time.Second),
		StoreTimeout:    getEnvDuration("FINRAG_STORE_TIMEOUT", 30*time.Second),

		JobConcurrency:    getEnvInt("FINRAG_JOB_CONCURRENCY", 2),
		TickerConcurrency: getEnvInt("FINRAG_TICKER_CONCURRENCY", 4),
		EventBufferSize:   getEnvInt("FINRAG_EVENT_BUFFER", 500),
		HeartbeatInterval: getEnvDuration("FINRAG_HEARTBEAT_INTERVAL", 15*time.Second),
		JobRetention:      getEnvDuration("FINRAG_JOB_RETENTION", 30*time.Minute),

		RetrieveK: getEnvInt("FINRAG_RETRIEVE_K", 20),
		RerankN:   getEnvInt("FINRAG_RERANK_N", 5),

		NATSURL:     getEnv("NATS_URL", ""),
		NATSSubject: getEnv("FINRAG_NATS_SUBJECT", "finrag.ingest"),

		OTelEnabled:  getEnv("OTEL_ENABLED", "false") == "true",
		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),

		LogFile:  getEnv("FINRAG_LOG_FILE", "/tmp/finrag.log"),
		LogLevel: parseLogLevel(getEnv("FINRAG_LOG_LEVEL", "INFO")),
	}
}

// Validate rejects unknown providers and non-positive sizes.
func (c Config) Validate() error {
	var errs []error
	check := func(name, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unknown value %q (want one of %s)", name, value, strings.Join(allowed, ", ")))
	}
	check("store", c.Store, StoreSurrealDB, StoreBadger, StorePgvector)
	check("embed provider", c.EmbedProvider, "ollama", "openai", "voyage")
	check("llm provider", c.LLMProvider, "ollama", "openai", "anthropic", "bedrock")
	check("rerank provider", c.RerankProvider, "cohere", "none")
	check("parser provider", c.ParserProvider, "llamaparse", "builtin")
	check("filing source", c.FilingSource, "dir", "gcs")

	positive := map[string]int{
		"embed dimension":    c.EmbedDimension,
		"embed batch size":   c.EmbedBatchSize,
		"job concurrency":    c.JobConcurrency,
		"ticker concurrency": c.TickerConcurrency,
		"event buffer":       c.EventBufferSize,
		"retrieve k":         c.RetrieveK,
		"rerank n":           c.RerankN,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval))
	}
	// Every collaborator call is bounded; zero would mean no deadline.
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"download timeout", c.DownloadTimeout},
		{"parse timeout", c.ParseTimeout},
		{"embed timeout", c.EmbedTimeout},
		{"rerank timeout", c.RerankTimeout},
		{"generate timeout", c.GenerateTimeout},
		{"store timeout", c.StoreTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", t.name, t.d))
		}
	}
	if c.FilingSource == "gcs" && c.GCSBucket == "" {
		errs = append(errs, errors.New("gcs filing source needs FINRAG_GCS_BUCKET"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
