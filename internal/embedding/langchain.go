package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain wraps a langchaingo embedder with dimension validation.
type LangChain struct {
	model     embeddings.Embedder
	modelName string
	dimension int
}

var _ Embedder = (*LangChain)(nil)

// NewLangChain creates an Ollama or OpenAI backed embedder.
func NewLangChain(cfg config.Config) (*LangChain, error) {
	var client embeddings.EmbedderClient

	switch cfg.EmbedProvider {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithModel(cfg.EmbedModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		client = llm

	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		llm, err := openai.New(
			openai.WithToken(cfg.OpenAIKey),
			openai.WithEmbeddingModel(cfg.EmbedModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		client = llm

	default:
		return nil, fmt.Errorf("unsupported langchain embedding provider: %s", cfg.EmbedProvider)
	}

	model, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(cfg.EmbedBatchSize))
	if err != nil {
		return nil, fmt.Errorf("create %s embedder: %w", cfg.EmbedProvider, err)
	}
	return newLangChain(model, cfg.EmbedModel, cfg.EmbedDimension), nil
}

func newLangChain(model embeddings.Embedder, name string, dim int) *LangChain {
	return &LangChain{model: model, modelName: name, dimension: dim}
}

// Embed uses EmbedQuery for queries and batched EmbedDocuments for passages.
func (e *LangChain) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	var vectors [][]float32
	var err error
	if mode == ModeQuery && len(texts) == 1 {
		var v []float32
		v, err = e.model.EmbedQuery(ctx, texts[0])
		vectors = [][]float32{v}
	} else {
		vectors, err = e.model.EmbedDocuments(ctx, texts)
	}
	duration := time.Since(start)

	if err != nil {
		slog.Warn("embedding failed", "model", e.modelName, "texts", len(texts), "duration_ms", duration.Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed: %w", err)
	}
	if err := checkVectors(vectors, len(texts), e.dimension); err != nil {
		return nil, err
	}

	slog.Debug("embedding complete", "model", e.modelName, "mode", mode, "texts", len(texts), "duration_ms", duration.Milliseconds())
	return vectors, nil
}

// Model returns the embedding model name.
func (e *LangChain) Model() string {
	return e.modelName
}

// Dimension returns the expected embedding dimension.
func (e *LangChain) Dimension() int {
	return e.dimension
}
