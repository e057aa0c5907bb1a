// Package embedding turns text into vectors for indexing and retrieval.
package embedding

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/finrag-go/internal/config"
)

// Mode tells asymmetric models whether the text is a search query or a passage.
type Mode string

const (
	ModeQuery    Mode = "query"
	ModeDocument Mode = "document"
)

// Embedder defines the interface for text embedding providers.
type Embedder interface {
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error)

	// Model returns the name of the embedding model being used.
	Model() string

	// Dimension returns the embedding vector dimension.
	// Must match the vector index dimension of the chunk store.
	Dimension() int
}

// New creates an Embedder from configuration. Query embeddings are cached.
func New(cfg config.Config) (Embedder, error) {
	var e Embedder
	var err error

	switch cfg.EmbedProvider {
	case "ollama", "openai":
		e, err = NewLangChain(cfg)
	case "voyage":
		e, err = NewVoyageClient(cfg.VoyageKey, cfg.EmbedModel, cfg.EmbedDimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.EmbedProvider)
	}
	if err != nil {
		return nil, err
	}
	return NewCached(e, defaultCacheTTL), nil
}

// checkVectors validates count and dimension of a provider response.
func checkVectors(vectors [][]float32, want, dim int) error {
	if len(vectors) != want {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("embedding %d dimension mismatch: got %d, want %d", i, len(v), dim)
		}
	}
	return nil
}
