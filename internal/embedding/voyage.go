package embedding

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/finrag-go/internal/httpjson"
)

const (
	// DefaultVoyageModel is used when no model is configured.
	DefaultVoyageModel = "voyage-finance-2"

	// DefaultVoyageDimension is the output dimension of voyage-finance-2.
	DefaultVoyageDimension = 1024

	// VoyageAPIEndpoint is the Voyage AI embeddings endpoint.
	VoyageAPIEndpoint = "https://api.voyageai.com/v1/embeddings"

	voyageMaxBatch = 128
)

// VoyageClient implements Embedder against the Voyage AI API.
type VoyageClient struct {
	apiKey    string
	model     string
	dimension int
	endpoint  string
	http      *httpjson.Client
}

var _ Embedder = (*VoyageClient)(nil)

// NewVoyageClient creates a Voyage AI embedding client.
// If model is empty, uses DefaultVoyageModel.
// If expectedDimension is 0, uses DefaultVoyageDimension.
func NewVoyageClient(apiKey, model string, expectedDimension int) (*VoyageClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key required for Voyage embeddings")
	}
	if model == "" {
		model = DefaultVoyageModel
	}
	if expectedDimension == 0 {
		expectedDimension = DefaultVoyageDimension
	}

	return &VoyageClient{
		apiKey:    apiKey,
		model:     model,
		dimension: expectedDimension,
		endpoint:  VoyageAPIEndpoint,
		http:      httpjson.New(),
	}, nil
}

// WithEndpoint points the client at another URL.
func (c *VoyageClient) WithEndpoint(url string) *VoyageClient {
	c.endpoint = url
	return c
}

// WithHTTP replaces the JSON client, mainly to tune retries.
func (c *VoyageClient) WithHTTP(h *httpjson.Client) *VoyageClient {
	c.http = h
	return c
}

// Model returns the configured embedding model name.
func (c *VoyageClient) Model() string {
	return c.model
}

// Dimension returns the expected embedding dimension.
func (c *VoyageClient) Dimension() int {
	return c.dimension
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed sends texts in batches of at most 128.
func (c *VoyageClient) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += voyageMaxBatch {
		end := min(start+voyageMaxBatch, len(texts))
		vectors, err := c.embedBatch(ctx, texts[start:end], mode)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *VoyageClient) embedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	req := voyageRequest{Input: texts, Model: c.model, InputType: string(mode)}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	var resp voyageResponse
	if err := c.http.Post(ctx, c.endpoint, headers, req, &resp); err != nil {
		return nil, fmt.Errorf("voyage embed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, fmt.Errorf("invalid embedding index: %d", d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}
	if err := checkVectors(embeddings, len(texts), c.dimension); err != nil {
		return nil, err
	}
	return embeddings, nil
}
