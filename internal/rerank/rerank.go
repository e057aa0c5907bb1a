// Package rerank orders retrieved passages by relevance to a question.
package rerank

import (
	"context"
	"fmt"
	"slices"

	"github.com/raphaelgruber/finrag-go/internal/config"
	"github.com/raphaelgruber/finrag-go/internal/httpjson"
)

// MaxDocChars bounds each document sent to the reranker.
const MaxDocChars = 2000

// Result is a document position with its relevance score.
type Result struct {
	Index int
	Score float64
}

// Reranker scores documents against a query and returns the best topN.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string, topN int) ([]Result, error)
}

// New creates a Reranker based on configuration.
func New(cfg config.Config) (Reranker, error) {
	switch cfg.RerankProvider {
	case "cohere":
		return NewCohere(cfg.RerankURL, cfg.RerankKey, cfg.RerankModel)
	case "none":
		return Passthrough{}, nil
	default:
		return nil, fmt.Errorf("unknown rerank provider: %s", cfg.RerankProvider)
	}
}

// Cohere calls a Cohere compatible /rerank endpoint.
type Cohere struct {
	url   string
	key   string
	model string
	http  *httpjson.Client
}

// NewCohere creates a Cohere reranker.
func NewCohere(url, key, model string) (*Cohere, error) {
	if key == "" {
		return nil, fmt.Errorf("API key required for Cohere rerank")
	}
	return &Cohere{url: url, key: key, model: model, http: httpjson.New()}, nil
}

// WithHTTP replaces the JSON client.
func (c *Cohere) WithHTTP(h *httpjson.Client) *Cohere {
	c.http = h
	return c
}

type cohereRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type cohereResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank truncates documents and returns results by descending score.
func (c *Cohere) Rerank(ctx context.Context, query string, docs []string, topN int) ([]Result, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	truncated := make([]string, len(docs))
	for i, d := range docs {
		truncated[i] = Truncate(d, MaxDocChars)
	}

	req := cohereRequest{Model: c.model, Query: query, Documents: truncated, TopN: min(topN, len(docs))}
	headers := map[string]string{"Authorization": "Bearer " + c.key}

	var resp cohereResponse
	if err := c.http.Post(ctx, c.url, headers, req, &resp); err != nil {
		return nil, fmt.Errorf("cohere rerank: %w", err)
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			return nil, fmt.Errorf("cohere rerank: invalid index %d", r.Index)
		}
		results = append(results, Result{Index: r.Index, Score: r.RelevanceScore})
	}
	sortResults(results)
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

// Passthrough keeps retrieval order. Scores fall from 1 so later
// positions rank lower.
type Passthrough struct{}

// Rerank returns the first topN documents in input order.
func (Passthrough) Rerank(_ context.Context, _ string, docs []string, topN int) ([]Result, error) {
	n := min(topN, len(docs))
	results := make([]Result, n)
	for i := range n {
		results[i] = Result{Index: i, Score: 1 - float64(i)/float64(len(docs))}
	}
	return results, nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sortResults(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
}
