// Package llm generates grounded answers with langchaingo or Amazon Bedrock.
package llm

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/finrag-go/internal/config"
)

// Sampling settings for answer generation.
const (
	Temperature = 0.1
	MaxTokens   = 1024
)

// Generator produces an answer from a system and a user prompt.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
	Model() string
}

// New creates a Generator based on configuration.
func New(ctx context.Context, cfg config.Config) (Generator, error) {
	switch cfg.LLMProvider {
	case "ollama", "openai", "anthropic":
		return NewLangChain(cfg)
	case "bedrock":
		return NewBedrock(ctx, cfg.AWSRegion, cfg.LLMModel)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}
