// Package parsing converts a filing's primary HTML document into markdown.
package parsing

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/finrag-go/internal/config"
)

// Parser turns a raw document into markdown text.
type Parser interface {
	Parse(ctx context.Context, name string, doc []byte) (string, error)
}

// New creates a Parser based on configuration.
func New(cfg config.Config) (Parser, error) {
	switch cfg.ParserProvider {
	case "builtin":
		return HTML{}, nil
	case "llamaparse":
		return NewLlamaParse(cfg.LlamaParseURL, cfg.LlamaParseKey)
	default:
		return nil, fmt.Errorf("unknown parser provider: %s", cfg.ParserProvider)
	}
}
