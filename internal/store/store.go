// Package store defines the chunk store contract and opens the configured backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/finrag-go/internal/config"
	"github.com/raphaelgruber/finrag-go/internal/db"
	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/raphaelgruber/finrag-go/internal/store/badgerstore"
	"github.com/raphaelgruber/finrag-go/internal/store/pgstore"
)

// ChunkStore is a filtered vector index over chunks.
//
// Upsert overwrites chunks with an existing ID, so re-ingesting a filing never
// adds rows. Search returns hits ordered by descending score and applies the
// filter as a conjunction of exact matches.
type ChunkStore interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, chunks []models.Chunk) (int, error)
	Search(ctx context.Context, vector []float32, filter models.ChunkFilter, topK int) ([]models.ScoredChunk, error)
	Stats(ctx context.Context) (models.StoreStats, error)
	Close(ctx context.Context) error
}

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown store backend")

// Open connects to the backend named in cfg.Store.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (ChunkStore, error) {
	switch cfg.Store {
	case config.StoreSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
			Dimension: cfg.EmbedDimension,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open surrealdb: %w", err)
		}
		return client, nil
	case config.StoreBadger:
		s, err := badgerstore.Open(cfg.BadgerPath, cfg.BadgerPath == "", logger)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		return s, nil
	case config.StorePgvector:
		s, err := pgstore.Open(ctx, cfg.PostgresDSN, cfg.EmbedDimension, logger)
		if err != nil {
			return nil, fmt.Errorf("open pgvector: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Store)
}
