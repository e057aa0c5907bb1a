// Package badgerstore implements the chunk store on an embedded BadgerDB with
// secondary index keys and exhaustive cosine scoring.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/fxamacker/cbor/v2"
	"github.com/raphaelgruber/finrag-go/internal/models"
)

// maxConflictRetries bounds retries when concurrent upserts touch the same chunk.
const maxConflictRetries = 16

// Store wraps a BadgerDB instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens a BadgerDB database at path, creating the directory if needed.
// With inMemory set, path is ignored.
func Open(path string, inMemory bool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &badgerLoggerAdapter{logger: logger.With("component", "badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	logger.Info("badger chunk store opened", "path", path, "in_memory", inMemory)
	return &Store{db: db, logger: logger}, nil
}

// EnsureSchema checks the database is open. Badger needs no schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

// Upsert writes each chunk and its index entries in its own transaction.
// Index entries of the previous version are removed, so metadata changes
// never leave stale matches behind.
func (s *Store) Upsert(ctx context.Context, chunks []models.Chunk) (int, error) {
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		val, err := cbor.Marshal(c)
		if err != nil {
			return i, fmt.Errorf("encode chunk %s: %w", c.Key, err)
		}

		err = s.upsertOne(c, val)
		for attempt := 1; errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries; attempt++ {
			s.logger.Debug("upsert conflict, retrying", "chunk_id", c.ID, "attempt", attempt)
			err = s.upsertOne(c, val)
		}
		if err != nil {
			return i, fmt.Errorf("upsert chunk %s: %w", c.Key, err)
		}
	}
	return len(chunks), nil
}

func (s *Store) upsertOne(c models.Chunk, val []byte) error {
	return s.db.Update(func(tx *badger.Txn) error {
		key := makeChunkKey(c.ID)
		old, err := getChunk(tx, key)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err == nil {
			for _, k := range indexKeys(old) {
				if err := tx.Delete(k); err != nil {
					return err
				}
			}
		}
		if err := tx.Set(key, val); err != nil {
			return err
		}
		for _, k := range indexKeys(c) {
			if err := tx.Set(k, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func getChunk(tx *badger.Txn, key []byte) (models.Chunk, error) {
	var c models.Chunk
	item, err := tx.Get(key)
	if err != nil {
		return c, err
	}
	err = item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, &c)
	})
	return c, err
}

// Search scores every chunk that passes the filter. When the filter has a
// predicate, candidates come from the matching index instead of a full scan.
func (s *Store) Search(ctx context.Context, vector []float32, filter models.ChunkFilter, topK int) ([]models.ScoredChunk, error) {
	var hits []models.ScoredChunk

	consider := func(c models.Chunk) {
		if !filter.Matches(c) || len(c.Embedding) == 0 {
			return
		}
		score := cosine(vector, c.Embedding)
		c.Embedding = nil
		hits = append(hits, models.ScoredChunk{Chunk: c, Score: score})
	}

	err := s.db.View(func(tx *badger.Txn) error {
		if prefix := filterPrefix(filter); prefix != nil {
			return scanIndex(ctx, tx, prefix, consider)
		}
		return scanChunks(ctx, tx, consider)
	})
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	slices.SortFunc(hits, func(a, b models.ScoredChunk) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	if hits == nil {
		hits = []models.ScoredChunk{}
	}
	return hits, nil
}

func scanIndex(ctx context.Context, tx *badger.Txn, prefix []byte, fn func(models.Chunk)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := string(iter.Item().Key()[len(prefix):])
		c, err := getChunk(tx, makeChunkKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		fn(c)
	}
	return nil
}

func scanChunks(ctx context.Context, tx *badger.Txn, fn func(models.Chunk)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(chunkPrefix)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var c models.Chunk
		if err := iter.Item().Value(func(val []byte) error {
			return cbor.Unmarshal(val, &c)
		}); err != nil {
			return fmt.Errorf("decode %s: %w", idFromChunkKey(iter.Item().Key()), err)
		}
		fn(c)
	}
	return nil
}

// Stats counts chunk records and reads distinct values from the index keys.
func (s *Store) Stats(ctx context.Context) (models.StoreStats, error) {
	stats := models.StoreStats{Status: "ok"}
	err := s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			stats.ChunkCount++
		}
		iter.Close()

		stats.Tickers = distinctValues(tx, tickerIndex)
		stats.FilingTypes = distinctValues(tx, filingTypeIndex)
		return nil
	})
	if err != nil {
		return models.StoreStats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

// distinctValues returns the sorted distinct values of an index.
func distinctValues(tx *badger.Txn, index string) []string {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(index)
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	values := []string{}
	for iter.Rewind(); iter.Valid(); iter.Next() {
		v, _ := splitIndexKey(index, iter.Item().Key())
		// Keys are sorted, so duplicates are adjacent.
		if len(values) == 0 || values[len(values)-1] != v {
			values = append(values, v)
		}
	}
	return values
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
