// Package pgstore implements the chunk store on Postgres with pgvector.
package pgstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/raphaelgruber/finrag-go/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// chunkRecord is the chunks table row.
type chunkRecord struct {
	ID         string          `gorm:"type:uuid;primaryKey"`
	ChunkKey   string          `gorm:"type:text;not null"`
	Ticker     string          `gorm:"type:text;not null"`
	FilingType string          `gorm:"type:text;not null"`
	FilingYear int             `gorm:"not null"`
	Section     string          `gorm:"type:text"`
	HeadingPath string          `gorm:"type:text"`
	Accession   string          `gorm:"type:text"`
	ChunkIndex  int             `gorm:"not null"`
	WordCount   int             `gorm:"not null"`
	Text        string          `gorm:"type:text"`
	Embedding   pgvector.Vector `gorm:"type:vector"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime"`
}

func (chunkRecord) TableName() string {
	return "chunks"
}

type scoredRecord struct {
	chunkRecord
	Score float64
}

// Store is a pgvector-backed chunk store.
type Store struct {
	db     *gorm.DB
	dim    int
	logger *slog.Logger
}

// Open connects to Postgres using dsn. dim is the embedding dimension.
func Open(ctx context.Context, dsn string, dim int, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.New(
			slog.NewLogLogger(log.Handler(), slog.LevelDebug),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				ParameterizedQueries:      true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("connection pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Info("pgvector chunk store connected", "dimension", dim)
	return &Store{db: db, dim: dim, logger: log}, nil
}

// createTableSQL mirrors chunkRecord. The vector dimension is fixed per table.
const createTableSQL = `
CREATE TABLE IF NOT EXISTS chunks (
	id uuid PRIMARY KEY,
	chunk_key text NOT NULL,
	ticker text NOT NULL,
	filing_type text NOT NULL,
	filing_year integer NOT NULL,
	section text,
	heading_path text,
	accession text,
	chunk_index integer NOT NULL,
	word_count integer NOT NULL,
	text text,
	embedding vector(%d),
	updated_at timestamptz
)`

// EnsureSchema creates the vector extension, the chunks table and its indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	if err := db.Exec(fmt.Sprintf(createTableSQL, s.dim)).Error; err != nil {
		return fmt.Errorf("create chunks table: %w", err)
	}
	if err := db.Exec("ALTER TABLE chunks ADD COLUMN IF NOT EXISTS heading_path text").Error; err != nil {
		return fmt.Errorf("add heading_path column: %w", err)
	}
	for _, field := range []string{"ticker", "filing_type", "filing_year", "section", "accession"} {
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_chunks_%[1]s ON chunks (%[1]s)", field)
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("create %s index: %w", field, err)
		}
	}
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops)").Error; err != nil {
		return fmt.Errorf("create hnsw index: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert inserts chunks or overwrites rows with the same ID.
func (s *Store) Upsert(ctx context.Context, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	records := make([]chunkRecord, 0, len(chunks))
	for _, c := range chunks {
		records = append(records, chunkRecord{
			ID:         c.ID,
			ChunkKey:   c.Key,
			Ticker:     c.Ticker,
			FilingType: c.FilingType,
			FilingYear: c.FilingYear,
			Section:     c.Section,
			HeadingPath: c.HeadingPath,
			Accession:   c.Accession,
			ChunkIndex:  c.Index,
			WordCount:   c.WordCount,
			Text:        c.Text,
			Embedding:   pgvector.NewVector(c.Embedding),
		})
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		CreateInBatches(&records, 200).Error
	if err != nil {
		return 0, fmt.Errorf("upsert chunks: %w", err)
	}
	return len(records), nil
}

// Search orders by cosine distance and reports 1 - distance as the score.
func (s *Store) Search(ctx context.Context, vector []float32, filter models.ChunkFilter, topK int) ([]models.ScoredChunk, error) {
	vec := pgvector.NewVector(vector)
	q := s.db.WithContext(ctx).
		Model(&chunkRecord{}).
		Select("id, chunk_key, ticker, filing_type, filing_year, section, heading_path, accession, chunk_index, word_count, text, 1 - (embedding <=> ?) AS score", vec)
	if filter.Ticker != "" {
		q = q.Where("ticker = ?", filter.Ticker)
	}
	if filter.FilingType != "" {
		q = q.Where("filing_type = ?", filter.FilingType)
	}
	if filter.FilingYear != 0 {
		q = q.Where("filing_year = ?", filter.FilingYear)
	}

	var rows []scoredRecord
	if err := q.Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).Limit(topK).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	hits := make([]models.ScoredChunk, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, models.ScoredChunk{
			Chunk: models.Chunk{
				ID:          r.ID,
				Key:         r.ChunkKey,
				Ticker:      r.Ticker,
				FilingType:  r.FilingType,
				FilingYear:  r.FilingYear,
				Section:     r.Section,
				HeadingPath: r.HeadingPath,
				Accession:   r.Accession,
				Index:       r.ChunkIndex,
				WordCount:   r.WordCount,
				Text:        r.Text,
			},
			Score: r.Score,
		})
	}
	return hits, nil
}

// Stats counts rows and lists distinct tickers and filing types.
func (s *Store) Stats(ctx context.Context) (models.StoreStats, error) {
	db := s.db.WithContext(ctx).Model(&chunkRecord{})
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return models.StoreStats{}, fmt.Errorf("count chunks: %w", err)
	}

	stats := models.StoreStats{ChunkCount: int(count), Status: "ok", Tickers: []string{}, FilingTypes: []string{}}
	if err := s.db.WithContext(ctx).Model(&chunkRecord{}).Distinct().Order("ticker").Pluck("ticker", &stats.Tickers).Error; err != nil {
		return models.StoreStats{}, fmt.Errorf("distinct tickers: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&chunkRecord{}).Distinct().Order("filing_type").Pluck("filing_type", &stats.FilingTypes).Error; err != nil {
		return models.StoreStats{}, fmt.Errorf("distinct filing types: %w", err)
	}
	return stats, nil
}
