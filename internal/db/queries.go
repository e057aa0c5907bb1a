package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// chunkRow is a chunk as SurrealDB returns it.
type chunkRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	Key         string                 `json:"chunk_key"`
	Ticker      string                 `json:"ticker"`
	FilingType  string                 `json:"filing_type"`
	FilingYear  int                    `json:"filing_year"`
	Section     string                 `json:"section"`
	HeadingPath string                 `json:"heading_path"`
	Accession   string                 `json:"accession"`
	Index       int                    `json:"chunk_index"`
	WordCount   int                    `json:"word_count"`
	Text        string                 `json:"text"`
	Score       float64                `json:"score"`
}

func (r chunkRow) toScored() (models.ScoredChunk, error) {
	id, ok := r.ID.ID.(string)
	if !ok {
		return models.ScoredChunk{}, fmt.Errorf("unexpected ID type: %T (expected string)", r.ID.ID)
	}
	return models.ScoredChunk{
		Chunk: models.Chunk{
			ID:          id,
			Key:         r.Key,
			Ticker:      r.Ticker,
			FilingType:  r.FilingType,
			FilingYear:  r.FilingYear,
			Section:     r.Section,
			HeadingPath: r.HeadingPath,
			Accession:   r.Accession,
			Index:       r.Index,
			WordCount:   r.WordCount,
			Text:        r.Text,
		},
		Score: r.Score,
	}, nil
}

// Upsert writes chunks keyed by their deterministic ID. Existing records are
// replaced, so the last write wins.
func (c *Client) Upsert(ctx context.Context, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, 0, len(chunks))
	for _, ch := range chunks {
		if c.cfg.Dimension > 0 && len(ch.Embedding) != c.cfg.Dimension {
			return 0, fmt.Errorf("%w: chunk %s has %d, index has %d",
				ErrDimensionMismatch, ch.Key, len(ch.Embedding), c.cfg.Dimension)
		}
		rows = append(rows, map[string]any{
			"id":           ch.ID,
			"chunk_key":    ch.Key,
			"ticker":       ch.Ticker,
			"filing_type":  ch.FilingType,
			"filing_year":  ch.FilingYear,
			"section":      ch.Section,
			"heading_path": ch.HeadingPath,
			"accession":    ch.Accession,
			"chunk_index":  ch.Index,
			"word_count":   ch.WordCount,
			"text":         ch.Text,
			"embedding":    ch.Embedding,
		})
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		FOR $c IN $chunks {
			UPSERT type::record("chunk", $c.id) CONTENT {
				chunk_key: $c.chunk_key,
				ticker: $c.ticker,
				filing_type: $c.filing_type,
				filing_year: $c.filing_year,
				section: $c.section,
				heading_path: $c.heading_path,
				accession: $c.accession,
				chunk_index: $c.chunk_index,
				word_count: $c.word_count,
				text: $c.text,
				embedding: $c.embedding,
				updated: time::now()
			};
		};
	`, map[string]any{"chunks": rows})
	if err != nil {
		return 0, fmt.Errorf("upsert chunks: %w", wrapQueryError(err))
	}
	return len(rows), nil
}

// Search runs an HNSW nearest-neighbour query narrowed by filter.
// Scores are cosine similarities.
func (c *Client) Search(ctx context.Context, vector []float32, filter models.ChunkFilter, topK int) ([]models.ScoredChunk, error) {
	var clauses []string
	vars := map[string]any{"emb": vector}
	if filter.Ticker != "" {
		clauses = append(clauses, "ticker = $ticker")
		vars["ticker"] = filter.Ticker
	}
	if filter.FilingType != "" {
		clauses = append(clauses, "filing_type = $filing_type")
		vars["filing_type"] = filter.FilingType
	}
	if filter.FilingYear != 0 {
		clauses = append(clauses, "filing_year = $filing_year")
		vars["filing_year"] = filter.FilingYear
	}
	filterClause := ""
	if len(clauses) > 0 {
		filterClause = "AND " + strings.Join(clauses, " AND ")
	}

	// HNSW with ef=40 for better recall
	sql := fmt.Sprintf(`
		SELECT id, chunk_key, ticker, filing_type, filing_year, section, heading_path, accession,
				chunk_index, word_count, text,
				vector::similarity::cosine(embedding, $emb) AS score
		FROM chunk
		WHERE embedding <|%d,40|> $emb %s
		ORDER BY score DESC
	`, topK, filterClause)

	results, err := surrealdb.Query[[]chunkRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.ScoredChunk{}, nil
	}

	rows := (*results)[0].Result
	hits := make([]models.ScoredChunk, 0, len(rows))
	for _, r := range rows {
		hit, err := r.toScored()
		if err != nil {
			return nil, fmt.Errorf("search chunks: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

type countRow struct {
	Count int `json:"count"`
}

// Stats reports the chunk count and the distinct tickers and filing types stored.
func (c *Client) Stats(ctx context.Context) (models.StoreStats, error) {
	counts, err := surrealdb.Query[[]countRow](ctx, c.db, `SELECT count() AS count FROM chunk GROUP ALL`, nil)
	if err != nil {
		return models.StoreStats{}, fmt.Errorf("count chunks: %w", wrapQueryError(err))
	}
	stats := models.StoreStats{Status: "ok", Tickers: []string{}, FilingTypes: []string{}}
	if counts != nil && len(*counts) > 0 && len((*counts)[0].Result) > 0 {
		stats.ChunkCount = (*counts)[0].Result[0].Count
	}

	if stats.Tickers, err = c.distinct(ctx, "ticker"); err != nil {
		return models.StoreStats{}, err
	}
	if stats.FilingTypes, err = c.distinct(ctx, "filing_type"); err != nil {
		return models.StoreStats{}, err
	}
	return stats, nil
}

// distinct returns the sorted distinct values of a string field.
func (c *Client) distinct(ctx context.Context, field string) ([]string, error) {
	sql := fmt.Sprintf(`RETURN array::sort(array::distinct((SELECT VALUE %s FROM chunk)))`, field)
	results, err := surrealdb.Query[[]string](ctx, c.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", field, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || (*results)[0].Result == nil {
		return []string{}, nil
	}
	return (*results)[0].Result, nil
}
