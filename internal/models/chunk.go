package models

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ChunkNamespace is the UUIDv5 namespace for chunk identifiers. Changing it
// orphans every chunk already stored.
var ChunkNamespace = uuid.MustParse("a1b2c3d4-e5f6-7890-abcd-ef1234567890")

// Chunk is one embedded passage of a filing.
type Chunk struct {
	ID         string `json:"id"`
	Key        string `json:"chunk_key"` // "AAPL_10-K_0000320193-24-000123_0007"
	Ticker     string `json:"ticker"`
	FilingType string `json:"filing_type"`
	FilingYear int    `json:"filing_year"`
	Section    string `json:"section"`
	// HeadingPath is the breadcrumb of headings above the passage, or the
	// document title for text before the first heading.
	HeadingPath string    `json:"heading_path,omitempty"`
	Accession   string    `json:"accession"`
	Index       int       `json:"chunk_index"`
	WordCount   int       `json:"word_count"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// ChunkKey returns the human-readable key of a passage.
func ChunkKey(ticker, filingType, accession string, index int) string {
	return fmt.Sprintf("%s_%s_%s_%04d", ticker, filingType, accession, index)
}

// ChunkID derives the stored identifier of a passage. The same inputs always
// produce the same identifier, which is what makes upserts idempotent.
func ChunkID(ticker, filingType, accession string, index int) string {
	return uuid.NewSHA1(ChunkNamespace, []byte(ChunkKey(ticker, filingType, accession, index))).String()
}

// ScoredChunk is a search hit.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// ChunkFilter narrows a search with exact-match predicates. Zero values match anything.
type ChunkFilter struct {
	Ticker     string `json:"ticker,omitempty"`
	FilingType string `json:"filing_type,omitempty"`
	FilingYear int    `json:"filing_year,omitempty"`
}

// IsZero reports whether the filter has no predicates.
func (f ChunkFilter) IsZero() bool {
	return f.Ticker == "" && f.FilingType == "" && f.FilingYear == 0
}

// Matches reports whether c satisfies every predicate of f.
func (f ChunkFilter) Matches(c Chunk) bool {
	if f.Ticker != "" && f.Ticker != c.Ticker {
		return false
	}
	if f.FilingType != "" && f.FilingType != c.FilingType {
		return false
	}
	if f.FilingYear != 0 && f.FilingYear != c.FilingYear {
		return false
	}
	return true
}

// StoreStats summarizes the contents of a chunk store.
type StoreStats struct {
	ChunkCount  int      `json:"chunk_count"`
	Status      string   `json:"status"`
	Tickers     []string `json:"tickers"`
	FilingTypes []string `json:"filing_types"`
}

var accessionYear = regexp.MustCompile(`-(\d{2})-`)

// FilingYear derives the filing year from the two-digit year embedded in an
// accession number. Falls back to fallback's year, or the current year when
// fallback is zero.
func FilingYear(accession string, fallback time.Time) int {
	if m := accessionYear.FindStringSubmatch(accession); m != nil {
		yy, _ := strconv.Atoi(m[1])
		if yy < 50 {
			return 2000 + yy
		}
		return 1900 + yy
	}
	if !fallback.IsZero() {
		return fallback.Year()
	}
	return time.Now().Year()
}
