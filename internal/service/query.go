package service

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/embedding"
	"github.com/raphaelgruber/finrag-go/internal/faithfulness"
	"github.com/raphaelgruber/finrag-go/internal/llm"
	"github.com/raphaelgruber/finrag-go/internal/metrics"
	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/raphaelgruber/finrag-go/internal/rerank"
	"github.com/raphaelgruber/finrag-go/internal/store"
	"github.com/raphaelgruber/finrag-go/internal/tracer"
	"go.opentelemetry.io/otel/attribute"
)

// DeclineAnswer is the fixed sentence the model gives when the passages do
// not contain the answer.
const DeclineAnswer = "I couldn't find that information in the available filings."

const systemPrompt = `You are FinRAG Analyst, an expert financial analyst that answers questions strictly based on SEC filings (10-K, 10-Q).

Rules:
- Answer ONLY from the provided context passages. Never hallucinate.
- Be concise but thorough. Use bullet points for lists.
- If the context doesn't contain the answer, say "` + DeclineAnswer + `"
- Always reference which company/filing the information comes from.
- For numbers, reproduce them exactly as stated in the filing.
`

const noPassagesContext = "(no relevant passages were found in the indexed filings)"

const excerptLen = 400

// Prices are USD per million tokens.
type Prices struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// QueryTimeouts bound each collaborator call of the query pipeline.
type QueryTimeouts struct {
	Embed    time.Duration
	Retrieve time.Duration
	Rerank   time.Duration
	Generate time.Duration
}

func (t QueryTimeouts) withDefaults() QueryTimeouts {
	if t.Embed <= 0 {
		t.Embed = 30 * time.Second
	}
	if t.Retrieve <= 0 {
		t.Retrieve = 30 * time.Second
	}
	if t.Rerank <= 0 {
		t.Rerank = 30 * time.Second
	}
	if t.Generate <= 0 {
		t.Generate = 90 * time.Second
	}
	return t
}

// QueryService answers questions from stored chunks.
type QueryService struct {
	embedder  embedding.Embedder
	store     store.ChunkStore
	reranker  rerank.Reranker
	generator llm.Generator
	topK      int
	topN      int
	prices    Prices
	timeouts  QueryTimeouts
	metrics   *metrics.Collector
}

// QueryOptions configures a QueryService.
type QueryOptions struct {
	TopK     int
	TopN     int
	Prices   Prices
	Timeouts QueryTimeouts
	Metrics  *metrics.Collector
}

// NewQueryService creates a new query service.
func NewQueryService(embedder embedding.Embedder, chunkStore store.ChunkStore, reranker rerank.Reranker, generator llm.Generator, opts QueryOptions) *QueryService {
	if opts.TopK <= 0 {
		opts.TopK = 20
	}
	if opts.TopN <= 0 {
		opts.TopN = 5
	}
	return &QueryService{
		embedder:  embedder,
		store:     chunkStore,
		reranker:  reranker,
		generator: generator,
		topK:      opts.TopK,
		topN:      opts.TopN,
		prices:    opts.Prices,
		timeouts:  opts.Timeouts.withDefaults(),
		metrics:   opts.Metrics,
	}
}

// Query runs embed, retrieve, rerank, generate and scoring. Any collaborator
// failure returns a typed error and no answer.
func (s *QueryService) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	start := time.Now()
	req.Question = strings.TrimSpace(req.Question)
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	req.FilingType = strings.ToUpper(strings.TrimSpace(req.FilingType))
	if req.Question == "" {
		return nil, validationErr("question is required")
	}
	if req.FilingYear < 0 {
		return nil, validationErr("filing year must not be negative, got %d", req.FilingYear)
	}

	ctx, span := tracer.Start(ctx, "query", attribute.String("ticker", req.Ticker))
	resp, err := s.query(ctx, req)
	tracer.End(span, err)
	s.metrics.RecordTiming(metrics.OpQuery, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	resp.LatencyMS = time.Since(start).Milliseconds()
	s.metrics.RecordCost(resp.CostUSD)
	return resp, nil
}

func (s *QueryService) query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	var vector []float32
	err := s.stage(ctx, "embed", s.timeouts.Embed, metrics.OpEmbed, ErrEmbedding, func(ctx context.Context) error {
		vectors, err := s.embedder.Embed(ctx, []string{req.Question}, embedding.ModeQuery)
		if err != nil {
			return err
		}
		if len(vectors) != 1 {
			return fmt.Errorf("got %d vectors for one question", len(vectors))
		}
		vector = vectors[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	var candidates []models.ScoredChunk
	err = s.stage(ctx, "retrieve", s.timeouts.Retrieve, metrics.OpStoreSearch, ErrRetrieval, func(ctx context.Context) error {
		var err error
		candidates, err = s.store.Search(ctx, vector, req.Filter(), s.topK)
		return err
	})
	if err != nil {
		return nil, err
	}

	var top []models.ScoredChunk
	if len(candidates) > 0 {
		err = s.stage(ctx, "rerank", s.timeouts.Rerank, metrics.OpRerank, ErrRerank, func(ctx context.Context) error {
			var err error
			top, err = s.rerank(ctx, req.Question, candidates)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	user := BuildUserPrompt(req.Question, top)
	var answer string
	genStart := time.Now()
	err = s.stage(ctx, "generate", s.timeouts.Generate, "", ErrGeneration, func(ctx context.Context) error {
		var err error
		answer, err = s.generator.Generate(ctx, systemPrompt, user)
		answer = strings.TrimSpace(answer)
		if err == nil && answer == "" {
			err = fmt.Errorf("empty answer")
		}
		return err
	})
	if err != nil {
		s.metrics.RecordTiming(metrics.OpGenerate, time.Since(genStart), err)
		return nil, err
	}

	inTok, outTok := len(user)/4, len(answer)/4
	s.metrics.RecordLLMUsage(metrics.OpGenerate, time.Since(genStart), int64(inTok), int64(outTok))

	resp := &models.QueryResponse{
		Answer:       answer,
		Citations:    []models.Citation{},
		CostUSD:      (float64(inTok)*s.prices.InputPerMTok + float64(outTok)*s.prices.OutputPerMTok) / 1_000_000,
		InputTokens:  inTok,
		OutputTokens: outTok,
	}
	if len(top) == 0 || IsDecline(answer) {
		return resp, nil
	}

	passages := make([]string, len(top))
	for i, c := range top {
		passages[i] = c.Chunk.Text
	}
	resp.Faithfulness = faithfulness.Score(answer, passages)
	resp.Citations = BuildCitations(top)
	return resp, nil
}

// rerank keeps the best topN candidates, scored by the reranker.
func (s *QueryService) rerank(ctx context.Context, question string, candidates []models.ScoredChunk) ([]models.ScoredChunk, error) {
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Chunk.Text
	}
	results, err := s.reranker.Rerank(ctx, question, docs, s.topN)
	if err != nil {
		return nil, err
	}
	top := make([]models.ScoredChunk, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(candidates) {
			return nil, fmt.Errorf("reranker returned index %d for %d candidates", r.Index, len(candidates))
		}
		top = append(top, models.ScoredChunk{Chunk: candidates[r.Index].Chunk, Score: r.Score})
	}
	if len(top) > s.topN {
		top = top[:s.topN]
	}
	return top, nil
}

// stage runs fn under timeout, in its own span, and wraps failures in kind.
// An empty op skips timing.
func (s *QueryService) stage(ctx context.Context, name string, timeout time.Duration, op string, kind error, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "query."+name)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	if op != "" {
		s.metrics.RecordTiming(op, time.Since(start), err)
	}
	tracer.End(span, err)
	if err != nil {
		return stageErr(kind, name, err)
	}
	return nil
}

// BuildContext numbers passages as "[i] TICKER | FORM YEAR | SECTION".
func BuildContext(chunks []models.ScoredChunk) string {
	if len(chunks) == 0 {
		return noPassagesContext
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		header := fmt.Sprintf("[%d] %s | %s %d | %s", i+1, c.Chunk.Ticker, c.Chunk.FilingType, c.Chunk.FilingYear, c.Chunk.Section)
		parts[i] = header + "\n" + strings.TrimSpace(c.Chunk.Text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// BuildUserPrompt embeds the passages and the question.
func BuildUserPrompt(question string, chunks []models.ScoredChunk) string {
	return fmt.Sprintf("Context passages from SEC filings:\n%s\n\n---\nQuestion: %s\n\nAnswer:", BuildContext(chunks), question)
}

// maxDeclineLeadIn is how many words may surround the decline sentence
// ("Unfortunately,", "Sorry.") before the answer counts as a real answer.
const maxDeclineLeadIn = 3

var declinePhrase = strings.ToLower(strings.TrimSuffix(DeclineAnswer, "."))

// IsDecline reports whether the answer is the model declining: the decline
// sentence with at most a short lead-in and nothing else. An answer that
// makes other claims besides the decline sentence is not a decline.
func IsDecline(answer string) bool {
	norm := strings.ToLower(strings.ReplaceAll(answer, "’", "'"))
	i := strings.Index(norm, declinePhrase)
	if i < 0 {
		return false
	}
	rest := norm[:i] + " " + norm[i+len(declinePhrase):]
	return len(faithfulness.Words(rest)) <= maxDeclineLeadIn
}

// BuildCitations orders passages by descending score.
func BuildCitations(chunks []models.ScoredChunk) []models.Citation {
	citations := make([]models.Citation, len(chunks))
	for i, c := range chunks {
		citations[i] = models.Citation{
			ChunkID:     c.Chunk.ID,
			Ticker:      c.Chunk.Ticker,
			FilingType:  c.Chunk.FilingType,
			FilingYear:  c.Chunk.FilingYear,
			Section:     c.Chunk.Section,
			HeadingPath: c.Chunk.HeadingPath,
			Excerpt:     excerpt(c.Chunk.Text),
			Score:       math.Round(c.Score*1000) / 1000,
		}
	}
	slices.SortStableFunc(citations, func(a, b models.Citation) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return citations
}

func excerpt(text string) string {
	r := []rune(text)
	if len(r) <= excerptLen {
		return text
	}
	return string(r[:excerptLen])
}

// Stats reports the chunk store's contents.
func (s *QueryService) Stats(ctx context.Context) (models.StoreStats, error) {
	var stats models.StoreStats
	err := s.stage(ctx, "stats", s.timeouts.Retrieve, "", ErrStore, func(ctx context.Context) error {
		var err error
		stats, err = s.store.Stats(ctx)
		return err
	})
	return stats, err
}
