package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/embedding"
	"github.com/raphaelgruber/finrag-go/internal/filings"
	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/raphaelgruber/finrag-go/internal/rerank"
	"github.com/raphaelgruber/finrag-go/internal/store/badgerstore"
	"github.com/stretchr/testify/require"
)

const testDim = 16

// fakeSource serves in-memory bundles. Unknown tickers are not found.
type fakeSource struct {
	bundles map[string][]filings.Bundle
}

func (f *fakeSource) List(_ context.Context, ticker, filingType string, limit int) ([]filings.Bundle, error) {
	all, ok := f.bundles[ticker]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ticker, filings.ErrTickerNotFound)
	}
	var out []filings.Bundle
	for _, b := range all {
		if b.FilingType == filingType && len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

// passthroughParser treats the primary document as markdown already.
type passthroughParser struct {
	err error
}

func (p passthroughParser) Parse(_ context.Context, _ string, doc []byte) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return string(doc), nil
}

// hashEmbedder maps words into a fixed number of buckets, so texts sharing
// words get similar vectors.
type hashEmbedder struct {
	mu    sync.Mutex
	calls map[embedding.Mode]int
	err   error
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string, mode embedding.Mode) ([][]float32, error) {
	h.mu.Lock()
	if h.calls == nil {
		h.calls = make(map[embedding.Mode]int)
	}
	h.calls[mode]++
	h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, testDim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			hf := fnv.New32a()
			_, _ = hf.Write([]byte(strings.Trim(w, ".,?")))
			v[hf.Sum32()%testDim]++
		}
		var norm float64
		for _, x := range v {
			norm += float64(x * x)
		}
		if norm == 0 {
			v[0], norm = 1, 1
		}
		for j := range v {
			v[j] /= float32(math.Sqrt(norm))
		}
		out[i] = v
	}
	return out, nil
}
func (h *hashEmbedder) Model() string  { return "hash" }
func (h *hashEmbedder) Dimension() int { return testDim }

// scriptedReranker scores documents with a fixed function.
type scriptedReranker struct {
	err   error
	score func(i int, doc string) float64
}

func (r scriptedReranker) Rerank(_ context.Context, _ string, docs []string, topN int) ([]rerank.Result, error) {
	if r.err != nil {
		return nil, r.err
	}
	results := make([]rerank.Result, len(docs))
	for i, d := range docs {
		s := 1 - float64(i)/float64(len(docs))
		if r.score != nil {
			s = r.score(i, d)
		}
		results[i] = rerank.Result{Index: i, Score: s}
	}
	// input order, not score order
	return results[:min(topN, len(results))], nil
}

// recordingGenerator returns a canned answer and remembers prompts.
type recordingGenerator struct {
	mu     sync.Mutex
	answer func(user string) string
	err    error
	users  []string
}

func (g *recordingGenerator) Generate(_ context.Context, _, user string) (string, error) {
	g.mu.Lock()
	g.users = append(g.users, user)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return g.answer(user), nil
}
func (g *recordingGenerator) Model() string { return "recording" }

// failingStore wraps a store and fails selected operations.
type failingStore struct {
	*badgerstore.Store
	schemaErr error
	upsertErr error
	searchErr error
}

func (f *failingStore) EnsureSchema(ctx context.Context) error {
	if f.schemaErr != nil {
		return f.schemaErr
	}
	return f.Store.EnsureSchema(ctx)
}

func (f *failingStore) Upsert(ctx context.Context, chunks []models.Chunk) (int, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	return f.Store.Upsert(ctx, chunks)
}

func (f *failingStore) Search(ctx context.Context, v []float32, filter models.ChunkFilter, k int) ([]models.ScoredChunk, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.Store.Search(ctx, v, filter, k)
}

// recorder is an Emitter collecting events.
type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Emit(e models.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

func newTestStore(t *testing.T) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.Open("", true, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var sectionTexts = []string{
	"Item 1. Business. The Company designs, manufactures and markets smartphones, personal computers, tablets, wearables and accessories, and sells a variety of related services. The Company's fiscal year is the 52 or 53-week period that ends on the last Saturday of September. Products include iPhone, Mac, iPad and wearables sold through retail stores and online.",
	"Item 1A. Risk Factors. The Company's business, reputation, results of operations, financial condition and stock price can be affected by a number of factors, whether currently known or unknown, including those described below. Global and regional economic conditions could materially adversely affect the Company and its liquidity.",
	"Item 7. Management's Discussion and Analysis. Total net sales increased 2 percent or $7.8 billion during 2024 compared to 2023. The increase was driven by higher net sales of Services, partially offset by lower net sales of iPhone and wearables across most geographic segments during the year.",
}

// submission wraps markdown in an SGML bundle with a primary document.
func submission(ticker, filingType, accession string) filings.Bundle {
	var md strings.Builder
	for i, s := range sectionTexts {
		fmt.Fprintf(&md, "## Part %d\n\n%s\n\n", i+1, s)
	}
	data := "<SEC-HEADER>\n</SEC-HEADER>\n<DOCUMENT>\n<TYPE>" + filingType + "\n<SEQUENCE>1\n<TEXT>\n" +
		md.String() + "</TEXT>\n</DOCUMENT>\n"
	return filings.Bundle{
		Ticker:     ticker,
		FilingType: filingType,
		Accession:  accession,
		FiledAt:    time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		Data:       []byte(data),
	}
}

var errUnavailable = errors.New("service unavailable")
