package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/filings"
	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIngestFixture(t *testing.T) (*IngestService, *failingStore, *fakeSource) {
	t.Helper()
	src := &fakeSource{bundles: map[string][]filings.Bundle{
		"AAPL": {
			submission("AAPL", "10-K", "0000320193-24-000123"),
			submission("AAPL", "10-K", "0000320193-23-000106"),
		},
		"MSFT": {submission("MSFT", "10-K", "0000950170-24-087843")},
		"EMPTY": nil,
	}}
	st := &failingStore{Store: newTestStore(t)}
	svc := NewIngestService(src, passthroughParser{}, &hashEmbedder{}, st, IngestTimeouts{}, 2, nil)
	return svc, st, src
}

func tickerDone(events []models.Event, ticker string) (models.TickerDoneEvent, bool) {
	for _, e := range events {
		if td, ok := e.(models.TickerDoneEvent); ok && td.Ticker == ticker {
			return td, true
		}
	}
	return models.TickerDoneEvent{}, false
}

func TestIngest_PartialFailure(t *testing.T) {
	svc, st, _ := newIngestFixture(t)
	rec := &recorder{}

	req := models.IngestRequest{Tickers: []string{"AAPL", "BADTICKER"}, FilingTypes: []string{"10-K"}, Limit: 2}
	require.NoError(t, svc.run(context.Background(), req, rec, quietLogger()))

	events := rec.all()
	good, ok := tickerDone(events, "AAPL")
	require.True(t, ok)
	assert.Equal(t, models.StepDone, good.Status)
	assert.Positive(t, good.Chunks)

	bad, ok := tickerDone(events, "BADTICKER")
	require.True(t, ok)
	assert.Equal(t, models.StepError, bad.Status)
	assert.Zero(t, bad.Chunks)
	assert.Contains(t, bad.Message, "download")

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, good.Chunks, stats.ChunkCount)
	assert.Equal(t, []string{"AAPL"}, stats.Tickers)
}

func TestIngest_ReingestIsIdempotent(t *testing.T) {
	svc, st, _ := newIngestFixture(t)
	ctx := context.Background()
	req := models.IngestRequest{Tickers: []string{"AAPL"}, FilingTypes: []string{"10-K"}, Limit: 2}

	require.NoError(t, svc.run(ctx, req, &recorder{}, quietLogger()))
	first, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Positive(t, first.ChunkCount)

	require.NoError(t, svc.run(ctx, req, &recorder{}, quietLogger()))
	second, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)
}

func TestIngest_SchemaFailureFailsRun(t *testing.T) {
	svc, st, _ := newIngestFixture(t)
	st.schemaErr = errUnavailable
	rec := &recorder{}

	err := svc.run(context.Background(), models.IngestRequest{Tickers: []string{"AAPL"}, FilingTypes: []string{"10-K"}, Limit: 1}, rec, quietLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, errUnavailable)

	_, ok := tickerDone(rec.all(), "AAPL")
	assert.False(t, ok, "no ticker should run")
}

func TestIngest_StoreFailureIsPerTicker(t *testing.T) {
	svc, st, _ := newIngestFixture(t)
	st.upsertErr = errUnavailable
	rec := &recorder{}

	err := svc.run(context.Background(), models.IngestRequest{Tickers: []string{"AAPL", "MSFT"}, FilingTypes: []string{"10-K"}, Limit: 2}, rec, quietLogger())
	require.NoError(t, err)

	for _, ticker := range []string{"AAPL", "MSFT"} {
		td, ok := tickerDone(rec.all(), ticker)
		require.True(t, ok, ticker)
		assert.Equal(t, models.StepError, td.Status, ticker)
		assert.Contains(t, td.Message, "store error")
	}
}

func TestIngest_FilingFailureIsIsolated(t *testing.T) {
	svc, _, src := newIngestFixture(t)
	broken := submission("AAPL", "10-K", "0000320193-22-000108")
	broken.Data = []byte("<DOCUMENT>\n<SEQUENCE>2\n<TEXT>\nexhibit\n</TEXT>\n</DOCUMENT>\n")
	src.bundles["AAPL"] = append(src.bundles["AAPL"], broken)
	rec := &recorder{}

	require.NoError(t, svc.run(context.Background(), models.IngestRequest{Tickers: []string{"AAPL"}, FilingTypes: []string{"10-K"}, Limit: 3}, rec, quietLogger()))

	td, ok := tickerDone(rec.all(), "AAPL")
	require.True(t, ok)
	assert.Equal(t, models.StepDone, td.Status)
	assert.Positive(t, td.Chunks)
	assert.Contains(t, td.Message, "1 failed")

	var extractErr bool
	for _, e := range rec.all() {
		if s, ok := e.(models.StepEvent); ok && s.Step == models.StageExtract && s.Status == models.StepError {
			extractErr = true
			assert.Equal(t, broken.Accession, s.Accession)
		}
	}
	assert.True(t, extractErr)
}

func TestIngest_NoFilingsWarns(t *testing.T) {
	svc, _, _ := newIngestFixture(t)
	rec := &recorder{}

	require.NoError(t, svc.run(context.Background(), models.IngestRequest{Tickers: []string{"EMPTY"}, FilingTypes: []string{"10-K"}, Limit: 2}, rec, quietLogger()))

	events := rec.all()
	td, ok := tickerDone(events, "EMPTY")
	require.True(t, ok)
	assert.Equal(t, models.StepDone, td.Status)
	assert.Zero(t, td.Chunks)

	var warned bool
	for _, e := range events {
		if w, ok := e.(models.WarningEvent); ok && w.Ticker == "EMPTY" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestIngest_TickerEventOrder(t *testing.T) {
	svc, _, _ := newIngestFixture(t)
	rec := &recorder{}

	require.NoError(t, svc.run(context.Background(), models.IngestRequest{Tickers: []string{"AAPL", "MSFT"}, FilingTypes: []string{"10-K"}, Limit: 2}, rec, quietLogger()))

	events := rec.all()
	require.IsType(t, models.PhaseEvent{}, events[0])
	assert.Equal(t, "initializing", events[0].(models.PhaseEvent).Phase)

	for _, ticker := range []string{"AAPL", "MSFT"} {
		var seen []string
		for _, e := range events {
			switch ev := e.(type) {
			case models.StepEvent:
				if ev.Ticker == ticker && ev.Status == models.StepStarted {
					seen = append(seen, string(ev.Step))
				}
			case models.TickerStartEvent:
				if ev.Ticker == ticker {
					seen = append(seen, "ticker_start")
				}
			case models.TickerDoneEvent:
				if ev.Ticker == ticker {
					seen = append(seen, "ticker_done")
				}
			}
		}
		require.NotEmpty(t, seen, ticker)
		assert.Equal(t, "download", seen[0], ticker)
		assert.Equal(t, "ticker_done", seen[len(seen)-1], ticker)

		// Within one filing the stages run in order.
		stages := []string{"extract", "parse", "chunk", "embed", "store"}
		pos := 0
		for _, s := range seen {
			if pos < len(stages) && s == stages[pos] {
				pos++
			}
		}
		assert.Equal(t, len(stages), pos, "%s stages out of order: %v", ticker, seen)
	}
}

func TestIngest_ChunkIDsAreDeterministic(t *testing.T) {
	svc, _, _ := newIngestFixture(t)
	b := submission("AAPL", "10-K", "0000320193-24-000123")
	md, err := filings.ExtractPrimaryDocument(b.Data)
	require.NoError(t, err)

	first := svc.buildChunks(b, string(md))
	second := svc.buildChunks(b, string(md))
	require.NotEmpty(t, first)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, models.ChunkID("AAPL", "10-K", b.Accession, first[i].Index), first[i].ID)
		assert.Equal(t, 2024, first[i].FilingYear)
		assert.GreaterOrEqual(t, first[i].WordCount, 30)
	}
}

func TestBuildChunks_HeadingPath(t *testing.T) {
	svc, _, _ := newIngestFixture(t)
	b := submission("AAPL", "10-K", "0000320193-24-000123")
	words := strings.Repeat("Revenue from iPhone sales grew in every geographic segment. ", 8)
	md := "---\ntitle: Apple Inc. 10-K\n---\n\n" + words + "\n\n# Part I\n\n## Item 1A. Risk Factors\n\n" + words

	chunks := svc.buildChunks(b, md)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Apple Inc. 10-K", chunks[0].HeadingPath, "text before the first heading takes the title")
	assert.Equal(t, "Part I > Item 1A. Risk Factors", chunks[1].HeadingPath)
	assert.Equal(t, "Risk Factors", chunks[1].Section)

	citations := BuildCitations([]models.ScoredChunk{{Chunk: chunks[1], Score: 0.9}})
	assert.Equal(t, "Part I > Item 1A. Risk Factors", citations[0].HeadingPath)
}

func TestIngest_EmbeddingFailure(t *testing.T) {
	src := &fakeSource{bundles: map[string][]filings.Bundle{"AAPL": {submission("AAPL", "10-K", "0000320193-24-000123")}}}
	svc := NewIngestService(src, passthroughParser{}, &hashEmbedder{err: errors.New("rate limited")}, newTestStore(t), IngestTimeouts{}, 1, nil)
	rec := &recorder{}

	require.NoError(t, svc.run(context.Background(), models.IngestRequest{Tickers: []string{"AAPL"}, FilingTypes: []string{"10-K"}, Limit: 1}, rec, quietLogger()))

	td, ok := tickerDone(rec.all(), "AAPL")
	require.True(t, ok)
	assert.Equal(t, models.StepError, td.Status)
	assert.Contains(t, td.Message, "embedding error")
}

// stalledParser never answers; it returns only when its deadline passes.
type stalledParser struct{}

func (stalledParser) Parse(ctx context.Context, _ string, _ []byte) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestIngest_ParseTimeoutFailsStage(t *testing.T) {
	src := &fakeSource{bundles: map[string][]filings.Bundle{"AAPL": {submission("AAPL", "10-K", "0000320193-24-000123")}}}
	svc := NewIngestService(src, stalledParser{}, &hashEmbedder{}, newTestStore(t), IngestTimeouts{Parse: 20 * time.Millisecond}, 1, nil)
	m := newManager(t, svc, JobOptions{})

	job, err := m.Submit(models.IngestRequest{Tickers: []string{"AAPL"}, FilingTypes: []string{"10-K"}, Limit: 1})
	require.NoError(t, err)
	stream, err := m.Subscribe(context.Background(), job.ID)
	require.NoError(t, err)
	got := drain(t, stream)

	var parseErr *models.StepEvent
	var td *models.TickerDoneEvent
	for _, env := range got {
		switch ev := env.Event.(type) {
		case models.StepEvent:
			if ev.Step == models.StageParse && ev.Status == models.StepError {
				parseErr = &ev
			}
		case models.TickerDoneEvent:
			td = &ev
		}
	}
	require.NotNil(t, parseErr)
	assert.Contains(t, parseErr.Message, "parse error")
	assert.Contains(t, parseErr.Message, context.DeadlineExceeded.Error())
	require.NotNil(t, td)
	assert.Equal(t, models.StepError, td.Status)

	m.Wait()
	snap, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, snap.Status)
}

func TestIngestTimeoutsDefaults(t *testing.T) {
	got := IngestTimeouts{Parse: time.Second}.withDefaults()
	assert.Equal(t, time.Second, got.Parse)
	assert.Positive(t, got.Download)
	assert.Positive(t, got.Embed)
	assert.Positive(t, got.Store)
}
