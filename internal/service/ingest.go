package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/embedding"
	"github.com/raphaelgruber/finrag-go/internal/filings"
	"github.com/raphaelgruber/finrag-go/internal/metrics"
	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/raphaelgruber/finrag-go/internal/parser"
	"github.com/raphaelgruber/finrag-go/internal/parsing"
	"github.com/raphaelgruber/finrag-go/internal/store"
	"github.com/raphaelgruber/finrag-go/internal/tracer"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// IngestTimeouts bound each collaborator call of the ingestion pipeline.
type IngestTimeouts struct {
	Download time.Duration
	Parse    time.Duration
	Embed    time.Duration
	Store    time.Duration
}

// withDefaults fills unset timeouts so no collaborator call runs unbounded.
func (t IngestTimeouts) withDefaults() IngestTimeouts {
	if t.Download <= 0 {
		t.Download = 2 * time.Minute
	}
	if t.Parse <= 0 {
		t.Parse = 5 * time.Minute
	}
	if t.Embed <= 0 {
		t.Embed = 2 * time.Minute
	}
	if t.Store <= 0 {
		t.Store = 30 * time.Second
	}
	return t
}

// IngestService turns filings into stored chunks.
type IngestService struct {
	source            filings.Source
	parser            parsing.Parser
	embedder          embedding.Embedder
	store             store.ChunkStore
	chunking          parser.ChunkConfig
	timeouts          IngestTimeouts
	tickerConcurrency int
	metrics           *metrics.Collector
}

// NewIngestService creates a new ingest service.
func NewIngestService(source filings.Source, p parsing.Parser, embedder embedding.Embedder, chunkStore store.ChunkStore,
	timeouts IngestTimeouts, tickerConcurrency int, collector *metrics.Collector) *IngestService {
	if tickerConcurrency <= 0 {
		tickerConcurrency = 1
	}
	return &IngestService{
		source:            source,
		parser:            p,
		embedder:          embedder,
		store:             chunkStore,
		chunking:          parser.DefaultChunkConfig(),
		timeouts:          timeouts.withDefaults(),
		tickerConcurrency: tickerConcurrency,
		metrics:           collector,
	}
}

// Emitter receives the progress events of a run.
type Emitter interface {
	Emit(models.Event)
}

// Run ingests every ticker of req. Tickers run concurrently; a ticker's
// failure is reported as a ticker_done error and never fails the run. Only
// failing to prepare the chunk store is returned as an error.
func (s *IngestService) Run(ctx context.Context, req models.IngestRequest, job *Job) error {
	return s.run(ctx, req, job, job.logger)
}

func (s *IngestService) run(ctx context.Context, req models.IngestRequest, em Emitter, logger *slog.Logger) error {
	ctx, span := tracer.Start(ctx, "ingest.run", attribute.StringSlice("tickers", req.Tickers))
	var err error
	defer func() { tracer.End(span, err) }()

	em.Emit(models.PhaseEvent{Phase: "initializing", Message: "Preparing chunk store"})
	err = s.call(ctx, s.timeouts.Store, metrics.OpStoreUpsert, func(ctx context.Context) error {
		return s.store.EnsureSchema(ctx)
	})
	if err != nil {
		err = stageErr(ErrStore, "initialize", err)
		return err
	}

	em.Emit(models.PhaseEvent{
		Phase:   "processing",
		Message: fmt.Sprintf("Processing %d tickers (%v, limit %d)", len(req.Tickers), req.FilingTypes, req.Limit),
	})

	g := new(errgroup.Group)
	g.SetLimit(s.tickerConcurrency)
	for _, ticker := range req.Tickers {
		g.Go(func() error {
			s.runTicker(ctx, ticker, req, em, logger.With("ticker", ticker))
			return nil
		})
	}
	return g.Wait()
}

// runTicker runs the six stages for one ticker and emits its ticker_done event.
func (s *IngestService) runTicker(ctx context.Context, ticker string, req models.IngestRequest, em Emitter, logger *slog.Logger) {
	ctx, span := tracer.Start(ctx, "ingest.ticker", attribute.String("ticker", ticker))
	defer span.End()

	var (
		bundles      []filings.Bundle
		downloadErrs []error
	)
	for _, filingType := range req.FilingTypes {
		var got []filings.Bundle
		err := s.step(ctx, em, models.StageDownload, ticker, "",
			fmt.Sprintf("Downloading %s %s filings", ticker, filingType),
			ErrDownload, s.timeouts.Download, metrics.OpDownload,
			func(ctx context.Context) (string, error) {
				var err error
				got, err = s.source.List(ctx, ticker, filingType, req.Limit)
				return fmt.Sprintf("%s %s: %d filings", ticker, filingType, len(got)), err
			})
		if err != nil {
			logger.Warn("download failed", "filing_type", filingType, "error", err)
			downloadErrs = append(downloadErrs, err)
			continue
		}
		bundles = append(bundles, got...)
	}

	if len(bundles) == 0 {
		if len(downloadErrs) > 0 {
			em.Emit(models.TickerDoneEvent{Ticker: ticker, Status: models.StepError, Message: errors.Join(downloadErrs...).Error()})
			return
		}
		em.Emit(models.WarningEvent{Ticker: ticker, Message: fmt.Sprintf("No %v filings found for %s", req.FilingTypes, ticker)})
		em.Emit(models.TickerDoneEvent{Ticker: ticker, Status: models.StepDone, Message: "no filings"})
		return
	}

	em.Emit(models.TickerStartEvent{Ticker: ticker, TotalFilings: len(bundles)})

	var (
		stored  int
		failed  int
		lastErr error
	)
	for _, b := range bundles {
		n, err := s.processFiling(ctx, em, b)
		if err != nil {
			failed++
			lastErr = err
			logger.Warn("filing failed", "accession", b.Accession, "error", err)
			continue
		}
		stored += n
	}

	if failed == len(bundles) {
		em.Emit(models.TickerDoneEvent{Ticker: ticker, Status: models.StepError, Message: lastErr.Error()})
		return
	}
	msg := fmt.Sprintf("Stored %d chunks from %d filings", stored, len(bundles)-failed)
	if failed > 0 {
		msg += fmt.Sprintf(" (%d failed)", failed)
	}
	logger.Info("ticker done", "chunks", stored, "filings", len(bundles), "failed", failed)
	em.Emit(models.TickerDoneEvent{Ticker: ticker, Status: models.StepDone, Chunks: stored, Message: msg})
}

// processFiling runs extract, parse, chunk, embed and store for one bundle
// and returns the number of chunks stored.
func (s *IngestService) processFiling(ctx context.Context, em Emitter, b filings.Bundle) (int, error) {
	ctx, span := tracer.Start(ctx, "ingest.filing", attribute.String("accession", b.Accession))
	defer span.End()

	var primary []byte
	err := s.step(ctx, em, models.StageExtract, b.Ticker, b.Accession, "Extracting primary document",
		ErrExtraction, 0, metrics.OpExtract,
		func(context.Context) (string, error) {
			var err error
			primary, err = filings.ExtractPrimaryDocument(b.Data)
			return fmt.Sprintf("Extracted %.1f MB", float64(len(primary))/1024/1024), err
		})
	if err != nil {
		return 0, err
	}

	var markdown string
	err = s.step(ctx, em, models.StageParse, b.Ticker, b.Accession, "Parsing primary document",
		ErrParse, s.timeouts.Parse, metrics.OpParse,
		func(ctx context.Context) (string, error) {
			var err error
			markdown, err = s.parser.Parse(ctx, b.Accession+".htm", primary)
			if err == nil && markdown == "" {
				err = errors.New("parser returned no text")
			}
			return fmt.Sprintf("Parsed %d chars", len(markdown)), err
		})
	if err != nil {
		return 0, err
	}

	var chunks []models.Chunk
	err = s.step(ctx, em, models.StageChunk, b.Ticker, b.Accession, "Chunking",
		ErrParse, 0, metrics.OpChunk,
		func(context.Context) (string, error) {
			chunks = s.buildChunks(b, markdown)
			return fmt.Sprintf("Created %d chunks", len(chunks)), nil
		})
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		em.Emit(models.WarningEvent{Ticker: b.Ticker, Message: fmt.Sprintf("%s produced no chunks", b.Accession)})
		return 0, nil
	}

	err = s.step(ctx, em, models.StageEmbed, b.Ticker, b.Accession, fmt.Sprintf("Embedding %d chunks", len(chunks)),
		ErrEmbedding, s.timeouts.Embed, metrics.OpEmbed,
		func(ctx context.Context) (string, error) {
			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Text
			}
			vectors, err := s.embedder.Embed(ctx, texts, embedding.ModeDocument)
			if err != nil {
				return "", err
			}
			if len(vectors) != len(chunks) {
				return "", fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
			}
			for i := range chunks {
				chunks[i].Embedding = vectors[i]
			}
			return fmt.Sprintf("Embedded %d chunks", len(chunks)), nil
		})
	if err != nil {
		return 0, err
	}

	var stored int
	err = s.step(ctx, em, models.StageStore, b.Ticker, b.Accession, fmt.Sprintf("Storing %d chunks", len(chunks)),
		ErrStore, s.timeouts.Store, metrics.OpStoreUpsert,
		func(ctx context.Context) (string, error) {
			var err error
			stored, err = s.store.Upsert(ctx, chunks)
			return fmt.Sprintf("Stored %d chunks", stored), err
		})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

// buildChunks splits markdown into passages and attaches filing metadata.
// Passage indexes are assigned before short passages are dropped, so a
// chunk keeps its identifier when its neighbours change size.
func (s *IngestService) buildChunks(b filings.Bundle, markdown string) []models.Chunk {
	doc := parser.ParseMarkdown(markdown)
	passages := parser.Chunk(doc, s.chunking)
	year := models.FilingYear(b.Accession, b.FiledAt)

	chunks := make([]models.Chunk, 0, len(passages))
	for _, p := range passages {
		heading := parser.Breadcrumb(p.HeadingPath)
		if heading == "" {
			heading = doc.Title
		}
		chunks = append(chunks, models.Chunk{
			ID:          models.ChunkID(b.Ticker, b.FilingType, b.Accession, p.Index),
			Key:         models.ChunkKey(b.Ticker, b.FilingType, b.Accession, p.Index),
			Ticker:      b.Ticker,
			FilingType:  b.FilingType,
			FilingYear:  year,
			Section:     p.Section,
			HeadingPath: heading,
			Accession:   b.Accession,
			Index:       p.Index,
			WordCount:   p.WordCount,
			Text:        p.Text,
		})
	}
	return chunks
}

// step emits started, runs fn under timeout and emits done or error. The
// returned error is a StageError of kind.
func (s *IngestService) step(ctx context.Context, em Emitter, stage models.Stage, ticker, accession, startMsg string,
	kind error, timeout time.Duration, op string, fn func(ctx context.Context) (string, error)) error {
	em.Emit(models.StepEvent{Step: stage, Ticker: ticker, Accession: accession, Status: models.StepStarted, Message: startMsg})

	var msg string
	err := s.call(ctx, timeout, op, func(ctx context.Context) error {
		var err error
		msg, err = fn(ctx)
		return err
	})
	if err != nil {
		err = stageErr(kind, string(stage), err)
		em.Emit(models.StepEvent{Step: stage, Ticker: ticker, Accession: accession, Status: models.StepError, Message: err.Error()})
		return err
	}
	em.Emit(models.StepEvent{Step: stage, Ticker: ticker, Accession: accession, Status: models.StepDone, Message: msg})
	return nil
}

// call runs fn, bounded by timeout when one is given, and records its
// duration. Only in-process stages (extract, chunk) pass no timeout.
func (s *IngestService) call(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordTiming(op, time.Since(start), err)
	return err
}
