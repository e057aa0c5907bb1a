// Package main provides the FinRAG HTTP server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/config"
	"github.com/raphaelgruber/finrag-go/internal/embedding"
	"github.com/raphaelgruber/finrag-go/internal/events"
	"github.com/raphaelgruber/finrag-go/internal/filings"
	"github.com/raphaelgruber/finrag-go/internal/llm"
	"github.com/raphaelgruber/finrag-go/internal/metrics"
	"github.com/raphaelgruber/finrag-go/internal/parsing"
	"github.com/raphaelgruber/finrag-go/internal/rerank"
	"github.com/raphaelgruber/finrag-go/internal/server"
	"github.com/raphaelgruber/finrag-go/internal/service"
	"github.com/raphaelgruber/finrag-go/internal/store"
	"github.com/raphaelgruber/finrag-go/internal/tracer"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	slog.SetDefault(logger)

	logger.Info("finrag-server starting",
		"version", version,
		"store", cfg.Store,
		"embed_provider", cfg.EmbedProvider,
		"llm_provider", cfg.LLMProvider,
		"rerank_provider", cfg.RerankProvider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := tracer.Init(ctx, cfg.OTelEnabled, cfg.OTelEndpoint, "finrag")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	chunkStore, err := store.Open(initCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing chunk store")
		_ = chunkStore.Close(context.Background())
	}()

	embedder, err := embedding.New(cfg)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	generator, err := llm.New(initCtx, cfg)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}
	reranker, err := rerank.New(cfg)
	if err != nil {
		return fmt.Errorf("create reranker: %w", err)
	}
	parser, err := parsing.New(cfg)
	if err != nil {
		return fmt.Errorf("create parser: %w", err)
	}
	source, err := filings.New(initCtx, cfg)
	if err != nil {
		return fmt.Errorf("create filing source: %w", err)
	}
	if c, ok := source.(io.Closer); ok {
		defer c.Close()
	}
	logger.Info("collaborators initialized",
		"embed_model", embedder.Model(),
		"embed_dimension", embedder.Dimension(),
		"llm_model", generator.Model(),
		"filing_source", cfg.FilingSource,
	)

	var sink events.Sink = events.Discard{}
	if cfg.NATSURL != "" {
		natsSink, err := events.NewNATSSink(initCtx, cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		sink = natsSink
		logger.Info("mirroring progress events to nats", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
	}

	collector := metrics.NewCollector()

	ingest := service.NewIngestService(source, parser, embedder, chunkStore, service.IngestTimeouts{
		Download: cfg.DownloadTimeout,
		Parse:    cfg.ParseTimeout,
		Embed:    cfg.EmbedTimeout,
		Store:    cfg.StoreTimeout,
	}, cfg.TickerConcurrency, collector)

	jobs, err := service.NewJobManager(ingest, service.JobOptions{
		Concurrency:       cfg.JobConcurrency,
		BufferSize:        cfg.EventBufferSize,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Retention:         cfg.JobRetention,
		Sink:              sink,
		Metrics:           collector,
	})
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("waiting for running jobs")
		jobs.Close()
	}()

	queries := service.NewQueryService(embedder, chunkStore, reranker, generator, service.QueryOptions{
		TopK: cfg.RetrieveK,
		TopN: cfg.RerankN,
		Prices: service.Prices{
			InputPerMTok:  cfg.InputPricePer,
			OutputPerMTok: cfg.OutputPricePer,
		},
		Timeouts: service.QueryTimeouts{
			Embed:    cfg.EmbedTimeout,
			Retrieve: cfg.StoreTimeout,
			Rerank:   cfg.RerankTimeout,
			Generate: cfg.GenerateTimeout,
		},
		Metrics: collector,
	})

	srv := server.New(jobs, queries, collector, logger)
	if err := srv.Run(ctx, fmt.Sprintf(":%d", cfg.ServerPort)); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
