package pgstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "finrag",
				"POSTGRES_PASSWORD": "finrag",
				"POSTGRES_DB":       "finrag",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=finrag password=finrag dbname=finrag sslmode=disable", host, port.Port())
	s, err := Open(ctx, dsn, 3, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestPgvectorStore(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	mk := func(ticker string, index int, vec ...float32) models.Chunk {
		acc := "0000320193-24-000123"
		return models.Chunk{
			ID:         models.ChunkID(ticker, "10-K", acc, index),
			Key:        models.ChunkKey(ticker, "10-K", acc, index),
			Ticker:     ticker,
			FilingType: "10-K",
			FilingYear: 2024,
			Section:    "General",
			Accession:  acc,
			Index:      index,
			WordCount:  2,
			Text:       "some text",
			Embedding:  vec,
		}
	}
	chunks := []models.Chunk{mk("AAPL", 0, 1, 0, 0), mk("AAPL", 1, 0, 1, 0), mk("MSFT", 0, 1, 0, 0)}

	for range 2 {
		n, err := s.Upsert(ctx, chunks)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ChunkCount)
	assert.Equal(t, []string{"AAPL", "MSFT"}, stats.Tickers)
	assert.Equal(t, []string{"10-K"}, stats.FilingTypes)

	hits, err := s.Search(ctx, []float32{1, 0, 0}, models.ChunkFilter{Ticker: "AAPL"}, 20)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Chunk.Index)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	for _, h := range hits {
		assert.Equal(t, "AAPL", h.Chunk.Ticker)
	}
}
