package events

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestDiscard(t *testing.T) {
	var s Sink = Discard{}
	assert.NoError(t, s.Publish(context.Background(), "job", 1, models.PhaseEvent{Phase: "starting"}))
	s.Close()
}

func TestNATSSinkPublishes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping NATS container test in short mode")
	}
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          []string{"-js"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	sink, err := NewNATSSink(ctx, fmt.Sprintf("nats://%s:%s", host, port.Port()), "finrag.ingest")
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Publish(ctx, "job1", 1, models.TickerStartEvent{Ticker: "AAPL", TotalFilings: 2}))
	// same sequence number is deduplicated
	require.NoError(t, sink.Publish(ctx, "job1", 1, models.TickerStartEvent{Ticker: "AAPL", TotalFilings: 2}))
	require.NoError(t, sink.Publish(ctx, "job1", 2, models.DoneEvent{TotalChunks: 10, Tickers: []string{"AAPL"}}))

	stream, err := sink.js.Stream(ctx, StreamName)
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)

	msg, err := stream.GetLastMsgForSubject(ctx, sink.Subject("job1", models.EventDone))
	require.NoError(t, err)
	e, err := models.UnmarshalEvent(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, 10, e.(models.DoneEvent).TotalChunks)
}
