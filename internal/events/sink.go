// Package events mirrors ingestion progress events to external consumers.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/raphaelgruber/finrag-go/internal/models"
)

// Sink receives every event a job produces. Publishing is best effort: a
// failing sink never affects the job.
type Sink interface {
	Publish(ctx context.Context, jobID string, seq int64, e models.Event) error
	Close()
}

// Discard drops events.
type Discard struct{}

func (Discard) Publish(context.Context, string, int64, models.Event) error { return nil }
func (Discard) Close()                                                     {}

// StreamName is the JetStream stream holding mirrored events.
const StreamName = "FINRAG_INGEST"

// NATSSink publishes events to JetStream under <subject>.<job id>.<event type>.
type NATSSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSSink connects to url and ensures the stream exists.
func NewNATSSink(ctx context.Context, url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("finrag-server"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject = strings.TrimSuffix(subject, ".")
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subject + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		slog.Warn("failed to ensure NATS stream", "stream", StreamName, "error", err)
	}

	return &NATSSink{nc: nc, js: js, subject: subject}, nil
}

// Subject returns the subject an event of jobID is published on.
func (s *NATSSink) Subject(jobID string, t models.EventType) string {
	return fmt.Sprintf("%s.%s.%s", s.subject, jobID, t)
}

// Publish sends e. The message id deduplicates redeliveries of the same sequence number.
func (s *NATSSink) Publish(ctx context.Context, jobID string, seq int64, e models.Event) error {
	data, err := models.MarshalEvent(e)
	if err != nil {
		return err
	}
	subject := s.Subject(jobID, e.Type())
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(fmt.Sprintf("%s-%d", jobID, seq))); err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection.
func (s *NATSSink) Close() {
	if s.nc != nil {
		_ = s.nc.Drain()
	}
}
