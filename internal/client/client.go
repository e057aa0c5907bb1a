// Package client talks to the FinRAG server over HTTP and WebSocket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/finrag-go/internal/httpjson"
	"github.com/raphaelgruber/finrag-go/internal/models"
	"github.com/raphaelgruber/finrag-go/internal/retry"
	"github.com/raphaelgruber/finrag-go/internal/server"
)

// Client is a FinRAG API client.
type Client struct {
	baseURL string
	reads   *httpjson.Client
	writes  *httpjson.Client
}

// New creates a new client.
// If baseURL is empty, uses FINRAG_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via FINRAG_CLIENT_TIMEOUT (default 5m, generation is slow).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("FINRAG_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 5 * time.Minute
	if t := os.Getenv("FINRAG_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}
	httpClient := &http.Client{Timeout: timeout}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		reads:   &httpjson.Client{HTTP: httpClient, Policy: retry.DefaultPolicy()},
		// Submitting a job or a question twice is not free.
		writes: &httpjson.Client{HTTP: httpClient, Policy: retry.None()},
	}
}

// APIError is an error reply from the server.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func apiError(err error) error {
	var serr *httpjson.StatusError
	if !errors.As(err, &serr) {
		return err
	}
	var body server.ErrorResponse
	if jsonErr := json.Unmarshal([]byte(serr.Body), &body); jsonErr != nil || body.Error == "" {
		return &APIError{StatusCode: serr.StatusCode, Message: strings.TrimSpace(serr.Body)}
	}
	return &APIError{StatusCode: serr.StatusCode, Message: body.Error, Kind: body.Kind}
}

// IngestRequest asks the server to ingest filings. Zero fields use server defaults.
type IngestRequest struct {
	Tickers     []string `json:"tickers,omitempty"`
	FilingTypes []string `json:"filing_types,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

// Ingest submits an ingestion job.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) (*server.IngestResponse, error) {
	var resp server.IngestResponse
	if err := c.writes.Post(ctx, c.baseURL+"/ingest", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("submit ingest: %w", apiError(err))
	}
	return &resp, nil
}

// GetJob returns a job snapshot.
func (c *Client) GetJob(ctx context.Context, id string) (*models.IngestionJob, error) {
	var job models.IngestionJob
	if err := c.reads.Get(ctx, c.baseURL+"/ingest/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, fmt.Errorf("get job: %w", apiError(err))
	}
	return &job, nil
}

// ListJobs returns all retained jobs, most recent first.
func (c *Client) ListJobs(ctx context.Context) ([]models.IngestionJob, error) {
	var jobs []models.IngestionJob
	if err := c.reads.Get(ctx, c.baseURL+"/ingest", nil, &jobs); err != nil {
		return nil, fmt.Errorf("list jobs: %w", apiError(err))
	}
	return jobs, nil
}

// Query asks a question.
func (c *Client) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	var resp models.QueryResponse
	if err := c.writes.Post(ctx, c.baseURL+"/query", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("query: %w", apiError(err))
	}
	return &resp, nil
}

// Metrics returns store statistics and pipeline timings.
func (c *Client) Metrics(ctx context.Context) (*server.MetricsResponse, error) {
	var resp server.MetricsResponse
	if err := c.reads.Get(ctx, c.baseURL+"/metrics", nil, &resp); err != nil {
		return nil, fmt.Errorf("get metrics: %w", apiError(err))
	}
	return &resp, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	var body map[string]string
	if err := c.reads.Get(ctx, c.baseURL+"/health", nil, &body); err != nil {
		return fmt.Errorf("health: %w", apiError(err))
	}
	if body["status"] != "ok" {
		return fmt.Errorf("health: unexpected status %q", body["status"])
	}
	return nil
}

// StreamJob follows a job's progress events over WebSocket. onEvent is
// invoked for each event; return an error from it to stop. Returns nil after
// the terminal event.
func (c *Client) StreamJob(ctx context.Context, id string, onEvent func(models.Event) error) error {
	u, err := url.Parse(c.baseURL + "/ingest/" + url.PathEscape(id) + "/ws")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{StatusCode: resp.StatusCode, Message: "job not found: " + id}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		event, err := models.UnmarshalEvent(data)
		if err != nil {
			return err
		}
		if err := onEvent(event); err != nil {
			return err
		}
		if models.IsTerminal(event) {
			return nil
		}
	}
}
