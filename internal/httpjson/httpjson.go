// Package httpjson posts JSON to collaborator APIs with retries on transient failures.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/raphaelgruber/finrag-go/internal/retry"
)

// StatusError is a non-2xx API response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client sends JSON requests.
type Client struct {
	HTTP   *http.Client
	Policy retry.Policy
}

// New returns a client using http.DefaultClient and the default retry policy.
func New() *Client {
	return &Client{HTTP: http.DefaultClient, Policy: retry.DefaultPolicy()}
}

// Post sends in as JSON to url and decodes the response into out.
// 429 and 5xx responses and transport errors are retried.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(ctx, c.Policy, url, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return c.do(req, out)
	})
}

// Get fetches url and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string, out any) error {
	return retry.Do(ctx, c.Policy, url, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return c.do(req, out)
	})
}

// Do sends a prepared request once per attempt. newReq must build a fresh
// request each time since bodies are consumed.
func (c *Client) Do(ctx context.Context, name string, newReq func() (*http.Request, error), out any) error {
	return retry.Do(ctx, c.Policy, name, func() error {
		req, err := newReq()
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		return c.do(req, out)
	})
}

func (c *Client) do(req *http.Request, out any) error {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return retry.Permanent(fmt.Errorf("send request: %w", err))
		}
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
		if serr.Retryable() {
			return serr
		}
		return retry.Permanent(serr)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
