package parsing

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/httpjson"
)

const defaultPollInterval = 2 * time.Second

// LlamaParse uploads documents to the LlamaParse API and polls for the markdown result.
type LlamaParse struct {
	baseURL      string
	apiKey       string
	http         *httpjson.Client
	pollInterval time.Duration
}

var _ Parser = (*LlamaParse)(nil)

// NewLlamaParse creates a LlamaParse client. baseURL ends in /api/parsing.
func NewLlamaParse(baseURL, apiKey string) (*LlamaParse, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key required for LlamaParse")
	}
	return &LlamaParse{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		http:         httpjson.New(),
		pollInterval: defaultPollInterval,
	}, nil
}

type uploadResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error_message"`
}

type markdownResponse struct {
	Markdown string `json:"markdown"`
}

// Parse uploads doc, waits for the job to finish and returns its markdown.
// The caller's context bounds the whole exchange.
func (p *LlamaParse) Parse(ctx context.Context, name string, doc []byte) (string, error) {
	jobID, err := p.upload(ctx, name, doc)
	if err != nil {
		return "", err
	}
	slog.Debug("llamaparse job submitted", "job", jobID, "file", name, "bytes", len(doc))

	if err := p.wait(ctx, jobID); err != nil {
		return "", err
	}

	var md markdownResponse
	if err := p.http.Get(ctx, p.baseURL+"/job/"+jobID+"/result/markdown", p.headers(), &md); err != nil {
		return "", fmt.Errorf("fetch llamaparse result: %w", err)
	}
	return md.Markdown, nil
}

func (p *LlamaParse) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

func (p *LlamaParse) upload(ctx context.Context, name string, doc []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(doc); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	_ = mw.WriteField("language", "en")
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}
	payload := body.Bytes()

	var resp uploadResponse
	err = p.http.Do(ctx, "llamaparse upload", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/upload", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
		return req, nil
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("llamaparse upload: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("llamaparse upload: no job id returned")
	}
	return resp.ID, nil
}

func (p *LlamaParse) wait(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		var job jobResponse
		if err := p.http.Get(ctx, p.baseURL+"/job/"+jobID, p.headers(), &job); err != nil {
			return fmt.Errorf("poll llamaparse job: %w", err)
		}
		switch strings.ToUpper(job.Status) {
		case "SUCCESS":
			return nil
		case "ERROR", "CANCELED", "CANCELLED":
			return fmt.Errorf("llamaparse job %s failed: %s", jobID, job.Error)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("llamaparse job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}
