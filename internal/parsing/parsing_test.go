package parsing

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/httpjson"
	"github.com/raphaelgruber/finrag-go/internal/parser"
	"github.com/raphaelgruber/finrag-go/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const filingHTML = `<html><head><title>aapl-10k</title><style>p{color:red}</style></head>
<body>
<div style="display: none"><ix:header>hidden xbrl</ix:header></div>
<h2>Item 1. Business</h2>
<p>The Company designs,   manufactures
and markets smartphones.</p>
<script>var x = 1;</script>
<table>
<tr><th>Segment</th><th></th><th>2024</th></tr>
<tr><td>Americas</td><td> </td><td>$167,045</td></tr>
</table>
<ul><li>iPhone</li><li>Mac</li></ul>
</body></html>`

func TestHTMLParse(t *testing.T) {
	md, err := HTML{}.Parse(context.Background(), "primary.htm", []byte(filingHTML))
	require.NoError(t, err)

	assert.Contains(t, md, "## Item 1. Business")
	assert.Contains(t, md, "The Company designs, manufactures and markets smartphones.")
	assert.Contains(t, md, "| Segment | 2024 |")
	assert.Contains(t, md, "| Americas | $167,045 |")
	assert.Contains(t, md, "- iPhone")
	assert.NotContains(t, md, "hidden xbrl")
	assert.NotContains(t, md, "var x")
	assert.NotContains(t, md, "color:red")
	assert.NotContains(t, md, "\n\n\n")
}

func TestHTMLParseTitleFrontmatter(t *testing.T) {
	tests := []struct {
		name  string
		html  string
		title string
		body  string
	}{
		{"title", filingHTML, "aapl-10k", "## Item 1. Business"},
		{"quoted title", `<html><head><title>Apple Inc.: Form 10-K "FY24"</title></head><body><p>Net sales rose.</p></body></html>`, `Apple Inc.: Form 10-K "FY24"`, "Net sales rose."},
		{"no title", `<html><body><h1>Annual Report</h1><p>Text.</p></body></html>`, "Annual Report", "# Annual Report"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := HTML{}.Parse(context.Background(), "primary.htm", []byte(tt.html))
			require.NoError(t, err)

			doc := parser.ParseMarkdown(md)
			assert.Equal(t, tt.title, doc.Title)
			assert.True(t, strings.HasPrefix(doc.Content, tt.body), doc.Content)
			assert.NotContains(t, doc.Content, "title:")
		})
	}
}

func TestHTMLParseEmptyBody(t *testing.T) {
	md, err := HTML{}.Parse(context.Background(), "primary.htm", []byte(`<html><head><title>empty</title></head><body></body></html>`))
	require.NoError(t, err)
	assert.Empty(t, md)
}

func fastClient() *httpjson.Client {
	return &httpjson.Client{
		HTTP:   http.DefaultClient,
		Policy: retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}
}

func TestLlamaParse(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		body, _ := io.ReadAll(f)
		assert.Equal(t, "primary.htm", hdr.Filename)
		assert.Equal(t, "<html/>", string(body))
		_, _ = w.Write([]byte(`{"id":"job-1","status":"PENDING"}`))
	})
	mux.HandleFunc("GET /job/job-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			_, _ = w.Write([]byte(`{"id":"job-1","status":"PENDING"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"job-1","status":"SUCCESS"}`))
	})
	mux.HandleFunc("GET /job/job-1/result/markdown", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"markdown":"# Item 7. MD&A\n\nRevenue grew."}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := NewLlamaParse(srv.URL+"/", "key")
	require.NoError(t, err)
	p.http = fastClient()
	p.pollInterval = time.Millisecond

	md, err := p.Parse(context.Background(), "primary.htm", []byte("<html/>"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "# Item 7."))
	assert.Equal(t, int32(2), polls.Load())
}

func TestLlamaParseJobError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"job-2"}`))
	})
	mux.HandleFunc("GET /job/job-2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"job-2","status":"ERROR","error_message":"unsupported file"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := NewLlamaParse(srv.URL, "key")
	require.NoError(t, err)
	p.http = fastClient()

	_, err = p.Parse(context.Background(), "x.htm", []byte("x"))
	assert.ErrorContains(t, err, "unsupported file")
}

func TestLlamaParseTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"job-3"}`))
	})
	mux.HandleFunc("GET /job/job-3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"job-3","status":"PENDING"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, _ := NewLlamaParse(srv.URL, "key")
	p.http = fastClient()
	p.pollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Parse(ctx, "x.htm", []byte("x"))
	assert.Error(t, err)
}

func TestNewLlamaParseRequiresKey(t *testing.T) {
	_, err := NewLlamaParse("http://x", "")
	assert.Error(t, err)
}
