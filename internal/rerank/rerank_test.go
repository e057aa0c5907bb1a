package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/finrag-go/internal/httpjson"
	"github.com/raphaelgruber/finrag-go/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCohereRerank(t *testing.T) {
	var got cohereRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		// unsorted on purpose
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.2},{"index":2,"relevance_score":0.9},{"index":1,"relevance_score":0.5}]}`))
	}))
	defer srv.Close()

	c, err := NewCohere(srv.URL, "secret", "rerank-english-v3.0")
	require.NoError(t, err)

	docs := []string{"a", strings.Repeat("x", 3000), "c"}
	results, err := c.Rerank(context.Background(), "q", docs, 2)
	require.NoError(t, err)

	assert.Equal(t, []Result{{Index: 2, Score: 0.9}, {Index: 1, Score: 0.5}}, results)
	assert.Len(t, got.Documents[1], MaxDocChars)
	assert.Equal(t, 2, got.TopN)
}

func TestCohereRerankFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := NewCohere(srv.URL, "k", "m")
	c.WithHTTP(&httpjson.Client{HTTP: http.DefaultClient, Policy: retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond}})
	_, err := c.Rerank(context.Background(), "q", []string{"a"}, 1)
	assert.Error(t, err)
}

func TestCohereRerankBadIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":7,"relevance_score":0.2}]}`))
	}))
	defer srv.Close()

	c, _ := NewCohere(srv.URL, "k", "m")
	_, err := c.Rerank(context.Background(), "q", []string{"a"}, 1)
	assert.ErrorContains(t, err, "invalid index")
}

func TestPassthrough(t *testing.T) {
	results, err := Passthrough{}.Rerank(context.Background(), "q", []string{"a", "b", "c", "d"}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Index)
	assert.Greater(t, results[0].Score, results[1].Score)

	results, err = Passthrough{}.Rerank(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "éé", Truncate("ééé", 2))
}

func TestNew(t *testing.T) {
	_, err := NewCohere("u", "", "m")
	assert.Error(t, err)
}
