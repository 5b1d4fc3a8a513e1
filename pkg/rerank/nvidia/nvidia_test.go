package nvidia

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fixwise/manualiq/pkg/knowledge"
	"github.com/stretchr/testify/require"
)

func chunksOf(texts ...string) []knowledge.Chunk {
	chunks := make([]knowledge.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = knowledge.Chunk{Text: text}
	}
	return chunks
}

func TestRerankReorders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ranking", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req rankingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "rank-model", req.Model)
		require.Len(t, req.Passages, 3)

		json.NewEncoder(w).Encode(map[string]any{
			"rankings": []map[string]any{
				{"index": 2, "logit": 5.1},
				{"index": 0, "logit": 1.2},
				{"index": 1, "logit": -3.4},
			},
		})
	}))
	defer server.Close()

	r := New(server.URL, "test-key", "rank-model")
	reordered, err := r.Rerank(context.Background(), "reset", chunksOf("a", "b", "c"))
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b"}, []string{reordered[0].Text, reordered[1].Text, reordered[2].Text})
}

func TestRerankEmptyInput(t *testing.T) {
	r := New("http://unused", "", "rank-model")
	reordered, err := r.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	require.Empty(t, reordered)
}

func TestRerankServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := New(server.URL, "", "rank-model")
	_, err := r.Rerank(context.Background(), "q", chunksOf("a"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestRerankPartialCoverage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"rankings": []map[string]any{{"index": 0, "logit": 1.0}},
		})
	}))
	defer server.Close()

	r := New(server.URL, "", "rank-model")
	_, err := r.Rerank(context.Background(), "q", chunksOf("a", "b"))
	require.Error(t, err)
}

func TestRerankIndexOutOfRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"rankings": []map[string]any{
				{"index": 7, "logit": 1.0},
				{"index": 0, "logit": 0.5},
			},
		})
	}))
	defer server.Close()

	r := New(server.URL, "", "rank-model")
	_, err := r.Rerank(context.Background(), "q", chunksOf("a", "b"))
	require.Error(t, err)
}
