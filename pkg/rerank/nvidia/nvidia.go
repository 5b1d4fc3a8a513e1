package nvidia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/fixwise/manualiq/pkg/knowledge"
)

// Reranker calls an NVIDIA NIM-style /v1/ranking endpoint. The endpoint
// scores each passage against the query; we reorder by descending logit.
type Reranker struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// New creates a Reranker for the given ranking model.
func New(baseURL, apiKey, model string) *Reranker {
	return &Reranker{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type passage struct {
	Text string `json:"text"`
}

type rankingRequest struct {
	Model    string    `json:"model"`
	Query    passage   `json:"query"`
	Passages []passage `json:"passages"`
}

type rankingResponse struct {
	Rankings []struct {
		Index int     `json:"index"`
		Logit float64 `json:"logit"`
	} `json:"rankings"`
}

// Rerank submits the candidate texts for a relevance-reordering pass.
func (r *Reranker) Rerank(ctx context.Context, query string, chunks []knowledge.Chunk) ([]knowledge.Chunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	passages := make([]passage, len(chunks))
	for i, chunk := range chunks {
		passages[i] = passage{Text: chunk.Text}
	}

	body, err := json.Marshal(rankingRequest{
		Model:    r.model,
		Query:    passage{Text: query},
		Passages: passages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ranking request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/ranking", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ranking request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ranking request returned %d: %s", resp.StatusCode, detail)
	}

	var result rankingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode ranking response: %w", err)
	}

	rankings := result.Rankings
	sort.SliceStable(rankings, func(i, j int) bool { return rankings[i].Logit > rankings[j].Logit })

	reordered := make([]knowledge.Chunk, 0, len(chunks))
	for _, ranking := range rankings {
		if ranking.Index < 0 || ranking.Index >= len(chunks) {
			return nil, fmt.Errorf("ranking index %d out of range", ranking.Index)
		}
		reordered = append(reordered, chunks[ranking.Index])
	}
	if len(reordered) != len(chunks) {
		return nil, fmt.Errorf("ranking response covered %d of %d passages", len(reordered), len(chunks))
	}
	return reordered, nil
}
