package rerank

import (
	"context"

	"github.com/fixwise/manualiq/pkg/knowledge"
)

// Reranker reorders a candidate set by relevance to the query.
type Reranker interface {
	// Rerank returns the chunks in descending relevance order. The result
	// contains the same chunks as the input.
	Rerank(ctx context.Context, query string, chunks []knowledge.Chunk) ([]knowledge.Chunk, error)
}
