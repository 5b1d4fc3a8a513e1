package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fixwise/manualiq/pkg/knowledge"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultBatchSize = 100

// Embedder implements knowledge.Embedder against an OpenAI-compatible
// embeddings endpoint.
type Embedder struct {
	client    *openai.Client
	model     string
	dimension int
	batchSize int
}

// NewEmbedder creates an Embedder for the given model. dimension is the
// vector size the model produces; it sizes the zero-vector fallback.
func NewEmbedder(model string, dimension int, opts ...option.RequestOption) *Embedder {
	client := openai.NewClient(opts...)
	return &Embedder{
		client:    &client,
		model:     model,
		dimension: dimension,
		batchSize: defaultBatchSize,
	}
}

// EmbedQuery embeds a single query text. Errors propagate to the caller.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}
	return toFloat32(resp.Data[0].Embedding), nil
}

// Embed embeds texts in fixed-size batches, preserving input order and
// count. A failed batch degrades to per-item calls; a failed item becomes
// a degraded zero vector instead of aborting the whole batch.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([]knowledge.Embedding, error) {
	embeddings := make([]knowledge.Embedding, 0, len(texts))

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		vectors, err := e.embedBatch(ctx, batch)
		if err == nil {
			for _, v := range vectors {
				embeddings = append(embeddings, knowledge.Embedding{Vector: v})
			}
			continue
		}

		slog.Warn("batch embedding failed, falling back to individual items",
			"batch_start", start, "batch_size", len(batch), "error", err)
		for _, text := range batch {
			vector, itemErr := e.EmbedQuery(ctx, text)
			if itemErr != nil {
				slog.Error("individual embedding failed, substituting zero vector", "error", itemErr)
				embeddings = append(embeddings, knowledge.Embedding{
					Vector:   make([]float32, e.dimension),
					Degraded: true,
				})
				continue
			}
			embeddings = append(embeddings, knowledge.Embedding{Vector: vector})
		}
	}

	return embeddings, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: e.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response count %d does not match input count %d", len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = toFloat32(data.Embedding)
	}
	return vectors, nil
}

func toFloat32(embedding []float64) []float32 {
	vec := make([]float32, len(embedding))
	for i, v := range embedding {
		vec[i] = float32(v)
	}
	return vec
}
