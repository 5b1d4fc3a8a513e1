package knowledge

import (
	"context"
)

// ChunkMetadata is the typed payload carried by every stored chunk. The
// DBID field references the owning manual record in the metadata store;
// the reference is best-effort, there is no foreign-key enforcement.
type ChunkMetadata struct {
	CompanyName  string `json:"company_name"`
	ProductName  string `json:"product_name"`
	ProductCode  string `json:"product_code,omitempty"`
	Filename     string `json:"filename"`
	DBID         string `json:"db_id"`
	Source       string `json:"source"`
	Page         int    `json:"page"`
	PageLabel    string `json:"page_label,omitempty"`
	TotalPages   int    `json:"total_pages"`
	Producer     string `json:"producer,omitempty"`
	Creator      string `json:"creator,omitempty"`
	CreationDate string `json:"creationdate,omitempty"`
	ModDate      string `json:"moddate,omitempty"`
	// Degraded marks a chunk whose embedding call failed and was replaced
	// by a zero vector. Degraded chunks are excluded from search.
	Degraded bool `json:"degraded,omitempty"`
}

// Product returns the product identifier, preferring the product name and
// falling back to the legacy product code.
func (m ChunkMetadata) Product() string {
	if m.ProductName != "" {
		return m.ProductName
	}
	return m.ProductCode
}

// Chunk is the unit stored in and retrieved from the vector store.
type Chunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
	Score    float32       `json:"score,omitempty"`
}

// Filter is an equality constraint on chunk metadata. Empty fields are not
// matched, so the zero Filter means an unfiltered search and a Filter with
// only CompanyName set matches company-wide.
type Filter struct {
	CompanyName string
	ProductName string
}

// Matches reports whether the chunk metadata satisfies the filter.
// Comparison is exact and case-sensitive.
func (f Filter) Matches(m ChunkMetadata) bool {
	if f.CompanyName != "" && m.CompanyName != f.CompanyName {
		return false
	}
	if f.ProductName != "" && m.ProductName != f.ProductName {
		return false
	}
	return true
}

// Embedding is one embedded text. Degraded means the real embedding call
// failed and Vector is a zero vector of the expected dimensionality.
type Embedding struct {
	Vector   []float32
	Degraded bool
}

// Embedder is the interface for generating embeddings.
type Embedder interface {
	// EmbedQuery embeds a single query text. Errors propagate.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Embed embeds documents in batches. The result always has one entry
	// per input text, substituting degraded zero vectors on failure.
	Embed(ctx context.Context, texts []string) ([]Embedding, error)
}

// VectorStore is the interface for storing and retrieving chunk vectors.
type VectorStore interface {
	// Upsert inserts or updates chunks and their vectors.
	Upsert(ctx context.Context, embeddings []Embedding, chunks []Chunk) error
	// Search returns the chunks most similar to the query vector that
	// satisfy the filter, ordered by similarity. Degraded chunks are
	// never returned.
	Search(ctx context.Context, query []float32, filter Filter, limit int) ([]Chunk, error)
	// DeleteByManual removes every chunk ingested for the given manual
	// record id and returns how many points matched.
	DeleteByManual(ctx context.Context, manualID string) (int, error)
	// DeleteByProduct removes every chunk matching the product name and
	// filename pair and returns how many points matched.
	DeleteByProduct(ctx context.Context, productName, filename string) (int, error)
	// Healthy verifies the store is reachable.
	Healthy(ctx context.Context) error
}
