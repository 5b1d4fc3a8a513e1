package inmemory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/fixwise/manualiq/pkg/knowledge"
	"github.com/google/uuid"
)

// Store is an in-process knowledge.VectorStore. It backs tests and small
// single-node deployments; nothing persists across restarts.
type Store struct {
	mu     sync.RWMutex
	points []point
}

type point struct {
	id       string
	vector   []float32
	chunk    knowledge.Chunk
	degraded bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

func (s *Store) Upsert(ctx context.Context, embeddings []knowledge.Embedding, chunks []knowledge.Chunk) error {
	if len(embeddings) != len(chunks) {
		return errMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, chunk := range chunks {
		id := chunk.ID
		if id == "" {
			id = uuid.NewString()
		}
		chunk.ID = id
		s.points = append(s.points, point{
			id:       id,
			vector:   embeddings[i].Vector,
			chunk:    chunk,
			degraded: embeddings[i].Degraded || chunk.Metadata.Degraded,
		})
	}
	return nil
}

func (s *Store) Search(ctx context.Context, query []float32, filter knowledge.Filter, limit int) ([]knowledge.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []knowledge.Chunk
	for _, p := range s.points {
		if p.degraded || !filter.Matches(p.chunk.Metadata) {
			continue
		}
		chunk := p.chunk
		chunk.Score = cosine(query, p.vector)
		hits = append(hits, chunk)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) DeleteByManual(ctx context.Context, manualID string) (int, error) {
	return s.deleteIf(func(p point) bool { return p.chunk.Metadata.DBID == manualID }), nil
}

func (s *Store) DeleteByProduct(ctx context.Context, productName, filename string) (int, error) {
	return s.deleteIf(func(p point) bool {
		return p.chunk.Metadata.ProductName == productName && p.chunk.Metadata.Filename == filename
	}), nil
}

func (s *Store) Healthy(ctx context.Context) error {
	return nil
}

// Len reports the number of stored points, including degraded ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

func (s *Store) deleteIf(match func(point) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.points[:0]
	removed := 0
	for _, p := range s.points {
		if match(p) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	s.points = kept
	return removed
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var errMismatch = errors.New("number of embeddings and chunks must match")
