package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fixwise/manualiq/pkg/knowledge"
	"github.com/google/uuid"
)

// Kind distinguishes the retryable vector-store operations.
type Kind string

const (
	KindUpsert Kind = "upsert"
	KindDelete Kind = "delete"
)

// Item is one unit of drift between the metadata store and the vector
// store: a chunk batch that failed to upsert, or a manual whose points
// failed to delete.
type Item struct {
	ID         string
	Kind       Kind
	Embeddings []knowledge.Embedding
	Chunks     []knowledge.Chunk
	ManualID   string
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
}

// Status is the operator-facing view of a pending item.
type Status struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Chunks     int       `json:"chunks,omitempty"`
	ManualID   string    `json:"manual_id,omitempty"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue retries failed vector-store writes in the background so operators
// can detect and repair drift instead of losing it to a log line. Items
// live in process memory; a restart drops them along with the drift they
// describe, which then needs a manual re-upload.
type Queue struct {
	store       knowledge.VectorStore
	interval    time.Duration
	maxAttempts int

	mu    sync.Mutex
	items []*Item
}

// New creates a Queue retrying against the given store.
func New(store knowledge.VectorStore, interval time.Duration, maxAttempts int) *Queue {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Queue{store: store, interval: interval, maxAttempts: maxAttempts}
}

// EnqueueUpsert records a chunk batch that failed to upsert.
func (q *Queue) EnqueueUpsert(embeddings []knowledge.Embedding, chunks []knowledge.Chunk, cause error) {
	q.enqueue(&Item{
		ID:         uuid.NewString(),
		Kind:       KindUpsert,
		Embeddings: embeddings,
		Chunks:     chunks,
		LastError:  cause.Error(),
		EnqueuedAt: time.Now(),
	})
}

// EnqueueDelete records a manual whose vector points failed to delete.
func (q *Queue) EnqueueDelete(manualID string, cause error) {
	q.enqueue(&Item{
		ID:         uuid.NewString(),
		Kind:       KindDelete,
		ManualID:   manualID,
		LastError:  cause.Error(),
		EnqueuedAt: time.Now(),
	})
}

func (q *Queue) enqueue(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	slog.Warn("enqueued reconciliation item", "kind", item.Kind, "id", item.ID, "error", item.LastError)
}

// Pending returns the current backlog.
func (q *Queue) Pending() []Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	statuses := make([]Status, len(q.items))
	for i, item := range q.items {
		statuses[i] = Status{
			ID:         item.ID,
			Kind:       item.Kind,
			Chunks:     len(item.Chunks),
			ManualID:   item.ManualID,
			Attempts:   item.Attempts,
			LastError:  item.LastError,
			EnqueuedAt: item.EnqueuedAt,
		}
	}
	return statuses
}

// Run retries pending items on a fixed interval until the context is
// cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Drain(ctx)
		}
	}
}

// Drain attempts every pending item once. Items that succeed or exhaust
// their attempts are removed.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	var remaining []*Item
	for _, item := range pending {
		item.Attempts++
		if err := q.attempt(ctx, item); err != nil {
			item.LastError = err.Error()
			if item.Attempts >= q.maxAttempts {
				slog.Error("dropping reconciliation item after max attempts",
					"kind", item.Kind, "id", item.ID, "attempts", item.Attempts, "error", err)
				continue
			}
			remaining = append(remaining, item)
			continue
		}
		slog.Info("reconciliation item recovered", "kind", item.Kind, "id", item.ID, "attempts", item.Attempts)
	}

	q.mu.Lock()
	q.items = append(remaining, q.items...)
	q.mu.Unlock()
}

func (q *Queue) attempt(ctx context.Context, item *Item) error {
	switch item.Kind {
	case KindUpsert:
		return q.store.Upsert(ctx, item.Embeddings, item.Chunks)
	case KindDelete:
		_, err := q.store.DeleteByManual(ctx, item.ManualID)
		return err
	}
	return nil
}
