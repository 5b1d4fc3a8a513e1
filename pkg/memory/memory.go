package memory

import (
	"context"

	"github.com/fixwise/manualiq/pkg/llm"
)

// Memory represents a storage for chat history, keyed by session.
type Memory interface {
	// Append adds a message to the end of the session's history.
	Append(ctx context.Context, sessionID string, msg llm.Message) error
	// History returns the session's messages in insertion order.
	History(ctx context.Context, sessionID string) ([]llm.Message, error)
	// Clear removes the session's history.
	Clear(ctx context.Context, sessionID string) error
}
