package llm

import (
	"context"
	"errors"
)

// Role represents the role of the message sender (system, user, assistant).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Sentinel errors for classified upstream failures. Providers wrap these so
// the HTTP layer can map them to status codes with errors.Is.
var (
	// ErrModelNotFound means the configured chat model is not available for
	// this account. The wrapping message carries the available model list.
	ErrModelNotFound = errors.New("chat model not found")
	// ErrUnauthorized means the upstream rejected the API key.
	ErrUnauthorized = errors.New("chat API authentication failed")
	// ErrForbidden means the account lacks access to the requested model.
	ErrForbidden = errors.New("chat API access denied")
)

// Provider defines the interface for a hosted chat-completion backend.
type Provider interface {
	// Chat sends the full message sequence and returns the assistant's reply.
	Chat(ctx context.Context, messages []Message) (string, error)
	// ListModels returns the model identifiers available to this account.
	ListModels(ctx context.Context) ([]string, error)
	// Healthy issues a minimal completion to verify the model is reachable.
	Healthy(ctx context.Context) error
}
