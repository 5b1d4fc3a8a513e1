package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fixwise/manualiq/pkg/llm"
	"github.com/redis/go-redis/v9"
)

// RedisMemory implements Memory using Redis.
// Messages are stored as a JSON list under "session:{sessionID}".
type RedisMemory struct {
	client *redis.Client
}

// New creates a new RedisMemory.
func New(client *redis.Client) *RedisMemory {
	return &RedisMemory{client: client}
}

// Append pushes a message onto the session's list.
func (m *RedisMemory) Append(ctx context.Context, sessionID string, msg llm.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return m.client.RPush(ctx, sessionKey(sessionID), b).Err()
}

// History loads the session's messages in insertion order.
func (m *RedisMemory) History(ctx context.Context, sessionID string) ([]llm.Message, error) {
	result, err := m.client.LRange(ctx, sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, len(result))
	for i, item := range result {
		var msg llm.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message at index %d: %w", i, err)
		}
		messages[i] = msg
	}

	return messages, nil
}

// Clear deletes the session's list.
func (m *RedisMemory) Clear(ctx context.Context, sessionID string) error {
	return m.client.Del(ctx, sessionKey(sessionID)).Err()
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}
