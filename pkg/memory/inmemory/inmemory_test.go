package inmemory

import (
	"context"
	"testing"

	"github.com/fixwise/manualiq/pkg/llm"
	"github.com/stretchr/testify/require"
)

func TestAppendAndHistoryOrder(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.Append(ctx, "s1", llm.Message{Role: llm.RoleUser, Content: "A"}))
	require.NoError(t, m.Append(ctx, "s1", llm.Message{Role: llm.RoleAssistant, Content: "B"}))

	history, err := m.History(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "A"},
		{Role: llm.RoleAssistant, Content: "B"},
	}, history)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.Append(ctx, "s1", llm.Message{Role: llm.RoleUser, Content: "A"}))
	require.NoError(t, m.Append(ctx, "s1", llm.Message{Role: llm.RoleAssistant, Content: "B"}))
	require.NoError(t, m.Clear(ctx, "s1"))

	history, err := m.History(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.Append(ctx, "s1", llm.Message{Role: llm.RoleUser, Content: "A"}))
	require.NoError(t, m.Append(ctx, "s2", llm.Message{Role: llm.RoleUser, Content: "X"}))
	require.NoError(t, m.Clear(ctx, "s1"))

	history, err := m.History(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "X", history[0].Content)
}

func TestHistoryReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.Append(ctx, "s1", llm.Message{Role: llm.RoleUser, Content: "A"}))

	history, _ := m.History(ctx, "s1")
	history[0].Content = "mutated"

	fresh, _ := m.History(ctx, "s1")
	require.Equal(t, "A", fresh[0].Content)
}
