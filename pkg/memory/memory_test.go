package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/store"
)

func TestAgentMemory_AppendStampsIdentity(t *testing.T) {
	st := store.NewInMemory(0)
	mem := New(st, 42)
	ctx := context.Background()

	// A wrong tokenId on the entry is overwritten, and a missing timestamp
	// is filled.
	require.NoError(t, mem.Append(ctx, &models.MemoryEntry{
		TokenID: 999,
		Type:    models.MemoryDecision,
		Action:  "swap",
	}))

	entries, err := mem.Recall(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(42), entries[0].TokenID)
	assert.False(t, entries[0].Timestamp.IsZero())

	// Nothing leaked into another agent's history.
	other, err := New(st, 999).Recall(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAgentMemory_RecallNewestFirstWithDefaultLimit(t *testing.T) {
	st := store.NewInMemory(0)
	mem := New(st, 1)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < DefaultRecallLimit+5; i++ {
		require.NoError(t, mem.Append(ctx, &models.MemoryEntry{
			Type:      models.MemoryObservation,
			Reasoning: "tick",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := mem.Recall(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, DefaultRecallLimit)
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))
}

func TestFactory(t *testing.T) {
	st := store.NewInMemory(0)
	f := Factory(st)

	mem, err := f(agent.BuildContext{Agent: models.ChainAgentData{TokenID: 7}})
	require.NoError(t, err)

	require.NoError(t, mem.Append(context.Background(), &models.MemoryEntry{Type: models.MemoryGoal}))
	entries, err := st.RecallMemory(context.Background(), 7, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
