// Package memory provides the store-backed agent memory capability.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/models"
)

// DefaultRecallLimit bounds how much history a brain sees when the caller
// does not ask for a specific window.
const DefaultRecallLimit = 20

// HistoryStore is the slice of the persistence contract memory needs.
type HistoryStore interface {
	AppendMemory(ctx context.Context, e *models.MemoryEntry) error
	RecallMemory(ctx context.Context, tokenID int64, limit int) ([]models.MemoryEntry, error)
}

// AgentMemory is one agent's view onto the shared history table. Entries
// are stamped with the agent's tokenId on write so a miswired caller can
// never append into another agent's history.
type AgentMemory struct {
	history HistoryStore
	tokenID int64
}

func New(history HistoryStore, tokenID int64) *AgentMemory {
	return &AgentMemory{history: history, tokenID: tokenID}
}

func (m *AgentMemory) Recall(ctx context.Context, limit int) ([]models.MemoryEntry, error) {
	if limit <= 0 {
		limit = DefaultRecallLimit
	}
	entries, err := m.history.RecallMemory(ctx, m.tokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("recalling memory for agent %d: %w", m.tokenID, err)
	}
	return entries, nil
}

func (m *AgentMemory) Append(ctx context.Context, entry *models.MemoryEntry) error {
	cp := *entry
	cp.TokenID = m.tokenID
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	if err := m.history.AppendMemory(ctx, &cp); err != nil {
		return fmt.Errorf("appending memory for agent %d: %w", m.tokenID, err)
	}
	return nil
}

// Factory returns the "store" memory module factory.
func Factory(history HistoryStore) agent.MemoryFactory {
	return func(bc agent.BuildContext) (agent.Memory, error) {
		return New(history, bc.Agent.TokenID), nil
	}
}
