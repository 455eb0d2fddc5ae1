package models

import (
	"math/big"
	"time"
)

// MemoryType classifies an agent memory entry.
type MemoryType string

const (
	MemoryExecution   MemoryType = "execution"
	MemoryDecision    MemoryType = "decision"
	MemoryBlocked     MemoryType = "blocked"
	MemoryObservation MemoryType = "observation"
	MemoryGoal        MemoryType = "goal"
	MemoryUserMessage MemoryType = "user_message"
	MemoryAgentReply  MemoryType = "agent_reply"
)

// MemoryResult is the outcome attached to execution entries.
type MemoryResult struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MemoryEntry is one append-only history row for an agent. Recall returns
// entries newest-first. SpendAmount is set on successful execution entries
// so daily-spend guardrails can aggregate without parsing params.
type MemoryEntry struct {
	ID          int64          `json:"id,omitempty"`
	TokenID     int64          `json:"tokenId"`
	Type        MemoryType     `json:"type"`
	Action      string         `json:"action,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Result      *MemoryResult  `json:"result,omitempty"`
	Reasoning   string         `json:"reasoning,omitempty"`
	SpendAmount *big.Int       `json:"spendAmount,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
