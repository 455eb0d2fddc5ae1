package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChainAgentData is the on-chain identity of an agent, read from the NFA
// registry when the agent is enabled or rebuilt.
type ChainAgentData struct {
	TokenID        int64          `json:"tokenId"`
	AgentType      string         `json:"agentType"`
	Owner          common.Address `json:"owner"`
	Renter         common.Address `json:"renter"`
	Vault          common.Address `json:"vault"`
	StrategyParams map[string]any `json:"strategyParams,omitempty"`
}

// Autopilot is the fleet-registry row for one agent. It tracks whether the
// runner is responsible for the agent and how it was enabled/disabled.
type Autopilot struct {
	TokenID       int64          `json:"tokenId"`
	ChainID       int64          `json:"chainId"`
	AgentType     string         `json:"agentType"`
	Owner         common.Address `json:"owner"`
	Renter        common.Address `json:"renter"`
	Vault         common.Address `json:"vault"`
	Enabled       bool           `json:"enabled"`
	EnabledAt     *time.Time     `json:"enabledAt,omitempty"`
	DisabledAt    *time.Time     `json:"disabledAt,omitempty"`
	DisableReason *string        `json:"disableReason,omitempty"`
	EnableTxHash  *string        `json:"enableTxHash,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// EnablePermit is the signed authorization a renter submits to hand an agent
// over to the operator. Verified on-chain by the registry's permit call.
type EnablePermit struct {
	TokenID  int64          `json:"tokenId"`
	Renter   common.Address `json:"renter"`
	Operator common.Address `json:"operator"`
	Expires  int64          `json:"expires"`
	Nonce    uint64         `json:"nonce"`
	Deadline int64          `json:"deadline"`
}
