package api

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/store"
)

// EnableAgentRequest is the body for POST /enable. ChainID and NFAAddress
// are optional cross-checks against the runner's own configuration, for
// clients that talk to several deployments.
type EnableAgentRequest struct {
	Permit         *models.EnablePermit `json:"permit"`
	Sig            string               `json:"sig"`
	ChainID        int64                `json:"chainId,omitempty"`
	NFAAddress     string               `json:"nfaAddress,omitempty"`
	WaitForReceipt bool                 `json:"waitForReceipt,omitempty"`
}

// DisableAgentRequest is the body for POST /disable.
type DisableAgentRequest struct {
	TokenID        int64  `json:"tokenId"`
	Mode           string `json:"mode,omitempty"`
	Reason         string `json:"reason,omitempty"`
	WaitForReceipt bool   `json:"waitForReceipt,omitempty"`
}

// StrategyUpsertRequest is the body for POST /strategy/upsert. On-chain
// amounts arrive as decimal strings and calldata as hex, so clients never
// push big integers through JSON numbers.
type StrategyUpsertRequest struct {
	TokenID                int64          `json:"tokenId"`
	ChainID                int64          `json:"chainId,omitempty"`
	StrategyType           string         `json:"strategyType"`
	Target                 string         `json:"target,omitempty"`
	Data                   string         `json:"data,omitempty"`
	Value                  string         `json:"value,omitempty"`
	StrategyParams         map[string]any `json:"strategyParams,omitempty"`
	MinIntervalMs          int64          `json:"minIntervalMs,omitempty"`
	RequirePositiveBalance bool           `json:"requirePositiveBalance,omitempty"`
	MaxFailures            int            `json:"maxFailures,omitempty"`
	Enabled                *bool          `json:"enabled,omitempty"`
}

// ToStrategy converts the wire form into the stored model. Field presence
// rules live in the store; this only rejects values that cannot be parsed.
func (r *StrategyUpsertRequest) ToStrategy() (*models.StrategyConfig, error) {
	s := &models.StrategyConfig{
		TokenID:                r.TokenID,
		ChainID:                r.ChainID,
		StrategyType:           r.StrategyType,
		StrategyParams:         r.StrategyParams,
		MinIntervalMs:          r.MinIntervalMs,
		RequirePositiveBalance: r.RequirePositiveBalance,
		MaxFailures:            r.MaxFailures,
		Enabled:                true,
	}
	if r.Enabled != nil {
		s.Enabled = *r.Enabled
	}
	if r.Target != "" {
		if !common.IsHexAddress(r.Target) {
			return nil, store.NewValidationError("target", "must be a hex address")
		}
		s.Target = common.HexToAddress(r.Target)
	}
	if r.Data != "" {
		data, err := decodeHex(r.Data)
		if err != nil {
			return nil, store.NewValidationError("data", "must be hex calldata")
		}
		s.Data = data
	}
	if r.Value != "" {
		v, ok := new(big.Int).SetString(r.Value, 10)
		if !ok || v.Sign() < 0 {
			return nil, store.NewValidationError("value", "must be a non-negative decimal string")
		}
		s.Value = v
	}
	return s, nil
}

// decodeHex decodes hex bytes with or without the 0x prefix.
func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
