package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxPayload is a fully encoded outbound transaction plus the economics the
// guardrails need to judge it. Action encoders fill the derived fields so
// downstream code never re-parses calldata.
type TxPayload struct {
	To       common.Address `json:"to"`
	Value    *big.Int       `json:"value,omitempty"`
	Data     []byte         `json:"data,omitempty"`
	GasLimit uint64         `json:"gasLimit,omitempty"`

	// Derived economics for guardrails.
	Intent       string           `json:"intent,omitempty"`
	SpendAmount  *big.Int         `json:"spendAmount,omitempty"`
	AmountIn     *big.Int         `json:"amountIn,omitempty"`
	MinOut       *big.Int         `json:"minOut,omitempty"`
	ActionTokens []common.Address `json:"actionTokens,omitempty"`
}

// RuntimeContext carries per-agent runtime facts to action encoders and
// executors, replacing magic "__"-prefixed parameter keys. Params maps stay
// pure model output; anything the runtime knows goes here.
type RuntimeContext struct {
	ChainID       int64
	TokenID       int64
	Vault         common.Address
	Pool          common.Address
	NativeBalance *big.Int
	VaultTokens   []TokenBalance
	CadenceMs     int64
	Now           time.Time
}

// ExecutionContext is the input both guardrail layers judge. Built by the
// cycle from the plan's action and encoded payload. Value and Data mirror
// the payload so the hard validator call needs nothing else.
type ExecutionContext struct {
	TokenID      int64            `json:"tokenId"`
	AgentType    string           `json:"agentType"`
	Vault        common.Address   `json:"vault"`
	Timestamp    time.Time        `json:"timestamp"`
	ActionName   string           `json:"actionName,omitempty"`
	Target       common.Address   `json:"target,omitempty"`
	Value        *big.Int         `json:"value,omitempty"`
	Data         []byte           `json:"data,omitempty"`
	SpendAmount  *big.Int         `json:"spendAmount,omitempty"`
	ActionTokens []common.Address `json:"actionTokens,omitempty"`
	AmountIn     *big.Int         `json:"amountIn,omitempty"`
	MinOut       *big.Int         `json:"minOut,omitempty"`
}
