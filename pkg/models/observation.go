package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TokenBalance is one ERC-20 balance inside an agent's vault.
type TokenBalance struct {
	Token    common.Address `json:"token"`
	Symbol   string         `json:"symbol,omitempty"`
	Decimals uint8          `json:"decimals"`
	Balance  *big.Int       `json:"balance"`
	PriceUsd float64        `json:"priceUsd,omitempty"`
}

// Observation is an immutable snapshot of the world produced by perception
// at the start of a cycle. A cycle never re-reads the chain after this.
type Observation struct {
	Vault         common.Address     `json:"vault"`
	VaultTokens   []TokenBalance     `json:"vaultTokenBalances"`
	NativeBalance *big.Int           `json:"nativeBalance"`
	Prices        map[string]float64 `json:"prices,omitempty"`
	GasPrice      *big.Int           `json:"gasPrice,omitempty"`
	BlockNumber   uint64             `json:"blockNumber"`
	Timestamp     time.Time          `json:"timestamp"`
	Paused        bool               `json:"paused"`
	Signals       []MarketSignal     `json:"signals,omitempty"`
}

// MarketSignal is one synced market data point, unique by (chainId, pair).
type MarketSignal struct {
	ChainID         int64     `json:"chainId"`
	Pair            string    `json:"pair"`
	PriceChangeBps  int64     `json:"priceChangeBps"`
	Volume5m        *big.Int  `json:"volume5m"`
	UniqueTraders5m int64     `json:"uniqueTraders5m"`
	SampledAt       time.Time `json:"sampledAt"`
	Source          string    `json:"source,omitempty"`
}
