// Package perception builds the immutable observation a cycle starts from:
// vault balances, gas, block height, the on-chain paused flag, and the
// latest synced market signals. A cycle never re-reads the world after
// Observe returns.
package perception

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/models"
)

// ChainReader is the read-only slice of the chain service perception uses.
type ChainReader interface {
	ChainID() int64
	Paused(ctx context.Context, tokenID int64) (bool, error)
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error)
	TokenMetadata(ctx context.Context, token common.Address) (string, uint8, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// SignalStore supplies the latest synced market signals.
type SignalStore interface {
	ListMarketSignals(ctx context.Context, chainID int64) ([]*models.MarketSignal, error)
}

// PriceSource supplies spot prices for the pairs the agent watches. The
// sync loop only delivers deltas (priceChangeBps), so without a configured
// source Observation.Prices stays empty.
type PriceSource interface {
	Prices(ctx context.Context, pairs []string) (map[string]float64, error)
}

// VaultObserver observes one agent's vault. Token metadata is immutable
// on-chain, so symbol/decimals are fetched once and cached for the
// observer's lifetime.
type VaultObserver struct {
	chain   ChainReader
	signals SignalStore
	prices  PriceSource
	tokenID int64
	vault   common.Address
	watch   []common.Address

	mu   sync.Mutex
	meta map[common.Address]tokenMeta
}

type tokenMeta struct {
	symbol   string
	decimals uint8
}

func NewVaultObserver(chain ChainReader, signals SignalStore, prices PriceSource, tokenID int64, vault common.Address, watch []common.Address) *VaultObserver {
	return &VaultObserver{
		chain:   chain,
		signals: signals,
		prices:  prices,
		tokenID: tokenID,
		vault:   vault,
		watch:   watch,
		meta:    make(map[common.Address]tokenMeta),
	}
}

func (o *VaultObserver) Observe(ctx context.Context) (*models.Observation, error) {
	now := time.Now().UTC()

	paused, err := o.chain.Paused(ctx, o.tokenID)
	if err != nil {
		return nil, fmt.Errorf("observing agent %d: %w", o.tokenID, err)
	}
	if paused {
		// The cycle short-circuits on paused; skip the remaining reads.
		return &models.Observation{Vault: o.vault, Paused: true, Timestamp: now}, nil
	}

	native, err := o.chain.NativeBalance(ctx, o.vault)
	if err != nil {
		return nil, fmt.Errorf("observing agent %d: %w", o.tokenID, err)
	}
	gasPrice, err := o.chain.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("observing agent %d: %w", o.tokenID, err)
	}
	block, err := o.chain.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("observing agent %d: %w", o.tokenID, err)
	}

	balances := make([]models.TokenBalance, 0, len(o.watch))
	for _, token := range o.watch {
		balance, err := o.chain.TokenBalance(ctx, token, o.vault)
		if err != nil {
			return nil, fmt.Errorf("observing agent %d: %w", o.tokenID, err)
		}
		meta, err := o.metadata(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("observing agent %d: %w", o.tokenID, err)
		}
		balances = append(balances, models.TokenBalance{
			Token:    token,
			Symbol:   meta.symbol,
			Decimals: meta.decimals,
			Balance:  balance,
		})
	}

	raw, err := o.signals.ListMarketSignals(ctx, o.chain.ChainID())
	if err != nil {
		return nil, fmt.Errorf("observing agent %d: loading market signals: %w", o.tokenID, err)
	}
	signals := make([]models.MarketSignal, len(raw))
	pairs := make([]string, len(raw))
	for i, s := range raw {
		signals[i] = *s
		pairs[i] = s.Pair
	}

	obs := &models.Observation{
		Vault:         o.vault,
		VaultTokens:   balances,
		NativeBalance: native,
		GasPrice:      gasPrice,
		BlockNumber:   block,
		Timestamp:     now,
		Signals:       signals,
	}

	if o.prices != nil && len(pairs) > 0 {
		prices, err := o.prices.Prices(ctx, pairs)
		if err != nil {
			// Prices are advisory; a dead oracle must not stop the cycle.
			slog.Warn("Price source failed, observing without prices",
				"token_id", o.tokenID,
				"error", err)
		} else {
			obs.Prices = prices
		}
	}
	return obs, nil
}

func (o *VaultObserver) metadata(ctx context.Context, token common.Address) (tokenMeta, error) {
	o.mu.Lock()
	cached, ok := o.meta[token]
	o.mu.Unlock()
	if ok {
		return cached, nil
	}
	symbol, decimals, err := o.chain.TokenMetadata(ctx, token)
	if err != nil {
		return tokenMeta{}, err
	}
	meta := tokenMeta{symbol: symbol, decimals: decimals}
	o.mu.Lock()
	o.meta[token] = meta
	o.mu.Unlock()
	return meta, nil
}

// Factory returns the "vault" perception factory. The watch list comes from
// the agent's merged strategy params under "watchTokens".
func Factory(chain ChainReader, signals SignalStore, prices PriceSource) agent.PerceptionFactory {
	return func(bc agent.BuildContext) (agent.Perception, error) {
		watch, err := watchTokens(bc.StrategyParams)
		if err != nil {
			return nil, err
		}
		return NewVaultObserver(chain, signals, prices, bc.Agent.TokenID, bc.Agent.Vault, watch), nil
	}
}

func watchTokens(params map[string]any) ([]common.Address, error) {
	raw, ok := params["watchTokens"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("watchTokens must be a list of addresses, got %T", raw)
	}
	tokens := make([]common.Address, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok || !common.IsHexAddress(s) {
			return nil, fmt.Errorf("watchTokens entry %v is not a hex address", item)
		}
		tokens = append(tokens, common.HexToAddress(s))
	}
	return tokens, nil
}
