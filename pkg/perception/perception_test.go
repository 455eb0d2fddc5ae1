package perception

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/store"
)

var (
	vaultAddr = common.HexToAddress("0xCCC0000000000000000000000000000000000003")
	wethAddr  = common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdcAddr  = common.HexToAddress("0x0000000000000000000000000000000000000AA5")
)

type fakeChain struct {
	paused        bool
	pausedErr     error
	native        *big.Int
	balances      map[common.Address]*big.Int
	gasPrice      *big.Int
	block         uint64
	metadataCalls int
}

func (f *fakeChain) ChainID() int64 { return 8453 }

func (f *fakeChain) Paused(ctx context.Context, _ int64) (bool, error) {
	return f.paused, f.pausedErr
}

func (f *fakeChain) NativeBalance(ctx context.Context, _ common.Address) (*big.Int, error) {
	return f.native, nil
}

func (f *fakeChain) TokenBalance(ctx context.Context, token, _ common.Address) (*big.Int, error) {
	b, ok := f.balances[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return b, nil
}

func (f *fakeChain) TokenMetadata(ctx context.Context, token common.Address) (string, uint8, error) {
	f.metadataCalls++
	if token == wethAddr {
		return "WETH", 18, nil
	}
	return "USDC", 6, nil
}

func (f *fakeChain) GasPrice(ctx context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return f.block, nil }

func seedSignals(t *testing.T) *store.InMemory {
	t.Helper()
	st := store.NewInMemory(0)
	require.NoError(t, st.UpsertMarketSignal(context.Background(), &models.MarketSignal{
		ChainID:         8453,
		Pair:            "WETH/USDC",
		PriceChangeBps:  450,
		Volume5m:        big.NewInt(1_000_000),
		UniqueTraders5m: 87,
		SampledAt:       time.Now().UTC(),
		Source:          "dexscreener",
	}))
	return st
}

func TestVaultObserver_Observe(t *testing.T) {
	chain := &fakeChain{
		native: big.NewInt(2_500_000_000_000_000_000),
		balances: map[common.Address]*big.Int{
			wethAddr: big.NewInt(1_000_000_000_000_000_000),
			usdcAddr: big.NewInt(500_000_000),
		},
		gasPrice: big.NewInt(25_000_000),
		block:    19_000_000,
	}
	obs := NewVaultObserver(chain, seedSignals(t), nil, 42, vaultAddr, []common.Address{wethAddr, usdcAddr})

	got, err := obs.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, vaultAddr, got.Vault)
	assert.False(t, got.Paused)
	assert.Equal(t, big.NewInt(2_500_000_000_000_000_000), got.NativeBalance)
	assert.Equal(t, uint64(19_000_000), got.BlockNumber)
	assert.False(t, got.Timestamp.IsZero())

	require.Len(t, got.VaultTokens, 2)
	assert.Equal(t, "WETH", got.VaultTokens[0].Symbol)
	assert.Equal(t, uint8(18), got.VaultTokens[0].Decimals)
	assert.Equal(t, "USDC", got.VaultTokens[1].Symbol)
	assert.Equal(t, uint8(6), got.VaultTokens[1].Decimals)

	require.Len(t, got.Signals, 1)
	assert.Equal(t, "WETH/USDC", got.Signals[0].Pair)
	assert.Equal(t, int64(450), got.Signals[0].PriceChangeBps)
}

func TestVaultObserver_PausedShortCircuits(t *testing.T) {
	chain := &fakeChain{paused: true}
	obs := NewVaultObserver(chain, seedSignals(t), nil, 42, vaultAddr, []common.Address{wethAddr})

	got, err := obs.Observe(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Paused)
	assert.Empty(t, got.VaultTokens, "no balance reads for a paused agent")
	assert.Nil(t, got.NativeBalance)
}

func TestVaultObserver_MetadataCachedAcrossObservations(t *testing.T) {
	chain := &fakeChain{
		native:   big.NewInt(1),
		balances: map[common.Address]*big.Int{wethAddr: big.NewInt(1)},
		gasPrice: big.NewInt(1),
	}
	obs := NewVaultObserver(chain, seedSignals(t), nil, 42, vaultAddr, []common.Address{wethAddr})

	_, err := obs.Observe(context.Background())
	require.NoError(t, err)
	_, err = obs.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, chain.metadataCalls)
}

type fakePrices struct {
	prices map[string]float64
	err    error
}

func (f *fakePrices) Prices(ctx context.Context, pairs []string) (map[string]float64, error) {
	return f.prices, f.err
}

func TestVaultObserver_PriceSourceIsAdvisory(t *testing.T) {
	chain := &fakeChain{native: big.NewInt(1), gasPrice: big.NewInt(1)}

	obs := NewVaultObserver(chain, seedSignals(t), &fakePrices{prices: map[string]float64{"WETH/USDC": 4012.5}}, 42, vaultAddr, nil)
	got, err := obs.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4012.5, got.Prices["WETH/USDC"])

	// A failing source degrades to no prices, never to a failed cycle.
	obs = NewVaultObserver(chain, seedSignals(t), &fakePrices{err: errors.New("oracle down")}, 42, vaultAddr, nil)
	got, err = obs.Observe(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Prices)
}

func TestFactory_WatchTokens(t *testing.T) {
	f := Factory(&fakeChain{}, store.NewInMemory(0), nil)

	p, err := f(agent.BuildContext{
		Agent:          models.ChainAgentData{TokenID: 1, Vault: vaultAddr},
		StrategyParams: map[string]any{"watchTokens": []any{wethAddr.Hex(), usdcAddr.Hex()}},
	})
	require.NoError(t, err)
	vo := p.(*VaultObserver)
	assert.Equal(t, []common.Address{wethAddr, usdcAddr}, vo.watch)

	_, err = f(agent.BuildContext{
		Agent:          models.ChainAgentData{TokenID: 1},
		StrategyParams: map[string]any{"watchTokens": []any{"not-an-address"}},
	})
	assert.ErrorContains(t, err, "not a hex address")

	_, err = f(agent.BuildContext{
		Agent:          models.ChainAgentData{TokenID: 1},
		StrategyParams: map[string]any{"watchTokens": "0xabc"},
	})
	assert.ErrorContains(t, err, "must be a list")
}
