package rule

import (
	"context"
	"fmt"
	"math/big"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/models"
)

// Hotpump buys into a pump: it fires when a watched market signal crosses
// all three thresholds at once (price move, trader count, 5m volume).
type Hotpump struct {
	pumpThresholdBps int64
	uniqueTradersMin int64
	minVolume5m      *big.Int
	pair             string

	tokenIn      string
	tokenOut     string
	tradeAmount  *big.Int
	minAmountOut *big.Int
}

// HotpumpFactory builds the brain from strategy params. Thresholds and the
// trade to place on a hit are required; a bad strategy row fails agent
// construction rather than producing a brain that can never act.
func HotpumpFactory(bc agent.BuildContext) (agent.Brain, error) {
	params := bc.StrategyParams
	b := &Hotpump{}
	var ok bool

	if b.pumpThresholdBps, ok = paramInt64(params, "pumpThresholdBps"); !ok {
		return nil, missingParam("hotpump_watchlist", "pumpThresholdBps")
	}
	if b.uniqueTradersMin, ok = paramInt64(params, "uniqueTradersMin"); !ok {
		return nil, missingParam("hotpump_watchlist", "uniqueTradersMin")
	}
	if b.minVolume5m, ok = paramBig(params, "minVolume5m"); !ok {
		return nil, missingParam("hotpump_watchlist", "minVolume5m")
	}
	if b.tokenIn, ok = paramString(params, "tokenIn"); !ok {
		return nil, missingParam("hotpump_watchlist", "tokenIn")
	}
	if b.tokenOut, ok = paramString(params, "tokenOut"); !ok {
		return nil, missingParam("hotpump_watchlist", "tokenOut")
	}
	if b.tradeAmount, ok = paramBig(params, "tradeAmount"); !ok {
		return nil, missingParam("hotpump_watchlist", "tradeAmount")
	}
	b.pair, _ = paramString(params, "pair")
	b.minAmountOut, _ = paramBig(params, "minAmountOut")
	return b, nil
}

func missingParam(brain, key string) error {
	return fmt.Errorf("%s: missing or invalid param %q", brain, key)
}

func (b *Hotpump) Name() string { return "hotpump_watchlist" }

func (b *Hotpump) Think(ctx context.Context, obs *models.Observation, memories []models.MemoryEntry, actions []agent.ActionSpec) (*models.Decision, error) {
	for i := range obs.Signals {
		s := &obs.Signals[i]
		if b.pair != "" && s.Pair != b.pair {
			continue
		}
		if s.PriceChangeBps < b.pumpThresholdBps {
			continue
		}
		if s.UniqueTraders5m < b.uniqueTradersMin {
			continue
		}
		if s.Volume5m == nil || s.Volume5m.Cmp(b.minVolume5m) < 0 {
			continue
		}

		params := map[string]any{
			"tokenIn":  b.tokenIn,
			"tokenOut": b.tokenOut,
			"amountIn": b.tradeAmount.String(),
		}
		if b.minAmountOut != nil {
			params["minAmountOut"] = b.minAmountOut.String()
		}
		return &models.Decision{
			Action:     "swap",
			Params:     params,
			Confidence: 1,
			Reasoning: fmt.Sprintf("pump on %s: +%d bps (threshold %d), %d traders, 5m volume %s",
				s.Pair, s.PriceChangeBps, b.pumpThresholdBps, s.UniqueTraders5m, s.Volume5m),
		}, nil
	}

	return &models.Decision{
		Action:     models.ActionWait,
		Confidence: 1,
		Reasoning:  "no watched signal crossed the pump thresholds",
	}, nil
}
