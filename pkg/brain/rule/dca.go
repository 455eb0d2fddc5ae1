package rule

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/models"
)

// DCA buys a fixed amount on a fixed interval, anchored to the last
// successful swap in the agent's memory.
type DCA struct {
	interval     time.Duration
	tokenIn      string
	tokenOut     string
	amountPerBuy *big.Int
	minAmountOut *big.Int
}

func DCAFactory(bc agent.BuildContext) (agent.Brain, error) {
	params := bc.StrategyParams
	b := &DCA{}
	var ok bool

	intervalMs, ok := paramInt64(params, "intervalMs")
	if !ok || intervalMs <= 0 {
		return nil, missingParam("dca", "intervalMs")
	}
	b.interval = time.Duration(intervalMs) * time.Millisecond
	if b.tokenIn, ok = paramString(params, "tokenIn"); !ok {
		return nil, missingParam("dca", "tokenIn")
	}
	if b.tokenOut, ok = paramString(params, "tokenOut"); !ok {
		return nil, missingParam("dca", "tokenOut")
	}
	if b.amountPerBuy, ok = paramBig(params, "amountPerBuy"); !ok {
		return nil, missingParam("dca", "amountPerBuy")
	}
	b.minAmountOut, _ = paramBig(params, "minAmountOut")
	return b, nil
}

func (b *DCA) Name() string { return "dca" }

func (b *DCA) Think(ctx context.Context, obs *models.Observation, memories []models.MemoryEntry, actions []agent.ActionSpec) (*models.Decision, error) {
	// Memories arrive newest-first; the first successful swap is the anchor.
	var last time.Time
	for i := range memories {
		m := &memories[i]
		if m.Type == models.MemoryExecution && m.Action == "swap" && m.Result != nil && m.Result.Success {
			last = m.Timestamp
			break
		}
	}

	if !last.IsZero() {
		elapsed := obs.Timestamp.Sub(last)
		if elapsed < b.interval {
			remaining := b.interval - elapsed
			return &models.Decision{
				Action:      models.ActionWait,
				Confidence:  1,
				NextCheckMs: remaining.Milliseconds(),
				Reasoning:   fmt.Sprintf("next buy due in %s", remaining.Round(time.Second)),
			}, nil
		}
	}

	params := map[string]any{
		"tokenIn":  b.tokenIn,
		"tokenOut": b.tokenOut,
		"amountIn": b.amountPerBuy.String(),
	}
	if b.minAmountOut != nil {
		params["minAmountOut"] = b.minAmountOut.String()
	}
	return &models.Decision{
		Action:     "swap",
		Params:     params,
		Confidence: 1,
		Reasoning:  fmt.Sprintf("interval elapsed, buying %s of %s", b.amountPerBuy, b.tokenOut),
	}, nil
}
