package actions

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// defaultSwapDeadline is how long an encoded swap stays valid when the
// decision does not set one.
const defaultSwapDeadline = 300 // seconds

// Swap trades one ERC-20 for another through the configured V2-style
// router. Native must be wrapped first.
type Swap struct {
	router common.Address
}

func NewSwap(router common.Address) *Swap {
	return &Swap{router: router}
}

func (s *Swap) Name() string { return "swap" }

func (s *Swap) Description() string {
	return "Swap an exact amount of one ERC-20 token for another via the DEX router. Amounts are base-10 wei strings."
}

func (s *Swap) Readonly() bool { return false }

func (s *Swap) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tokenIn":         map[string]any{"type": "string", "pattern": addressPattern},
			"tokenOut":        map[string]any{"type": "string", "pattern": addressPattern},
			"amountIn":        map[string]any{"type": "string", "pattern": digitsPattern},
			"minAmountOut":    map[string]any{"type": "string", "pattern": digitsPattern},
			"deadlineSeconds": map[string]any{"type": "integer", "minimum": 1},
		},
		"required":             []any{"tokenIn", "tokenOut", "amountIn"},
		"additionalProperties": false,
	}
}

func (s *Swap) Execute(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (map[string]any, error) {
	return nil, errors.New("swap is not a readonly action")
}

func (s *Swap) Encode(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (*models.TxPayload, error) {
	tokenIn, err := addrParam(params, "tokenIn")
	if err != nil {
		return nil, fmt.Errorf("encoding swap: %w", err)
	}
	tokenOut, err := addrParam(params, "tokenOut")
	if err != nil {
		return nil, fmt.Errorf("encoding swap: %w", err)
	}
	if tokenIn == tokenOut {
		return nil, errors.New("encoding swap: tokenIn and tokenOut are the same token")
	}
	amountIn, err := bigParam(params, "amountIn")
	if err != nil {
		return nil, fmt.Errorf("encoding swap: %w", err)
	}
	if amountIn.Sign() == 0 {
		return nil, errors.New("encoding swap: amountIn is zero")
	}
	minOut, err := optionalBigParam(params, "minAmountOut")
	if err != nil {
		return nil, fmt.Errorf("encoding swap: %w", err)
	}
	deadlineSec, err := intParam(params, "deadlineSeconds", defaultSwapDeadline)
	if err != nil {
		return nil, fmt.Errorf("encoding swap: %w", err)
	}

	minOutArg := minOut
	if minOutArg == nil {
		minOutArg = new(big.Int)
	}
	deadline := big.NewInt(rt.Now.Unix() + deadlineSec)
	data, err := routerABI.Pack("swapExactTokensForTokens",
		amountIn, minOutArg, []common.Address{tokenIn, tokenOut}, rt.Vault, deadline)
	if err != nil {
		return nil, fmt.Errorf("encoding swap calldata: %w", err)
	}

	return &models.TxPayload{
		To:           s.router,
		Data:         data,
		Intent:       "swap",
		SpendAmount:  amountIn,
		AmountIn:     amountIn,
		MinOut:       minOut,
		ActionTokens: []common.Address{tokenIn, tokenOut},
	}, nil
}
