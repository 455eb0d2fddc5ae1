package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/autopilot/pkg/models"
)

var amountOnlySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"amount": map[string]any{"type": "string", "pattern": digitsPattern},
	},
	"required":             []any{"amount"},
	"additionalProperties": false,
}

// Wrap deposits native currency into the wrapped-native token.
type Wrap struct {
	wnative common.Address
}

func NewWrap(wnative common.Address) *Wrap { return &Wrap{wnative: wnative} }

func (w *Wrap) Name() string { return "wrap" }

func (w *Wrap) Description() string {
	return "Wrap native currency into the wrapped-native ERC-20. Amount is a base-10 wei string."
}

func (w *Wrap) Readonly() bool { return false }

func (w *Wrap) ParametersSchema() map[string]any { return amountOnlySchema }

func (w *Wrap) Execute(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (map[string]any, error) {
	return nil, errors.New("wrap is not a readonly action")
}

func (w *Wrap) Encode(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (*models.TxPayload, error) {
	amount, err := bigParam(params, "amount")
	if err != nil {
		return nil, fmt.Errorf("encoding wrap: %w", err)
	}
	data, err := wnativeABI.Pack("deposit")
	if err != nil {
		return nil, fmt.Errorf("encoding wrap calldata: %w", err)
	}
	return &models.TxPayload{
		To:           w.wnative,
		Value:        amount,
		Data:         data,
		Intent:       "wrap",
		SpendAmount:  amount,
		ActionTokens: []common.Address{w.wnative},
	}, nil
}

// Unwrap withdraws wrapped-native back to native currency.
type Unwrap struct {
	wnative common.Address
}

func NewUnwrap(wnative common.Address) *Unwrap { return &Unwrap{wnative: wnative} }

func (u *Unwrap) Name() string { return "unwrap" }

func (u *Unwrap) Description() string {
	return "Unwrap wrapped-native ERC-20 back into native currency. Amount is a base-10 wei string."
}

func (u *Unwrap) Readonly() bool { return false }

func (u *Unwrap) ParametersSchema() map[string]any { return amountOnlySchema }

func (u *Unwrap) Execute(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (map[string]any, error) {
	return nil, errors.New("unwrap is not a readonly action")
}

func (u *Unwrap) Encode(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (*models.TxPayload, error) {
	amount, err := bigParam(params, "amount")
	if err != nil {
		return nil, fmt.Errorf("encoding unwrap: %w", err)
	}
	data, err := wnativeABI.Pack("withdraw", amount)
	if err != nil {
		return nil, fmt.Errorf("encoding unwrap calldata: %w", err)
	}
	return &models.TxPayload{
		To:           u.wnative,
		Data:         data,
		Intent:       "unwrap",
		SpendAmount:  amount,
		ActionTokens: []common.Address{u.wnative},
	}, nil
}
