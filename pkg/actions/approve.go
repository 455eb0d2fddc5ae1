package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// Approve grants an ERC-20 allowance, usually to the router before a swap.
// It moves no funds itself so SpendAmount stays unset.
type Approve struct{}

func NewApprove() *Approve { return &Approve{} }

func (a *Approve) Name() string { return "approve" }

func (a *Approve) Description() string {
	return "Approve a spender for an ERC-20 allowance. Amount is a base-10 wei string."
}

func (a *Approve) Readonly() bool { return false }

func (a *Approve) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"token":   map[string]any{"type": "string", "pattern": addressPattern},
			"spender": map[string]any{"type": "string", "pattern": addressPattern},
			"amount":  map[string]any{"type": "string", "pattern": digitsPattern},
		},
		"required":             []any{"token", "spender", "amount"},
		"additionalProperties": false,
	}
}

func (a *Approve) Execute(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (map[string]any, error) {
	return nil, errors.New("approve is not a readonly action")
}

func (a *Approve) Encode(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (*models.TxPayload, error) {
	token, err := addrParam(params, "token")
	if err != nil {
		return nil, fmt.Errorf("encoding approve: %w", err)
	}
	spender, err := addrParam(params, "spender")
	if err != nil {
		return nil, fmt.Errorf("encoding approve: %w", err)
	}
	amount, err := bigParam(params, "amount")
	if err != nil {
		return nil, fmt.Errorf("encoding approve: %w", err)
	}

	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("encoding approve calldata: %w", err)
	}
	return &models.TxPayload{
		To:           token,
		Data:         data,
		Intent:       "approve",
		ActionTokens: []common.Address{token},
	}, nil
}
