package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// Transfer sends native currency or an ERC-20 out of the vault. Omitting
// "token" means native.
type Transfer struct{}

func NewTransfer() *Transfer { return &Transfer{} }

func (t *Transfer) Name() string { return "transfer" }

func (t *Transfer) Description() string {
	return "Transfer native currency (no token param) or an ERC-20 to a recipient. Amount is a base-10 wei string."
}

func (t *Transfer) Readonly() bool { return false }

func (t *Transfer) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"token":  map[string]any{"type": "string", "pattern": addressPattern},
			"to":     map[string]any{"type": "string", "pattern": addressPattern},
			"amount": map[string]any{"type": "string", "pattern": digitsPattern},
		},
		"required":             []any{"to", "amount"},
		"additionalProperties": false,
	}
}

func (t *Transfer) Execute(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (map[string]any, error) {
	return nil, errors.New("transfer is not a readonly action")
}

func (t *Transfer) Encode(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (*models.TxPayload, error) {
	to, err := addrParam(params, "to")
	if err != nil {
		return nil, fmt.Errorf("encoding transfer: %w", err)
	}
	amount, err := bigParam(params, "amount")
	if err != nil {
		return nil, fmt.Errorf("encoding transfer: %w", err)
	}

	if _, ok := params["token"]; !ok {
		return &models.TxPayload{
			To:          to,
			Value:       amount,
			Intent:      "transfer",
			SpendAmount: amount,
		}, nil
	}

	token, err := addrParam(params, "token")
	if err != nil {
		return nil, fmt.Errorf("encoding transfer: %w", err)
	}
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("encoding transfer calldata: %w", err)
	}
	return &models.TxPayload{
		To:           token,
		Data:         data,
		Intent:       "transfer",
		SpendAmount:  amount,
		ActionTokens: []common.Address{token},
	}, nil
}
