package actions

import (
	"context"
	"errors"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// Portfolio reports the vault's holdings from the cycle's observation. It
// reads nothing itself: the runtime context already carries the snapshot.
type Portfolio struct{}

func NewPortfolio() *Portfolio { return &Portfolio{} }

func (p *Portfolio) Name() string { return "portfolio" }

func (p *Portfolio) Description() string {
	return "Report the vault's current native and token balances."
}

func (p *Portfolio) Readonly() bool { return true }

func (p *Portfolio) ParametersSchema() map[string]any { return nil }

func (p *Portfolio) Execute(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (map[string]any, error) {
	native := "0"
	if rt.NativeBalance != nil {
		native = rt.NativeBalance.String()
	}
	tokens := make([]map[string]any, 0, len(rt.VaultTokens))
	for _, tb := range rt.VaultTokens {
		balance := "0"
		if tb.Balance != nil {
			balance = tb.Balance.String()
		}
		tokens = append(tokens, map[string]any{
			"token":    tb.Token.Hex(),
			"symbol":   tb.Symbol,
			"decimals": tb.Decimals,
			"balance":  balance,
		})
	}
	return map[string]any{
		"vault":         rt.Vault.Hex(),
		"nativeBalance": native,
		"tokens":        tokens,
	}, nil
}

func (p *Portfolio) Encode(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (*models.TxPayload, error) {
	return nil, errors.New("portfolio does not encode a transaction")
}
