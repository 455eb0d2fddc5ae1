package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// GetSafetyConfig returns the soft-policy config for an agent, or
// ErrNotFound when the user never configured one (the soft layer treats
// that as pass-through).
func (p *Postgres) GetSafetyConfig(ctx context.Context, tokenID int64) (*models.SafetyConfig, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT token_id, allowed_tokens, blocked_tokens, max_trade_amount::text,
		       max_daily_amount::text, max_slippage_bps, cooldown_seconds,
		       max_runs_per_day, allowed_dexes, updated_at
		FROM user_safety_configs
		WHERE token_id = $1`,
		tokenID)

	var (
		sc            models.SafetyConfig
		allowedTokens []byte
		blockedTokens []byte
		maxTrade      sql.NullString
		maxDaily      sql.NullString
		allowedDexes  []byte
	)
	err := row.Scan(&sc.TokenID, &allowedTokens, &blockedTokens, &maxTrade,
		&maxDaily, &sc.MaxSlippageBps, &sc.CooldownSeconds,
		&sc.MaxRunsPerDay, &allowedDexes, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting safety config %d: %w", tokenID, err)
	}

	sc.MaxTradeAmount = scanBig(maxTrade)
	sc.MaxDailyAmount = scanBig(maxDaily)
	if sc.AllowedTokens, err = scanAddresses(allowedTokens); err != nil {
		return nil, fmt.Errorf("decoding allowed tokens: %w", err)
	}
	if sc.BlockedTokens, err = scanAddresses(blockedTokens); err != nil {
		return nil, fmt.Errorf("decoding blocked tokens: %w", err)
	}
	if sc.AllowedDexes, err = scanAddresses(allowedDexes); err != nil {
		return nil, fmt.Errorf("decoding allowed dexes: %w", err)
	}
	return &sc, nil
}

// UpsertSafetyConfig creates or replaces an agent's soft-policy config.
func (p *Postgres) UpsertSafetyConfig(ctx context.Context, sc *models.SafetyConfig) error {
	if sc == nil {
		return NewValidationError("safetyConfig", "required")
	}
	if sc.TokenID <= 0 {
		return NewValidationError("tokenId", "must be positive")
	}
	allowedTokens, err := jsonb(hexAddresses(sc.AllowedTokens))
	if err != nil {
		return err
	}
	blockedTokens, err := jsonb(hexAddresses(sc.BlockedTokens))
	if err != nil {
		return err
	}
	allowedDexes, err := jsonb(hexAddresses(sc.AllowedDexes))
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO user_safety_configs (
			token_id, allowed_tokens, blocked_tokens, max_trade_amount,
			max_daily_amount, max_slippage_bps, cooldown_seconds,
			max_runs_per_day, allowed_dexes, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, now())
		ON CONFLICT (token_id) DO UPDATE SET
			allowed_tokens   = EXCLUDED.allowed_tokens,
			blocked_tokens   = EXCLUDED.blocked_tokens,
			max_trade_amount = EXCLUDED.max_trade_amount,
			max_daily_amount = EXCLUDED.max_daily_amount,
			max_slippage_bps = EXCLUDED.max_slippage_bps,
			cooldown_seconds = EXCLUDED.cooldown_seconds,
			max_runs_per_day = EXCLUDED.max_runs_per_day,
			allowed_dexes    = EXCLUDED.allowed_dexes,
			updated_at       = now()`,
		sc.TokenID, allowedTokens, blockedTokens, numericPtr(sc.MaxTradeAmount),
		numericPtr(sc.MaxDailyAmount), sc.MaxSlippageBps, sc.CooldownSeconds,
		sc.MaxRunsPerDay, allowedDexes)
	if err != nil {
		return fmt.Errorf("upserting safety config %d: %w", sc.TokenID, err)
	}
	return nil
}

func hexAddresses(addrs []common.Address) []string {
	if addrs == nil {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func scanAddresses(raw []byte) ([]common.Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var hexes []string
	if err := scanJSONB(raw, &hexes); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(hexes))
	for i, h := range hexes {
		out[i] = common.HexToAddress(h)
	}
	return out, nil
}
