package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/autopilot/pkg/models"
)

const autopilotColumns = `token_id, chain_id, agent_type, owner, renter, vault,
	enabled, enabled_at, disabled_at, disable_reason, enable_tx_hash,
	created_at, updated_at`

// GetAutopilot fetches one fleet-registry row.
func (p *Postgres) GetAutopilot(ctx context.Context, tokenID int64) (*models.Autopilot, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+autopilotColumns+` FROM autopilots WHERE token_id = $1`, tokenID)
	a, err := scanAutopilot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting autopilot %d: %w", tokenID, err)
	}
	return a, nil
}

// UpsertAutopilot creates or updates a fleet-registry row.
func (p *Postgres) UpsertAutopilot(ctx context.Context, a *models.Autopilot) error {
	if a == nil {
		return NewValidationError("autopilot", "required")
	}
	if a.TokenID <= 0 {
		return NewValidationError("tokenId", "must be positive")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO autopilots (
			token_id, chain_id, agent_type, owner, renter, vault,
			enabled, enabled_at, disabled_at, disable_reason, enable_tx_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (token_id) DO UPDATE SET
			chain_id       = EXCLUDED.chain_id,
			agent_type     = EXCLUDED.agent_type,
			owner          = EXCLUDED.owner,
			renter         = EXCLUDED.renter,
			vault          = EXCLUDED.vault,
			enabled        = EXCLUDED.enabled,
			enabled_at     = EXCLUDED.enabled_at,
			disabled_at    = EXCLUDED.disabled_at,
			disable_reason = EXCLUDED.disable_reason,
			enable_tx_hash = EXCLUDED.enable_tx_hash,
			updated_at     = now()`,
		a.TokenID, a.ChainID, a.AgentType, a.Owner.Hex(), a.Renter.Hex(), a.Vault.Hex(),
		a.Enabled, a.EnabledAt, a.DisabledAt, a.DisableReason, a.EnableTxHash)
	if err != nil {
		return fmt.Errorf("upserting autopilot %d: %w", a.TokenID, err)
	}
	return nil
}

// ListAutopilots returns all fleet rows for a chain.
func (p *Postgres) ListAutopilots(ctx context.Context, chainID int64) ([]*models.Autopilot, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+autopilotColumns+` FROM autopilots WHERE chain_id = $1 ORDER BY token_id`, chainID)
	if err != nil {
		return nil, fmt.Errorf("listing autopilots: %w", err)
	}
	defer rows.Close()

	var out []*models.Autopilot
	for rows.Next() {
		a, err := scanAutopilot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning autopilot: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAutopilotEnabled flips the fleet-registry enabled flag, stamping the
// transition time and reason.
func (p *Postgres) SetAutopilotEnabled(ctx context.Context, tokenID int64, enabled bool, reason string) error {
	var res sql.Result
	var err error
	if enabled {
		res, err = p.db.ExecContext(ctx, `
			UPDATE autopilots
			SET enabled = TRUE, enabled_at = now(), disabled_at = NULL,
			    disable_reason = NULL, updated_at = now()
			WHERE token_id = $1`,
			tokenID)
	} else {
		res, err = p.db.ExecContext(ctx, `
			UPDATE autopilots
			SET enabled = FALSE, disabled_at = now(), disable_reason = $2,
			    updated_at = now()
			WHERE token_id = $1`,
			tokenID, reason)
	}
	if err != nil {
		return fmt.Errorf("setting autopilot %d enabled=%t: %w", tokenID, enabled, err)
	}
	return requireRowAffected(res)
}

func scanAutopilot(row interface{ Scan(...any) error }) (*models.Autopilot, error) {
	var (
		a             models.Autopilot
		owner         string
		renter        string
		vault         string
		enabledAt     sql.NullTime
		disabledAt    sql.NullTime
		disableReason sql.NullString
		enableTxHash  sql.NullString
	)
	err := row.Scan(&a.TokenID, &a.ChainID, &a.AgentType, &owner, &renter, &vault,
		&a.Enabled, &enabledAt, &disabledAt, &disableReason, &enableTxHash,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Owner = common.HexToAddress(owner)
	a.Renter = common.HexToAddress(renter)
	a.Vault = common.HexToAddress(vault)
	if enabledAt.Valid {
		a.EnabledAt = &enabledAt.Time
	}
	if disabledAt.Valid {
		a.DisabledAt = &disabledAt.Time
	}
	if disableReason.Valid {
		a.DisableReason = &disableReason.String
	}
	if enableTxHash.Valid {
		a.EnableTxHash = &enableTxHash.String
	}
	return &a, nil
}
