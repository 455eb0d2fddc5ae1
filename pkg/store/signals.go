package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// UpsertMarketSignal writes one signal, idempotent by (chain_id, pair). The
// latest call wins for sample values, but sampled_at never moves backwards.
func (p *Postgres) UpsertMarketSignal(ctx context.Context, s *models.MarketSignal) error {
	if err := validateSignal(s); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, upsertSignalSQL,
		s.ChainID, s.Pair, s.PriceChangeBps, numeric(s.Volume5m),
		s.UniqueTraders5m, s.SampledAt, s.Source)
	if err != nil {
		return fmt.Errorf("upserting market signal %s: %w", s.Pair, err)
	}
	return nil
}

// BatchUpsertMarketSignals writes many signals in one transaction and
// returns how many were accepted. Invalid entries fail the whole batch.
func (p *Postgres) BatchUpsertMarketSignals(ctx context.Context, signals []*models.MarketSignal) (int, error) {
	for _, s := range signals {
		if err := validateSignal(s); err != nil {
			return 0, err
		}
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning signal batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSignalSQL)
	if err != nil {
		return 0, fmt.Errorf("preparing signal upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range signals {
		if _, err := stmt.ExecContext(ctx,
			s.ChainID, s.Pair, s.PriceChangeBps, numeric(s.Volume5m),
			s.UniqueTraders5m, s.SampledAt, s.Source); err != nil {
			return 0, fmt.Errorf("upserting market signal %s in batch: %w", s.Pair, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing signal batch: %w", err)
	}
	return len(signals), nil
}

// ListMarketSignals returns all signals for a chain.
func (p *Postgres) ListMarketSignals(ctx context.Context, chainID int64) ([]*models.MarketSignal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT chain_id, pair, price_change_bps, volume_5m::text, unique_traders_5m, sampled_at, source
		FROM market_signals
		WHERE chain_id = $1
		ORDER BY pair`,
		chainID)
	if err != nil {
		return nil, fmt.Errorf("listing market signals: %w", err)
	}
	defer rows.Close()

	var out []*models.MarketSignal
	for rows.Next() {
		var (
			s      models.MarketSignal
			volume sql.NullString
		)
		if err := rows.Scan(&s.ChainID, &s.Pair, &s.PriceChangeBps, &volume, &s.UniqueTraders5m, &s.SampledAt, &s.Source); err != nil {
			return nil, fmt.Errorf("scanning market signal: %w", err)
		}
		s.Volume5m = scanBig(volume)
		out = append(out, &s)
	}
	return out, rows.Err()
}

const upsertSignalSQL = `
	INSERT INTO market_signals (chain_id, pair, price_change_bps, volume_5m, unique_traders_5m, sampled_at, source)
	VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
	ON CONFLICT (chain_id, pair) DO UPDATE SET
		price_change_bps  = EXCLUDED.price_change_bps,
		volume_5m         = EXCLUDED.volume_5m,
		unique_traders_5m = EXCLUDED.unique_traders_5m,
		sampled_at        = GREATEST(market_signals.sampled_at, EXCLUDED.sampled_at),
		source            = EXCLUDED.source,
		updated_at        = now()`

func validateSignal(s *models.MarketSignal) error {
	if s == nil {
		return NewValidationError("signal", "required")
	}
	if s.Pair == "" {
		return NewValidationError("pair", "required")
	}
	if s.SampledAt.IsZero() {
		return NewValidationError("sampledAt", "required")
	}
	return nil
}
