package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/autopilot/pkg/models"
)

const strategyColumns = `token_id, chain_id, strategy_type, target, data, value::text,
	strategy_params, min_interval_ms, require_positive_balance, max_failures,
	failure_count, enabled, last_run_at, last_error, next_check_at, budget_day,
	daily_runs_used, daily_value_used::text, created_at, updated_at`

// SelectRunnable returns the token ids due for a cycle: strategy enabled,
// autopilot enabled, next_check_at in the past. The filter runs SQL-side so
// an idle fleet costs one indexed query per poll.
func (p *Postgres) SelectRunnable(ctx context.Context, chainID int64, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.token_id
		FROM token_strategies s
		JOIN autopilots a ON a.token_id = s.token_id
		WHERE s.chain_id = $1 AND s.enabled AND a.enabled AND s.next_check_at <= $2
		ORDER BY s.next_check_at
		LIMIT $3`,
		chainID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting runnable agents: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning runnable agent: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetStrategy fetches one strategy row.
func (p *Postgres) GetStrategy(ctx context.Context, tokenID int64) (*models.StrategyConfig, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+strategyColumns+` FROM token_strategies WHERE token_id = $1`, tokenID)
	s, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting strategy %d: %w", tokenID, err)
	}
	return s, nil
}

// ListStrategies returns all strategy rows for a chain.
func (p *Postgres) ListStrategies(ctx context.Context, chainID int64) ([]*models.StrategyConfig, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+strategyColumns+` FROM token_strategies WHERE chain_id = $1 ORDER BY token_id`, chainID)
	if err != nil {
		return nil, fmt.Errorf("listing strategies: %w", err)
	}
	defer rows.Close()

	var out []*models.StrategyConfig
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertStrategy creates or updates a strategy row. Runtime-owned columns
// (failure_count, daily counters, budget_day, last_run_at) are preserved on
// update; failure_count resets only when the row transitions disabled →
// enabled, which is the operator's circuit-breaker recovery path.
func (p *Postgres) UpsertStrategy(ctx context.Context, s *models.StrategyConfig) error {
	if s == nil {
		return NewValidationError("strategy", "required")
	}
	if s.TokenID <= 0 {
		return NewValidationError("tokenId", "must be positive")
	}
	if s.StrategyType == "" {
		return NewValidationError("strategyType", "required")
	}
	if s.MinIntervalMs <= 0 {
		s.MinIntervalMs = 60_000
	}
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	params, err := jsonb(s.StrategyParams)
	if err != nil {
		return err
	}

	nextCheck := s.NextCheckAt
	if nextCheck.IsZero() {
		nextCheck = time.Now().UTC()
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO token_strategies (
			token_id, chain_id, strategy_type, target, data, value,
			strategy_params, min_interval_ms, require_positive_balance,
			max_failures, enabled, next_check_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (token_id) DO UPDATE SET
			chain_id                 = EXCLUDED.chain_id,
			strategy_type            = EXCLUDED.strategy_type,
			target                   = EXCLUDED.target,
			data                     = EXCLUDED.data,
			value                    = EXCLUDED.value,
			strategy_params          = EXCLUDED.strategy_params,
			min_interval_ms          = EXCLUDED.min_interval_ms,
			require_positive_balance = EXCLUDED.require_positive_balance,
			max_failures             = EXCLUDED.max_failures,
			enabled                  = EXCLUDED.enabled,
			next_check_at            = EXCLUDED.next_check_at,
			failure_count = CASE
				WHEN EXCLUDED.enabled AND NOT token_strategies.enabled THEN 0
				ELSE token_strategies.failure_count
			END,
			last_error = CASE
				WHEN EXCLUDED.enabled AND NOT token_strategies.enabled THEN NULL
				ELSE token_strategies.last_error
			END,
			updated_at = now()`,
		s.TokenID, s.ChainID, s.StrategyType, s.Target.Hex(), s.Data, numeric(s.Value),
		params, s.MinIntervalMs, s.RequirePositiveBalance,
		s.MaxFailures, s.Enabled, nextCheck)
	if err != nil {
		return fmt.Errorf("upserting strategy %d: %w", s.TokenID, err)
	}
	return nil
}

// DisableStrategy turns an agent's strategy off and records why.
func (p *Postgres) DisableStrategy(ctx context.Context, tokenID int64, reason string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE token_strategies
		SET enabled = FALSE, last_error = $2, updated_at = now()
		WHERE token_id = $1`,
		tokenID, reason)
	if err != nil {
		return fmt.Errorf("disabling strategy %d: %w", tokenID, err)
	}
	return requireRowAffected(res)
}

// EnableStrategy re-enables an agent's strategy, resetting the failure count
// and clearing the last error. This is the recovery path after a circuit
// breaker or max-failures disable.
func (p *Postgres) EnableStrategy(ctx context.Context, tokenID int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE token_strategies
		SET enabled = TRUE, failure_count = 0, last_error = NULL,
		    next_check_at = now(), updated_at = now()
		WHERE token_id = $1`,
		tokenID)
	if err != nil {
		return fmt.Errorf("enabling strategy %d: %w", tokenID, err)
	}
	return requireRowAffected(res)
}

// applyCycleUpdate runs the per-cycle strategy mutation inside the RecordRun
// transaction. Daily counters restart when the stored budget_day differs
// from the cycle's; the row auto-disables when failures reach max_failures.
func applyCycleUpdate(ctx context.Context, tx *sql.Tx, upd *CycleUpdate) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE token_strategies SET
			last_run_at   = $2,
			next_check_at = $3,
			last_error    = $4,
			failure_count = CASE WHEN $5 THEN 0 ELSE failure_count + $6 END,
			daily_runs_used = CASE
				WHEN budget_day = $7 THEN daily_runs_used + $8
				ELSE $8
			END,
			daily_value_used = CASE
				WHEN budget_day = $7 THEN daily_value_used + $9::numeric
				ELSE $9::numeric
			END,
			budget_day = $7,
			updated_at = now()
		WHERE token_id = $1`,
		upd.TokenID, upd.LastRunAt, upd.NextCheckAt, upd.LastError,
		upd.ResetFailures, upd.FailureDelta,
		upd.BudgetDay, upd.RunsDelta, numeric(upd.ValueDelta))
	if err != nil {
		return fmt.Errorf("applying cycle update for %d: %w", upd.TokenID, err)
	}

	if upd.Disable {
		_, err = tx.ExecContext(ctx, `
			UPDATE token_strategies
			SET enabled = FALSE, last_error = $2, updated_at = now()
			WHERE token_id = $1`,
			upd.TokenID, upd.DisableReason)
		if err != nil {
			return fmt.Errorf("disabling strategy %d in cycle update: %w", upd.TokenID, err)
		}
		return nil
	}

	// Exceeding max_failures disables the agent until an operator
	// re-enables it.
	_, err = tx.ExecContext(ctx, `
		UPDATE token_strategies
		SET enabled = FALSE,
		    last_error = COALESCE(last_error, '') || ' (auto-disabled: max failures reached)',
		    updated_at = now()
		WHERE token_id = $1 AND enabled AND failure_count >= max_failures`,
		upd.TokenID)
	if err != nil {
		return fmt.Errorf("auto-disable check for %d: %w", upd.TokenID, err)
	}
	return nil
}

func scanStrategy(row interface{ Scan(...any) error }) (*models.StrategyConfig, error) {
	var (
		s          models.StrategyConfig
		target     string
		value      sql.NullString
		params     []byte
		lastRunAt  sql.NullTime
		lastError  sql.NullString
		dailyValue sql.NullString
	)
	err := row.Scan(
		&s.TokenID, &s.ChainID, &s.StrategyType, &target, &s.Data, &value,
		&params, &s.MinIntervalMs, &s.RequirePositiveBalance, &s.MaxFailures,
		&s.FailureCount, &s.Enabled, &lastRunAt, &lastError, &s.NextCheckAt,
		&s.BudgetDay, &s.DailyRunsUsed, &dailyValue, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Target = common.HexToAddress(target)
	s.Value = scanBig(value)
	s.DailyValueUsed = scanBig(dailyValue)
	if lastRunAt.Valid {
		s.LastRunAt = &lastRunAt.Time
	}
	if lastError.Valid {
		s.LastError = &lastError.String
	}
	if err := scanJSONB(params, &s.StrategyParams); err != nil {
		return nil, fmt.Errorf("decoding strategy params: %w", err)
	}
	return &s, nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
