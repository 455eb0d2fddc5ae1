package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nfa-labs/autopilot/pkg/failure"
	"github.com/nfa-labs/autopilot/pkg/models"
)

const runColumns = `id, chain_id, token_id, action_type, action_hash, simulate_ok,
	tx_hash, error, error_code, failure_category, violation_code, brain_type,
	intent_type, decision_reason, decision_message, execution_trace, run_mode,
	shadow_compare, gas_used, pnl_usd, created_at`

// RecordRun persists one cycle's outcome. The insert, the strategy-counter
// update, and the per-chain trim happen in a single transaction so a crash
// can never leave a run without its counter advance.
func (p *Postgres) RecordRun(ctx context.Context, rec *models.RunRecord, upd *CycleUpdate) error {
	if rec == nil {
		return NewValidationError("run", "required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.RunMode == "" {
		rec.RunMode = models.RunModePrimary
	}

	trace, err := jsonb(rec.ExecutionTrace)
	if err != nil {
		return err
	}
	shadow, err := jsonb(rec.ShadowCompare)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning record-run tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, chain_id, token_id, action_type, action_hash, simulate_ok,
			tx_hash, error, error_code, failure_category, violation_code,
			brain_type, intent_type, decision_reason, decision_message,
			execution_trace, run_mode, shadow_compare, gas_used, pnl_usd,
			created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		rec.ID, rec.ChainID, rec.TokenID, rec.ActionType, rec.ActionHash, rec.SimulateOk,
		rec.TxHash, rec.Error, string(rec.ErrorCode), string(rec.FailureCategory), string(rec.ViolationCode),
		rec.BrainType, rec.IntentType, rec.DecisionReason, rec.DecisionMessage,
		trace, string(rec.RunMode), shadow, rec.GasUsed, rec.PnlUsd,
		rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	if upd != nil {
		if err := applyCycleUpdate(ctx, tx, upd); err != nil {
			return err
		}
	}

	// Trim the chain's runs to the cap, oldest first.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM runs WHERE id IN (
			SELECT id FROM runs
			WHERE chain_id = $1
			ORDER BY created_at DESC, id DESC
			OFFSET $2
		)`,
		rec.ChainID, p.maxRunRecords)
	if err != nil {
		return fmt.Errorf("trimming runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing record-run tx: %w", err)
	}
	return nil
}

// ListRuns returns an agent's most recent runs, newest first.
func (p *Postgres) ListRuns(ctx context.Context, tokenID int64, limit int) ([]*models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE token_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		tokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*models.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRun(row interface{ Scan(...any) error }) (*models.RunRecord, error) {
	var (
		rec             models.RunRecord
		txHash          sql.NullString
		errMsg          sql.NullString
		errorCode       string
		failureCategory string
		violationCode   string
		runMode         string
		trace           []byte
		shadow          []byte
		gasUsed         sql.NullInt64
		pnlUsd          sql.NullFloat64
	)
	err := row.Scan(
		&rec.ID, &rec.ChainID, &rec.TokenID, &rec.ActionType, &rec.ActionHash, &rec.SimulateOk,
		&txHash, &errMsg, &errorCode, &failureCategory, &violationCode, &rec.BrainType,
		&rec.IntentType, &rec.DecisionReason, &rec.DecisionMessage, &trace, &runMode,
		&shadow, &gasUsed, &pnlUsd, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if txHash.Valid {
		rec.TxHash = &txHash.String
	}
	if errMsg.Valid {
		rec.Error = &errMsg.String
	}
	rec.ErrorCode = failure.Code(errorCode)
	rec.FailureCategory = failure.Category(failureCategory)
	rec.ViolationCode = failure.ViolationCode(violationCode)
	rec.RunMode = models.RunMode(runMode)
	if gasUsed.Valid {
		g := uint64(gasUsed.Int64)
		rec.GasUsed = &g
	}
	if pnlUsd.Valid {
		rec.PnlUsd = &pnlUsd.Float64
	}
	if err := scanJSONB(trace, &rec.ExecutionTrace); err != nil {
		return nil, fmt.Errorf("decoding execution trace: %w", err)
	}
	if len(shadow) > 0 {
		rec.ShadowCompare = &models.ShadowCompare{}
		if err := scanJSONB(shadow, rec.ShadowCompare); err != nil {
			return nil, fmt.Errorf("decoding shadow compare: %w", err)
		}
	}
	return &rec, nil
}
