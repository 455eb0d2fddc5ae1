package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// AppendMemory inserts one history entry. Memory is append-only: there is no
// update or delete path.
func (p *Postgres) AppendMemory(ctx context.Context, e *models.MemoryEntry) error {
	if e == nil {
		return NewValidationError("entry", "required")
	}
	if e.Type == "" {
		return NewValidationError("type", "required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	params, err := jsonb(e.Params)
	if err != nil {
		return err
	}
	result, err := jsonb(e.Result)
	if err != nil {
		return err
	}

	err = p.db.QueryRowContext(ctx, `
		INSERT INTO agent_memory (token_id, type, action, params, result, reasoning, spend_amount, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
		RETURNING id`,
		e.TokenID, string(e.Type), e.Action, params, result, e.Reasoning,
		numericPtr(e.SpendAmount), e.Timestamp,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("appending memory for %d: %w", e.TokenID, err)
	}
	return nil
}

// RecallMemory returns the newest entries first, bounded by limit.
func (p *Postgres) RecallMemory(ctx context.Context, tokenID int64, limit int) ([]models.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, token_id, type, action, params, result, reasoning, spend_amount::text, timestamp
		FROM agent_memory
		WHERE token_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`,
		tokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("recalling memory for %d: %w", tokenID, err)
	}
	defer rows.Close()

	var out []models.MemoryEntry
	for rows.Next() {
		var (
			e       models.MemoryEntry
			typ     string
			params  []byte
			result  []byte
			spend   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TokenID, &typ, &e.Action, &params, &result, &e.Reasoning, &spend, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning memory entry: %w", err)
		}
		e.Type = models.MemoryType(typ)
		e.SpendAmount = scanBig(spend)
		if err := scanJSONB(params, &e.Params); err != nil {
			return nil, fmt.Errorf("decoding memory params: %w", err)
		}
		if len(result) > 0 {
			e.Result = &models.MemoryResult{}
			if err := scanJSONB(result, e.Result); err != nil {
				return nil, fmt.Errorf("decoding memory result: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExecStats aggregates successful executions. Count and Spent cover entries
// at or after dayStart; LastExecAt is the most recent successful execution
// ever, so cooldown checks survive the midnight counter reset.
func (p *Postgres) ExecStats(ctx context.Context, tokenID int64, dayStart time.Time) (*ExecStats, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE timestamp >= $2),
			COALESCE(SUM(spend_amount) FILTER (WHERE timestamp >= $2), 0)::text,
			MAX(timestamp)
		FROM agent_memory
		WHERE token_id = $1
		  AND type = 'execution'
		  AND (result->>'success')::boolean`,
		tokenID, dayStart)

	var (
		stats ExecStats
		spent sql.NullString
		last  sql.NullTime
	)
	if err := row.Scan(&stats.Count, &spent, &last); err != nil {
		return nil, fmt.Errorf("aggregating exec stats for %d: %w", tokenID, err)
	}
	stats.Spent = scanBig(spent)
	if stats.Spent == nil {
		stats.Spent = big.NewInt(0)
	}
	if last.Valid {
		stats.LastExecAt = &last.Time
	}
	return &stats, nil
}
