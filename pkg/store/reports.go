package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ShadowMetrics aggregates primary-run shadow comparisons since the given
// time. tokenID narrows the report to one agent when non-nil.
func (p *Postgres) ShadowMetrics(ctx context.Context, since time.Time, tokenID *int64) (*ShadowMetricsReport, error) {
	report := &ShadowMetricsReport{Since: since, TokenID: tokenID}

	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE shadow_compare IS NOT NULL),
		       COUNT(*) FILTER (WHERE (shadow_compare->>'diverged')::boolean)
		FROM runs
		WHERE run_mode = 'primary'
		  AND created_at >= $1
		  AND ($2::bigint IS NULL OR token_id = $2)`,
		since, tokenID).
		Scan(&report.TotalRuns, &report.ComparedRuns, &report.Divergences)
	if err != nil {
		return nil, fmt.Errorf("aggregating shadow metrics: %w", err)
	}
	if report.ComparedRuns > 0 {
		report.DivergenceRate = float64(report.Divergences) / float64(report.ComparedRuns)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT COALESCE(shadow_compare->>'reason', ''), COUNT(*)
		FROM runs
		WHERE run_mode = 'primary'
		  AND created_at >= $1
		  AND ($2::bigint IS NULL OR token_id = $2)
		  AND (shadow_compare->>'diverged')::boolean
		GROUP BY 1`,
		since, tokenID)
	if err != nil {
		return nil, fmt.Errorf("aggregating divergence reasons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("scanning divergence reason: %w", err)
		}
		if report.ByReason == nil {
			report.ByReason = make(map[string]int)
		}
		report.ByReason[reason] = count
	}
	return report, rows.Err()
}

// SafetyMetrics summarizes how often guardrails blocked one agent's runs.
func (p *Postgres) SafetyMetrics(ctx context.Context, tokenID int64, since time.Time) (*SafetyMetricsReport, error) {
	report := &SafetyMetricsReport{TokenID: tokenID, Since: since}

	var lastViolationAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE violation_code <> ''),
		       MAX(created_at) FILTER (WHERE violation_code <> '')
		FROM runs
		WHERE token_id = $1 AND created_at >= $2`,
		tokenID, since).
		Scan(&report.TotalRuns, &report.BlockedRuns, &lastViolationAt)
	if err != nil {
		return nil, fmt.Errorf("aggregating safety metrics for %d: %w", tokenID, err)
	}
	if report.TotalRuns > 0 {
		report.BlockRate = float64(report.BlockedRuns) / float64(report.TotalRuns)
	}
	if lastViolationAt.Valid {
		report.LastViolationAt = &lastViolationAt.Time
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT violation_code, COUNT(*)
		FROM runs
		WHERE token_id = $1 AND created_at >= $2 AND violation_code <> ''
		GROUP BY violation_code`,
		tokenID, since)
	if err != nil {
		return nil, fmt.Errorf("aggregating violations by code: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		var count int
		if err := rows.Scan(&code, &count); err != nil {
			return nil, fmt.Errorf("scanning violation code: %w", err)
		}
		if report.ViolationsByCode == nil {
			report.ViolationsByCode = make(map[string]int)
		}
		report.ViolationsByCode[code] = count
	}
	return report, rows.Err()
}

// SafetyTimeline buckets one agent's runs and blocks per UTC day.
func (p *Postgres) SafetyTimeline(ctx context.Context, tokenID int64, since time.Time) ([]SafetyTimelinePoint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE violation_code <> '')
		FROM runs
		WHERE token_id = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day`,
		tokenID, since)
	if err != nil {
		return nil, fmt.Errorf("aggregating safety timeline for %d: %w", tokenID, err)
	}
	defer rows.Close()

	var out []SafetyTimelinePoint
	for rows.Next() {
		var pt SafetyTimelinePoint
		if err := rows.Scan(&pt.Day, &pt.Runs, &pt.Blocked); err != nil {
			return nil, fmt.Errorf("scanning timeline point: %w", err)
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

// SafetyViolations lists one agent's most recent guardrail-blocked runs.
func (p *Postgres) SafetyViolations(ctx context.Context, tokenID int64, limit int) ([]SafetyViolationRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, created_at, violation_code, error_code, action_type, error, failure_category
		FROM runs
		WHERE token_id = $1 AND violation_code <> ''
		ORDER BY created_at DESC
		LIMIT $2`,
		tokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing safety violations for %d: %w", tokenID, err)
	}
	defer rows.Close()

	var out []SafetyViolationRow
	for rows.Next() {
		var (
			row    SafetyViolationRow
			errMsg sql.NullString
		)
		if err := rows.Scan(&row.RunID, &row.At, &row.ViolationCode, &row.ErrorCode,
			&row.ActionType, &errMsg, &row.Category); err != nil {
			return nil, fmt.Errorf("scanning violation row: %w", err)
		}
		if errMsg.Valid {
			row.Error = &errMsg.String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
