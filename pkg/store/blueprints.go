package store

import (
	"context"
	"fmt"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// ListBlueprints returns every persisted blueprint.
func (p *Postgres) ListBlueprints(ctx context.Context) ([]*models.Blueprint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT agent_type, brain, perception, actions, llm_config, updated_at
		FROM agent_blueprints
		ORDER BY agent_type`)
	if err != nil {
		return nil, fmt.Errorf("listing blueprints: %w", err)
	}
	defer rows.Close()

	var out []*models.Blueprint
	for rows.Next() {
		var (
			bp      models.Blueprint
			actions []byte
			llm     []byte
		)
		if err := rows.Scan(&bp.AgentType, &bp.Brain, &bp.Perception, &actions, &llm, &bp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning blueprint: %w", err)
		}
		if err := scanJSONB(actions, &bp.Actions); err != nil {
			return nil, fmt.Errorf("decoding blueprint actions: %w", err)
		}
		if len(llm) > 0 {
			bp.LLMConfig = &models.LLMConfig{}
			if err := scanJSONB(llm, bp.LLMConfig); err != nil {
				return nil, fmt.Errorf("decoding blueprint llm config: %w", err)
			}
		}
		out = append(out, &bp)
	}
	return out, rows.Err()
}

// UpsertBlueprint creates or replaces a blueprint by agent type.
func (p *Postgres) UpsertBlueprint(ctx context.Context, bp *models.Blueprint) error {
	if bp == nil {
		return NewValidationError("blueprint", "required")
	}
	if bp.AgentType == "" {
		return NewValidationError("agentType", "required")
	}
	if bp.Brain == "" {
		return NewValidationError("brain", "required")
	}
	if bp.Perception == "" {
		return NewValidationError("perception", "required")
	}
	actions, err := jsonb(bp.Actions)
	if err != nil {
		return err
	}
	llm, err := jsonb(bp.LLMConfig)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO agent_blueprints (agent_type, brain, perception, actions, llm_config, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (agent_type) DO UPDATE SET
			brain      = EXCLUDED.brain,
			perception = EXCLUDED.perception,
			actions    = EXCLUDED.actions,
			llm_config = EXCLUDED.llm_config,
			updated_at = now()`,
		bp.AgentType, bp.Brain, bp.Perception, actions, llm)
	if err != nil {
		return fmt.Errorf("upserting blueprint %q: %w", bp.AgentType, err)
	}
	return nil
}
