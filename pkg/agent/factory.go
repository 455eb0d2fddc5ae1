package agent

import (
	"fmt"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// Factory assembles agents from blueprints. Construction is pure: no I/O
// happens here, only registry lookups and module construction.
type Factory struct {
	registries *Registries
	blueprints *BlueprintCache
}

// NewFactory creates an agent factory.
func NewFactory(registries *Registries, blueprints *BlueprintCache) *Factory {
	return &Factory{registries: registries, blueprints: blueprints}
}

// Blueprints exposes the cache for reload endpoints.
func (f *Factory) Blueprints() *BlueprintCache { return f.blueprints }

// Build wires a full agent for the given on-chain identity and optional
// strategy row. Every missing module name is an error, never a panic.
func (f *Factory) Build(data models.ChainAgentData, strategy *models.StrategyConfig) (*Agent, error) {
	bp, err := f.blueprints.Get(data.AgentType)
	if err != nil {
		return nil, fmt.Errorf("building agent %d: %w", data.TokenID, err)
	}

	bc := BuildContext{
		Agent:          data,
		Blueprint:      bp,
		LLM:            bp.LLMConfig,
		StrategyParams: mergeParams(data.StrategyParams, strategy),
		Strategy:       strategy,
	}

	perceptionFactory, err := f.registries.Perception(bp.Perception)
	if err != nil {
		return nil, fmt.Errorf("building agent %d: %w", data.TokenID, err)
	}
	perception, err := perceptionFactory(bc)
	if err != nil {
		return nil, fmt.Errorf("building perception %q for agent %d: %w", bp.Perception, data.TokenID, err)
	}

	memoryFactory, err := f.registries.Memory("store")
	if err != nil {
		return nil, fmt.Errorf("building agent %d: %w", data.TokenID, err)
	}
	memory, err := memoryFactory(bc)
	if err != nil {
		return nil, fmt.Errorf("building memory for agent %d: %w", data.TokenID, err)
	}

	brainFactory, err := f.registries.Brain(bp.Brain)
	if err != nil {
		return nil, fmt.Errorf("building agent %d: %w", data.TokenID, err)
	}
	brain, err := brainFactory(bc)
	if err != nil {
		return nil, fmt.Errorf("building brain %q for agent %d: %w", bp.Brain, data.TokenID, err)
	}

	actions := make([]Action, 0, len(bp.Actions))
	for _, name := range bp.Actions {
		actionFactory, err := f.registries.Action(name)
		if err != nil {
			return nil, fmt.Errorf("building agent %d: %w", data.TokenID, err)
		}
		action, err := actionFactory(bc)
		if err != nil {
			return nil, fmt.Errorf("building action %q for agent %d: %w", name, data.TokenID, err)
		}
		actions = append(actions, action)
	}

	guardrails := make([]Guardrail, 0, 2)
	for _, name := range []string{"soft_policy", "hard_policy"} {
		guardrailFactory, err := f.registries.Guardrail(name)
		if err != nil {
			return nil, fmt.Errorf("building agent %d: %w", data.TokenID, err)
		}
		guardrail, err := guardrailFactory(bc)
		if err != nil {
			return nil, fmt.Errorf("building guardrail %q for agent %d: %w", name, data.TokenID, err)
		}
		guardrails = append(guardrails, guardrail)
	}

	return &Agent{
		TokenID:    data.TokenID,
		AgentType:  data.AgentType,
		Owner:      data.Owner,
		Renter:     data.Renter,
		Vault:      data.Vault,
		Perception: perception,
		Memory:     memory,
		Brain:      brain,
		Actions:    actions,
		Guardrails: guardrails,
	}, nil
}

// mergeParams overlays the persisted strategy params on top of the on-chain
// metadata params. DB wins on key conflicts: operators tune via the strategy
// row without re-minting.
func mergeParams(chainParams map[string]any, strategy *models.StrategyConfig) map[string]any {
	if strategy == nil || len(strategy.StrategyParams) == 0 {
		return chainParams
	}
	merged := make(map[string]any, len(chainParams)+len(strategy.StrategyParams))
	for k, v := range chainParams {
		merged[k] = v
	}
	for k, v := range strategy.StrategyParams {
		merged[k] = v
	}
	return merged
}
