// Package guardrails implements the two-layer policy pipeline that judges
// every write plan: a soft, DB-backed per-user policy and a hard on-chain
// validator. Layers run in series and the first non-empty violation list
// wins; the hard layer is never consulted when the soft layer rejects.
package guardrails

import (
	"context"
	"fmt"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/models"
)

// Run executes the guards in order against one execution context. A guard
// returning violations stops the pipeline; a guard returning an error aborts
// it (classified by the caller as an infrastructure failure, not a denial).
func Run(ctx context.Context, guards []agent.Guardrail, ec *models.ExecutionContext) ([]models.Violation, error) {
	for _, g := range guards {
		violations, err := g.Check(ctx, ec)
		if err != nil {
			return nil, fmt.Errorf("guardrail %s: %w", g.Name(), err)
		}
		if len(violations) > 0 {
			return violations, nil
		}
	}
	return nil, nil
}

// SoftPolicyFactory returns a guardrail factory closing over the policy
// store, for registration under "soft_policy".
func SoftPolicyFactory(store PolicyStore) agent.GuardrailFactory {
	return func(agent.BuildContext) (agent.Guardrail, error) {
		return NewSoftPolicy(store), nil
	}
}

// HardPolicyFactory returns a guardrail factory closing over the on-chain
// validator, for registration under "hard_policy".
func HardPolicyFactory(validator ActionValidator) agent.GuardrailFactory {
	return func(agent.BuildContext) (agent.Guardrail, error) {
		return NewHardPolicy(validator), nil
	}
}
