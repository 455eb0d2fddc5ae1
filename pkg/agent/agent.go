// Package agent defines the capability contracts an autopilot agent is
// assembled from — perception, memory, brain, actions, guardrails — and the
// factory that wires them together from a blueprint.
//
// Capability implementations live in their own packages (pkg/perception,
// pkg/brain, pkg/actions, pkg/guardrails) and register constructor functions
// here at startup. The agent package itself never imports them.
package agent

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// Perception produces the observation a cycle starts from. Implementations
// read the chain and any synced market data; they never write.
type Perception interface {
	Observe(ctx context.Context) (*models.Observation, error)
}

// Memory is the agent's append-only history. Recall returns entries
// newest-first, bounded by limit.
type Memory interface {
	Recall(ctx context.Context, limit int) ([]models.MemoryEntry, error)
	Append(ctx context.Context, entry *models.MemoryEntry) error
}

// Brain turns an observation plus recalled memories into a Decision.
// Implementations must return a Decision even when choosing to do nothing
// (action "wait") or refusing to act (Blocked with a reason).
type Brain interface {
	Name() string
	Think(ctx context.Context, obs *models.Observation, memories []models.MemoryEntry, actions []ActionSpec) (*models.Decision, error)
}

// Action is one executable capability. Readonly actions run Execute and
// their result is remembered; write actions run Encode and the resulting
// payload goes through guardrails, simulation, and submission.
type Action interface {
	Name() string
	Description() string
	Readonly() bool

	// ParametersSchema returns the JSON Schema document for the action's
	// params, or nil when the action takes none. Brains receive it verbatim;
	// the planner compiles it for validation.
	ParametersSchema() map[string]any

	// Execute performs a readonly action and returns its result.
	Execute(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (map[string]any, error)

	// Encode builds the outbound transaction for a write action, including
	// the derived economics guardrails judge.
	Encode(ctx context.Context, params map[string]any, rt *models.RuntimeContext) (*models.TxPayload, error)
}

// Guardrail is one policy layer. A nil/empty violations slice means pass.
// An error return means the check itself could not run (infrastructure),
// not that the action was denied.
type Guardrail interface {
	Name() string
	Check(ctx context.Context, ec *models.ExecutionContext) ([]models.Violation, error)
}

// ActionSpec is the brain-facing description of an action.
type ActionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Readonly    bool           `json:"readonly"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// SpecOf derives the brain-facing spec from an action.
func SpecOf(a Action) ActionSpec {
	return ActionSpec{
		Name:        a.Name(),
		Description: a.Description(),
		Readonly:    a.Readonly(),
		Parameters:  a.ParametersSchema(),
	}
}

// Agent is a live, per-tokenId composition of the five capabilities plus the
// immutable on-chain identity it was built from. Agents are rebuilt (not
// mutated) when their blueprint or strategy changes.
type Agent struct {
	TokenID   int64
	AgentType string
	Owner     common.Address
	Renter    common.Address
	Vault     common.Address

	Perception Perception
	Memory     Memory
	Brain      Brain
	Actions    []Action
	Guardrails []Guardrail
}

// Action returns the named action module, or an error when the agent does
// not carry it.
func (a *Agent) Action(name string) (Action, error) {
	for _, act := range a.Actions {
		if act.Name() == name {
			return act, nil
		}
	}
	return nil, fmt.Errorf("agent %d has no action %q", a.TokenID, name)
}

// ActionSpecs returns the brain-facing specs for all the agent's actions.
func (a *Agent) ActionSpecs() []ActionSpec {
	specs := make([]ActionSpec, len(a.Actions))
	for i, act := range a.Actions {
		specs[i] = SpecOf(act)
	}
	return specs
}
