// Package planner maps a brain's Decision onto an agent's action set,
// producing the ExecutionPlan the cycle engine acts on. Planning is pure:
// the same decision and action set always yield the same plan.
package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/failure"
	"github.com/nfa-labs/autopilot/pkg/models"
)

// ExecutionPlan is the planner's verdict on one decision. Action is resolved
// only for readonly and write plans; blocked plans carry the failure
// classification instead.
type ExecutionPlan struct {
	Kind       models.PlanKind
	ActionName string
	Action     agent.Action
	Params     map[string]any
	Category   failure.Category
	Code       failure.Code
	Reason     string
}

// Blocked reports whether the plan denies the decision.
func (p *ExecutionPlan) Blocked() bool { return p.Kind == models.PlanBlocked }

// Planner validates decisions against each action's declared parameter
// schema. Compiled schemas are cached per action name; action schemas are
// fixed at registration so the cache never invalidates.
type Planner struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func New() *Planner {
	return &Planner{compiled: make(map[string]*jsonschema.Schema)}
}

// Build plans a decision with full schema validation. Rules, in order:
// blocked decisions pass through with their classified reason; wait
// decisions plan as wait; unknown actions block with MODEL_UNKNOWN_ACTION;
// schema failures block with MODEL_SCHEMA_VALIDATION_FAILED; otherwise the
// plan is readonly or write per the action.
func (p *Planner) Build(decision *models.Decision, actions []agent.Action) *ExecutionPlan {
	return p.build(decision, actions, true)
}

// BuildLegacy plans with the pre-validation rules kept for shadow
// comparison: identical to Build except schema validation is skipped.
func (p *Planner) BuildLegacy(decision *models.Decision, actions []agent.Action) *ExecutionPlan {
	return p.build(decision, actions, false)
}

func (p *Planner) build(decision *models.Decision, actions []agent.Action, validate bool) *ExecutionPlan {
	if decision == nil {
		return blocked("", failure.CodeMalformedOutput, "brain returned no decision")
	}
	if decision.Blocked {
		category, code := failure.FromBlockReason(decision.BlockReason)
		return &ExecutionPlan{
			Kind:       models.PlanBlocked,
			ActionName: decision.Action,
			Category:   category,
			Code:       code,
			Reason:     decision.BlockReason,
		}
	}
	if decision.IsWait() {
		return &ExecutionPlan{Kind: models.PlanWait}
	}

	var action agent.Action
	for _, a := range actions {
		if a.Name() == decision.Action {
			action = a
			break
		}
	}
	if action == nil {
		return blocked(decision.Action, failure.CodeUnknownAction,
			fmt.Sprintf("unknown action %q", decision.Action))
	}

	if validate {
		if err := p.validateParams(action, decision.Params); err != nil {
			category, code := failure.CategoryModelOutput, failure.CodeSchemaValidationFailed
			if _, isValidation := err.(*jsonschema.ValidationError); !isValidation {
				// Compile or marshal failures are ours, not the model's.
				category, code = failure.CategoryInfrastructure, failure.CodeRuntimeException
			}
			return &ExecutionPlan{
				Kind:       models.PlanBlocked,
				ActionName: decision.Action,
				Category:   category,
				Code:       code,
				Reason:     fmt.Sprintf("invalid action params: %v", err),
			}
		}
	}

	kind := models.PlanWrite
	if action.Readonly() {
		kind = models.PlanReadonly
	}
	return &ExecutionPlan{
		Kind:       kind,
		ActionName: decision.Action,
		Action:     action,
		Params:     decision.Params,
	}
}

func blocked(action string, code failure.Code, reason string) *ExecutionPlan {
	return &ExecutionPlan{
		Kind:       models.PlanBlocked,
		ActionName: action,
		Category:   failure.CategoryModelOutput,
		Code:       code,
		Reason:     reason,
	}
}

func (p *Planner) validateParams(action agent.Action, params map[string]any) error {
	schema, err := p.schemaFor(action)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	instance, err := normalizeParams(params)
	if err != nil {
		return err
	}
	return schema.Validate(instance)
}

func (p *Planner) schemaFor(action agent.Action) (*jsonschema.Schema, error) {
	name := action.Name()
	p.mu.Lock()
	defer p.mu.Unlock()
	if schema, ok := p.compiled[name]; ok {
		return schema, nil
	}

	doc := action.ParametersSchema()
	if doc == nil {
		p.compiled[name] = nil
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %q: %w", name, err)
	}
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema for %q: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", name, err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", name, err)
	}
	p.compiled[name] = schema
	return schema, nil
}

// normalizeParams strips runtime-internal "__" keys and round-trips the rest
// through JSON so the validator sees JSON-shaped values regardless of how the
// brain built the map.
func normalizeParams(params map[string]any) (any, error) {
	filtered := make(map[string]any, len(params))
	for k, v := range params {
		if strings.HasPrefix(k, "__") {
			continue
		}
		filtered[k] = v
	}
	raw, err := json.Marshal(filtered)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	return instance, nil
}
