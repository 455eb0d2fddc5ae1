package models

import "github.com/nfa-labs/autopilot/pkg/failure"

// Decision is what a brain produces for one cycle. Action "wait" (or an
// empty action) means do nothing; Blocked means the brain itself refused to
// act and BlockReason carries the free-text cause.
type Decision struct {
	Action      string         `json:"action"`
	Params      map[string]any `json:"params,omitempty"`
	Reasoning   string         `json:"reasoning,omitempty"`
	Confidence  float64        `json:"confidence"`
	Message     string         `json:"message,omitempty"`
	Done        bool           `json:"done,omitempty"`
	NextCheckMs int64          `json:"nextCheckMs,omitempty"`
	Blocked     bool           `json:"blocked,omitempty"`
	BlockReason string         `json:"blockReason,omitempty"`
}

// ActionWait is the reserved decision action meaning "do nothing this cycle".
const ActionWait = "wait"

// IsWait reports whether the decision proposes no action.
func (d *Decision) IsWait() bool {
	return d.Action == "" || d.Action == ActionWait
}

// PlanKind is the terminal shape of a planned cycle.
type PlanKind string

const (
	PlanWait     PlanKind = "wait"
	PlanReadonly PlanKind = "readonly"
	PlanWrite    PlanKind = "write"
	PlanBlocked  PlanKind = "blocked"
)

// Violation is one guardrail failure. Code identifies the check that fired;
// Message is operator-facing detail.
type Violation struct {
	Code    failure.ViolationCode `json:"code"`
	Message string                `json:"message"`
}
