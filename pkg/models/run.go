package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/nfa-labs/autopilot/pkg/failure"
)

// RunMode distinguishes the canonical run from a shadow comparison run.
type RunMode string

const (
	RunModePrimary RunMode = "primary"
	RunModeShadow  RunMode = "shadow"
)

// TraceStatus is the outcome of one cycle stage.
type TraceStatus string

const (
	TraceOK      TraceStatus = "ok"
	TraceSkip    TraceStatus = "skip"
	TraceBlocked TraceStatus = "blocked"
	TraceError   TraceStatus = "error"
)

// TraceEntry is one stage of the execution trace persisted with each run.
type TraceEntry struct {
	Stage  string         `json:"stage"`
	Status TraceStatus    `json:"status"`
	At     time.Time      `json:"at"`
	Note   string         `json:"note,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// ShadowCompare records the outcome of planning the same decision with both
// the canonical and the legacy planner. Divergence means any of the kind,
// action, or error-code fields differ.
type ShadowCompare struct {
	PrimaryKind      PlanKind     `json:"primaryKind"`
	LegacyKind       PlanKind     `json:"legacyKind"`
	PrimaryAction    string       `json:"primaryAction"`
	LegacyAction     string       `json:"legacyAction"`
	PrimaryErrorCode failure.Code `json:"primaryErrorCode,omitempty"`
	LegacyErrorCode  failure.Code `json:"legacyErrorCode,omitempty"`
	Diverged         bool         `json:"diverged"`
	Reason           string       `json:"reason,omitempty"`
	At               time.Time    `json:"at"`
}

// RunRecord is the persisted outcome of one cognitive cycle.
type RunRecord struct {
	ID              string                `json:"id"`
	ChainID         int64                 `json:"chainId"`
	TokenID         int64                 `json:"tokenId"`
	ActionType      string                `json:"actionType"`
	ActionHash      string                `json:"actionHash"`
	SimulateOk      bool                  `json:"simulateOk"`
	TxHash          *string               `json:"txHash,omitempty"`
	Error           *string               `json:"error,omitempty"`
	ErrorCode       failure.Code          `json:"errorCode,omitempty"`
	FailureCategory failure.Category      `json:"failureCategory,omitempty"`
	ViolationCode   failure.ViolationCode `json:"violationCode,omitempty"`
	BrainType       string                `json:"brainType,omitempty"`
	IntentType      string                `json:"intentType,omitempty"`
	DecisionReason  string                `json:"decisionReason,omitempty"`
	DecisionMessage string                `json:"decisionMessage,omitempty"`
	ExecutionTrace  []TraceEntry          `json:"executionTrace,omitempty"`
	RunMode         RunMode               `json:"runMode"`
	ShadowCompare   *ShadowCompare        `json:"shadowCompare,omitempty"`
	GasUsed         *uint64               `json:"gasUsed,omitempty"`
	PnlUsd          *float64              `json:"pnlUsd,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
}

// HashAction produces a stable identity hash for (action, params), used by
// the circuit breaker to detect an agent re-proposing the same failing
// action. Map keys are sorted by the JSON encoder, so the hash is
// deterministic for equal params.
func HashAction(action string, params map[string]any) string {
	payload := struct {
		Action string         `json:"action"`
		Params map[string]any `json:"params"`
	}{Action: action, Params: params}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(action)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
