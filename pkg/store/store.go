// Package store implements the persistence contract: strategies, runs,
// agent memory, market signals, blueprints, safety configs, and the fleet
// registry, backed by PostgreSQL. An in-memory implementation exists for
// tests and storeless dev runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/nfa-labs/autopilot/pkg/models"
)

var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CycleUpdate is the strategy-row update applied atomically with the run
// insert at the end of a cycle. Daily counters are bucketed by BudgetDay:
// when the stored day differs the counters restart from this cycle's deltas.
type CycleUpdate struct {
	TokenID       int64
	LastRunAt     time.Time
	NextCheckAt   time.Time
	LastError     *string
	ResetFailures bool
	FailureDelta  int
	BudgetDay     string
	RunsDelta     int
	ValueDelta    *big.Int
	Disable       bool
	DisableReason string
}

// ExecStats aggregates the successful-execution history the soft policy
// judges daily limits against. Count and Spent are scoped to entries at or
// after the requested day start; LastExecAt is unbounded so cooldowns span
// midnight.
type ExecStats struct {
	Count      int
	Spent      *big.Int
	LastExecAt *time.Time
}

// ShadowMetricsReport aggregates primary-vs-shadow planner agreement.
type ShadowMetricsReport struct {
	Since          time.Time      `json:"since"`
	TokenID        *int64         `json:"tokenId,omitempty"`
	TotalRuns      int            `json:"totalRuns"`
	ComparedRuns   int            `json:"comparedRuns"`
	Divergences    int            `json:"divergences"`
	DivergenceRate float64        `json:"divergenceRate"`
	ByReason       map[string]int `json:"byReason,omitempty"`
}

// SafetyMetricsReport summarizes guardrail activity for one agent.
type SafetyMetricsReport struct {
	TokenID          int64          `json:"tokenId"`
	Since            time.Time      `json:"since"`
	TotalRuns        int            `json:"totalRuns"`
	BlockedRuns      int            `json:"blockedRuns"`
	BlockRate        float64        `json:"blockRate"`
	ViolationsByCode map[string]int `json:"violationsByCode,omitempty"`
	LastViolationAt  *time.Time     `json:"lastViolationAt,omitempty"`
}

// SafetyTimelinePoint is one day of run/block counts.
type SafetyTimelinePoint struct {
	Day     string `json:"day"`
	Runs    int    `json:"runs"`
	Blocked int    `json:"blocked"`
}

// SafetyViolationRow is one blocked run in the violations listing.
type SafetyViolationRow struct {
	RunID         string    `json:"runId"`
	At            time.Time `json:"at"`
	ViolationCode string    `json:"violationCode"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	ActionType    string    `json:"actionType,omitempty"`
	Error         *string   `json:"error,omitempty"`
	Category      string    `json:"category,omitempty"`
}

// Store is the persistence contract the scheduler, cycle, guardrails, and
// control plane depend on. All amounts are arbitrary-precision integers;
// implementations must not round-trip them through floats.
type Store interface {
	// Scheduling.
	SelectRunnable(ctx context.Context, chainID int64, now time.Time, limit int) ([]int64, error)

	// Strategies.
	GetStrategy(ctx context.Context, tokenID int64) (*models.StrategyConfig, error)
	UpsertStrategy(ctx context.Context, s *models.StrategyConfig) error
	ListStrategies(ctx context.Context, chainID int64) ([]*models.StrategyConfig, error)
	DisableStrategy(ctx context.Context, tokenID int64, reason string) error
	EnableStrategy(ctx context.Context, tokenID int64) error

	// Runs. RecordRun inserts the record, applies the cycle's strategy
	// update, and trims the chain's runs to maxRunRecords, all in one
	// transaction. upd may be nil for shadow-only records.
	RecordRun(ctx context.Context, rec *models.RunRecord, upd *CycleUpdate) error
	ListRuns(ctx context.Context, tokenID int64, limit int) ([]*models.RunRecord, error)

	// Agent memory.
	AppendMemory(ctx context.Context, e *models.MemoryEntry) error
	RecallMemory(ctx context.Context, tokenID int64, limit int) ([]models.MemoryEntry, error)
	ExecStats(ctx context.Context, tokenID int64, dayStart time.Time) (*ExecStats, error)

	// Market signals.
	UpsertMarketSignal(ctx context.Context, s *models.MarketSignal) error
	BatchUpsertMarketSignals(ctx context.Context, signals []*models.MarketSignal) (int, error)
	ListMarketSignals(ctx context.Context, chainID int64) ([]*models.MarketSignal, error)

	// Blueprints.
	ListBlueprints(ctx context.Context) ([]*models.Blueprint, error)
	UpsertBlueprint(ctx context.Context, bp *models.Blueprint) error

	// Safety configs.
	GetSafetyConfig(ctx context.Context, tokenID int64) (*models.SafetyConfig, error)
	UpsertSafetyConfig(ctx context.Context, sc *models.SafetyConfig) error

	// Fleet registry.
	GetAutopilot(ctx context.Context, tokenID int64) (*models.Autopilot, error)
	UpsertAutopilot(ctx context.Context, a *models.Autopilot) error
	ListAutopilots(ctx context.Context, chainID int64) ([]*models.Autopilot, error)
	SetAutopilotEnabled(ctx context.Context, tokenID int64, enabled bool, reason string) error

	// Reports.
	ShadowMetrics(ctx context.Context, since time.Time, tokenID *int64) (*ShadowMetricsReport, error)
	SafetyMetrics(ctx context.Context, tokenID int64, since time.Time) (*SafetyMetricsReport, error)
	SafetyTimeline(ctx context.Context, tokenID int64, since time.Time) ([]SafetyTimelinePoint, error)
	SafetyViolations(ctx context.Context, tokenID int64, limit int) ([]SafetyViolationRow, error)

	Ping(ctx context.Context) error
	Close() error
}
