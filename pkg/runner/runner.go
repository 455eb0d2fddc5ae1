// Package runner executes cognitive cycles. A cycle is the strictly
// sequential pipeline observe → propose → plan → validate → guard →
// simulate → execute → verify → record over one (agent, now) pair; every
// stage appends to an execution trace that is persisted with the run, and
// every terminal path produces exactly one RunRecord plus one strategy-row
// update in the same transaction.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/failure"
	"github.com/nfa-labs/autopilot/pkg/metrics"
	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/planner"
	"github.com/nfa-labs/autopilot/pkg/store"
)

// ChainExecutor is the slice of the chain gateway a cycle needs: dry-run,
// send, confirm.
type ChainExecutor interface {
	Simulate(ctx context.Context, payload *models.TxPayload) error
	Submit(ctx context.Context, payload *models.TxPayload) (common.Hash, error)
	WaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// RunStore is the slice of the persistence contract the engine writes runs
// through and reads run history from.
type RunStore interface {
	RecordRun(ctx context.Context, rec *models.RunRecord, upd *store.CycleUpdate) error
	ListRuns(ctx context.Context, tokenID int64, limit int) ([]*models.RunRecord, error)
}

// Config tunes one cycle engine.
type Config struct {
	// ChainID stamps every run record and runtime context.
	ChainID int64

	// MemoryRecall bounds memory.Recall before propose. Default 10.
	MemoryRecall int

	// MinConfidence blocks decisions below the threshold as
	// MODEL_LOW_CONFIDENCE. Zero disables the check.
	MinConfidence float64

	// BreakerThreshold is the number of consecutive non-infrastructure
	// failures of the same action that trips the circuit breaker and
	// disables the strategy. Default 3; negative disables the breaker.
	BreakerThreshold int

	// MaxAttempts and RetryBaseDelay tune the retry wrapper around
	// chain reads (observe, simulate). Defaults 3 and 500ms.
	MaxAttempts    int
	RetryBaseDelay time.Duration

	// MaxBackoff caps the exponential nextCheckAt backoff applied after
	// infrastructure failures. Default 30m.
	MaxBackoff time.Duration

	// WaitForReceipt makes the verify stage wait for the transaction
	// receipt and capture gas usage.
	WaitForReceipt bool

	// ShadowMode plans every decision a second time with the legacy
	// planner and records the comparison. The legacy plan is never
	// submitted to the chain.
	ShadowMode bool

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Engine runs cycles. It is stateless across cycles: all per-agent state
// lives in the store, so one engine serves the whole fleet.
type Engine struct {
	chain   ChainExecutor
	store   RunStore
	planner *planner.Planner
	cfg     Config
}

// New builds a cycle engine with defaults applied.
func New(chain ChainExecutor, st RunStore, cfg Config) *Engine {
	if cfg.MemoryRecall <= 0 {
		cfg.MemoryRecall = 10
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 3
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Minute
	}
	return &Engine{chain: chain, store: st, planner: planner.New(), cfg: cfg}
}

// Result is the terminal outcome of one cycle. Failure is nil when the
// cycle executed, waited, or ran a readonly action; blocked and failed
// cycles carry their classification. The record is already persisted.
type Result struct {
	Record  *models.RunRecord
	Failure *failure.RunnerError
	Outcome string
}

// RunCycle executes one full cognitive cycle for the agent. The returned
// error is non-nil only when the run could not be persisted; every
// classified failure inside the cycle still records a run and returns it in
// the Result. Panics anywhere in the pipeline are recovered, classified as
// INFRA_RUNTIME_EXCEPTION, and recorded with the partial trace.
func (e *Engine) RunCycle(ctx context.Context, ag *agent.Agent, strat *models.StrategyConfig) (res *Result, err error) {
	if ag == nil || strat == nil {
		return nil, fmt.Errorf("cycle needs both an agent and a strategy")
	}

	started := time.Now()
	metrics.ActiveCycles.Inc()

	c := &cycle{engine: e, ag: ag, strat: strat, now: e.now()}
	c.rec = &models.RunRecord{
		ChainID:   e.cfg.ChainID,
		TokenID:   ag.TokenID,
		BrainType: ag.Brain.Name(),
		RunMode:   models.RunModePrimary,
		CreatedAt: c.now,
	}

	defer func() {
		if r := recover(); r != nil {
			c.step("panic", models.TraceError, fmt.Sprintf("%v", r), nil)
			rerr := failure.Newf(failure.CategoryInfrastructure, failure.CodeRuntimeException,
				"cycle panic: %v", r)
			res, err = c.finishErr(ctx, rerr, "")
		}
		metrics.ActiveCycles.Dec()
		outcome := metrics.ResultFailed
		if res != nil {
			outcome = res.Outcome
		}
		metrics.RecordCycle(outcome, time.Since(started))
		if err != nil {
			slog.Error("Cycle could not be recorded", "token_id", ag.TokenID, "error", err)
		} else if res != nil {
			slog.Info("Cycle completed",
				"token_id", ag.TokenID,
				"action", res.Record.ActionType,
				"result", outcome,
				"duration_ms", time.Since(started).Milliseconds())
		}
	}()

	return c.run(ctx)
}

func (e *Engine) now() time.Time {
	if e.cfg.Now != nil {
		return e.cfg.Now().UTC()
	}
	return time.Now().UTC()
}
