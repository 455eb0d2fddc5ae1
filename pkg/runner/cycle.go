package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/failure"
	"github.com/nfa-labs/autopilot/pkg/guardrails"
	"github.com/nfa-labs/autopilot/pkg/metrics"
	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/planner"
	"github.com/nfa-labs/autopilot/pkg/store"
)

// cycle holds the mutable state of one pipeline pass. Nothing here is
// shared: the singleflight layer above guarantees one live cycle per agent.
type cycle struct {
	engine *Engine
	ag     *agent.Agent
	strat  *models.StrategyConfig
	now    time.Time

	trace    []models.TraceEntry
	memories []*models.MemoryEntry

	obs      *models.Observation
	decision *models.Decision
	plan     *planner.ExecutionPlan
	payload  *models.TxPayload
	rec      *models.RunRecord

	nextHintMs    int64
	runsDelta     int
	valueDelta    *big.Int
	disable       bool
	disableReason string
}

func (c *cycle) step(stage string, status models.TraceStatus, note string, meta map[string]any) {
	c.trace = append(c.trace, models.TraceEntry{
		Stage:  stage,
		Status: status,
		At:     c.engine.now(),
		Note:   note,
		Meta:   meta,
	})
}

func (c *cycle) run(ctx context.Context) (*Result, error) {
	// Circuit breaker: an agent stuck re-proposing the same failing action
	// gets frozen until an operator re-enables the strategy.
	tripped, lastAction, err := c.breakerTripped(ctx)
	if err != nil {
		c.step("circuit_breaker", models.TraceError, err.Error(), nil)
		return c.finishErr(ctx, failure.Normalize(err), "")
	}
	if tripped {
		reason := fmt.Sprintf("circuit breaker tripped: last %d cycles failed on %q",
			c.engine.cfg.BreakerThreshold, lastAction)
		c.step("circuit_breaker", models.TraceBlocked, reason, map[string]any{"action": lastAction})
		c.rec.ActionType = lastAction
		c.disable = true
		c.disableReason = reason
		return c.finishErr(ctx, failure.Newf(
			failure.CategoryBusinessRejected, failure.CodeCircuitBreaker, "%s", reason), "")
	}

	// Observe.
	obs, rerr := c.observe(ctx)
	if rerr != nil {
		return c.finishErr(ctx, rerr, "")
	}
	c.obs = obs
	if obs.Paused {
		c.step("observe", models.TraceBlocked, "agent is paused on-chain", nil)
		c.rec.ActionType = models.ActionWait
		c.rec.IntentType = models.ActionWait
		return c.finishErr(ctx, failure.Newf(
			failure.CategoryBusinessRejected, failure.CodeAgentPaused, "agent is paused on-chain"), "")
	}
	c.step("observe", models.TraceOK, "", map[string]any{
		"block":   obs.BlockNumber,
		"signals": len(obs.Signals),
	})

	// Propose.
	memories, err := c.ag.Memory.Recall(ctx, c.engine.cfg.MemoryRecall)
	if err != nil {
		c.step("propose", models.TraceError, err.Error(), nil)
		return c.finishErr(ctx, failure.Normalize(err), "")
	}
	decision, err := c.ag.Brain.Think(ctx, obs, memories, c.ag.ActionSpecs())
	if err != nil {
		c.step("propose", models.TraceError, err.Error(), nil)
		return c.finishErr(ctx, failure.Normalize(err), "")
	}
	if decision == nil {
		c.step("propose", models.TraceError, "brain returned no decision", nil)
		return c.finishErr(ctx, failure.Newf(
			failure.CategoryModelOutput, failure.CodeMalformedOutput, "brain returned no decision"), "")
	}
	c.decision = decision
	c.nextHintMs = decision.NextCheckMs
	c.rec.DecisionReason = decision.Reasoning
	if !decision.IsWait() && !decision.Blocked {
		c.rec.ActionType = decision.Action
		c.rec.ActionHash = models.HashAction(decision.Action, decision.Params)
	}

	if min := c.engine.cfg.MinConfidence; min > 0 && !decision.IsWait() && !decision.Blocked && decision.Confidence < min {
		reason := fmt.Sprintf("decision confidence %.2f below minimum %.2f", decision.Confidence, min)
		c.step("propose", models.TraceBlocked, reason, map[string]any{"action": decision.Action})
		return c.finishErr(ctx, failure.Newf(
			failure.CategoryModelOutput, failure.CodeLowConfidence, "%s", reason), "")
	}
	c.step("propose", models.TraceOK, decision.Action, map[string]any{"confidence": decision.Confidence})

	// Plan, then the shadow comparison against the same decision.
	c.plan = c.engine.planner.Build(decision, c.ag.Actions)
	if c.engine.cfg.ShadowMode {
		c.shadowCompare()
	}
	c.step("plan", models.TraceOK, string(c.plan.Kind), nil)

	// Validate: dispatch on the plan kind.
	switch c.plan.Kind {
	case models.PlanBlocked:
		c.step("validate", models.TraceBlocked, c.plan.Reason, nil)
		c.remember(&models.MemoryEntry{
			Type:      models.MemoryBlocked,
			Action:    c.plan.ActionName,
			Reasoning: c.plan.Reason,
		})
		return c.finishErr(ctx, failure.New(c.plan.Category, c.plan.Code, errors.New(c.plan.Reason)), "")

	case models.PlanWait:
		c.step("validate", models.TraceOK, models.ActionWait, nil)
		c.rec.ActionType = models.ActionWait
		c.rec.IntentType = models.ActionWait
		return c.finishOK(ctx, metrics.ResultSkipped)

	case models.PlanReadonly:
		c.step("validate", models.TraceOK, "readonly", nil)
		return c.executeReadonly(ctx)
	}
	c.step("validate", models.TraceOK, "write", nil)

	// Guard: encode the payload, derive the execution context, run both
	// policy layers.
	payload, err := c.plan.Action.Encode(ctx, c.plan.Params, c.runtime())
	if err != nil {
		c.step("guard", models.TraceError, err.Error(), nil)
		return c.finishErr(ctx, failure.New(failure.CategoryModelOutput, failure.CodeMalformedOutput,
			fmt.Errorf("encoding %s: %w", c.plan.ActionName, err)), "")
	}
	c.payload = payload
	c.rec.IntentType = payload.Intent

	violations, err := guardrails.Run(ctx, c.ag.Guardrails, c.executionContext())
	if err != nil {
		c.step("guard", models.TraceError, err.Error(), nil)
		return c.finishErr(ctx, failure.Normalize(err), "")
	}
	if len(violations) > 0 {
		v := violations[0]
		metrics.RecordViolation(string(v.Code))
		c.step("guard", models.TraceBlocked, v.Message, map[string]any{"violation": string(v.Code)})
		c.remember(&models.MemoryEntry{
			Type:      models.MemoryBlocked,
			Action:    c.plan.ActionName,
			Params:    c.plan.Params,
			Reasoning: v.Message,
		})
		return c.finishErr(ctx, failure.FromViolationError(v.Code, v.Message), v.Code)
	}
	c.step("guard", models.TraceOK, "", nil)

	// Simulate.
	err = failure.Retry(ctx, c.engine.cfg.MaxAttempts, c.engine.cfg.RetryBaseDelay,
		func(ctx context.Context) error {
			return c.engine.chain.Simulate(ctx, payload)
		})
	if err != nil {
		rerr := failure.Normalize(err)
		status := models.TraceError
		if rerr.Category == failure.CategoryBusinessRejected {
			status = models.TraceBlocked
			c.remember(&models.MemoryEntry{
				Type:      models.MemoryBlocked,
				Action:    c.plan.ActionName,
				Params:    c.plan.Params,
				Reasoning: rootMsg(rerr),
			})
		}
		c.step("simulate", status, rootMsg(rerr), nil)
		return c.finishErr(ctx, rerr, "")
	}
	c.rec.SimulateOk = true
	c.step("simulate", models.TraceOK, "", nil)

	// Execute. Submissions are never retried: an ambiguous send may already
	// have consumed the nonce, and the signer re-syncs before the next one.
	txHash, err := c.engine.chain.Submit(ctx, payload)
	if err != nil {
		c.step("execute", models.TraceError, err.Error(), nil)
		c.rememberExecution(false, "", err.Error())
		return c.finishErr(ctx, failure.Normalize(err), "")
	}
	hash := txHash.Hex()
	c.rec.TxHash = &hash
	c.step("execute", models.TraceOK, "", map[string]any{"tx": hash})

	// Verify.
	if !c.engine.cfg.WaitForReceipt {
		c.step("verify", models.TraceSkip, "receipt wait disabled", nil)
		c.countSpend()
		c.rememberExecution(true, hash, "")
		return c.finishOK(ctx, metrics.ResultExecuted)
	}
	receipt, err := c.engine.chain.WaitReceipt(ctx, txHash)
	if err != nil {
		// Submitted but unconfirmed. The spend still counts against the
		// daily budget: undercounting risks overspending it.
		c.step("verify", models.TraceError, err.Error(), nil)
		c.countSpend()
		c.rememberExecution(true, hash, "")
		return c.finishErr(ctx, failure.Normalize(err), "")
	}
	gasUsed := receipt.GasUsed
	c.rec.GasUsed = &gasUsed
	if receipt.Status != types.ReceiptStatusSuccessful {
		c.step("verify", models.TraceBlocked, "execution reverted on-chain", map[string]any{"gas_used": gasUsed})
		c.rememberExecution(false, hash, "execution reverted on-chain")
		return c.finishErr(ctx, failure.Newf(failure.CategoryBusinessRejected, failure.CodeChainReverted,
			"execution reverted on-chain in tx %s", hash), "")
	}
	c.step("verify", models.TraceOK, "", map[string]any{"gas_used": gasUsed})
	c.countSpend()
	c.rememberExecution(true, hash, "")
	return c.finishOK(ctx, metrics.ResultExecuted)
}

// breakerTripped reports whether the last BreakerThreshold runs all failed
// on the same action. Infrastructure failures never count: an RPC outage
// must not freeze the fleet, and backoff already slows those down.
func (c *cycle) breakerTripped(ctx context.Context) (bool, string, error) {
	n := c.engine.cfg.BreakerThreshold
	if n <= 0 {
		return false, "", nil
	}
	runs, err := c.engine.store.ListRuns(ctx, c.ag.TokenID, n)
	if err != nil {
		return false, "", fmt.Errorf("loading run history for agent %d: %w", c.ag.TokenID, err)
	}
	if len(runs) < n {
		return false, "", nil
	}
	hash := runs[0].ActionHash
	if hash == "" {
		return false, "", nil
	}
	for _, r := range runs {
		if r.ActionHash != hash || r.Error == nil || r.FailureCategory == failure.CategoryInfrastructure {
			return false, "", nil
		}
	}
	return true, runs[0].ActionType, nil
}

func (c *cycle) observe(ctx context.Context) (*models.Observation, *failure.RunnerError) {
	var obs *models.Observation
	err := failure.Retry(ctx, c.engine.cfg.MaxAttempts, c.engine.cfg.RetryBaseDelay,
		func(ctx context.Context) error {
			var oErr error
			obs, oErr = c.ag.Perception.Observe(ctx)
			return oErr
		})
	if err != nil {
		c.step("observe", models.TraceError, err.Error(), nil)
		return nil, failure.Normalize(err)
	}
	return obs, nil
}

func (c *cycle) executeReadonly(ctx context.Context) (*Result, error) {
	out, err := c.plan.Action.Execute(ctx, c.plan.Params, c.runtime())
	if err != nil {
		c.step("execute", models.TraceError, err.Error(), nil)
		return c.finishErr(ctx, failure.Normalize(err), "")
	}
	c.step("execute", models.TraceOK, "readonly", nil)
	c.rec.IntentType = c.plan.ActionName
	c.remember(&models.MemoryEntry{
		Type:      models.MemoryObservation,
		Action:    c.plan.ActionName,
		Params:    out,
		Reasoning: c.decision.Reasoning,
	})
	return c.finishOK(ctx, metrics.ResultExecuted)
}

// shadowCompare plans the same decision with the legacy rules and records
// the disagreement. The legacy plan never reaches the chain.
func (c *cycle) shadowCompare() {
	legacy := c.engine.planner.BuildLegacy(c.decision, c.ag.Actions)
	sc := &models.ShadowCompare{
		PrimaryKind:      c.plan.Kind,
		LegacyKind:       legacy.Kind,
		PrimaryAction:    c.plan.ActionName,
		LegacyAction:     legacy.ActionName,
		PrimaryErrorCode: c.plan.Code,
		LegacyErrorCode:  legacy.Code,
		At:               c.now,
	}
	switch {
	case sc.PrimaryKind != sc.LegacyKind:
		sc.Diverged = true
		sc.Reason = fmt.Sprintf("kind: %s vs %s", sc.PrimaryKind, sc.LegacyKind)
	case sc.PrimaryAction != sc.LegacyAction:
		sc.Diverged = true
		sc.Reason = fmt.Sprintf("action: %s vs %s", sc.PrimaryAction, sc.LegacyAction)
	case sc.PrimaryErrorCode != sc.LegacyErrorCode:
		sc.Diverged = true
		sc.Reason = fmt.Sprintf("errorCode: %s vs %s", sc.PrimaryErrorCode, sc.LegacyErrorCode)
	}
	metrics.RecordShadow(sc.Diverged)
	c.rec.ShadowCompare = sc
	c.step("shadow", models.TraceOK, "", map[string]any{"diverged": sc.Diverged})
	if sc.Diverged {
		slog.Warn("Shadow planner diverged",
			"token_id", c.ag.TokenID,
			"reason", sc.Reason)
	}
}

func (c *cycle) runtime() *models.RuntimeContext {
	return &models.RuntimeContext{
		ChainID:       c.engine.cfg.ChainID,
		TokenID:       c.ag.TokenID,
		Vault:         c.ag.Vault,
		Pool:          c.strat.Target,
		NativeBalance: c.obs.NativeBalance,
		VaultTokens:   c.obs.VaultTokens,
		CadenceMs:     c.strat.MinIntervalMs,
		Now:           c.now,
	}
}

func (c *cycle) executionContext() *models.ExecutionContext {
	return &models.ExecutionContext{
		TokenID:      c.ag.TokenID,
		AgentType:    c.ag.AgentType,
		Vault:        c.ag.Vault,
		Timestamp:    c.now,
		ActionName:   c.plan.ActionName,
		Target:       c.payload.To,
		Value:        c.payload.Value,
		Data:         c.payload.Data,
		SpendAmount:  c.payload.SpendAmount,
		ActionTokens: c.payload.ActionTokens,
		AmountIn:     c.payload.AmountIn,
		MinOut:       c.payload.MinOut,
	}
}

func (c *cycle) countSpend() {
	c.runsDelta = 1
	c.valueDelta = c.payload.SpendAmount
}

func (c *cycle) remember(entry *models.MemoryEntry) {
	c.memories = append(c.memories, entry)
}

func (c *cycle) rememberExecution(success bool, txHash, errMsg string) {
	c.remember(&models.MemoryEntry{
		Type:        models.MemoryExecution,
		Action:      c.plan.ActionName,
		Params:      c.plan.Params,
		Result:      &models.MemoryResult{Success: success, TxHash: txHash, Error: errMsg},
		Reasoning:   c.decision.Reasoning,
		SpendAmount: c.payload.SpendAmount,
	})
}

func (c *cycle) finishOK(ctx context.Context, outcome string) (*Result, error) {
	if err := c.record(ctx, c.update(nil)); err != nil {
		return nil, err
	}
	return &Result{Record: c.rec, Outcome: outcome}, nil
}

// rootMsg is the raw message of a classified failure, without the
// category/code prefix the RunnerError formatting adds.
func rootMsg(rerr *failure.RunnerError) string {
	if rerr.Err != nil {
		return rerr.Err.Error()
	}
	return rerr.Error()
}

func (c *cycle) finishErr(ctx context.Context, rerr *failure.RunnerError, violation failure.ViolationCode) (*Result, error) {
	msg := rootMsg(rerr)
	c.rec.Error = &msg
	c.rec.ErrorCode = rerr.Code
	c.rec.FailureCategory = rerr.Category
	c.rec.ViolationCode = violation
	c.rec.DecisionMessage = rerr.UserMessage

	outcome := metrics.ResultFailed
	if rerr.Category == failure.CategoryBusinessRejected {
		outcome = metrics.ResultBlocked
	}
	if err := c.record(ctx, c.update(rerr)); err != nil {
		return nil, err
	}
	return &Result{Record: c.rec, Failure: rerr, Outcome: outcome}, nil
}

// record persists the run plus the strategy update in one transaction, then
// flushes the cycle's memory entries. The run is already durable when the
// appends happen; a failed append costs recall context, not correctness.
//
// The context is detached from cancellation: a cycle canceled during
// shutdown must still land its partial run.
func (c *cycle) record(ctx context.Context, upd *store.CycleUpdate) error {
	ctx = context.WithoutCancel(ctx)
	c.rec.ExecutionTrace = c.trace
	if err := c.engine.store.RecordRun(ctx, c.rec, upd); err != nil {
		return fmt.Errorf("recording run for agent %d: %w", c.ag.TokenID, err)
	}
	for _, entry := range c.memories {
		if err := c.ag.Memory.Append(ctx, entry); err != nil {
			slog.Warn("Appending agent memory failed",
				"token_id", c.ag.TokenID,
				"type", string(entry.Type),
				"error", err)
		}
	}
	return nil
}

// update derives the strategy-row changes from the cycle outcome. Success
// advances nextCheckAt by max(minInterval, the decision's hint); transient
// failures back off exponentially in the consecutive-failure count.
func (c *cycle) update(rerr *failure.RunnerError) *store.CycleUpdate {
	upd := &store.CycleUpdate{
		TokenID:       c.ag.TokenID,
		LastRunAt:     c.now,
		BudgetDay:     models.BudgetDayFor(c.now),
		RunsDelta:     c.runsDelta,
		ValueDelta:    c.valueDelta,
		Disable:       c.disable,
		DisableReason: c.disableReason,
	}
	minInterval := time.Duration(c.strat.MinIntervalMs) * time.Millisecond
	if minInterval <= 0 {
		minInterval = time.Minute
	}
	hinted := minInterval
	if hint := time.Duration(c.nextHintMs) * time.Millisecond; hint > hinted {
		hinted = hint
	}

	switch {
	case rerr == nil:
		upd.ResetFailures = true
		upd.NextCheckAt = c.now.Add(hinted)
	case rerr.Retryable:
		msg := rerr.Error()
		upd.LastError = &msg
		upd.FailureDelta = 1
		upd.NextCheckAt = c.now.Add(minInterval + c.backoff(minInterval))
	default:
		msg := rerr.Error()
		upd.LastError = &msg
		if rerr.Category == failure.CategoryModelOutput {
			upd.FailureDelta = 1
		}
		upd.NextCheckAt = c.now.Add(hinted)
	}
	return upd
}

// backoff doubles per consecutive failure already on the strategy row,
// capped by MaxBackoff.
func (c *cycle) backoff(minInterval time.Duration) time.Duration {
	shift := c.strat.FailureCount
	if shift > 16 {
		shift = 16
	}
	d := minInterval << uint(shift)
	if d <= 0 || d > c.engine.cfg.MaxBackoff {
		return c.engine.cfg.MaxBackoff
	}
	return d
}
