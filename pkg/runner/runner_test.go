package runner

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/autopilot/pkg/actions"
	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/brain/rule"
	"github.com/nfa-labs/autopilot/pkg/failure"
	"github.com/nfa-labs/autopilot/pkg/guardrails"
	"github.com/nfa-labs/autopilot/pkg/memory"
	"github.com/nfa-labs/autopilot/pkg/metrics"
	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/store"
)

const testTokenID int64 = 42

var (
	fixedNow   = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	routerAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	wethAddr   = common.HexToAddress("0x4200000000000000000000000000000000000006")
	dogeAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	vaultAddr  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type stubPerception struct {
	obs   *models.Observation
	err   error
	calls int
}

func (s *stubPerception) Observe(context.Context) (*models.Observation, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.obs, nil
}

type stubBrain struct {
	decision *models.Decision
	err      error
	panics   bool
	calls    int
}

func (s *stubBrain) Name() string { return "stub" }

func (s *stubBrain) Think(context.Context, *models.Observation, []models.MemoryEntry, []agent.ActionSpec) (*models.Decision, error) {
	s.calls++
	if s.panics {
		panic("brain exploded")
	}
	return s.decision, s.err
}

type fakeChain struct {
	simulateErrs  []error
	simulateCalls int
	submitErr     error
	submitCalls   int
	receipt       *types.Receipt
	receiptErr    error
	lastPayload   *models.TxPayload
}

func (f *fakeChain) Simulate(_ context.Context, p *models.TxPayload) error {
	f.simulateCalls++
	f.lastPayload = p
	if len(f.simulateErrs) > 0 {
		err := f.simulateErrs[0]
		f.simulateErrs = f.simulateErrs[1:]
		return err
	}
	return nil
}

func (f *fakeChain) Submit(_ context.Context, p *models.TxPayload) (common.Hash, error) {
	f.submitCalls++
	f.lastPayload = p
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return common.HexToHash("0xabcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"), nil
}

func (f *fakeChain) WaitReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 21_000}, nil
}

type fakeValidator struct {
	calls  int
	ok     bool
	reason string
}

func (f *fakeValidator) ValidateAction(context.Context, *models.ExecutionContext) (bool, string, error) {
	f.calls++
	return f.ok, f.reason, nil
}

// testAgent wires a real action set, store-backed memory, and both policy
// layers around the given brain, the same way the factory does in
// production.
func testAgent(t *testing.T, st *store.InMemory, brain agent.Brain, perception agent.Perception, validator guardrails.ActionValidator) *agent.Agent {
	t.Helper()

	reg := agent.NewRegistries()
	require.NoError(t, actions.Register(reg, actions.Config{Router: routerAddr, WNative: wethAddr}))

	buildAction := func(name string) agent.Action {
		f, err := reg.Action(name)
		require.NoError(t, err)
		a, err := f(agent.BuildContext{})
		require.NoError(t, err)
		return a
	}

	mem, err := memory.Factory(st)(agent.BuildContext{
		Agent: models.ChainAgentData{TokenID: testTokenID},
	})
	require.NoError(t, err)

	return &agent.Agent{
		TokenID:    testTokenID,
		AgentType:  "dex_trader",
		Vault:      vaultAddr,
		Perception: perception,
		Memory:     mem,
		Brain:      brain,
		Actions:    []agent.Action{buildAction("swap"), buildAction("portfolio")},
		Guardrails: []agent.Guardrail{guardrails.NewSoftPolicy(st), guardrails.NewHardPolicy(validator)},
	}
}

func seedStrategy(t *testing.T, st *store.InMemory) *models.StrategyConfig {
	t.Helper()
	require.NoError(t, st.UpsertStrategy(context.Background(), &models.StrategyConfig{
		TokenID:       testTokenID,
		ChainID:       8453,
		StrategyType:  "hotpump_watchlist",
		MinIntervalMs: 60_000,
		Enabled:       true,
	}))
	strat, err := st.GetStrategy(context.Background(), testTokenID)
	require.NoError(t, err)
	return strat
}

func testEngine(chain ChainExecutor, st RunStore, mutate ...func(*Config)) *Engine {
	cfg := Config{
		ChainID:        8453,
		RetryBaseDelay: time.Millisecond,
		Now:            func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(chain, st, cfg)
}

func pumpObservation(priceChangeBps, traders int64, volume *big.Int) *models.Observation {
	return &models.Observation{
		Vault:         vaultAddr,
		NativeBalance: big.NewInt(1_000_000_000_000_000_000),
		BlockNumber:   7_500_000,
		Timestamp:     fixedNow,
		Signals: []models.MarketSignal{{
			ChainID:         8453,
			Pair:            "DOGE/WETH",
			PriceChangeBps:  priceChangeBps,
			UniqueTraders5m: traders,
			Volume5m:        volume,
			SampledAt:       fixedNow,
		}},
	}
}

func hotpumpBrain(t *testing.T) agent.Brain {
	t.Helper()
	brain, err := rule.HotpumpFactory(agent.BuildContext{StrategyParams: map[string]any{
		"pumpThresholdBps": float64(10_000),
		"uniqueTradersMin": float64(200),
		"minVolume5m":      "1000000000000000000",
		"pair":             "DOGE/WETH",
		"tokenIn":          wethAddr.Hex(),
		"tokenOut":         dogeAddr.Hex(),
		"tradeAmount":      "1000000000000000",
	}})
	require.NoError(t, err)
	return brain
}

func stagesOf(rec *models.RunRecord) []string {
	stages := make([]string, len(rec.ExecutionTrace))
	for i, e := range rec.ExecutionTrace {
		stages[i] = e.Stage
	}
	return stages
}

func TestRunCycle_SwapExecutesOnPumpSignal(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	fc := &fakeChain{}
	ag := testAgent(t, st, hotpumpBrain(t), &stubPerception{
		obs: pumpObservation(10_200, 220, big.NewInt(1_000_000_000_000_000_000)),
	}, nil)
	engine := testEngine(fc, st)

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	assert.Equal(t, metrics.ResultExecuted, res.Outcome)

	rec := res.Record
	assert.Equal(t, "swap", rec.ActionType)
	assert.Equal(t, "swap", rec.IntentType)
	assert.True(t, rec.SimulateOk)
	require.NotNil(t, rec.TxHash)
	assert.NotEmpty(t, rec.ActionHash)
	assert.Nil(t, rec.Error)
	assert.Equal(t, []string{"observe", "propose", "plan", "validate", "guard", "simulate", "execute", "verify"},
		stagesOf(rec))

	// The payload that went out is the swap the brain proposed.
	require.NotNil(t, fc.lastPayload)
	assert.Equal(t, routerAddr, fc.lastPayload.To)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000), fc.lastPayload.SpendAmount)

	// Run persisted, memory appended, counters advanced.
	runs, err := st.ListRuns(context.Background(), testTokenID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	entries, err := st.RecallMemory(context.Background(), testTokenID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.MemoryExecution, entries[0].Type)
	require.NotNil(t, entries[0].Result)
	assert.True(t, entries[0].Result.Success)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000), entries[0].SpendAmount)

	got, err := st.GetStrategy(context.Background(), testTokenID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DailyRunsUsed)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000), got.DailyValueUsed)
	assert.Equal(t, 0, got.FailureCount)
	assert.Equal(t, fixedNow.Add(time.Minute), got.NextCheckAt)
	assert.Nil(t, got.LastError)
}

func TestRunCycle_WaitsWhenSignalBelowThresholds(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	fc := &fakeChain{}
	ag := testAgent(t, st, hotpumpBrain(t), &stubPerception{
		obs: pumpObservation(9_999, 199, big.NewInt(1_000_000_000_000_000_000)),
	}, nil)
	engine := testEngine(fc, st)

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	assert.Equal(t, metrics.ResultSkipped, res.Outcome)

	rec := res.Record
	assert.Equal(t, models.ActionWait, rec.ActionType)
	assert.Equal(t, models.ActionWait, rec.IntentType)
	assert.Empty(t, rec.ActionHash)
	assert.False(t, rec.SimulateOk)
	assert.Nil(t, rec.TxHash)

	assert.Zero(t, fc.simulateCalls)
	assert.Zero(t, fc.submitCalls)

	got, err := st.GetStrategy(context.Background(), testTokenID)
	require.NoError(t, err)
	assert.Zero(t, got.DailyRunsUsed)
}

func TestRunCycle_SoftPolicyBlocksOversizedTrade(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	require.NoError(t, st.UpsertSafetyConfig(context.Background(), &models.SafetyConfig{
		TokenID:        testTokenID,
		MaxTradeAmount: big.NewInt(1_000_000_000_000_000), // 1e15
	}))

	validator := &fakeValidator{ok: true}
	fc := &fakeChain{}
	brain := &stubBrain{decision: &models.Decision{
		Action: "swap",
		Params: map[string]any{
			"tokenIn":  wethAddr.Hex(),
			"tokenOut": dogeAddr.Hex(),
			"amountIn": "10000000000000000", // 1e16
		},
		Confidence: 1,
	}}
	ag := testAgent(t, st, brain, &stubPerception{obs: pumpObservation(0, 0, nil)}, validator)
	engine := testEngine(fc, st)

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, metrics.ResultBlocked, res.Outcome)

	rec := res.Record
	assert.Equal(t, failure.ViolationMaxTradeAmount, rec.ViolationCode)
	assert.Equal(t, failure.CodePolicyMaxTradeAmount, rec.ErrorCode)
	assert.Equal(t, failure.CategoryBusinessRejected, rec.FailureCategory)
	assert.False(t, rec.SimulateOk)
	assert.Nil(t, rec.TxHash)

	// The soft layer rejected, so neither the hard layer nor the chain ran.
	assert.Zero(t, validator.calls)
	assert.Zero(t, fc.simulateCalls)

	entries, err := st.RecallMemory(context.Background(), testTokenID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.MemoryBlocked, entries[0].Type)
}

func TestRunCycle_UnknownActionBlocks(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	fc := &fakeChain{}
	brain := &stubBrain{decision: &models.Decision{
		Action:     "magicSwap",
		Params:     map[string]any{"amountIn": "1"},
		Confidence: 1,
	}}
	ag := testAgent(t, st, brain, &stubPerception{obs: pumpObservation(0, 0, nil)}, nil)
	engine := testEngine(fc, st)

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)

	rec := res.Record
	assert.Equal(t, failure.CategoryModelOutput, rec.FailureCategory)
	assert.Equal(t, failure.CodeUnknownAction, rec.ErrorCode)
	assert.Equal(t, "magicSwap", rec.ActionType)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "unknown action")
	assert.Zero(t, fc.simulateCalls)

	// Model garbage counts toward the failure budget.
	got, err := st.GetStrategy(context.Background(), testTokenID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailureCount)
}

func TestRunCycle_RetriesTransientSimulateFailures(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	fc := &fakeChain{simulateErrs: []error{
		errors.New("429 too many requests"),
		errors.New("429 too many requests"),
	}}
	ag := testAgent(t, st, hotpumpBrain(t), &stubPerception{
		obs: pumpObservation(10_200, 220, big.NewInt(1_000_000_000_000_000_000)),
	}, nil)
	engine := testEngine(fc, st)

	before := testutil.ToFloat64(metrics.RetryAttemptsTotal)
	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.Nil(t, res.Failure)

	assert.Equal(t, 3, fc.simulateCalls)
	assert.True(t, res.Record.SimulateOk)
	require.NotNil(t, res.Record.TxHash)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RetryAttemptsTotal)-before)

	runs, err := st.ListRuns(context.Background(), testTokenID, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunCycle_ShadowDivergenceRecorded(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	fc := &fakeChain{}
	brain := &stubBrain{decision: &models.Decision{
		Action: "swap",
		Params: map[string]any{
			"tokenIn":  wethAddr.Hex(),
			"tokenOut": dogeAddr.Hex(),
			"amountIn": float64(12345), // schema wants a base-10 string
		},
		Confidence: 1,
	}}
	ag := testAgent(t, st, brain, &stubPerception{obs: pumpObservation(0, 0, nil)}, nil)
	engine := testEngine(fc, st, func(c *Config) { c.ShadowMode = true })

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)

	rec := res.Record
	assert.Equal(t, failure.CodeSchemaValidationFailed, rec.ErrorCode)

	sc := rec.ShadowCompare
	require.NotNil(t, sc)
	assert.True(t, sc.Diverged)
	assert.Equal(t, models.PlanBlocked, sc.PrimaryKind)
	assert.Equal(t, models.PlanWrite, sc.LegacyKind)
	assert.Contains(t, sc.Reason, "kind")
	assert.Equal(t, failure.CodeSchemaValidationFailed, sc.PrimaryErrorCode)
	assert.Empty(t, sc.LegacyErrorCode)

	// The legacy plan never reaches the chain.
	assert.Zero(t, fc.simulateCalls)
	assert.Zero(t, fc.submitCalls)
}

func TestRunCycle_ShadowAgreementRecorded(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	fc := &fakeChain{}
	ag := testAgent(t, st, hotpumpBrain(t), &stubPerception{
		obs: pumpObservation(10_200, 220, big.NewInt(1_000_000_000_000_000_000)),
	}, nil)
	engine := testEngine(fc, st, func(c *Config) { c.ShadowMode = true })

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Record.ShadowCompare)
	assert.False(t, res.Record.ShadowCompare.Diverged)
	assert.Equal(t, 1, fc.submitCalls)
}

func TestRunCycle_PausedAgentShortCircuits(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	fc := &fakeChain{}
	brain := &stubBrain{}
	obs := pumpObservation(10_200, 220, big.NewInt(1_000_000_000_000_000_000))
	obs.Paused = true
	ag := testAgent(t, st, brain, &stubPerception{obs: obs}, nil)
	engine := testEngine(fc, st)

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)

	rec := res.Record
	assert.Equal(t, failure.CodeAgentPaused, rec.ErrorCode)
	assert.Equal(t, failure.CategoryBusinessRejected, rec.FailureCategory)
	assert.Equal(t, models.ActionWait, rec.IntentType)
	assert.Zero(t, brain.calls)
	assert.Zero(t, fc.simulateCalls)
}

func TestRunCycle_CircuitBreakerDisablesStrategy(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	ctx := context.Background()

	failMsg := "execution reverted: INSUFFICIENT_OUTPUT_AMOUNT"
	for i := 0; i < 3; i++ {
		require.NoError(t, st.RecordRun(ctx, &models.RunRecord{
			ChainID:         8453,
			TokenID:         testTokenID,
			ActionType:      "swap",
			ActionHash:      "deadbeef01",
			Error:           &failMsg,
			ErrorCode:       failure.CodeChainReverted,
			FailureCategory: failure.CategoryBusinessRejected,
			CreatedAt:       fixedNow.Add(-time.Duration(i+1) * time.Minute),
		}, nil))
	}

	perception := &stubPerception{obs: pumpObservation(0, 0, nil)}
	ag := testAgent(t, st, &stubBrain{}, perception, nil)
	engine := testEngine(&fakeChain{}, st)

	res, err := engine.RunCycle(ctx, ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)

	rec := res.Record
	assert.Equal(t, failure.CodeCircuitBreaker, rec.ErrorCode)
	assert.Equal(t, "swap", rec.ActionType)
	assert.Zero(t, perception.calls)

	got, err := st.GetStrategy(ctx, testTokenID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "circuit breaker")
}

func TestRunCycle_InfrastructureFailuresDoNotTripBreaker(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	ctx := context.Background()

	failMsg := "rpc timeout"
	for i := 0; i < 3; i++ {
		require.NoError(t, st.RecordRun(ctx, &models.RunRecord{
			ChainID:         8453,
			TokenID:         testTokenID,
			ActionType:      "swap",
			ActionHash:      "deadbeef01",
			Error:           &failMsg,
			ErrorCode:       failure.CodeTimeout,
			FailureCategory: failure.CategoryInfrastructure,
			CreatedAt:       fixedNow.Add(-time.Duration(i+1) * time.Minute),
		}, nil))
	}

	perception := &stubPerception{obs: pumpObservation(0, 0, nil)}
	ag := testAgent(t, st, hotpumpBrain(t), perception, nil)
	engine := testEngine(&fakeChain{}, st)

	res, err := engine.RunCycle(ctx, ag, strat)
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	assert.Equal(t, 1, perception.calls)
}

func TestRunCycle_PanicRecordsPartialTrace(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	ag := testAgent(t, st, &stubBrain{panics: true}, &stubPerception{
		obs: pumpObservation(0, 0, nil),
	}, nil)
	engine := testEngine(&fakeChain{}, st)

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.True(t, res.Failure.Retryable)

	rec := res.Record
	assert.Equal(t, failure.CodeRuntimeException, rec.ErrorCode)
	assert.Equal(t, failure.CategoryInfrastructure, rec.FailureCategory)

	stages := stagesOf(rec)
	assert.Contains(t, stages, "observe")
	assert.Contains(t, stages, "panic")

	runs, listErr := st.ListRuns(context.Background(), testTokenID, 10)
	require.NoError(t, listErr)
	assert.Len(t, runs, 1)
}

func TestRunCycle_LowConfidenceBlocked(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	brain := &stubBrain{decision: &models.Decision{
		Action:     "swap",
		Params:     map[string]any{"tokenIn": wethAddr.Hex(), "tokenOut": dogeAddr.Hex(), "amountIn": "1000"},
		Confidence: 0.3,
	}}
	ag := testAgent(t, st, brain, &stubPerception{obs: pumpObservation(0, 0, nil)}, nil)
	engine := testEngine(&fakeChain{}, st, func(c *Config) { c.MinConfidence = 0.5 })

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, failure.CodeLowConfidence, res.Record.ErrorCode)
	assert.Equal(t, failure.CategoryModelOutput, res.Record.FailureCategory)
}

func TestRunCycle_ReadonlyActionRecordsObservation(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	fc := &fakeChain{}
	brain := &stubBrain{decision: &models.Decision{
		Action:     "portfolio",
		Confidence: 1,
		Reasoning:  "check holdings",
	}}
	ag := testAgent(t, st, brain, &stubPerception{obs: pumpObservation(0, 0, nil)}, nil)
	engine := testEngine(fc, st)

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	assert.Equal(t, metrics.ResultExecuted, res.Outcome)
	assert.Equal(t, "portfolio", res.Record.IntentType)
	assert.False(t, res.Record.SimulateOk)
	assert.Zero(t, fc.simulateCalls)
	assert.Zero(t, fc.submitCalls)

	entries, err := st.RecallMemory(context.Background(), testTokenID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.MemoryObservation, entries[0].Type)
	assert.Equal(t, vaultAddr.Hex(), entries[0].Params["vault"])

	// Readonly runs never count against the daily trade budget.
	got, err := st.GetStrategy(context.Background(), testTokenID)
	require.NoError(t, err)
	assert.Zero(t, got.DailyRunsUsed)
}

func TestRunCycle_RevertedReceiptIsBusinessFailure(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	fc := &fakeChain{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, GasUsed: 52_340}}
	ag := testAgent(t, st, hotpumpBrain(t), &stubPerception{
		obs: pumpObservation(10_200, 220, big.NewInt(1_000_000_000_000_000_000)),
	}, nil)
	engine := testEngine(fc, st, func(c *Config) { c.WaitForReceipt = true })

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)

	rec := res.Record
	assert.Equal(t, failure.CodeChainReverted, rec.ErrorCode)
	assert.Equal(t, failure.CategoryBusinessRejected, rec.FailureCategory)
	require.NotNil(t, rec.GasUsed)
	assert.Equal(t, uint64(52_340), *rec.GasUsed)
	require.NotNil(t, rec.TxHash)

	// A reverted swap moved no funds, so nothing counts against the budget.
	got, err := st.GetStrategy(context.Background(), testTokenID)
	require.NoError(t, err)
	assert.Zero(t, got.DailyRunsUsed)

	entries, err := st.RecallMemory(context.Background(), testTokenID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Result)
	assert.False(t, entries[0].Result.Success)
}

func TestRunCycle_ReceiptTimeoutStillCountsSpend(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	fc := &fakeChain{receiptErr: errors.New("timed out waiting for receipt")}
	ag := testAgent(t, st, hotpumpBrain(t), &stubPerception{
		obs: pumpObservation(10_200, 220, big.NewInt(1_000_000_000_000_000_000)),
	}, nil)
	engine := testEngine(fc, st, func(c *Config) { c.WaitForReceipt = true })

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, failure.CodeTimeout, res.Record.ErrorCode)
	assert.True(t, res.Failure.Retryable)
	require.NotNil(t, res.Record.TxHash)
	assert.Nil(t, res.Record.GasUsed)

	// The transaction may still land, so the spend counts against the
	// daily budget and the memory treats it as executed.
	got, err := st.GetStrategy(context.Background(), testTokenID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DailyRunsUsed)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000), got.DailyValueUsed)

	entries, err := st.RecallMemory(context.Background(), testTokenID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Result)
	assert.True(t, entries[0].Result.Success)
}

func TestRunCycle_ReceiptCapturesGasUsed(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	fc := &fakeChain{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 184_000}}
	ag := testAgent(t, st, hotpumpBrain(t), &stubPerception{
		obs: pumpObservation(10_200, 220, big.NewInt(1_000_000_000_000_000_000)),
	}, nil)
	engine := testEngine(fc, st, func(c *Config) { c.WaitForReceipt = true })

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.Nil(t, res.Failure)
	require.NotNil(t, res.Record.GasUsed)
	assert.Equal(t, uint64(184_000), *res.Record.GasUsed)
	assert.Equal(t, []string{"observe", "propose", "plan", "validate", "guard", "simulate", "execute", "verify"},
		stagesOf(res.Record))
}

func TestRunCycle_NextCheckHonorsDecisionHint(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	brain := &stubBrain{decision: &models.Decision{
		Action:      models.ActionWait,
		Confidence:  1,
		NextCheckMs: 300_000,
	}}
	ag := testAgent(t, st, brain, &stubPerception{obs: pumpObservation(0, 0, nil)}, nil)
	engine := testEngine(&fakeChain{}, st)

	_, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)

	got, err := st.GetStrategy(context.Background(), testTokenID)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(5*time.Minute), got.NextCheckAt)
}

func TestRunCycle_BackoffGrowsWithConsecutiveFailures(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	ctx := context.Background()

	run := func(strat *models.StrategyConfig) *models.StrategyConfig {
		fc := &fakeChain{simulateErrs: []error{errors.New("connection refused")}}
		ag := testAgent(t, st, hotpumpBrain(t), &stubPerception{
			obs: pumpObservation(10_200, 220, big.NewInt(1_000_000_000_000_000_000)),
		}, nil)
		engine := testEngine(fc, st, func(c *Config) { c.MaxAttempts = 1 })
		res, err := engine.RunCycle(ctx, ag, strat)
		require.NoError(t, err)
		require.NotNil(t, res.Failure)
		assert.True(t, res.Failure.Retryable)

		got, err := st.GetStrategy(ctx, testTokenID)
		require.NoError(t, err)
		return got
	}

	// First failure: minInterval + minInterval<<0.
	got := run(strat)
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, fixedNow.Add(2*time.Minute), got.NextCheckAt)
	require.NotNil(t, got.LastError)

	// Second consecutive failure doubles the backoff.
	got = run(got)
	assert.Equal(t, 2, got.FailureCount)
	assert.Equal(t, fixedNow.Add(3*time.Minute), got.NextCheckAt)
}

func TestRunCycle_EncodeFailureIsModelOutput(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	brain := &stubBrain{decision: &models.Decision{
		Action: "swap",
		Params: map[string]any{
			"tokenIn":  wethAddr.Hex(),
			"tokenOut": wethAddr.Hex(), // same token: passes the schema, fails encoding
			"amountIn": "1000",
		},
		Confidence: 1,
	}}
	ag := testAgent(t, st, brain, &stubPerception{obs: pumpObservation(0, 0, nil)}, nil)
	engine := testEngine(&fakeChain{}, st)

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, failure.CategoryModelOutput, res.Record.FailureCategory)
	assert.Equal(t, failure.CodeMalformedOutput, res.Record.ErrorCode)
	require.NotNil(t, res.Record.Error)
	assert.Contains(t, *res.Record.Error, "same token")
}

func TestRunCycle_HardPolicyRejectionRecorded(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	validator := &fakeValidator{ok: false, reason: "exceeds vault trade limit"}
	fc := &fakeChain{}
	ag := testAgent(t, st, hotpumpBrain(t), &stubPerception{
		obs: pumpObservation(10_200, 220, big.NewInt(1_000_000_000_000_000_000)),
	}, validator)
	engine := testEngine(fc, st)

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)

	rec := res.Record
	assert.Equal(t, failure.ViolationHardRejected, rec.ViolationCode)
	assert.Equal(t, failure.CodePolicyRejected, rec.ErrorCode)
	assert.Equal(t, 1, validator.calls)
	assert.Zero(t, fc.simulateCalls)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "exceeds vault trade limit")
}

func TestRunCycle_SimulateRevertBlocksAsChainReverted(t *testing.T) {
	st := store.NewInMemory(0)
	strat := seedStrategy(t, st)
	fc := &fakeChain{simulateErrs: []error{errors.New("execution reverted: INSUFFICIENT_OUTPUT_AMOUNT")}}
	ag := testAgent(t, st, hotpumpBrain(t), &stubPerception{
		obs: pumpObservation(10_200, 220, big.NewInt(1_000_000_000_000_000_000)),
	}, nil)
	engine := testEngine(fc, st)

	res, err := engine.RunCycle(context.Background(), ag, strat)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)

	rec := res.Record
	assert.Equal(t, failure.CodeChainReverted, rec.ErrorCode)
	assert.Equal(t, failure.CategoryBusinessRejected, rec.FailureCategory)
	assert.False(t, rec.SimulateOk)
	assert.Nil(t, rec.TxHash)
	// Reverts are deterministic; no retry happens.
	assert.Equal(t, 1, fc.simulateCalls)
	assert.Zero(t, fc.submitCalls)
}
