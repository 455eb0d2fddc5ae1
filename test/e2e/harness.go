// Package e2e boots a complete autopilot instance — real PostgreSQL store,
// real scheduler, cycle engine and control plane — around a scripted chain
// gateway, and drives it through the HTTP API the way an operator would.
package e2e

import (
	"context"
	"fmt"
	"math/big"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/autopilot/pkg/actions"
	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/api"
	"github.com/nfa-labs/autopilot/pkg/brain/rule"
	"github.com/nfa-labs/autopilot/pkg/guardrails"
	"github.com/nfa-labs/autopilot/pkg/marketsync"
	"github.com/nfa-labs/autopilot/pkg/memory"
	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/perception"
	"github.com/nfa-labs/autopilot/pkg/runner"
	"github.com/nfa-labs/autopilot/pkg/scheduler"
	"github.com/nfa-labs/autopilot/pkg/store"
	"github.com/nfa-labs/autopilot/test/util"
)

// Deployment constants shared by every test app. The token addresses are
// arbitrary but stable so strategy params and assertions can reference them.
var (
	registryAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	routerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	wnativeAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	memeAddr     = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

const (
	testChainID = int64(8453)
	testAPIKey  = "e2e-operator-key"

	// pollInterval keeps scheduler ticks fast enough that waitForRuns
	// converges in tens of milliseconds.
	pollInterval = 25 * time.Millisecond
)

// TestApp is one booted autopilot stack. Everything except the chain is
// real: the store runs against a per-test PostgreSQL schema and the HTTP
// server is the production gin engine behind an httptest listener.
type TestApp struct {
	Store     *store.Postgres
	Chain     *ScriptedChain
	Scheduler *scheduler.Scheduler
	Syncer    *marketsync.Syncer
	BaseURL   string

	server *httptest.Server
	t      *testing.T
}

type testAppConfig struct {
	blueprints map[string]*models.Blueprint
	shadowMode bool
	sourceURLs []string
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithShadowMode runs the legacy planner alongside the primary on every
// cycle and records the comparison.
func WithShadowMode() TestAppOption {
	return func(c *testAppConfig) { c.shadowMode = true }
}

// WithBlueprint adds or replaces a blueprint before the factory is built.
func WithBlueprint(bp *models.Blueprint) TestAppOption {
	return func(c *testAppConfig) { c.blueprints[bp.AgentType] = bp }
}

// WithSignalSource wires an HTTP signal feed into a market syncer, which
// also enables the /market/signal/sync endpoint.
func WithSignalSource(url string) TestAppOption {
	return func(c *testAppConfig) { c.sourceURLs = append(c.sourceURLs, url) }
}

func defaultBlueprints() map[string]*models.Blueprint {
	return map[string]*models.Blueprint{
		"dca": {
			AgentType:  "dca",
			Brain:      "dca",
			Perception: "vault",
			Actions:    []string{"swap", "approve", "portfolio"},
		},
		"hotpump_watchlist": {
			AgentType:  "hotpump_watchlist",
			Brain:      "hotpump_watchlist",
			Perception: "vault",
			Actions:    []string{"swap", "approve", "portfolio"},
		},
	}
}

// NewTestApp assembles and starts the full stack, mirroring the production
// wiring in cmd/autopilot. Shutdown is registered on t.Cleanup: control
// plane first, then the scheduler, then the syncer.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := &testAppConfig{blueprints: defaultBlueprints()}
	for _, opt := range opts {
		opt(cfg)
	}

	st, _ := util.SetupTestStore(t)
	chain := NewScriptedChain(testChainID)

	reg := agent.NewRegistries()
	require.NoError(t, actions.Register(reg, actions.Config{Router: routerAddr, WNative: wnativeAddr}))
	require.NoError(t, rule.Register(reg))
	require.NoError(t, reg.RegisterPerception("vault", perception.Factory(chain, st, nil)))
	require.NoError(t, reg.RegisterMemory("store", memory.Factory(st)))
	require.NoError(t, reg.RegisterGuardrail("soft_policy", guardrails.SoftPolicyFactory(st)))
	require.NoError(t, reg.RegisterGuardrail("hard_policy", guardrails.HardPolicyFactory(chain)))

	factory := agent.NewFactory(reg, agent.NewBlueprintCache(cfg.blueprints))

	engine := runner.New(chain, st, runner.Config{
		ChainID:        testChainID,
		WaitForReceipt: true,
		ShadowMode:     cfg.shadowMode,
	})

	sched := scheduler.New(st, chain, factory, engine, scheduler.Config{
		ChainID:                 testChainID,
		PollInterval:            pollInterval,
		SelectBatch:             10,
		MaxConcurrentCycles:     4,
		CycleTimeout:            10 * time.Second,
		GracefulShutdownTimeout: 2 * time.Second,
	})

	var syncer *marketsync.Syncer
	if len(cfg.sourceURLs) > 0 {
		sources := make([]marketsync.Source, 0, len(cfg.sourceURLs))
		for i, url := range cfg.sourceURLs {
			sources = append(sources, marketsync.NewHTTPSource(marketsync.HTTPSourceConfig{
				Name:    fmt.Sprintf("feed-%d", i),
				URL:     url,
				ChainID: testChainID,
			}))
		}
		// A long interval pins ingestion to explicit SyncNow calls, so
		// tests control exactly when signals land.
		syncer = marketsync.New(st, sources, marketsync.Config{Interval: time.Hour})
	}

	apiCfg := api.Config{
		Host:     "127.0.0.1",
		APIKey:   testAPIKey,
		ChainID:  testChainID,
		Registry: registryAddr,
		Admin:    sched,
		Store:    st,
	}
	if syncer != nil {
		apiCfg.Syncer = syncer
	}
	server := httptest.NewServer(api.NewServer(apiCfg).Engine())

	sched.Start(context.Background())
	if syncer != nil {
		syncer.Start(context.Background())
	}

	app := &TestApp{
		Store:     st,
		Chain:     chain,
		Scheduler: sched,
		Syncer:    syncer,
		BaseURL:   server.URL,
		server:    server,
		t:         t,
	}
	t.Cleanup(func() {
		server.Close()
		sched.Stop()
		if syncer != nil {
			syncer.Stop()
		}
	})
	return app
}

// ScriptedChain fakes the whole chain surface the stack touches: registry
// reads for agent builds, vault reads for perception, the hard validator,
// and transaction submission. Every mutation is recorded for assertions.
type ScriptedChain struct {
	chainID int64

	mu             sync.Mutex
	agents         map[int64]models.ChainAgentData
	paused         map[int64]bool
	validateOK     bool
	validateReason string
	simulateErr    error
	submitErr      error
	submitted      []*models.TxPayload
	enables        []int64
	disables       []int64
	txCounter      int64
}

func NewScriptedChain(chainID int64) *ScriptedChain {
	return &ScriptedChain{
		chainID:    chainID,
		agents:     make(map[int64]models.ChainAgentData),
		paused:     make(map[int64]bool),
		validateOK: true,
	}
}

// AddAgent registers a minted agent in the scripted registry and returns
// its vault address.
func (c *ScriptedChain) AddAgent(tokenID int64, agentType string) common.Address {
	vault := common.BigToAddress(big.NewInt(0x10_0000 + tokenID))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[tokenID] = models.ChainAgentData{
		TokenID:   tokenID,
		AgentType: agentType,
		Owner:     common.BigToAddress(big.NewInt(0x20_0000 + tokenID)),
		Renter:    common.BigToAddress(big.NewInt(0x30_0000 + tokenID)),
		Vault:     vault,
	}
	return vault
}

// SetPaused scripts the registry pause flag for one agent.
func (c *ScriptedChain) SetPaused(tokenID int64, paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused[tokenID] = paused
}

// SetValidation scripts the hard validator verdict.
func (c *ScriptedChain) SetValidation(ok bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validateOK = ok
	c.validateReason = reason
}

// Submitted returns a copy of every payload that reached Submit.
func (c *ScriptedChain) Submitted() []*models.TxPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.TxPayload, len(c.submitted))
	copy(out, c.submitted)
	return out
}

// Enables returns the token ids passed to EnableWithPermit, in order.
func (c *ScriptedChain) Enables() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.enables))
	copy(out, c.enables)
	return out
}

// Disables returns the token ids passed to Disable, in order.
func (c *ScriptedChain) Disables() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.disables))
	copy(out, c.disables)
	return out
}

func (c *ScriptedChain) nextHash() common.Hash {
	c.txCounter++
	return common.BigToHash(big.NewInt(c.txCounter))
}

func (c *ScriptedChain) ChainID() int64 { return c.chainID }

func (c *ScriptedChain) Paused(_ context.Context, tokenID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused[tokenID], nil
}

func (c *ScriptedChain) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(1e18), nil
}

func (c *ScriptedChain) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(1e18), nil
}

func (c *ScriptedChain) TokenMetadata(context.Context, common.Address) (string, uint8, error) {
	return "TKN", 18, nil
}

func (c *ScriptedChain) GasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *ScriptedChain) BlockNumber(context.Context) (uint64, error) {
	return 12_345, nil
}

func (c *ScriptedChain) AgentData(_ context.Context, tokenID int64) (*models.ChainAgentData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.agents[tokenID]
	if !ok {
		return nil, fmt.Errorf("agent %d not found in registry", tokenID)
	}
	return &data, nil
}

func (c *ScriptedChain) EnableWithPermit(_ context.Context, permit *models.EnablePermit, _ []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enables = append(c.enables, permit.TokenID)
	return c.nextHash(), nil
}

func (c *ScriptedChain) Disable(_ context.Context, tokenID int64) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disables = append(c.disables, tokenID)
	return c.nextHash(), nil
}

func (c *ScriptedChain) WaitReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 90_000}, nil
}

func (c *ScriptedChain) Simulate(_ context.Context, _ *models.TxPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simulateErr
}

func (c *ScriptedChain) Submit(_ context.Context, payload *models.TxPayload) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return common.Hash{}, c.submitErr
	}
	c.submitted = append(c.submitted, payload)
	return c.nextHash(), nil
}

func (c *ScriptedChain) ValidateAction(context.Context, *models.ExecutionContext) (bool, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateOK, c.validateReason, nil
}

var (
	_ scheduler.ChainGateway     = (*ScriptedChain)(nil)
	_ runner.ChainExecutor       = (*ScriptedChain)(nil)
	_ guardrails.ActionValidator = (*ScriptedChain)(nil)
	_ perception.ChainReader     = (*ScriptedChain)(nil)
)
