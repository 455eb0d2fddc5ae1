// Package scheduler drives the fleet. A single poll loop selects agents
// whose nextCheckAt has passed, serializes cycles per agent through an
// in-flight map, and bounds global concurrency with a weighted semaphore.
// Admin operations (enable, disable, strategy upserts, status) live here
// too so the control plane has one surface to call.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/semaphore"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/failure"
	"github.com/nfa-labs/autopilot/pkg/metrics"
	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/runner"
	"github.com/nfa-labs/autopilot/pkg/store"
)

// CycleRunner executes one cognitive cycle. Satisfied by *runner.Engine.
type CycleRunner interface {
	RunCycle(ctx context.Context, ag *agent.Agent, strat *models.StrategyConfig) (*runner.Result, error)
}

// ChainGateway is the slice of the chain service the scheduler needs:
// registry reads for agent builds plus the enable/disable transactions
// behind the admin operations.
type ChainGateway interface {
	AgentData(ctx context.Context, tokenID int64) (*models.ChainAgentData, error)
	EnableWithPermit(ctx context.Context, permit *models.EnablePermit, sig []byte) (common.Hash, error)
	Disable(ctx context.Context, tokenID int64) (common.Hash, error)
	WaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config tunes the scheduler.
type Config struct {
	// ChainID scopes runnable selection and admin operations.
	ChainID int64

	// PollInterval is the driver cadence. Default 5s.
	PollInterval time.Duration

	// PollJitter randomizes each sleep within [interval-jitter,
	// interval+jitter] so restarts don't synchronize pollers against the
	// database. Default PollInterval/5.
	PollJitter time.Duration

	// SelectBatch caps how many runnable agents one tick picks up.
	// Default 50.
	SelectBatch int

	// MaxConcurrentCycles bounds cycles across distinct agents. Default 4.
	MaxConcurrentCycles int64

	// CycleTimeout is the per-cycle deadline. Default 2m.
	CycleTimeout time.Duration

	// GracefulShutdownTimeout is how long Stop waits for in-flight cycles
	// before canceling them. Default 10s.
	GracefulShutdownTimeout time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollJitter <= 0 {
		c.PollJitter = c.PollInterval / 5
	}
	if c.SelectBatch <= 0 {
		c.SelectBatch = 50
	}
	if c.MaxConcurrentCycles <= 0 {
		c.MaxConcurrentCycles = 4
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 2 * time.Minute
	}
	if c.GracefulShutdownTimeout <= 0 {
		c.GracefulShutdownTimeout = 10 * time.Second
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// fleetEntry caches a built agent keyed by the strategy revision it was
// built from. A stale revision forces a rebuild on next dispatch.
type fleetEntry struct {
	agent    *agent.Agent
	revision time.Time
}

// Scheduler owns the driver loop, the per-agent in-flight map, and the
// built-agent cache.
type Scheduler struct {
	cfg     Config
	store   store.Store
	chain   ChainGateway
	factory *agent.Factory
	cycles  CycleRunner

	flights *inFlight
	sem     *semaphore.Weighted

	// cycleCtx outlives the driver context so shutdown can grant
	// in-flight cycles a grace period before canceling them.
	cycleCtx     context.Context
	cancelCycles context.CancelFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup // driver goroutine
	cycleWg  sync.WaitGroup // in-flight cycle goroutines

	mu      sync.RWMutex
	fleet   map[int64]*fleetEntry
	started bool
	lastErr error
	lastRun time.Time
}

// New creates a scheduler. Start must be called before it does anything.
func New(st store.Store, ch ChainGateway, factory *agent.Factory, cycles CycleRunner, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	cycleCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:          cfg,
		store:        st,
		chain:        ch,
		factory:      factory,
		cycles:       cycles,
		flights:      newInFlight(),
		sem:          semaphore.NewWeighted(cfg.MaxConcurrentCycles),
		cycleCtx:     cycleCtx,
		cancelCycles: cancel,
		stopCh:       make(chan struct{}),
		fleet:        make(map[int64]*fleetEntry),
	}
}

// Start begins the driver loop in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the driver, grants in-flight cycles the graceful shutdown
// budget, then cancels whatever is still running. Safe to call twice.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	done := make(chan struct{})
	go func() {
		s.cycleWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.GracefulShutdownTimeout):
		slog.Warn("Graceful shutdown budget exceeded, canceling in-flight cycles",
			"in_flight", s.flights.Count(),
			"budget", s.cfg.GracefulShutdownTimeout)
		s.cancelCycles()
		<-done
	}
	s.cancelCycles()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// run is the driver loop: select runnable agents, dispatch, sleep.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	log := slog.With("component", "scheduler", "chain_id", s.cfg.ChainID)
	log.Info("Scheduler started",
		"poll_interval", s.cfg.PollInterval,
		"max_concurrent_cycles", s.cfg.MaxConcurrentCycles)

	for {
		select {
		case <-s.stopCh:
			log.Info("Scheduler shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, scheduler shutting down")
			return
		default:
			if err := s.tick(ctx); err != nil {
				log.Error("Scheduler tick failed", "error", err)
				s.setLastErr(err)
				s.sleep(time.Second) // brief backoff on driver error
				continue
			}
			s.setLastErr(nil)
			s.sleep(s.pollInterval())
		}
	}
}

// tick selects the runnable agents and dispatches a cycle for each one
// that is not already running.
func (s *Scheduler) tick(ctx context.Context) error {
	now := s.cfg.Now()
	ids, err := s.store.SelectRunnable(ctx, s.cfg.ChainID, now, s.cfg.SelectBatch)
	if err != nil {
		return fmt.Errorf("selecting runnable agents: %w", err)
	}

	for _, tokenID := range ids {
		s.dispatch(tokenID)
	}

	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()
	return nil
}

// dispatch claims the agent's in-flight slot and a concurrency slot, then
// spawns the cycle goroutine. Either claim failing is a silent skip: a
// running agent is already covered, and an agent past capacity stays
// runnable for the next tick.
func (s *Scheduler) dispatch(tokenID int64) {
	release, ok := s.flights.TryAcquire(tokenID)
	if !ok {
		return
	}
	if !s.sem.TryAcquire(1) {
		release()
		return
	}

	s.cycleWg.Add(1)
	go func() {
		defer s.cycleWg.Done()
		defer s.sem.Release(1)
		defer release()
		s.runAgent(tokenID)
	}()
}

// runAgent executes one cycle for the agent. The context descends from the
// scheduler's cycle context, not the driver's, so shutdown can grant grace.
func (s *Scheduler) runAgent(tokenID int64) {
	ctx, cancel := context.WithTimeout(s.cycleCtx, s.cfg.CycleTimeout)
	defer cancel()

	log := slog.With("component", "scheduler", "token_id", tokenID)

	strat, err := s.store.GetStrategy(ctx, tokenID)
	if err != nil {
		log.Error("Loading strategy failed", "error", err)
		return
	}
	if !strat.Enabled {
		// Raced with a disable between select and dispatch.
		s.evict(tokenID)
		return
	}

	ag, err := s.agentFor(ctx, tokenID, strat)
	if err != nil {
		log.Error("Building agent failed", "error", err)
		s.recordDispatchFailure(ctx, strat, err)
		return
	}

	res, err := s.cycles.RunCycle(ctx, ag, strat)
	if err != nil {
		// Only unrecoverable persistence failures surface here; the
		// cycle itself classifies and records everything else.
		log.Error("Cycle failed to record", "error", err)
		return
	}
	if res.Failure != nil {
		log.Warn("Cycle finished with failure",
			"outcome", res.Outcome,
			"category", string(res.Failure.Category),
			"code", string(res.Failure.Code))
	}
}

// agentFor returns the cached agent when the strategy revision still
// matches, otherwise rebuilds from the on-chain identity. Chain I/O happens
// outside the fleet lock; per-agent cycles are already serialized, so two
// builds for the same token never race.
func (s *Scheduler) agentFor(ctx context.Context, tokenID int64, strat *models.StrategyConfig) (*agent.Agent, error) {
	s.mu.RLock()
	entry, ok := s.fleet[tokenID]
	s.mu.RUnlock()
	if ok && entry.revision.Equal(strat.UpdatedAt) {
		return entry.agent, nil
	}

	data, err := s.chain.AgentData(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("reading agent %d from registry: %w", tokenID, err)
	}
	ag, err := s.factory.Build(*data, strat)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.fleet[tokenID] = &fleetEntry{agent: ag, revision: strat.UpdatedAt}
	metrics.AgentsTracked.Set(float64(len(s.fleet)))
	s.mu.Unlock()
	return ag, nil
}

// evict drops the cached agent so the next dispatch rebuilds it.
func (s *Scheduler) evict(tokenID int64) {
	s.mu.Lock()
	delete(s.fleet, tokenID)
	metrics.AgentsTracked.Set(float64(len(s.fleet)))
	s.mu.Unlock()
}

// recordDispatchFailure persists a run for a cycle that never started
// (registry read or factory build failed) and backs the row off. Without
// this a broken blueprint would keep the agent hot on every tick.
func (s *Scheduler) recordDispatchFailure(ctx context.Context, strat *models.StrategyConfig, cause error) {
	rerr := failure.Normalize(cause)
	now := s.cfg.Now()
	msg := rerr.Error()

	minInterval := time.Duration(strat.MinIntervalMs) * time.Millisecond
	if minInterval <= 0 {
		minInterval = time.Minute
	}

	rec := &models.RunRecord{
		ChainID:         s.cfg.ChainID,
		TokenID:         strat.TokenID,
		Error:           &msg,
		ErrorCode:       rerr.Code,
		FailureCategory: rerr.Category,
		RunMode:         models.RunModePrimary,
		ExecutionTrace: []models.TraceEntry{{
			Stage:  "build",
			Status: models.TraceError,
			At:     now,
			Note:   msg,
		}},
		CreatedAt: now,
	}
	upd := &store.CycleUpdate{
		TokenID:      strat.TokenID,
		LastRunAt:    now,
		NextCheckAt:  now.Add(minInterval + dispatchBackoff(minInterval, strat.FailureCount)),
		LastError:    &msg,
		FailureDelta: 1,
		BudgetDay:    models.BudgetDayFor(now),
	}

	// Shutdown must not lose the record.
	if err := s.store.RecordRun(context.WithoutCancel(ctx), rec, upd); err != nil {
		slog.Error("Recording dispatch failure failed",
			"token_id", strat.TokenID,
			"error", err)
	}
	metrics.RecordCycle(metrics.ResultFailed, 0)
}

// dispatchBackoff mirrors the cycle's exponential backoff for failures
// that happen before a cycle exists, capped at 30m.
func dispatchBackoff(minInterval time.Duration, failures int) time.Duration {
	const maxDelay = 30 * time.Minute
	if failures > 16 {
		failures = 16
	}
	d := minInterval << uint(failures)
	if d <= 0 || d > maxDelay {
		return maxDelay
	}
	return d
}

// sleep waits for the given duration or until stop is signalled.
func (s *Scheduler) sleep(d time.Duration) {
	select {
	case <-s.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the poll duration with jitter in
// [base - jitter, base + jitter].
func (s *Scheduler) pollInterval() time.Duration {
	base := s.cfg.PollInterval
	jitter := s.cfg.PollJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (s *Scheduler) setLastErr(err error) {
	s.mu.Lock()
	// Selection errors during shutdown are expected noise, not health.
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = nil
	}
	s.lastErr = err
	s.mu.Unlock()
}
