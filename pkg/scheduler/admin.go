package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/nfa-labs/autopilot/pkg/metrics"
	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/store"
)

// Disable modes.
const (
	DisableModeLocal   = "local"
	DisableModeOnchain = "onchain"
)

// EnableRequest activates an agent from a renter-signed permit. The permit
// transaction hands operator control to this service; the autopilot row
// makes the fleet registry reflect it.
type EnableRequest struct {
	Permit         *models.EnablePermit
	Sig            []byte
	WaitForReceipt bool
}

// EnableResult reports the submitted transaction and the stored fleet row.
type EnableResult struct {
	Autopilot *models.Autopilot `json:"autopilot"`
	TxHash    string            `json:"txHash"`
}

// DisableRequest deactivates an agent. Local mode only stops scheduling;
// onchain mode also revokes the operator on the registry.
type DisableRequest struct {
	TokenID        int64
	Mode           string
	Reason         string
	WaitForReceipt bool
}

// DisableResult reports the on-chain revocation hash, empty in local mode.
type DisableResult struct {
	TokenID int64  `json:"tokenId"`
	Mode    string `json:"mode"`
	TxHash  string `json:"txHash,omitempty"`
}

// AgentStatus is the operator view of one agent: fleet row, strategy row,
// whether a cycle is in flight right now, and optionally recent runs.
type AgentStatus struct {
	TokenID    int64                  `json:"tokenId"`
	Autopilot  *models.Autopilot      `json:"autopilot,omitempty"`
	Strategy   *models.StrategyConfig `json:"strategy,omitempty"`
	Running    bool                   `json:"running"`
	RecentRuns []*models.RunRecord    `json:"recentRuns,omitempty"`
}

// InFlightCycle is one currently-executing cycle in the snapshot.
type InFlightCycle struct {
	TokenID   int64     `json:"tokenId"`
	StartedAt time.Time `json:"startedAt"`
}

// Snapshot is the scheduler's self-reported state for health endpoints.
type Snapshot struct {
	Started       bool            `json:"started"`
	ChainID       int64           `json:"chainId"`
	InFlight      []InFlightCycle `json:"inFlight"`
	TrackedAgents int             `json:"trackedAgents"`
	LastTickAt    *time.Time      `json:"lastTickAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
}

// Enable submits the permit transaction and registers the agent in the
// fleet. The strategy row, if one already exists, is re-enabled; agents
// without a strategy row stay idle until one is upserted.
func (s *Scheduler) Enable(ctx context.Context, req EnableRequest) (*EnableResult, error) {
	if req.Permit == nil {
		return nil, store.NewValidationError("permit", "is required")
	}
	if req.Permit.TokenID <= 0 {
		return nil, store.NewValidationError("permit.tokenId", "must be positive")
	}
	if len(req.Sig) == 0 {
		return nil, store.NewValidationError("sig", "is required")
	}
	if req.Permit.Deadline > 0 && req.Permit.Deadline < s.cfg.Now().Unix() {
		return nil, store.NewValidationError("permit.deadline", "has passed")
	}

	txHash, err := s.chain.EnableWithPermit(ctx, req.Permit, req.Sig)
	if err != nil {
		return nil, fmt.Errorf("submitting enable permit for agent %d: %w", req.Permit.TokenID, err)
	}
	if req.WaitForReceipt {
		receipt, err := s.chain.WaitReceipt(ctx, txHash)
		if err != nil {
			return nil, fmt.Errorf("waiting for enable receipt of agent %d: %w", req.Permit.TokenID, err)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return nil, fmt.Errorf("enable transaction %s for agent %d reverted", txHash.Hex(), req.Permit.TokenID)
		}
	}

	data, err := s.chain.AgentData(ctx, req.Permit.TokenID)
	if err != nil {
		return nil, fmt.Errorf("reading agent %d from registry after enable: %w", req.Permit.TokenID, err)
	}

	now := s.cfg.Now()
	hash := txHash.Hex()
	ap := &models.Autopilot{
		TokenID:      data.TokenID,
		ChainID:      s.cfg.ChainID,
		AgentType:    data.AgentType,
		Owner:        data.Owner,
		Renter:       data.Renter,
		Vault:        data.Vault,
		Enabled:      true,
		EnabledAt:    &now,
		EnableTxHash: &hash,
	}
	if err := s.store.UpsertAutopilot(ctx, ap); err != nil {
		return nil, fmt.Errorf("registering agent %d: %w", data.TokenID, err)
	}
	if err := s.store.EnableStrategy(ctx, data.TokenID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("re-enabling strategy for agent %d: %w", data.TokenID, err)
	}
	s.evict(data.TokenID)

	return &EnableResult{Autopilot: ap, TxHash: hash}, nil
}

// Disable stops scheduling the agent and, in onchain mode, revokes the
// operator on the registry first. Disabling an agent neither row knows is
// ErrNotFound.
func (s *Scheduler) Disable(ctx context.Context, req DisableRequest) (*DisableResult, error) {
	if req.TokenID <= 0 {
		return nil, store.NewValidationError("tokenId", "must be positive")
	}
	mode := req.Mode
	if mode == "" {
		mode = DisableModeLocal
	}
	if mode != DisableModeLocal && mode != DisableModeOnchain {
		return nil, store.NewValidationError("mode", fmt.Sprintf("must be %q or %q", DisableModeLocal, DisableModeOnchain))
	}
	reason := req.Reason
	if reason == "" {
		reason = "operator disable"
	}

	res := &DisableResult{TokenID: req.TokenID, Mode: mode}
	if mode == DisableModeOnchain {
		txHash, err := s.chain.Disable(ctx, req.TokenID)
		if err != nil {
			return nil, fmt.Errorf("submitting disable for agent %d: %w", req.TokenID, err)
		}
		res.TxHash = txHash.Hex()
		if req.WaitForReceipt {
			receipt, err := s.chain.WaitReceipt(ctx, txHash)
			if err != nil {
				return nil, fmt.Errorf("waiting for disable receipt of agent %d: %w", req.TokenID, err)
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("disable transaction %s for agent %d reverted", res.TxHash, req.TokenID)
			}
		}
	}

	apErr := s.store.SetAutopilotEnabled(ctx, req.TokenID, false, reason)
	if apErr != nil && !errors.Is(apErr, store.ErrNotFound) {
		return nil, fmt.Errorf("disabling agent %d: %w", req.TokenID, apErr)
	}
	stratErr := s.store.DisableStrategy(ctx, req.TokenID, reason)
	if stratErr != nil && !errors.Is(stratErr, store.ErrNotFound) {
		return nil, fmt.Errorf("disabling strategy for agent %d: %w", req.TokenID, stratErr)
	}
	if errors.Is(apErr, store.ErrNotFound) && errors.Is(stratErr, store.ErrNotFound) {
		return nil, fmt.Errorf("agent %d: %w", req.TokenID, store.ErrNotFound)
	}

	s.evict(req.TokenID)
	return res, nil
}

// UpsertStrategy validates and stores the strategy row, then returns the
// canonical stored form. The cached agent is evicted so the next cycle
// picks up the new parameters.
func (s *Scheduler) UpsertStrategy(ctx context.Context, strat *models.StrategyConfig) (*models.StrategyConfig, error) {
	if strat == nil {
		return nil, store.NewValidationError("strategy", "is required")
	}
	if strat.ChainID == 0 {
		strat.ChainID = s.cfg.ChainID
	}
	if strat.ChainID != s.cfg.ChainID {
		return nil, store.NewValidationError("chainId", fmt.Sprintf("this runner serves chain %d", s.cfg.ChainID))
	}
	if err := s.store.UpsertStrategy(ctx, strat); err != nil {
		return nil, err
	}
	s.evict(strat.TokenID)
	return s.store.GetStrategy(ctx, strat.TokenID)
}

// Status returns one agent's fleet row, strategy row, and last runs.
// Unknown on both rows is ErrNotFound.
func (s *Scheduler) Status(ctx context.Context, tokenID int64, runsLimit int) (*AgentStatus, error) {
	if tokenID <= 0 {
		return nil, store.NewValidationError("tokenId", "must be positive")
	}

	st := &AgentStatus{TokenID: tokenID, Running: s.flights.Running(tokenID)}

	ap, err := s.store.GetAutopilot(ctx, tokenID)
	switch {
	case err == nil:
		st.Autopilot = ap
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("loading agent %d: %w", tokenID, err)
	}

	strat, err := s.store.GetStrategy(ctx, tokenID)
	switch {
	case err == nil:
		st.Strategy = strat
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("loading strategy for agent %d: %w", tokenID, err)
	}

	if st.Autopilot == nil && st.Strategy == nil {
		return nil, fmt.Errorf("agent %d: %w", tokenID, store.ErrNotFound)
	}

	if runsLimit > 0 {
		runs, err := s.store.ListRuns(ctx, tokenID, runsLimit)
		if err != nil {
			return nil, fmt.Errorf("loading runs for agent %d: %w", tokenID, err)
		}
		st.RecentRuns = runs
	}
	return st, nil
}

// StatusAll returns the fleet view: every agent with an autopilot or
// strategy row on this chain, without run history.
func (s *Scheduler) StatusAll(ctx context.Context) ([]*AgentStatus, error) {
	byToken := make(map[int64]*AgentStatus)

	autopilots, err := s.store.ListAutopilots(ctx, s.cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	for _, ap := range autopilots {
		byToken[ap.TokenID] = &AgentStatus{TokenID: ap.TokenID, Autopilot: ap}
	}

	strategies, err := s.store.ListStrategies(ctx, s.cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("listing strategies: %w", err)
	}
	for _, strat := range strategies {
		st, ok := byToken[strat.TokenID]
		if !ok {
			st = &AgentStatus{TokenID: strat.TokenID}
			byToken[strat.TokenID] = st
		}
		st.Strategy = strat
	}

	out := make([]*AgentStatus, 0, len(byToken))
	for _, st := range byToken {
		st.Running = s.flights.Running(st.TokenID)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

// ReloadBlueprints refreshes the blueprint cache from the store and drops
// all cached agents so they rebuild against the new blueprints.
func (s *Scheduler) ReloadBlueprints(ctx context.Context) ([]string, error) {
	if err := s.factory.Blueprints().LoadFrom(ctx, s.store); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.fleet = make(map[int64]*fleetEntry)
	metrics.AgentsTracked.Set(0)
	s.mu.Unlock()
	return s.factory.Blueprints().Types(), nil
}

// Snapshot reports the scheduler's own state without touching the store.
func (s *Scheduler) Snapshot() Snapshot {
	inflight := s.flights.Snapshot()
	cycles := make([]InFlightCycle, 0, len(inflight))
	for id, at := range inflight {
		cycles = append(cycles, InFlightCycle{TokenID: id, StartedAt: at})
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i].TokenID < cycles[j].TokenID })

	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Started:       s.started,
		ChainID:       s.cfg.ChainID,
		InFlight:      cycles,
		TrackedAgents: len(s.fleet),
	}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		snap.LastTickAt = &t
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}
