package store

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// InMemory implements Store with plain maps. It backs storeless dev runs
// and most unit tests, and mirrors the Postgres implementation's semantics:
// budget-day bucketing, per-chain run trimming, monotone sampled_at, and
// auto-disable at max failures.
type InMemory struct {
	mu            sync.RWMutex
	maxRunRecords int

	strategies   map[int64]*models.StrategyConfig
	autopilots   map[int64]*models.Autopilot
	safety       map[int64]*models.SafetyConfig
	blueprints   map[string]*models.Blueprint
	signals      map[signalKey]*models.MarketSignal
	runs         []*models.RunRecord
	memories     []*models.MemoryEntry
	nextMemoryID int64
}

type signalKey struct {
	chainID int64
	pair    string
}

var _ Store = (*InMemory)(nil)

// NewInMemory returns an empty in-memory store with the given run cap
// (<= 0 uses the same default as Postgres).
func NewInMemory(maxRunRecords int) *InMemory {
	if maxRunRecords <= 0 {
		maxRunRecords = 1000
	}
	return &InMemory{
		maxRunRecords: maxRunRecords,
		strategies:    make(map[int64]*models.StrategyConfig),
		autopilots:    make(map[int64]*models.Autopilot),
		safety:        make(map[int64]*models.SafetyConfig),
		blueprints:    make(map[string]*models.Blueprint),
		signals:       make(map[signalKey]*models.MarketSignal),
	}
}

func (m *InMemory) SelectRunnable(_ context.Context, chainID int64, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*models.StrategyConfig
	for _, s := range m.strategies {
		a, ok := m.autopilots[s.TokenID]
		if !ok || !a.Enabled {
			continue
		}
		if s.ChainID == chainID && s.Enabled && !s.NextCheckAt.After(now) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextCheckAt.Before(due[j].NextCheckAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	ids := make([]int64, 0, len(due))
	for _, s := range due {
		ids = append(ids, s.TokenID)
	}
	return ids, nil
}

func (m *InMemory) GetStrategy(_ context.Context, tokenID int64) (*models.StrategyConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyStrategy(s), nil
}

func (m *InMemory) UpsertStrategy(_ context.Context, s *models.StrategyConfig) error {
	if s == nil {
		return NewValidationError("strategy", "required")
	}
	if s.TokenID <= 0 {
		return NewValidationError("tokenId", "must be positive")
	}
	if s.StrategyType == "" {
		return NewValidationError("strategyType", "required")
	}
	if s.MinIntervalMs <= 0 {
		s.MinIntervalMs = 60_000
	}
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cp := copyStrategy(s)
	if cp.NextCheckAt.IsZero() {
		cp.NextCheckAt = now
	}
	if prev, ok := m.strategies[cp.TokenID]; ok {
		// Runtime-owned fields survive config updates.
		cp.CreatedAt = prev.CreatedAt
		cp.FailureCount = prev.FailureCount
		cp.LastRunAt = prev.LastRunAt
		cp.LastError = prev.LastError
		cp.BudgetDay = prev.BudgetDay
		cp.DailyRunsUsed = prev.DailyRunsUsed
		cp.DailyValueUsed = prev.DailyValueUsed
		if cp.Enabled && !prev.Enabled {
			cp.FailureCount = 0
			cp.LastError = nil
		}
	} else {
		cp.CreatedAt = now
		cp.FailureCount = 0
		cp.LastRunAt = nil
		cp.LastError = nil
		cp.BudgetDay = ""
		cp.DailyRunsUsed = 0
		cp.DailyValueUsed = big.NewInt(0)
	}
	cp.UpdatedAt = now
	m.strategies[cp.TokenID] = cp
	return nil
}

func (m *InMemory) ListStrategies(_ context.Context, chainID int64) ([]*models.StrategyConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.StrategyConfig
	for _, s := range m.strategies {
		if s.ChainID == chainID {
			out = append(out, copyStrategy(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

func (m *InMemory) DisableStrategy(_ context.Context, tokenID int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[tokenID]
	if !ok {
		return ErrNotFound
	}
	s.Enabled = false
	s.LastError = &reason
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *InMemory) EnableStrategy(_ context.Context, tokenID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[tokenID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	s.Enabled = true
	s.FailureCount = 0
	s.LastError = nil
	s.NextCheckAt = now
	s.UpdatedAt = now
	return nil
}

func (m *InMemory) RecordRun(_ context.Context, rec *models.RunRecord, upd *CycleUpdate) error {
	if rec == nil {
		return NewValidationError("run", "required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.RunMode == "" {
		rec.RunMode = models.RunModePrimary
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs = append(m.runs, copyRun(rec))
	if upd != nil {
		m.applyCycleUpdateLocked(upd, time.Now().UTC())
	}
	m.trimRunsLocked(rec.ChainID)
	return nil
}

func (m *InMemory) applyCycleUpdateLocked(upd *CycleUpdate, now time.Time) {
	s, ok := m.strategies[upd.TokenID]
	if !ok {
		return
	}
	lastRun := upd.LastRunAt
	s.LastRunAt = &lastRun
	s.NextCheckAt = upd.NextCheckAt
	s.LastError = copyStrPtr(upd.LastError)
	if upd.ResetFailures {
		s.FailureCount = 0
	} else {
		s.FailureCount += upd.FailureDelta
	}
	delta := big.NewInt(0)
	if upd.ValueDelta != nil {
		delta = upd.ValueDelta
	}
	if s.BudgetDay == upd.BudgetDay {
		s.DailyRunsUsed += upd.RunsDelta
		s.DailyValueUsed = new(big.Int).Add(bigOrZero(s.DailyValueUsed), delta)
	} else {
		s.DailyRunsUsed = upd.RunsDelta
		s.DailyValueUsed = new(big.Int).Set(delta)
	}
	s.BudgetDay = upd.BudgetDay
	s.UpdatedAt = now

	if upd.Disable {
		s.Enabled = false
		reason := upd.DisableReason
		s.LastError = &reason
		return
	}
	if s.Enabled && s.FailureCount >= s.MaxFailures {
		s.Enabled = false
		msg := ""
		if s.LastError != nil {
			msg = *s.LastError
		}
		msg += " (auto-disabled: max failures reached)"
		s.LastError = &msg
	}
}

func (m *InMemory) trimRunsLocked(chainID int64) {
	var chain []*models.RunRecord
	for _, r := range m.runs {
		if r.ChainID == chainID {
			chain = append(chain, r)
		}
	}
	if len(chain) <= m.maxRunRecords {
		return
	}
	sortRunsNewestFirst(chain)
	drop := make(map[string]struct{}, len(chain)-m.maxRunRecords)
	for _, r := range chain[m.maxRunRecords:] {
		drop[r.ID] = struct{}{}
	}
	kept := m.runs[:0]
	for _, r := range m.runs {
		if _, gone := drop[r.ID]; !gone {
			kept = append(kept, r)
		}
	}
	m.runs = kept
}

func (m *InMemory) ListRuns(_ context.Context, tokenID int64, limit int) ([]*models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.RunRecord
	for _, r := range m.runs {
		if r.TokenID == tokenID {
			out = append(out, r)
		}
	}
	sortRunsNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	copies := make([]*models.RunRecord, len(out))
	for i, r := range out {
		copies[i] = copyRun(r)
	}
	return copies, nil
}

func (m *InMemory) AppendMemory(_ context.Context, e *models.MemoryEntry) error {
	if e == nil {
		return NewValidationError("entry", "required")
	}
	if e.Type == "" {
		return NewValidationError("type", "required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMemoryID++
	e.ID = m.nextMemoryID
	m.memories = append(m.memories, copyMemory(e))
	return nil
}

func (m *InMemory) RecallMemory(_ context.Context, tokenID int64, limit int) ([]models.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*models.MemoryEntry
	for _, e := range m.memories {
		if e.TokenID == tokenID {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]models.MemoryEntry, len(matched))
	for i, e := range matched {
		out[i] = *copyMemory(e)
	}
	return out, nil
}

func (m *InMemory) ExecStats(_ context.Context, tokenID int64, dayStart time.Time) (*ExecStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &ExecStats{Spent: big.NewInt(0)}
	for _, e := range m.memories {
		if e.TokenID != tokenID || e.Type != models.MemoryExecution {
			continue
		}
		if e.Result == nil || !e.Result.Success {
			continue
		}
		if !e.Timestamp.Before(dayStart) {
			stats.Count++
			if e.SpendAmount != nil {
				stats.Spent.Add(stats.Spent, e.SpendAmount)
			}
		}
		if stats.LastExecAt == nil || e.Timestamp.After(*stats.LastExecAt) {
			t := e.Timestamp
			stats.LastExecAt = &t
		}
	}
	return stats, nil
}

func (m *InMemory) UpsertMarketSignal(_ context.Context, s *models.MarketSignal) error {
	if err := validateSignal(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertSignalLocked(s)
	return nil
}

func (m *InMemory) BatchUpsertMarketSignals(_ context.Context, signals []*models.MarketSignal) (int, error) {
	for _, s := range signals {
		if err := validateSignal(s); err != nil {
			return 0, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range signals {
		m.upsertSignalLocked(s)
	}
	return len(signals), nil
}

func (m *InMemory) upsertSignalLocked(s *models.MarketSignal) {
	key := signalKey{chainID: s.ChainID, pair: s.Pair}
	cp := copySignal(s)
	if prev, ok := m.signals[key]; ok && prev.SampledAt.After(cp.SampledAt) {
		// sampled_at never moves backwards.
		cp.SampledAt = prev.SampledAt
	}
	m.signals[key] = cp
}

func (m *InMemory) ListMarketSignals(_ context.Context, chainID int64) ([]*models.MarketSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.MarketSignal
	for _, s := range m.signals {
		if s.ChainID == chainID {
			out = append(out, copySignal(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out, nil
}

func (m *InMemory) ListBlueprints(_ context.Context) ([]*models.Blueprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Blueprint, 0, len(m.blueprints))
	for _, bp := range m.blueprints {
		out = append(out, copyBlueprint(bp))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentType < out[j].AgentType })
	return out, nil
}

func (m *InMemory) UpsertBlueprint(_ context.Context, bp *models.Blueprint) error {
	if bp == nil {
		return NewValidationError("blueprint", "required")
	}
	if bp.AgentType == "" {
		return NewValidationError("agentType", "required")
	}
	if bp.Brain == "" {
		return NewValidationError("brain", "required")
	}
	if bp.Perception == "" {
		return NewValidationError("perception", "required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := copyBlueprint(bp)
	cp.UpdatedAt = time.Now().UTC()
	m.blueprints[cp.AgentType] = cp
	return nil
}

func (m *InMemory) GetSafetyConfig(_ context.Context, tokenID int64) (*models.SafetyConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.safety[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	return copySafety(sc), nil
}

func (m *InMemory) UpsertSafetyConfig(_ context.Context, sc *models.SafetyConfig) error {
	if sc == nil {
		return NewValidationError("safetyConfig", "required")
	}
	if sc.TokenID <= 0 {
		return NewValidationError("tokenId", "must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := copySafety(sc)
	cp.UpdatedAt = time.Now().UTC()
	m.safety[cp.TokenID] = cp
	return nil
}

func (m *InMemory) GetAutopilot(_ context.Context, tokenID int64) (*models.Autopilot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.autopilots[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAutopilot(a), nil
}

func (m *InMemory) UpsertAutopilot(_ context.Context, a *models.Autopilot) error {
	if a == nil {
		return NewValidationError("autopilot", "required")
	}
	if a.TokenID <= 0 {
		return NewValidationError("tokenId", "must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	cp := copyAutopilot(a)
	if prev, ok := m.autopilots[cp.TokenID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.autopilots[cp.TokenID] = cp
	return nil
}

func (m *InMemory) ListAutopilots(_ context.Context, chainID int64) ([]*models.Autopilot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Autopilot
	for _, a := range m.autopilots {
		if a.ChainID == chainID {
			out = append(out, copyAutopilot(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

func (m *InMemory) SetAutopilotEnabled(_ context.Context, tokenID int64, enabled bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.autopilots[tokenID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	if enabled {
		a.Enabled = true
		a.EnabledAt = &now
		a.DisabledAt = nil
		a.DisableReason = nil
	} else {
		a.Enabled = false
		a.DisabledAt = &now
		a.DisableReason = &reason
	}
	a.UpdatedAt = now
	return nil
}

func (m *InMemory) ShadowMetrics(_ context.Context, since time.Time, tokenID *int64) (*ShadowMetricsReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := &ShadowMetricsReport{Since: since, TokenID: tokenID}
	for _, r := range m.runs {
		if r.RunMode != models.RunModePrimary || r.CreatedAt.Before(since) {
			continue
		}
		if tokenID != nil && r.TokenID != *tokenID {
			continue
		}
		report.TotalRuns++
		if r.ShadowCompare == nil {
			continue
		}
		report.ComparedRuns++
		if r.ShadowCompare.Diverged {
			report.Divergences++
			if report.ByReason == nil {
				report.ByReason = make(map[string]int)
			}
			report.ByReason[r.ShadowCompare.Reason]++
		}
	}
	if report.ComparedRuns > 0 {
		report.DivergenceRate = float64(report.Divergences) / float64(report.ComparedRuns)
	}
	return report, nil
}

func (m *InMemory) SafetyMetrics(_ context.Context, tokenID int64, since time.Time) (*SafetyMetricsReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := &SafetyMetricsReport{TokenID: tokenID, Since: since}
	for _, r := range m.runs {
		if r.TokenID != tokenID || r.CreatedAt.Before(since) {
			continue
		}
		report.TotalRuns++
		if r.ViolationCode == "" {
			continue
		}
		report.BlockedRuns++
		if report.ViolationsByCode == nil {
			report.ViolationsByCode = make(map[string]int)
		}
		report.ViolationsByCode[string(r.ViolationCode)]++
		if report.LastViolationAt == nil || r.CreatedAt.After(*report.LastViolationAt) {
			t := r.CreatedAt
			report.LastViolationAt = &t
		}
	}
	if report.TotalRuns > 0 {
		report.BlockRate = float64(report.BlockedRuns) / float64(report.TotalRuns)
	}
	return report, nil
}

func (m *InMemory) SafetyTimeline(_ context.Context, tokenID int64, since time.Time) ([]SafetyTimelinePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byDay := make(map[string]*SafetyTimelinePoint)
	for _, r := range m.runs {
		if r.TokenID != tokenID || r.CreatedAt.Before(since) {
			continue
		}
		day := models.BudgetDayFor(r.CreatedAt)
		pt, ok := byDay[day]
		if !ok {
			pt = &SafetyTimelinePoint{Day: day}
			byDay[day] = pt
		}
		pt.Runs++
		if r.ViolationCode != "" {
			pt.Blocked++
		}
	}
	out := make([]SafetyTimelinePoint, 0, len(byDay))
	for _, pt := range byDay {
		out = append(out, *pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (m *InMemory) SafetyViolations(_ context.Context, tokenID int64, limit int) ([]SafetyViolationRow, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var blocked []*models.RunRecord
	for _, r := range m.runs {
		if r.TokenID == tokenID && r.ViolationCode != "" {
			blocked = append(blocked, r)
		}
	}
	sortRunsNewestFirst(blocked)
	if len(blocked) > limit {
		blocked = blocked[:limit]
	}
	out := make([]SafetyViolationRow, 0, len(blocked))
	for _, r := range blocked {
		row := SafetyViolationRow{
			RunID:         r.ID,
			At:            r.CreatedAt,
			ViolationCode: string(r.ViolationCode),
			ErrorCode:     string(r.ErrorCode),
			ActionType:    r.ActionType,
			Category:      string(r.FailureCategory),
		}
		row.Error = copyStrPtr(r.Error)
		out = append(out, row)
	}
	return out, nil
}

func (m *InMemory) Ping(context.Context) error { return nil }

func (m *InMemory) Close() error { return nil }

func sortRunsNewestFirst(runs []*models.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return strings.Compare(runs[i].ID, runs[j].ID) > 0
	})
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func copyStrPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyAnyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyStrategy(s *models.StrategyConfig) *models.StrategyConfig {
	cp := *s
	cp.Data = append([]byte(nil), s.Data...)
	cp.Value = copyBig(s.Value)
	cp.StrategyParams = copyAnyMap(s.StrategyParams)
	cp.LastRunAt = copyTimePtr(s.LastRunAt)
	cp.LastError = copyStrPtr(s.LastError)
	cp.DailyValueUsed = copyBig(s.DailyValueUsed)
	return &cp
}

func copyRun(r *models.RunRecord) *models.RunRecord {
	cp := *r
	cp.TxHash = copyStrPtr(r.TxHash)
	cp.Error = copyStrPtr(r.Error)
	cp.ExecutionTrace = append([]models.TraceEntry(nil), r.ExecutionTrace...)
	if r.ShadowCompare != nil {
		sc := *r.ShadowCompare
		cp.ShadowCompare = &sc
	}
	if r.GasUsed != nil {
		g := *r.GasUsed
		cp.GasUsed = &g
	}
	if r.PnlUsd != nil {
		p := *r.PnlUsd
		cp.PnlUsd = &p
	}
	return &cp
}

func copyMemory(e *models.MemoryEntry) *models.MemoryEntry {
	cp := *e
	cp.Params = copyAnyMap(e.Params)
	if e.Result != nil {
		r := *e.Result
		cp.Result = &r
	}
	cp.SpendAmount = copyBig(e.SpendAmount)
	return &cp
}

func copySignal(s *models.MarketSignal) *models.MarketSignal {
	cp := *s
	cp.Volume5m = copyBig(s.Volume5m)
	return &cp
}

func copyBlueprint(bp *models.Blueprint) *models.Blueprint {
	cp := *bp
	cp.Actions = append([]string(nil), bp.Actions...)
	if bp.LLMConfig != nil {
		llm := *bp.LLMConfig
		cp.LLMConfig = &llm
	}
	return &cp
}

func copySafety(sc *models.SafetyConfig) *models.SafetyConfig {
	cp := *sc
	cp.AllowedTokens = append([]common.Address(nil), sc.AllowedTokens...)
	cp.BlockedTokens = append([]common.Address(nil), sc.BlockedTokens...)
	cp.AllowedDexes = append([]common.Address(nil), sc.AllowedDexes...)
	cp.MaxTradeAmount = copyBig(sc.MaxTradeAmount)
	cp.MaxDailyAmount = copyBig(sc.MaxDailyAmount)
	return &cp
}

func copyAutopilot(a *models.Autopilot) *models.Autopilot {
	cp := *a
	cp.EnabledAt = copyTimePtr(a.EnabledAt)
	cp.DisabledAt = copyTimePtr(a.DisabledAt)
	cp.DisableReason = copyStrPtr(a.DisableReason)
	cp.EnableTxHash = copyStrPtr(a.EnableTxHash)
	return &cp
}
