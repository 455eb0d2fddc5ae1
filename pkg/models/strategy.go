package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StrategyConfig is the per-agent scheduling and strategy row. The scheduler
// polls for rows with enabled=true and nextCheckAt <= now.
//
// Daily counters (dailyRunsUsed, dailyValueUsed) are scoped to BudgetDay,
// a UTC "YYYY-MM-DD" string; when the current UTC day differs the counters
// are reset before use.
type StrategyConfig struct {
	TokenID                int64          `json:"tokenId"`
	ChainID                int64          `json:"chainId"`
	StrategyType           string         `json:"strategyType"`
	Target                 common.Address `json:"target,omitempty"`
	Data                   []byte         `json:"data,omitempty"`
	Value                  *big.Int       `json:"value,omitempty"`
	StrategyParams         map[string]any `json:"strategyParams,omitempty"`
	MinIntervalMs          int64          `json:"minIntervalMs"`
	RequirePositiveBalance bool           `json:"requirePositiveBalance"`
	MaxFailures            int            `json:"maxFailures"`
	FailureCount           int            `json:"failureCount"`
	Enabled                bool           `json:"enabled"`
	LastRunAt              *time.Time     `json:"lastRunAt,omitempty"`
	LastError              *string        `json:"lastError,omitempty"`
	NextCheckAt            time.Time      `json:"nextCheckAt"`
	BudgetDay              string         `json:"budgetDay,omitempty"`
	DailyRunsUsed          int            `json:"dailyRunsUsed"`
	DailyValueUsed         *big.Int       `json:"dailyValueUsed,omitempty"`
	CreatedAt              time.Time      `json:"createdAt"`
	UpdatedAt              time.Time      `json:"updatedAt"`
}

// BudgetDayFor formats t as the UTC calendar day used for daily counters.
func BudgetDayFor(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ResetDailyCountersIfStale zeroes the daily counters when now falls on a
// different UTC day than BudgetDay. Returns true if a reset happened.
func (s *StrategyConfig) ResetDailyCountersIfStale(now time.Time) bool {
	day := BudgetDayFor(now)
	if s.BudgetDay == day {
		return false
	}
	s.BudgetDay = day
	s.DailyRunsUsed = 0
	s.DailyValueUsed = big.NewInt(0)
	return true
}

// SafetyConfig is the per-user soft guardrail policy. A zero value for any
// field means that check is not configured and passes.
type SafetyConfig struct {
	TokenID         int64            `json:"tokenId"`
	AllowedTokens   []common.Address `json:"allowedTokens,omitempty"`
	BlockedTokens   []common.Address `json:"blockedTokens,omitempty"`
	MaxTradeAmount  *big.Int         `json:"maxTradeAmount,omitempty"`
	MaxDailyAmount  *big.Int         `json:"maxDailyAmount,omitempty"`
	MaxSlippageBps  int64            `json:"maxSlippageBps,omitempty"`
	CooldownSeconds int64            `json:"cooldownSeconds,omitempty"`
	MaxRunsPerDay   int              `json:"maxRunsPerDay,omitempty"`
	AllowedDexes    []common.Address `json:"allowedDexes,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt,omitempty"`
}
