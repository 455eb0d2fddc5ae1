package models

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHashAction_Deterministic(t *testing.T) {
	params := map[string]any{
		"tokenIn":  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"tokenOut": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		"amountIn": "1000000",
	}
	first := HashAction("swap", params)
	second := HashAction("swap", map[string]any{
		"amountIn": "1000000",
		"tokenOut": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		"tokenIn":  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	})
	assert.Equal(t, first, second, "hash must not depend on map insertion order")
}

func TestHashAction_DistinguishesActions(t *testing.T) {
	params := map[string]any{"amount": "1"}
	assert.NotEqual(t, HashAction("swap", params), HashAction("transfer", params))
	assert.NotEqual(t, HashAction("swap", params), HashAction("swap", map[string]any{"amount": "2"}))
}

func TestDecision_IsWait(t *testing.T) {
	assert.True(t, (&Decision{Action: "wait"}).IsWait())
	assert.True(t, (&Decision{}).IsWait())
	assert.False(t, (&Decision{Action: "swap"}).IsWait())
}

func TestStrategyConfig_ResetDailyCountersIfStale(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	s := &StrategyConfig{
		BudgetDay:      "2026-03-13",
		DailyRunsUsed:  7,
		DailyValueUsed: big.NewInt(500),
	}

	assert.True(t, s.ResetDailyCountersIfStale(now))
	assert.Equal(t, "2026-03-14", s.BudgetDay)
	assert.Equal(t, 0, s.DailyRunsUsed)
	assert.Zero(t, s.DailyValueUsed.Sign())

	s.DailyRunsUsed = 3
	assert.False(t, s.ResetDailyCountersIfStale(now), "same day must not reset")
	assert.Equal(t, 3, s.DailyRunsUsed)
}

func TestBudgetDayFor_UTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	lateNight := time.Date(2026, 3, 13, 22, 0, 0, 0, est)
	assert.Equal(t, "2026-03-14", BudgetDayFor(lateNight), "budget day is a UTC boundary")
}
