package guardrails

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/autopilot/pkg/failure"
	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/store"
)

// PolicyStore is the slice of the store the soft policy reads: the per-user
// config and the success-scoped execution stats.
type PolicyStore interface {
	GetSafetyConfig(ctx context.Context, tokenID int64) (*models.SafetyConfig, error)
	ExecStats(ctx context.Context, tokenID int64, dayStart time.Time) (*store.ExecStats, error)
}

// SoftPolicy enforces the user's SafetyConfig. An agent without a config
// passes every check; within a config, unset fields are unchecked. Checks
// run in a fixed order and the first violation stops evaluation, so a run
// always records the highest-priority violation.
type SoftPolicy struct {
	store PolicyStore
}

func NewSoftPolicy(store PolicyStore) *SoftPolicy {
	return &SoftPolicy{store: store}
}

func (s *SoftPolicy) Name() string { return "soft_policy" }

func (s *SoftPolicy) Check(ctx context.Context, ec *models.ExecutionContext) ([]models.Violation, error) {
	cfg, err := s.store.GetSafetyConfig(ctx, ec.TokenID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading safety config for %d: %w", ec.TokenID, err)
	}

	// Stats are only fetched when a configured check needs them.
	var stats *store.ExecStats
	if cfg.CooldownSeconds > 0 || cfg.MaxRunsPerDay > 0 || cfg.MaxDailyAmount != nil {
		dayStart := dayStartUTC(ec.Timestamp)
		stats, err = s.store.ExecStats(ctx, ec.TokenID, dayStart)
		if err != nil {
			return nil, fmt.Errorf("loading exec stats for %d: %w", ec.TokenID, err)
		}
	}

	if len(cfg.AllowedDexes) > 0 && ec.ActionName == "swap" && !containsAddress(cfg.AllowedDexes, ec.Target) {
		return violation(failure.ViolationAllowedDex,
			fmt.Sprintf("target %s is not an allowed DEX", ec.Target.Hex())), nil
	}

	if cfg.MaxTradeAmount != nil && ec.SpendAmount != nil && ec.SpendAmount.Cmp(cfg.MaxTradeAmount) > 0 {
		return violation(failure.ViolationMaxTradeAmount,
			fmt.Sprintf("spend %s exceeds per-trade limit %s", ec.SpendAmount, cfg.MaxTradeAmount)), nil
	}

	if cfg.CooldownSeconds > 0 && stats.LastExecAt != nil {
		cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
		if elapsed := ec.Timestamp.Sub(*stats.LastExecAt); elapsed < cooldown {
			return violation(failure.ViolationCooldown,
				fmt.Sprintf("cooldown active: %s of %s elapsed since last execution", elapsed.Round(time.Second), cooldown)), nil
		}
	}

	if cfg.MaxRunsPerDay > 0 && stats.Count >= cfg.MaxRunsPerDay {
		return violation(failure.ViolationMaxRunsPerDay,
			fmt.Sprintf("daily run limit reached: %d of %d", stats.Count, cfg.MaxRunsPerDay)), nil
	}

	if cfg.MaxDailyAmount != nil {
		total := new(big.Int).Add(stats.Spent, zeroIfNil(ec.SpendAmount))
		if total.Cmp(cfg.MaxDailyAmount) > 0 {
			return violation(failure.ViolationMaxDailyAmount,
				fmt.Sprintf("daily spend %s would exceed limit %s", total, cfg.MaxDailyAmount)), nil
		}
	}

	if len(cfg.AllowedTokens) > 0 {
		for _, tok := range ec.ActionTokens {
			if tok == (common.Address{}) {
				continue
			}
			if !containsAddress(cfg.AllowedTokens, tok) {
				return violation(failure.ViolationAllowedTokens,
					fmt.Sprintf("token %s is not on the allowed list", tok.Hex())), nil
			}
		}
	}

	for _, tok := range ec.ActionTokens {
		if containsAddress(cfg.BlockedTokens, tok) {
			return violation(failure.ViolationBlockedTokens,
				fmt.Sprintf("token %s is blocked", tok.Hex())), nil
		}
	}

	if cfg.MaxSlippageBps > 0 && ec.AmountIn != nil && ec.AmountIn.Sign() > 0 {
		// A swap without min-out protection counts as full slippage.
		minOut := zeroIfNil(ec.MinOut)
		loss := new(big.Int).Sub(ec.AmountIn, minOut)
		bps := new(big.Int).Div(new(big.Int).Mul(loss, big.NewInt(10_000)), ec.AmountIn)
		if bps.Cmp(big.NewInt(cfg.MaxSlippageBps)) > 0 {
			return violation(failure.ViolationMaxSlippageBps,
				fmt.Sprintf("implied slippage %s bps exceeds limit %d bps", bps, cfg.MaxSlippageBps)), nil
		}
	}

	return nil, nil
}

func violation(code failure.ViolationCode, message string) []models.Violation {
	return []models.Violation{{Code: code, Message: message}}
}

func containsAddress(addrs []common.Address, target common.Address) bool {
	for _, a := range addrs {
		if a == target {
			return true
		}
	}
	return false
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func dayStartUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
