// Package rule implements the deterministic strategy brains. A rule brain
// evaluates the observation against fixed thresholds from its strategy
// params and always returns the same decision for the same inputs.
package rule

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/nfa-labs/autopilot/pkg/agent"
)

// Register wires the builtin rule brains into the registries.
func Register(reg *agent.Registries) error {
	if err := reg.RegisterBrain("hotpump_watchlist", HotpumpFactory); err != nil {
		return fmt.Errorf("registering rule brains: %w", err)
	}
	if err := reg.RegisterBrain("dca", DCAFactory); err != nil {
		return fmt.Errorf("registering rule brains: %w", err)
	}
	return nil
}

// Strategy params arrive from JSONB rows and on-chain JSON metadata, so
// numbers may be float64 and wei amounts may be strings.

func paramInt64(params map[string]any, key string) (int64, bool) {
	switch v := params[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

func paramBig(params map[string]any, key string) (*big.Int, bool) {
	switch v := params[key].(type) {
	case string:
		n, ok := new(big.Int).SetString(v, 10)
		if ok && n.Sign() >= 0 {
			return n, true
		}
	case float64:
		if v >= 0 && v == math.Trunc(v) {
			n, _ := new(big.Float).SetFloat64(v).Int(nil)
			return n, true
		}
	}
	return nil, false
}

func paramString(params map[string]any, key string) (string, bool) {
	s, ok := params[key].(string)
	return s, ok && s != ""
}
