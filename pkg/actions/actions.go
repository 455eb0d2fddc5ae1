// Package actions implements the executable capabilities agents can carry:
// swap, approve, wrap/unwrap, transfer (write actions encoding router and
// token calldata) and portfolio (readonly). Write actions fill the derived
// economics on the payload so guardrails never re-parse calldata.
package actions

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/nfa-labs/autopilot/pkg/agent"
)

// Config carries the chain-specific contract addresses actions encode
// against.
type Config struct {
	Router  common.Address
	WNative common.Address
}

// Register wires every builtin action into the registries under its
// blueprint name.
func Register(reg *agent.Registries, cfg Config) error {
	factories := map[string]agent.ActionFactory{
		"swap": func(agent.BuildContext) (agent.Action, error) {
			return NewSwap(cfg.Router), nil
		},
		"approve": func(agent.BuildContext) (agent.Action, error) {
			return NewApprove(), nil
		},
		"wrap": func(agent.BuildContext) (agent.Action, error) {
			return NewWrap(cfg.WNative), nil
		},
		"unwrap": func(agent.BuildContext) (agent.Action, error) {
			return NewUnwrap(cfg.WNative), nil
		},
		"transfer": func(agent.BuildContext) (agent.Action, error) {
			return NewTransfer(), nil
		},
		"portfolio": func(agent.BuildContext) (agent.Action, error) {
			return NewPortfolio(), nil
		},
	}
	for name, f := range factories {
		if err := reg.RegisterAction(name, f); err != nil {
			return fmt.Errorf("registering actions: %w", err)
		}
	}
	return nil
}

const (
	routerABIJSON = `[
  {"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable",
   "inputs":[
     {"name":"amountIn","type":"uint256"},
     {"name":"amountOutMin","type":"uint256"},
     {"name":"path","type":"address[]"},
     {"name":"to","type":"address"},
     {"name":"deadline","type":"uint256"}],
   "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

	wnativeABIJSON = `[
  {"name":"deposit","type":"function","stateMutability":"payable","inputs":[],"outputs":[]},
  {"name":"withdraw","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"wad","type":"uint256"}],"outputs":[]}
]`

	erc20ABIJSON = `[
  {"name":"approve","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"name":"transfer","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`
)

var (
	routerABI  = mustABI(routerABIJSON)
	wnativeABI = mustABI(wnativeABIJSON)
	erc20ABI   = mustABI(erc20ABIJSON)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parsing action ABI: %v", err))
	}
	return parsed
}

// addressPattern matches a 0x-prefixed 20-byte hex address in schemas.
const addressPattern = "^0x[0-9a-fA-F]{40}$"

// digitsPattern matches a base-10 wei amount. Amounts travel as strings:
// wei does not fit in a float64.
const digitsPattern = "^[0-9]+$"

func addrParam(params map[string]any, key string) (common.Address, error) {
	raw, ok := params[key]
	if !ok {
		return common.Address{}, fmt.Errorf("missing param %q", key)
	}
	s, ok := raw.(string)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("param %q is not a hex address: %v", key, raw)
	}
	return common.HexToAddress(s), nil
}

func bigParam(params map[string]any, key string) (*big.Int, error) {
	v, err := optionalBigParam(params, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("missing param %q", key)
	}
	return v, nil
}

func optionalBigParam(params map[string]any, key string) (*big.Int, error) {
	raw, ok := params[key]
	if !ok {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("param %q must be a base-10 string, got %T", key, raw)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("param %q is not a valid amount: %q", key, s)
	}
	return v, nil
}

func intParam(params map[string]any, key string, fallback int64) (int64, error) {
	raw, ok := params[key]
	if !ok {
		return fallback, nil
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("param %q must be an integer, got %T", key, raw)
	}
}
