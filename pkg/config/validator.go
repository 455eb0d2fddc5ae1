package config

import (
	"fmt"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
)

// ConfigValidator validates resolved configuration with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateDatabase(); err != nil {
		return fmt.Errorf("database validation failed: %w", err)
	}

	if err := v.validateChain(); err != nil {
		return fmt.Errorf("chain validation failed: %w", err)
	}

	if err := v.validateHTTP(); err != nil {
		return fmt.Errorf("http validation failed: %w", err)
	}

	if err := v.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}

	if err := v.validateCycle(); err != nil {
		return fmt.Errorf("cycle validation failed: %w", err)
	}

	if err := v.validateMarketSync(); err != nil {
		return fmt.Errorf("market sync validation failed: %w", err)
	}

	if err := v.validateBlueprints(); err != nil {
		return fmt.Errorf("blueprint validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateDatabase() error {
	db := v.cfg.Database
	if db == nil {
		return fmt.Errorf("database configuration is nil")
	}

	if db.URL == "" {
		return NewValidationError("section", "database", "url",
			fmt.Errorf("%w (set DATABASE_URL)", ErrMissingRequiredField))
	}
	if db.MaxOpenConns < 1 {
		return NewValidationError("section", "database", "max_open_conns",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if db.MaxIdleConns < 0 {
		return NewValidationError("section", "database", "max_idle_conns",
			fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
	}
	if db.MaxRunRecords < 1 {
		return NewValidationError("section", "database", "max_run_records",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateChain() error {
	ch := v.cfg.Chain
	if ch == nil {
		return fmt.Errorf("chain configuration is nil")
	}

	if ch.RPCURL == "" {
		return NewValidationError("section", "chain", "rpc_url",
			fmt.Errorf("%w (set RPC_URL)", ErrMissingRequiredField))
	}
	if ch.ChainID <= 0 {
		return NewValidationError("section", "chain", "chain_id",
			fmt.Errorf("%w: must be positive (set CHAIN_ID)", ErrInvalidValue))
	}

	// Registry, router, and wrapped-native are always needed: the registry
	// for agent reads, the other two by the built-in swap/wrap actions.
	// The validator address is optional; empty turns the hard layer into a
	// no-op.
	required := []struct {
		field string
		value string
	}{
		{"registry_address", ch.RegistryAddress},
		{"router_address", ch.RouterAddress},
		{"wnative_address", ch.WNativeAddress},
	}
	for _, r := range required {
		if r.value == "" {
			return NewValidationError("section", "chain", r.field, ErrMissingRequiredField)
		}
		if !common.IsHexAddress(r.value) {
			return NewValidationError("section", "chain", r.field,
				fmt.Errorf("%w: not a hex address: %s", ErrInvalidValue, r.value))
		}
	}
	if ch.ValidatorAddress != "" && !common.IsHexAddress(ch.ValidatorAddress) {
		return NewValidationError("section", "chain", "validator_address",
			fmt.Errorf("%w: not a hex address: %s", ErrInvalidValue, ch.ValidatorAddress))
	}

	if ch.RPCTimeout <= 0 {
		return NewValidationError("section", "chain", "rpc_timeout_ms",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if ch.ReceiptTimeout <= 0 {
		return NewValidationError("section", "chain", "receipt_timeout_ms",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateHTTP() error {
	h := v.cfg.HTTP
	if h == nil {
		return fmt.Errorf("http configuration is nil")
	}

	if h.Port < 1 || h.Port > 65535 {
		return NewValidationError("section", "http", "port",
			fmt.Errorf("%w: must be between 1 and 65535", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s == nil {
		return fmt.Errorf("scheduler configuration is nil")
	}

	if s.PollInterval <= 0 {
		return NewValidationError("section", "scheduler", "poll_interval_ms",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.PollIntervalJitter < 0 {
		return NewValidationError("section", "scheduler", "poll_interval_jitter_ms",
			fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
	}
	if s.PollIntervalJitter >= s.PollInterval {
		return NewValidationError("section", "scheduler", "poll_interval_jitter_ms",
			fmt.Errorf("%w: must be less than poll_interval_ms", ErrInvalidValue))
	}
	if s.SelectBatch < 1 {
		return NewValidationError("section", "scheduler", "select_batch",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.MaxConcurrentCycles < 1 {
		return NewValidationError("section", "scheduler", "max_concurrent_cycles",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.CycleTimeout <= 0 {
		return NewValidationError("section", "scheduler", "cycle_timeout_ms",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.GracefulShutdownTimeout < 0 {
		return NewValidationError("section", "scheduler", "graceful_shutdown_ms",
			fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateCycle() error {
	c := v.cfg.Cycle
	if c == nil {
		return fmt.Errorf("cycle configuration is nil")
	}

	if c.MemoryRecall < 1 {
		return NewValidationError("section", "cycle", "memory_recall",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return NewValidationError("section", "cycle", "min_confidence",
			fmt.Errorf("%w: must be within [0,1]", ErrInvalidValue))
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return NewValidationError("section", "cycle", "max_attempts",
			fmt.Errorf("%w: must be between 1 and 10", ErrInvalidValue))
	}
	if c.RetryBaseDelay <= 0 {
		return NewValidationError("section", "cycle", "retry_base_delay_ms",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.MaxBackoff <= 0 {
		return NewValidationError("section", "cycle", "max_backoff_ms",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateMarketSync() error {
	ms := v.cfg.MarketSync
	if ms == nil {
		return fmt.Errorf("market sync configuration is nil")
	}

	// No sources means the loop never starts; interval checks would be noise.
	if len(ms.Sources) == 0 {
		return nil
	}

	if ms.Interval <= 0 {
		return NewValidationError("section", "market_sync", "interval_ms",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if ms.FetchTimeout <= 0 {
		return NewValidationError("section", "market_sync", "fetch_timeout_ms",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	for _, src := range ms.Sources {
		if src.Name == "" {
			return NewValidationError("signal_source", src.URL, "name", ErrMissingRequiredField)
		}
		if src.URL == "" {
			return NewValidationError("signal_source", src.Name, "url", ErrMissingRequiredField)
		}
		u, err := url.Parse(src.URL)
		if err != nil {
			return NewValidationError("signal_source", src.Name, "url",
				fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return NewValidationError("signal_source", src.Name, "url",
				fmt.Errorf("%w: scheme must be http or https", ErrInvalidValue))
		}
	}

	return nil
}

func (v *ConfigValidator) validateBlueprints() error {
	for agentType, bp := range v.cfg.Blueprints {
		if agentType == "" {
			return NewValidationError("blueprint", agentType, "agent_type", ErrMissingRequiredField)
		}
		if bp.Brain == "" {
			return NewValidationError("blueprint", agentType, "brain", ErrMissingRequiredField)
		}
		if bp.Perception == "" {
			return NewValidationError("blueprint", agentType, "perception", ErrMissingRequiredField)
		}
		if len(bp.Actions) == 0 {
			return NewValidationError("blueprint", agentType, "actions",
				fmt.Errorf("%w: at least one action required", ErrInvalidValue))
		}
		for _, action := range bp.Actions {
			if action == "" {
				return NewValidationError("blueprint", agentType, "actions",
					fmt.Errorf("%w: empty action name", ErrInvalidValue))
			}
		}

		if bp.Brain == "llm" && bp.LLMConfig == nil {
			return NewValidationError("blueprint", agentType, "llm",
				fmt.Errorf("%w: llm brain requires an llm config", ErrMissingRequiredField))
		}
		if llm := bp.LLMConfig; llm != nil {
			if llm.Provider == "" {
				return NewValidationError("blueprint", agentType, "llm.provider", ErrMissingRequiredField)
			}
			if llm.Model == "" {
				return NewValidationError("blueprint", agentType, "llm.model", ErrMissingRequiredField)
			}
			if llm.Temperature < 0 || llm.Temperature > 2 {
				return NewValidationError("blueprint", agentType, "llm.temperature",
					fmt.Errorf("%w: must be within [0,2]", ErrInvalidValue))
			}
			if llm.MaxTokens < 0 {
				return NewValidationError("blueprint", agentType, "llm.max_tokens",
					fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
			}
		}
	}

	return nil
}
