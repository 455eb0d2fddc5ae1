package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// validConfig builds a fully resolved configuration that passes validation.
// Each test mutates its own copy.
func validConfig() *Config {
	cfg := &Config{
		Database:   DefaultDatabaseConfig(),
		Chain:      DefaultChainConfig(),
		HTTP:       DefaultHTTPConfig(),
		Scheduler:  DefaultSchedulerConfig(),
		Cycle:      DefaultCycleConfig(),
		MarketSync: DefaultMarketSyncConfig(),
		Blueprints: map[string]*models.Blueprint{
			"dex_trader": {
				AgentType:  "dex_trader",
				Brain:      "hotpump_watchlist",
				Perception: "vault",
				Actions:    []string{"swap", "approve"},
			},
		},
	}
	cfg.Database.URL = "postgres://localhost:5432/autopilot"
	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Chain.ChainID = 8453
	cfg.Chain.RegistryAddress = testRegistryAddr
	cfg.Chain.ValidatorAddress = testValidatorAddr
	cfg.Chain.RouterAddress = testRouterAddr
	cfg.Chain.WNativeAddress = testWNativeAddr
	cfg.MarketSync.Sources = []SignalSourceConfig{
		{Name: "hotpump", URL: "https://signals.example.com/v1/pairs"},
	}
	return cfg
}

func TestValidateAll(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "valid configuration",
			mutate: func(*Config) {},
		},
		{
			name:   "missing database url",
			mutate: func(c *Config) { c.Database.URL = "" },
			errMsg: "field 'url'",
		},
		{
			name:   "max open conns zero",
			mutate: func(c *Config) { c.Database.MaxOpenConns = 0 },
			errMsg: "max_open_conns",
		},
		{
			name:   "negative idle conns",
			mutate: func(c *Config) { c.Database.MaxIdleConns = -1 },
			errMsg: "max_idle_conns",
		},
		{
			name:   "run records zero",
			mutate: func(c *Config) { c.Database.MaxRunRecords = 0 },
			errMsg: "max_run_records",
		},
		{
			name:   "missing rpc url",
			mutate: func(c *Config) { c.Chain.RPCURL = "" },
			errMsg: "rpc_url",
		},
		{
			name:   "chain id zero",
			mutate: func(c *Config) { c.Chain.ChainID = 0 },
			errMsg: "chain_id",
		},
		{
			name:   "missing registry address",
			mutate: func(c *Config) { c.Chain.RegistryAddress = "" },
			errMsg: "registry_address",
		},
		{
			name:   "registry address not hex",
			mutate: func(c *Config) { c.Chain.RegistryAddress = "0xzz" },
			errMsg: "not a hex address",
		},
		{
			name:   "missing router address",
			mutate: func(c *Config) { c.Chain.RouterAddress = "" },
			errMsg: "router_address",
		},
		{
			name:   "missing wnative address",
			mutate: func(c *Config) { c.Chain.WNativeAddress = "" },
			errMsg: "wnative_address",
		},
		{
			name:   "empty validator address is allowed",
			mutate: func(c *Config) { c.Chain.ValidatorAddress = "" },
		},
		{
			name:   "invalid validator address",
			mutate: func(c *Config) { c.Chain.ValidatorAddress = "1234" },
			errMsg: "validator_address",
		},
		{
			name:   "rpc timeout zero",
			mutate: func(c *Config) { c.Chain.RPCTimeout = 0 },
			errMsg: "rpc_timeout_ms",
		},
		{
			name:   "receipt timeout negative",
			mutate: func(c *Config) { c.Chain.ReceiptTimeout = -time.Second },
			errMsg: "receipt_timeout_ms",
		},
		{
			name:   "http port zero",
			mutate: func(c *Config) { c.HTTP.Port = 0 },
			errMsg: "port",
		},
		{
			name:   "http port too large",
			mutate: func(c *Config) { c.HTTP.Port = 70000 },
			errMsg: "between 1 and 65535",
		},
		{
			name:   "poll interval zero",
			mutate: func(c *Config) { c.Scheduler.PollInterval = 0 },
			errMsg: "poll_interval_ms",
		},
		{
			name:   "negative jitter",
			mutate: func(c *Config) { c.Scheduler.PollIntervalJitter = -time.Second },
			errMsg: "must be non-negative",
		},
		{
			name: "jitter not below poll interval",
			mutate: func(c *Config) {
				c.Scheduler.PollInterval = time.Second
				c.Scheduler.PollIntervalJitter = time.Second
			},
			errMsg: "must be less than poll_interval_ms",
		},
		{
			name:   "select batch zero",
			mutate: func(c *Config) { c.Scheduler.SelectBatch = 0 },
			errMsg: "select_batch",
		},
		{
			name:   "max concurrent cycles zero",
			mutate: func(c *Config) { c.Scheduler.MaxConcurrentCycles = 0 },
			errMsg: "max_concurrent_cycles",
		},
		{
			name:   "cycle timeout zero",
			mutate: func(c *Config) { c.Scheduler.CycleTimeout = 0 },
			errMsg: "cycle_timeout_ms",
		},
		{
			name:   "memory recall zero",
			mutate: func(c *Config) { c.Cycle.MemoryRecall = 0 },
			errMsg: "memory_recall",
		},
		{
			name:   "min confidence above one",
			mutate: func(c *Config) { c.Cycle.MinConfidence = 1.5 },
			errMsg: "min_confidence",
		},
		{
			name:   "min confidence negative",
			mutate: func(c *Config) { c.Cycle.MinConfidence = -0.1 },
			errMsg: "min_confidence",
		},
		{
			name:   "negative breaker threshold is allowed (breaker disabled)",
			mutate: func(c *Config) { c.Cycle.BreakerThreshold = -1 },
		},
		{
			name:   "max attempts zero",
			mutate: func(c *Config) { c.Cycle.MaxAttempts = 0 },
			errMsg: "max_attempts",
		},
		{
			name:   "max attempts too high",
			mutate: func(c *Config) { c.Cycle.MaxAttempts = 11 },
			errMsg: "between 1 and 10",
		},
		{
			name:   "retry base delay zero",
			mutate: func(c *Config) { c.Cycle.RetryBaseDelay = 0 },
			errMsg: "retry_base_delay_ms",
		},
		{
			name:   "max backoff zero",
			mutate: func(c *Config) { c.Cycle.MaxBackoff = 0 },
			errMsg: "max_backoff_ms",
		},
		{
			name: "sync interval zero with sources",
			mutate: func(c *Config) {
				c.MarketSync.Interval = 0
			},
			errMsg: "interval_ms",
		},
		{
			name: "sync interval irrelevant without sources",
			mutate: func(c *Config) {
				c.MarketSync.Interval = 0
				c.MarketSync.Sources = nil
			},
		},
		{
			name: "source missing name",
			mutate: func(c *Config) {
				c.MarketSync.Sources[0].Name = ""
			},
			errMsg: "field 'name'",
		},
		{
			name: "source missing url",
			mutate: func(c *Config) {
				c.MarketSync.Sources[0].URL = ""
			},
			errMsg: "field 'url'",
		},
		{
			name: "source url wrong scheme",
			mutate: func(c *Config) {
				c.MarketSync.Sources[0].URL = "ftp://signals.example.com"
			},
			errMsg: "scheme must be http or https",
		},
		{
			name: "blueprint missing brain",
			mutate: func(c *Config) {
				c.Blueprints["dex_trader"].Brain = ""
			},
			errMsg: "field 'brain'",
		},
		{
			name: "blueprint missing perception",
			mutate: func(c *Config) {
				c.Blueprints["dex_trader"].Perception = ""
			},
			errMsg: "field 'perception'",
		},
		{
			name: "blueprint without actions",
			mutate: func(c *Config) {
				c.Blueprints["dex_trader"].Actions = nil
			},
			errMsg: "at least one action required",
		},
		{
			name: "blueprint with empty action name",
			mutate: func(c *Config) {
				c.Blueprints["dex_trader"].Actions = []string{"swap", ""}
			},
			errMsg: "empty action name",
		},
		{
			name: "llm brain without llm config",
			mutate: func(c *Config) {
				c.Blueprints["dex_trader"].Brain = "llm"
			},
			errMsg: "llm brain requires an llm config",
		},
		{
			name: "llm config missing model",
			mutate: func(c *Config) {
				c.Blueprints["dex_trader"].LLMConfig = &models.LLMConfig{Provider: "openai"}
			},
			errMsg: "llm.model",
		},
		{
			name: "llm temperature out of range",
			mutate: func(c *Config) {
				c.Blueprints["dex_trader"].LLMConfig = &models.LLMConfig{
					Provider:    "openai",
					Model:       "gpt-4o-mini",
					Temperature: 3,
				}
			},
			errMsg: "llm.temperature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := NewValidator(cfg).ValidateAll()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateNilSections(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler = nil

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler configuration is nil")
}

func TestValidationErrorContext(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = ""

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "section", verr.Component)
	assert.Equal(t, "database", verr.ID)
	assert.Equal(t, "url", verr.Field)
}
