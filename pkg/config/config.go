// Package config resolves the runner's configuration from built-in
// defaults, an optional autopilot.yaml, and environment overrides, in that
// order of precedence (later wins). Secrets never live in the resolved
// Config: key material is referenced by environment variable name only and
// read at assembly time.
package config

import (
	"time"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// Config is the umbrella configuration object returned by Initialize and
// threaded through assembly in cmd/autopilot.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Database   *DatabaseConfig
	Chain      *ChainConfig
	HTTP       *HTTPConfig
	Scheduler  *SchedulerConfig
	Cycle      *CycleConfig
	MarketSync *MarketSyncConfig

	// Blueprints is the merged built-in + file-defined blueprint set keyed
	// by agent type. Database-stored blueprints layer on top at runtime via
	// the agent.BlueprintCache.
	Blueprints map[string]*models.Blueprint
}

// DatabaseConfig contains postgres connection and retention settings.
type DatabaseConfig struct {
	// URL is the postgres connection string. Usually supplied through the
	// DATABASE_URL environment variable rather than YAML.
	URL string

	// Connection pool settings.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// MaxRunRecords caps the runs table per chain; recording a run trims
	// the oldest rows beyond it in the same transaction.
	MaxRunRecords int
}

// ChainConfig contains RPC endpoint and contract addresses for the chain
// the runner operates on. Addresses are kept as hex strings here and parsed
// into common.Address at assembly.
type ChainConfig struct {
	// RPCURL is the JSON-RPC endpoint. Usually supplied through RPC_URL.
	RPCURL string

	// ChainID is the EVM chain id the runner is bound to. Dial verifies the
	// node agrees.
	ChainID int64

	// RegistryAddress is the NFA agent registry contract.
	RegistryAddress string

	// ValidatorAddress is the on-chain hard-policy validator. Empty means
	// the hard layer is a no-op.
	ValidatorAddress string

	// RouterAddress is the DEX router that swap calldata targets.
	RouterAddress string

	// WNativeAddress is the wrapped-native token used by wrap/unwrap.
	WNativeAddress string

	// OperatorKeyEnv names the environment variable holding the operator's
	// hex-encoded private key. The key itself is never stored in Config.
	OperatorKeyEnv string

	// RPCTimeout bounds individual chain reads; ReceiptTimeout bounds
	// waiting for a transaction to be mined.
	RPCTimeout     time.Duration
	ReceiptTimeout time.Duration

	// GasCap bounds the gas limit when estimation fails or overshoots.
	// Zero falls back to the signer's built-in cap.
	GasCap uint64
}

// HTTPConfig contains control-plane listener settings.
type HTTPConfig struct {
	Host string
	Port int

	// APIKeyEnv names the environment variable holding the API key that
	// gates mutating endpoints. An empty value in that variable disables
	// authentication (development mode).
	APIKeyEnv string
}

// SchedulerConfig contains driver loop and concurrency settings.
type SchedulerConfig struct {
	// PollInterval is the base cadence of the driver loop.
	PollInterval time.Duration

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration

	// SelectBatch caps how many due agents one tick picks up.
	SelectBatch int

	// MaxConcurrentCycles is the global limit of cycles running at once.
	MaxConcurrentCycles int64

	// CycleTimeout is the maximum wall time for one cognitive cycle.
	CycleTimeout time.Duration

	// GracefulShutdownTimeout is how long Stop waits for outstanding
	// cycles before canceling them.
	GracefulShutdownTimeout time.Duration
}

// CycleConfig tunes the cognitive cycle engine.
type CycleConfig struct {
	// MemoryRecall bounds how many memories are recalled before thinking.
	MemoryRecall int

	// MinConfidence blocks decisions below the threshold. Zero disables
	// the check.
	MinConfidence float64

	// BreakerThreshold is the number of consecutive failures of the same
	// action that trips the circuit breaker. Zero means the default;
	// negative disables the breaker.
	BreakerThreshold int

	// MaxAttempts and RetryBaseDelay tune the retry wrapper around chain
	// reads. Only infrastructure failures are retried.
	MaxAttempts    int
	RetryBaseDelay time.Duration

	// MaxBackoff caps the exponential next-check backoff applied after
	// infrastructure failures.
	MaxBackoff time.Duration

	// WaitForReceipt makes executed cycles wait for the transaction
	// receipt and record gas usage.
	WaitForReceipt bool

	// ShadowMode plans every decision a second time with the legacy
	// planner and records the comparison. The shadow plan is never
	// submitted to the chain.
	ShadowMode bool
}

// MarketSyncConfig contains the market-signal pull loop settings. An empty
// source list disables the loop.
type MarketSyncConfig struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Sources      []SignalSourceConfig
}

// SignalSourceConfig describes one HTTP signal feed.
type SignalSourceConfig struct {
	Name string
	URL  string

	// AuthTokenEnv names the environment variable holding the feed's
	// bearer token, if the feed requires one.
	AuthTokenEnv string
}

// DefaultDatabaseConfig returns the built-in database defaults.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRunRecords:   1000,
	}
}

// DefaultChainConfig returns the built-in chain defaults. RPCURL, ChainID,
// and the contract addresses have no defaults and must come from YAML or
// the environment.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		OperatorKeyEnv: "OPERATOR_KEY",
		RPCTimeout:     10 * time.Second,
		ReceiptTimeout: 90 * time.Second,
	}
}

// DefaultHTTPConfig returns the built-in HTTP defaults.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Host:      "0.0.0.0",
		Port:      8080,
		APIKeyEnv: "API_KEY",
	}
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PollInterval:            5 * time.Second,
		PollIntervalJitter:      1 * time.Second,
		SelectBatch:             50,
		MaxConcurrentCycles:     4,
		CycleTimeout:            2 * time.Minute,
		GracefulShutdownTimeout: 10 * time.Second,
	}
}

// DefaultCycleConfig returns the built-in cycle defaults.
func DefaultCycleConfig() *CycleConfig {
	return &CycleConfig{
		MemoryRecall:     10,
		BreakerThreshold: 3,
		MaxAttempts:      3,
		RetryBaseDelay:   500 * time.Millisecond,
		MaxBackoff:       30 * time.Minute,
	}
}

// DefaultMarketSyncConfig returns the built-in market sync defaults.
func DefaultMarketSyncConfig() *MarketSyncConfig {
	return &MarketSyncConfig{
		Interval:     30 * time.Second,
		FetchTimeout: 10 * time.Second,
	}
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Blueprints    int
	SignalSources int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{Blueprints: len(c.Blueprints)}
	if c.MarketSync != nil {
		s.SignalSources = len(c.MarketSync.Sources)
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Blueprint retrieves a blueprint by agent type.
func (c *Config) Blueprint(agentType string) (*models.Blueprint, bool) {
	bp, ok := c.Blueprints[agentType]
	return bp, ok
}
