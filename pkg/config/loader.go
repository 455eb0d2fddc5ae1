package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// ConfigFileName is the optional YAML file read from the config directory.
const ConfigFileName = "autopilot.yaml"

// autopilotYAMLConfig represents the complete autopilot.yaml file
// structure. Durations are expressed as millisecond integers so the file
// format lines up with the *_MS environment knobs.
type autopilotYAMLConfig struct {
	Database   *databaseYAMLConfig            `yaml:"database"`
	Chain      *chainYAMLConfig               `yaml:"chain"`
	HTTP       *httpYAMLConfig                `yaml:"http"`
	Scheduler  *schedulerYAMLConfig           `yaml:"scheduler"`
	Cycle      *cycleYAMLConfig               `yaml:"cycle"`
	MarketSync *marketSyncYAMLConfig          `yaml:"market_sync"`
	Blueprints map[string]blueprintYAMLConfig `yaml:"blueprints"`
}

type databaseYAMLConfig struct {
	URL               string `yaml:"url"`
	MaxOpenConns      int    `yaml:"max_open_conns"`
	MaxIdleConns      int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMs int64  `yaml:"conn_max_lifetime_ms"`
	ConnMaxIdleTimeMs int64  `yaml:"conn_max_idle_time_ms"`
	MaxRunRecords     int    `yaml:"max_run_records"`
}

type chainYAMLConfig struct {
	RPCURL           string `yaml:"rpc_url"`
	ChainID          int64  `yaml:"chain_id"`
	RegistryAddress  string `yaml:"registry_address"`
	ValidatorAddress string `yaml:"validator_address"`
	RouterAddress    string `yaml:"router_address"`
	WNativeAddress   string `yaml:"wnative_address"`
	OperatorKeyEnv   string `yaml:"operator_key_env"`
	RPCTimeoutMs     int64  `yaml:"rpc_timeout_ms"`
	ReceiptTimeoutMs int64  `yaml:"receipt_timeout_ms"`
	GasCap           uint64 `yaml:"gas_cap"`
}

type httpYAMLConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type schedulerYAMLConfig struct {
	PollIntervalMs       int64 `yaml:"poll_interval_ms"`
	PollIntervalJitterMs int64 `yaml:"poll_interval_jitter_ms"`
	SelectBatch          int   `yaml:"select_batch"`
	MaxConcurrentCycles  int64 `yaml:"max_concurrent_cycles"`
	CycleTimeoutMs       int64 `yaml:"cycle_timeout_ms"`
	GracefulShutdownMs   int64 `yaml:"graceful_shutdown_ms"`
}

type cycleYAMLConfig struct {
	MemoryRecall     int     `yaml:"memory_recall"`
	MinConfidence    float64 `yaml:"min_confidence"`
	BreakerThreshold int     `yaml:"breaker_threshold"`
	MaxAttempts      int     `yaml:"max_attempts"`
	RetryBaseDelayMs int64   `yaml:"retry_base_delay_ms"`
	MaxBackoffMs     int64   `yaml:"max_backoff_ms"`
	WaitForReceipt   bool    `yaml:"wait_for_receipt"`
	ShadowMode       bool    `yaml:"shadow_mode"`
}

type marketSyncYAMLConfig struct {
	IntervalMs     int64                    `yaml:"interval_ms"`
	FetchTimeoutMs int64                    `yaml:"fetch_timeout_ms"`
	Sources        []signalSourceYAMLConfig `yaml:"sources"`
}

type signalSourceYAMLConfig struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	AuthTokenEnv string `yaml:"auth_token_env"`
}

type blueprintYAMLConfig struct {
	Brain      string         `yaml:"brain"`
	Perception string         `yaml:"perception"`
	Actions    []string       `yaml:"actions"`
	LLM        *llmYAMLConfig `yaml:"llm"`
}

type llmYAMLConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Overlay the optional autopilot.yaml ({{.VAR}} env-expanded)
//  3. Merge built-in + file-defined blueprints
//  4. Apply environment variable overrides
//  5. Validate the resolved configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"chain_id", cfg.Chain.ChainID,
		"blueprints", stats.Blueprints,
		"signal_sources", stats.SignalSources)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load autopilot.yaml; the file is optional, so a missing file
	// means defaults plus environment.
	fileCfg, err := loader.loadAutopilotYAML()
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	// 2. Resolve sections: built-in defaults, file values override
	database := resolveDatabaseConfig(fileCfg.Database)
	chainCfg := resolveChainConfig(fileCfg.Chain)
	httpCfg := resolveHTTPConfig(fileCfg.HTTP)
	schedulerCfg := resolveSchedulerConfig(fileCfg.Scheduler)
	cycleCfg := resolveCycleConfig(fileCfg.Cycle)
	marketSync := resolveMarketSyncConfig(fileCfg.MarketSync)

	// 3. Merge built-in + file-defined blueprints (file overrides built-in)
	blueprints, err := mergeBlueprints(BuiltinBlueprints(), fileCfg.Blueprints)
	if err != nil {
		return nil, fmt.Errorf("failed to merge blueprints: %w", err)
	}

	cfg := &Config{
		configDir:  configDir,
		Database:   database,
		Chain:      chainCfg,
		HTTP:       httpCfg,
		Scheduler:  schedulerCfg,
		Cycle:      cycleCfg,
		MarketSync: marketSync,
		Blueprints: blueprints,
	}

	// 4. Environment variables override file values
	applyEnvOverrides(cfg)

	return cfg, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadAutopilotYAML() (*autopilotYAMLConfig, error) {
	var config autopilotYAMLConfig

	// Initialize map to avoid nil map
	config.Blueprints = make(map[string]blueprintYAMLConfig)

	if err := l.loadYAML(ConfigFileName, &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Info("No configuration file found, using defaults and environment",
				"file", ConfigFileName)
			return &config, nil
		}
		return nil, err
	}

	return &config, nil
}

// resolveDatabaseConfig resolves database configuration from YAML, applying defaults.
func resolveDatabaseConfig(y *databaseYAMLConfig) *DatabaseConfig {
	cfg := DefaultDatabaseConfig()
	if y == nil {
		return cfg
	}

	if y.URL != "" {
		cfg.URL = y.URL
	}
	if y.MaxOpenConns > 0 {
		cfg.MaxOpenConns = y.MaxOpenConns
	}
	if y.MaxIdleConns > 0 {
		cfg.MaxIdleConns = y.MaxIdleConns
	}
	if y.ConnMaxLifetimeMs > 0 {
		cfg.ConnMaxLifetime = msDuration(y.ConnMaxLifetimeMs)
	}
	if y.ConnMaxIdleTimeMs > 0 {
		cfg.ConnMaxIdleTime = msDuration(y.ConnMaxIdleTimeMs)
	}
	if y.MaxRunRecords > 0 {
		cfg.MaxRunRecords = y.MaxRunRecords
	}

	return cfg
}

// resolveChainConfig resolves chain configuration from YAML, applying defaults.
func resolveChainConfig(y *chainYAMLConfig) *ChainConfig {
	cfg := DefaultChainConfig()
	if y == nil {
		return cfg
	}

	if y.RPCURL != "" {
		cfg.RPCURL = y.RPCURL
	}
	if y.ChainID > 0 {
		cfg.ChainID = y.ChainID
	}
	if y.RegistryAddress != "" {
		cfg.RegistryAddress = y.RegistryAddress
	}
	if y.ValidatorAddress != "" {
		cfg.ValidatorAddress = y.ValidatorAddress
	}
	if y.RouterAddress != "" {
		cfg.RouterAddress = y.RouterAddress
	}
	if y.WNativeAddress != "" {
		cfg.WNativeAddress = y.WNativeAddress
	}
	if y.OperatorKeyEnv != "" {
		cfg.OperatorKeyEnv = y.OperatorKeyEnv
	}
	if y.RPCTimeoutMs > 0 {
		cfg.RPCTimeout = msDuration(y.RPCTimeoutMs)
	}
	if y.ReceiptTimeoutMs > 0 {
		cfg.ReceiptTimeout = msDuration(y.ReceiptTimeoutMs)
	}
	if y.GasCap > 0 {
		cfg.GasCap = y.GasCap
	}

	return cfg
}

// resolveHTTPConfig resolves HTTP configuration from YAML, applying defaults.
func resolveHTTPConfig(y *httpYAMLConfig) *HTTPConfig {
	cfg := DefaultHTTPConfig()
	if y == nil {
		return cfg
	}

	if y.Host != "" {
		cfg.Host = y.Host
	}
	if y.Port > 0 {
		cfg.Port = y.Port
	}
	if y.APIKeyEnv != "" {
		cfg.APIKeyEnv = y.APIKeyEnv
	}

	return cfg
}

// resolveSchedulerConfig resolves scheduler configuration from YAML, applying defaults.
func resolveSchedulerConfig(y *schedulerYAMLConfig) *SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	if y == nil {
		return cfg
	}

	if y.PollIntervalMs > 0 {
		cfg.PollInterval = msDuration(y.PollIntervalMs)
	}
	if y.PollIntervalJitterMs > 0 {
		cfg.PollIntervalJitter = msDuration(y.PollIntervalJitterMs)
	}
	if y.SelectBatch > 0 {
		cfg.SelectBatch = y.SelectBatch
	}
	if y.MaxConcurrentCycles > 0 {
		cfg.MaxConcurrentCycles = y.MaxConcurrentCycles
	}
	if y.CycleTimeoutMs > 0 {
		cfg.CycleTimeout = msDuration(y.CycleTimeoutMs)
	}
	if y.GracefulShutdownMs > 0 {
		cfg.GracefulShutdownTimeout = msDuration(y.GracefulShutdownMs)
	}

	return cfg
}

// resolveCycleConfig resolves cycle configuration from YAML, applying defaults.
func resolveCycleConfig(y *cycleYAMLConfig) *CycleConfig {
	cfg := DefaultCycleConfig()
	if y == nil {
		return cfg
	}

	if y.MemoryRecall > 0 {
		cfg.MemoryRecall = y.MemoryRecall
	}
	if y.MinConfidence != 0 {
		cfg.MinConfidence = y.MinConfidence
	}
	if y.BreakerThreshold != 0 {
		cfg.BreakerThreshold = y.BreakerThreshold
	}
	if y.MaxAttempts > 0 {
		cfg.MaxAttempts = y.MaxAttempts
	}
	if y.RetryBaseDelayMs > 0 {
		cfg.RetryBaseDelay = msDuration(y.RetryBaseDelayMs)
	}
	if y.MaxBackoffMs > 0 {
		cfg.MaxBackoff = msDuration(y.MaxBackoffMs)
	}
	cfg.WaitForReceipt = y.WaitForReceipt
	cfg.ShadowMode = y.ShadowMode

	return cfg
}

// resolveMarketSyncConfig resolves market sync configuration from YAML, applying defaults.
func resolveMarketSyncConfig(y *marketSyncYAMLConfig) *MarketSyncConfig {
	cfg := DefaultMarketSyncConfig()
	if y == nil {
		return cfg
	}

	if y.IntervalMs > 0 {
		cfg.Interval = msDuration(y.IntervalMs)
	}
	if y.FetchTimeoutMs > 0 {
		cfg.FetchTimeout = msDuration(y.FetchTimeoutMs)
	}
	for _, src := range y.Sources {
		cfg.Sources = append(cfg.Sources, SignalSourceConfig{
			Name:         src.Name,
			URL:          src.URL,
			AuthTokenEnv: src.AuthTokenEnv,
		})
	}

	return cfg
}

// mergeBlueprints layers file-defined blueprints over the built-in set.
// A file entry with the same agent type overrides field-by-field: unset
// fields keep the built-in value, so overriding just the brain keeps the
// built-in action list.
func mergeBlueprints(builtin map[string]*models.Blueprint, file map[string]blueprintYAMLConfig) (map[string]*models.Blueprint, error) {
	merged := make(map[string]*models.Blueprint, len(builtin)+len(file))
	for agentType, bp := range builtin {
		merged[agentType] = cloneBlueprint(bp)
	}

	for agentType, y := range file {
		overlay := y.toBlueprint(agentType)
		base, ok := merged[agentType]
		if !ok {
			merged[agentType] = overlay
			continue
		}
		if err := mergo.Merge(base, overlay, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge blueprint %q: %w", agentType, err)
		}
	}

	return merged, nil
}

func (y blueprintYAMLConfig) toBlueprint(agentType string) *models.Blueprint {
	bp := &models.Blueprint{
		AgentType:  agentType,
		Brain:      y.Brain,
		Perception: y.Perception,
		Actions:    y.Actions,
	}
	if y.LLM != nil {
		bp.LLMConfig = &models.LLMConfig{
			Provider:    y.LLM.Provider,
			Model:       y.LLM.Model,
			BaseURL:     y.LLM.BaseURL,
			APIKeyEnv:   y.LLM.APIKeyEnv,
			Temperature: y.LLM.Temperature,
			MaxTokens:   y.LLM.MaxTokens,
		}
	}
	return bp
}

// applyEnvOverrides layers process environment variables over the resolved
// configuration. Variables mirror the YAML fields; *_MS values are
// millisecond integers. Unset or empty variables leave the current value.
func applyEnvOverrides(cfg *Config) {
	envString("DATABASE_URL", &cfg.Database.URL)

	envString("RPC_URL", &cfg.Chain.RPCURL)
	envInt64("CHAIN_ID", &cfg.Chain.ChainID)
	envString("REGISTRY_ADDRESS", &cfg.Chain.RegistryAddress)
	envString("VALIDATOR_ADDRESS", &cfg.Chain.ValidatorAddress)
	envString("ROUTER_ADDRESS", &cfg.Chain.RouterAddress)
	envString("WNATIVE_ADDRESS", &cfg.Chain.WNativeAddress)
	envDurationMs("RPC_TIMEOUT_MS", &cfg.Chain.RPCTimeout)
	envDurationMs("RECEIPT_TIMEOUT_MS", &cfg.Chain.ReceiptTimeout)

	envString("HTTP_HOST", &cfg.HTTP.Host)
	envInt("HTTP_PORT", &cfg.HTTP.Port)

	envDurationMs("POLL_INTERVAL_MS", &cfg.Scheduler.PollInterval)
	envInt64("MAX_CONCURRENT_CYCLES", &cfg.Scheduler.MaxConcurrentCycles)
	envDurationMs("CYCLE_TIMEOUT_MS", &cfg.Scheduler.CycleTimeout)
	envDurationMs("GRACEFUL_SHUTDOWN_MS", &cfg.Scheduler.GracefulShutdownTimeout)

	envBool("SHADOW_MODE", &cfg.Cycle.ShadowMode)
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring invalid integer environment override", "var", key, "value", v, "error", err)
		return
	}
	*dst = n
}

func envInt64(key string, dst *int64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("Ignoring invalid integer environment override", "var", key, "value", v, "error", err)
		return
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring invalid boolean environment override", "var", key, "value", v, "error", err)
		return
	}
	*dst = b
}

func envDurationMs(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("Ignoring invalid millisecond environment override", "var", key, "value", v, "error", err)
		return
	}
	*dst = msDuration(ms)
}
