// Autopilot runner — drives autonomous on-chain agents through their
// cognitive cycles, keeps market signals fresh, and serves the operator
// control plane over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/nfa-labs/autopilot/pkg/actions"
	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/api"
	"github.com/nfa-labs/autopilot/pkg/brain/llm"
	"github.com/nfa-labs/autopilot/pkg/brain/rule"
	"github.com/nfa-labs/autopilot/pkg/chain"
	"github.com/nfa-labs/autopilot/pkg/config"
	"github.com/nfa-labs/autopilot/pkg/guardrails"
	"github.com/nfa-labs/autopilot/pkg/marketsync"
	"github.com/nfa-labs/autopilot/pkg/memory"
	"github.com/nfa-labs/autopilot/pkg/perception"
	"github.com/nfa-labs/autopilot/pkg/runner"
	"github.com/nfa-labs/autopilot/pkg/scheduler"
	"github.com/nfa-labs/autopilot/pkg/store"
	"github.com/nfa-labs/autopilot/pkg/version"
)

// Exit codes: 1 for configuration errors, 2 for unrecoverable database
// errors at startup.
const (
	exitConfig = 1
	exitDB     = 2
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting autopilot",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(exitConfig)
	}

	// 2. Connect to PostgreSQL and apply migrations
	st, err := store.New(ctx, store.Config{
		URL:             cfg.Database.URL,
		MaxRunRecords:   cfg.Database.MaxRunRecords,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(exitDB)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	if err := store.Migrate(st.DB()); err != nil {
		slog.Error("Failed to apply database migrations", "error", err)
		os.Exit(exitDB)
	}
	slog.Info("Connected to PostgreSQL database")

	// 3. Connect to the chain
	operatorKey := os.Getenv(cfg.Chain.OperatorKeyEnv)
	if operatorKey == "" {
		slog.Warn("Operator key not set, running read-only: enable and execution will fail",
			"env", cfg.Chain.OperatorKeyEnv)
	}
	chainClient, err := chain.Dial(ctx, chain.Config{
		RPCURL:         cfg.Chain.RPCURL,
		ChainID:        cfg.Chain.ChainID,
		Registry:       common.HexToAddress(cfg.Chain.RegistryAddress),
		Validator:      validatorAddress(cfg.Chain.ValidatorAddress),
		OperatorKey:    operatorKey,
		RPCTimeout:     cfg.Chain.RPCTimeout,
		ReceiptTimeout: cfg.Chain.ReceiptTimeout,
		GasCap:         cfg.Chain.GasCap,
	})
	if err != nil {
		slog.Error("Failed to connect to chain RPC", "error", err)
		os.Exit(exitConfig)
	}
	slog.Info("Connected to chain",
		"chain_id", cfg.Chain.ChainID,
		"operator", chainClient.Operator().Hex())

	// 4. Register capability modules
	registries := agent.NewRegistries()
	if err := actions.Register(registries, actions.Config{
		Router:  common.HexToAddress(cfg.Chain.RouterAddress),
		WNative: common.HexToAddress(cfg.Chain.WNativeAddress),
	}); err != nil {
		slog.Error("Failed to register actions", "error", err)
		os.Exit(exitConfig)
	}
	if err := rule.Register(registries); err != nil {
		slog.Error("Failed to register rule brains", "error", err)
		os.Exit(exitConfig)
	}
	if err := llm.Register(registries); err != nil {
		slog.Error("Failed to register llm brain", "error", err)
		os.Exit(exitConfig)
	}
	if err := registries.RegisterPerception("vault", perception.Factory(chainClient, st, nil)); err != nil {
		slog.Error("Failed to register perception", "error", err)
		os.Exit(exitConfig)
	}
	if err := registries.RegisterMemory("store", memory.Factory(st)); err != nil {
		slog.Error("Failed to register memory", "error", err)
		os.Exit(exitConfig)
	}
	if err := registries.RegisterGuardrail("soft_policy", guardrails.SoftPolicyFactory(st)); err != nil {
		slog.Error("Failed to register soft policy", "error", err)
		os.Exit(exitConfig)
	}
	if err := registries.RegisterGuardrail("hard_policy", guardrails.HardPolicyFactory(chainClient)); err != nil {
		slog.Error("Failed to register hard policy", "error", err)
		os.Exit(exitConfig)
	}

	// 5. Build the agent factory: built-in and file blueprints, overlaid
	// with store-defined ones when present
	blueprints := agent.NewBlueprintCache(cfg.Blueprints)
	if err := blueprints.LoadFrom(ctx, st); err != nil {
		slog.Warn("Could not load store blueprints, continuing with configured set", "error", err)
	}
	factory := agent.NewFactory(registries, blueprints)
	slog.Info("Agent factory ready", "blueprints", blueprints.Types())

	// 6. Build the cycle engine
	engine := runner.New(chainClient, st, runner.Config{
		ChainID:          cfg.Chain.ChainID,
		MemoryRecall:     cfg.Cycle.MemoryRecall,
		MinConfidence:    cfg.Cycle.MinConfidence,
		BreakerThreshold: cfg.Cycle.BreakerThreshold,
		MaxAttempts:      cfg.Cycle.MaxAttempts,
		RetryBaseDelay:   cfg.Cycle.RetryBaseDelay,
		MaxBackoff:       cfg.Cycle.MaxBackoff,
		WaitForReceipt:   cfg.Cycle.WaitForReceipt,
		ShadowMode:       cfg.Cycle.ShadowMode,
	})
	if cfg.Cycle.ShadowMode {
		slog.Info("Shadow planner comparison enabled")
	}

	// 7. Start the scheduler
	sched := scheduler.New(st, chainClient, factory, engine, scheduler.Config{
		ChainID:                 cfg.Chain.ChainID,
		PollInterval:            cfg.Scheduler.PollInterval,
		PollJitter:              cfg.Scheduler.PollIntervalJitter,
		SelectBatch:             cfg.Scheduler.SelectBatch,
		MaxConcurrentCycles:     cfg.Scheduler.MaxConcurrentCycles,
		CycleTimeout:            cfg.Scheduler.CycleTimeout,
		GracefulShutdownTimeout: cfg.Scheduler.GracefulShutdownTimeout,
	})
	sched.Start(ctx)

	// 8. Start the market signal syncer (when sources are configured)
	var syncer *marketsync.Syncer
	if len(cfg.MarketSync.Sources) > 0 {
		sources := make([]marketsync.Source, 0, len(cfg.MarketSync.Sources))
		for _, src := range cfg.MarketSync.Sources {
			sources = append(sources, marketsync.NewHTTPSource(marketsync.HTTPSourceConfig{
				Name:      src.Name,
				URL:       src.URL,
				AuthToken: os.Getenv(src.AuthTokenEnv),
				ChainID:   cfg.Chain.ChainID,
				Timeout:   cfg.MarketSync.FetchTimeout,
			}))
		}
		syncer = marketsync.New(st, sources, marketsync.Config{
			Interval:     cfg.MarketSync.Interval,
			FetchTimeout: cfg.MarketSync.FetchTimeout,
		})
		syncer.Start(ctx)
		slog.Info("Market signal syncer started", "sources", len(sources))
	}

	// 9. Start the control plane (non-blocking)
	apiCfg := api.Config{
		Host:     cfg.HTTP.Host,
		Port:     cfg.HTTP.Port,
		APIKey:   os.Getenv(cfg.HTTP.APIKeyEnv),
		ChainID:  cfg.Chain.ChainID,
		Registry: common.HexToAddress(cfg.Chain.RegistryAddress),
		Admin:    sched,
		Store:    st,
	}
	if syncer != nil {
		apiCfg.Syncer = syncer
	}
	if apiCfg.APIKey == "" {
		slog.Warn("API key not set, control plane is unauthenticated", "env", cfg.HTTP.APIKeyEnv)
	}
	httpServer := api.NewServer(apiCfg)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Autopilot started",
		"chain_id", cfg.Chain.ChainID,
		"http_port", cfg.HTTP.Port)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop feeding work, drain cycles, then close
	// the control plane
	if syncer != nil {
		syncer.Stop()
		slog.Info("Market signal syncer stopped")
	}

	sched.Stop()
	slog.Info("Scheduler stopped")

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// validatorAddress parses the optional hard-policy validator address; empty
// means the hard layer passes everything.
func validatorAddress(addr string) common.Address {
	if addr == "" {
		return common.Address{}
	}
	return common.HexToAddress(addr)
}
