// Package api is the operator control plane: enable/disable agents, upsert
// strategies, ingest market signals, and read fleet status, safety SLAs,
// and shadow-planner metrics over HTTP.
//
// Mutating routes require the API key; read routes are open except /metrics,
// which is key-gated when a key is configured.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nfa-labs/autopilot/pkg/marketsync"
	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/scheduler"
	"github.com/nfa-labs/autopilot/pkg/store"
)

// Admin is the scheduler's administrative surface the handlers call into.
type Admin interface {
	Enable(ctx context.Context, req scheduler.EnableRequest) (*scheduler.EnableResult, error)
	Disable(ctx context.Context, req scheduler.DisableRequest) (*scheduler.DisableResult, error)
	UpsertStrategy(ctx context.Context, strat *models.StrategyConfig) (*models.StrategyConfig, error)
	Status(ctx context.Context, tokenID int64, runsLimit int) (*scheduler.AgentStatus, error)
	StatusAll(ctx context.Context) ([]*scheduler.AgentStatus, error)
	ReloadBlueprints(ctx context.Context) ([]string, error)
	Snapshot() scheduler.Snapshot
}

// SignalSyncer triggers an immediate pull of all configured signal sources.
type SignalSyncer interface {
	SyncNow(ctx context.Context) (int, error)
}

// Config carries the server's dependencies and settings.
type Config struct {
	// Host and Port form the listen address.
	Host string
	Port int

	// APIKey guards mutating routes and, when set, /metrics. Empty
	// disables auth entirely.
	APIKey string

	// ChainID stamps ingested signals that arrive unscoped and rejects
	// enable requests aimed at another chain.
	ChainID int64

	// Registry is the agent registry this runner serves; enable requests
	// naming a different nfaAddress are rejected.
	Registry common.Address

	// Admin is required. Syncer may be nil when no signal sources are
	// configured; the sync route then answers 409.
	Admin  Admin
	Syncer SignalSyncer
	Store  store.Store
}

// Server is the control-plane HTTP server.
type Server struct {
	cfg    Config
	engine *gin.Engine
	http   *http.Server
	now    func() time.Time
}

// NewServer builds the server and registers all routes.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		cfg:    cfg,
		engine: engine,
		now:    func() time.Time { return time.Now().UTC() },
	}

	engine.Use(gin.Recovery(), requestLogger(), securityHeaders())
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, &ErrorResponse{Error: "route not found", Code: "NOT_FOUND"})
	})

	keyed := engine.Group("/", requireAPIKey(cfg.APIKey))
	keyed.POST("/enable", s.enableHandler)
	keyed.POST("/disable", s.disableHandler)
	keyed.POST("/strategy/upsert", s.upsertStrategyHandler)
	keyed.POST("/blueprints/reload", s.reloadBlueprintsHandler)
	keyed.POST("/market/signal", s.ingestSignalHandler)
	keyed.POST("/market/signal/batch", s.ingestSignalBatchHandler)
	keyed.POST("/market/signal/sync", s.signalSyncHandler)
	keyed.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.GET("/status", s.statusHandler)
	engine.GET("/status/all", s.statusAllHandler)
	engine.GET("/autopilots", s.autopilotsHandler)
	engine.GET("/health", s.healthHandler)
	engine.GET("/shadow/metrics", s.shadowMetricsHandler)
	engine.GET("/v3/safety/:tokenId/metrics", s.safetyMetricsHandler)
	engine.GET("/v3/safety/:tokenId/timeline", s.safetyTimelineHandler)
	engine.GET("/v3/safety/:tokenId/violations", s.safetyViolationsHandler)

	return s
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving on the configured address. It blocks until the
// listener fails or Shutdown is called, mirroring http.Server.ListenAndServe.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Control plane listening", "addr", addr)
	err := s.http.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// syncerConfigured reports whether a signal syncer was wired in.
func (s *Server) syncerConfigured() bool {
	return s.cfg.Syncer != nil
}

var (
	_ Admin        = (*scheduler.Scheduler)(nil)
	_ SignalSyncer = (*marketsync.Syncer)(nil)
)
