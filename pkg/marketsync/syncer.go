package marketsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nfa-labs/autopilot/pkg/metrics"
	"github.com/nfa-labs/autopilot/pkg/models"
)

// SignalSink is the store slice the syncer writes through.
type SignalSink interface {
	BatchUpsertMarketSignals(ctx context.Context, signals []*models.MarketSignal) (int, error)
}

// Config tunes the syncer.
type Config struct {
	// Interval is the pull cadence. Default 30s.
	Interval time.Duration

	// FetchTimeout bounds each source's fetch within a round. Default 10s.
	FetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	return c
}

// Syncer pulls every source on an interval and lands the union in one
// batch upsert. Sources are independent: one failing feed is logged and
// skipped, and a round only errors when every source failed.
type Syncer struct {
	cfg     Config
	sink    SignalSink
	sources []Source

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a syncer over the given sources.
func New(sink SignalSink, sources []Source, cfg Config) *Syncer {
	return &Syncer{
		cfg:     cfg.withDefaults(),
		sink:    sink,
		sources: sources,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the sync loop in a goroutine. With no sources configured it
// does nothing.
func (s *Syncer) Start(ctx context.Context) {
	if len(s.sources) == 0 {
		slog.Info("Market sync disabled, no sources configured")
		return
	}
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the loop and waits for an in-flight round to finish. Safe to
// call twice.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Syncer) run(ctx context.Context) {
	defer s.wg.Done()

	log := slog.With("component", "marketsync")
	log.Info("Market sync started", "sources", len(s.sources), "interval", s.cfg.Interval)

	for {
		select {
		case <-s.stopCh:
			log.Info("Market sync shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, market sync shutting down")
			return
		default:
			if _, err := s.SyncNow(ctx); err != nil {
				log.Error("Sync round failed", "error", err)
			}
			s.sleep(s.cfg.Interval)
		}
	}
}

// SyncNow runs one round immediately: fetch all sources concurrently,
// upsert the union. Returns how many signals landed. Exposed for the
// manual sync endpoint.
func (s *Syncer) SyncNow(ctx context.Context) (int, error) {
	if len(s.sources) == 0 {
		return 0, nil
	}

	var (
		mu       sync.Mutex
		signals  []*models.MarketSignal
		failures int
	)

	var g errgroup.Group
	for _, src := range s.sources {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
			defer cancel()

			batch, err := src.Fetch(fetchCtx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One dead feed must not fail the round.
				failures++
				slog.Warn("Signal source failed", "source", src.Name(), "error", err)
				return nil
			}
			signals = append(signals, batch...)
			return nil
		})
	}
	_ = g.Wait()

	if failures == len(s.sources) {
		err := errors.New("all signal sources failed")
		metrics.RecordSignalSync(err)
		return 0, err
	}
	if len(signals) == 0 {
		metrics.RecordSignalSync(nil)
		return 0, nil
	}

	n, err := s.sink.BatchUpsertMarketSignals(ctx, signals)
	metrics.RecordSignalSync(err)
	if err != nil {
		return 0, fmt.Errorf("upserting %d signals: %w", len(signals), err)
	}
	slog.Debug("Sync round complete", "signals", n, "failed_sources", failures)
	return n, nil
}

// sleep waits for the given duration or until stop is signalled.
func (s *Syncer) sleep(d time.Duration) {
	select {
	case <-s.stopCh:
	case <-time.After(d):
	}
}
