package marketsync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/store"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	name    string
	signals []*models.MarketSignal
	err     error

	mu    sync.Mutex
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(context.Context) ([]*models.MarketSignal, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.signals, f.err
}

func (f *fakeSource) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func signal(pair string, bps int64) *models.MarketSignal {
	return &models.MarketSignal{
		ChainID:        8453,
		Pair:           pair,
		PriceChangeBps: bps,
		SampledAt:      fixedNow,
	}
}

func TestHTTPSource_FetchNormalizesPayloads(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		// One quoted volume, one numeric, one with neither chain nor time.
		_, _ = w.Write([]byte(`[
			{"pair":"DOGE/WETH","priceChangeBps":12000,"volume5m":"123456789012345678901234567890","uniqueTraders5m":250,"chainId":10,"sampledAt":"2025-06-15T11:59:00Z","source":"dexfeed"},
			{"pair":"PEPE/WETH","priceChangeBps":-300,"volume5m":42},
			{"pair":"WIF/WETH","priceChangeBps":0}
		]`))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPSourceConfig{
		Name:      "testfeed",
		URL:       srv.URL,
		AuthToken: "sekrit",
		ChainID:   8453,
		Now:       func() time.Time { return fixedNow },
	})

	signals, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 3)
	assert.Equal(t, "Bearer sekrit", gotAuth)

	doge := signals[0]
	assert.Equal(t, int64(10), doge.ChainID, "explicit chain id wins")
	assert.Equal(t, "123456789012345678901234567890", doge.Volume5m.String())
	assert.Equal(t, "dexfeed", doge.Source)
	assert.Equal(t, time.Date(2025, 6, 15, 11, 59, 0, 0, time.UTC), doge.SampledAt)

	pepe := signals[1]
	assert.Equal(t, int64(8453), pepe.ChainID, "default chain id fills the gap")
	assert.Equal(t, "42", pepe.Volume5m.String())
	assert.Equal(t, "testfeed", pepe.Source)
	assert.Equal(t, fixedNow, pepe.SampledAt)

	assert.Equal(t, "0", signals[2].Volume5m.String(), "absent volume is zero")
}

func TestHTTPSource_AcceptsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"signals":[{"pair":"DOGE/WETH","priceChangeBps":100}]}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPSourceConfig{URL: srv.URL, ChainID: 8453})
	signals, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "DOGE/WETH", signals[0].Pair)
}

func TestHTTPSource_NonOKStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPSourceConfig{Name: "down", URL: srv.URL})
	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestSignalPayload_ToSignalValidates(t *testing.T) {
	_, err := (&SignalPayload{}).ToSignal(8453, fixedNow, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing pair")

	_, err = (&SignalPayload{Pair: "A/B", Volume5m: []byte(`"bogus"`)}).ToSignal(8453, fixedNow, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "volume5m")
}

func TestSyncNow_LandsUnionOfSources(t *testing.T) {
	st := store.NewInMemory(0)
	syncer := New(st, []Source{
		&fakeSource{name: "a", signals: []*models.MarketSignal{signal("DOGE/WETH", 100)}},
		&fakeSource{name: "b", signals: []*models.MarketSignal{signal("PEPE/WETH", 200)}},
	}, Config{})

	n, err := syncer.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, err := st.ListMarketSignals(context.Background(), 8453)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestSyncNow_PartialFailureStillLands(t *testing.T) {
	st := store.NewInMemory(0)
	dead := &fakeSource{name: "dead", err: errors.New("feed offline")}
	live := &fakeSource{name: "live", signals: []*models.MarketSignal{signal("DOGE/WETH", 100)}}
	syncer := New(st, []Source{dead, live}, Config{})

	n, err := syncer.SyncNow(context.Background())
	require.NoError(t, err, "one dead feed must not fail the round")
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, dead.fetches())
	assert.Equal(t, 1, live.fetches())
}

func TestSyncNow_AllSourcesFailedErrors(t *testing.T) {
	st := store.NewInMemory(0)
	syncer := New(st, []Source{
		&fakeSource{name: "a", err: errors.New("offline")},
		&fakeSource{name: "b", err: errors.New("offline")},
	}, Config{})

	_, err := syncer.SyncNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all signal sources failed")
}

func TestSyncNow_EmptyRoundIsNoop(t *testing.T) {
	st := store.NewInMemory(0)
	syncer := New(st, []Source{&fakeSource{name: "quiet"}}, Config{})

	n, err := syncer.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartStop_NoGoroutineLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := store.NewInMemory(0)
	src := &fakeSource{name: "a", signals: []*models.MarketSignal{signal("DOGE/WETH", 100)}}
	syncer := New(st, []Source{src}, Config{Interval: 5 * time.Millisecond})

	syncer.Start(context.Background())
	require.Eventually(t, func() bool { return src.fetches() > 0 }, time.Second, time.Millisecond)
	syncer.Stop()
	syncer.Stop() // idempotent
}

func TestStart_NoSourcesIsDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	syncer := New(store.NewInMemory(0), nil, Config{})
	syncer.Start(context.Background())
	syncer.Stop()
}
