package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/scheduler"
)

// fakeAdmin implements Admin with overridable function fields. Calling a
// method whose field is unset fails the test.
type fakeAdmin struct {
	t *testing.T

	enable    func(context.Context, scheduler.EnableRequest) (*scheduler.EnableResult, error)
	disable   func(context.Context, scheduler.DisableRequest) (*scheduler.DisableResult, error)
	upsert    func(context.Context, *models.StrategyConfig) (*models.StrategyConfig, error)
	status    func(context.Context, int64, int) (*scheduler.AgentStatus, error)
	statusAll func(context.Context) ([]*scheduler.AgentStatus, error)
	reload    func(context.Context) ([]string, error)
	snapshot  func() scheduler.Snapshot
}

func (f *fakeAdmin) Enable(ctx context.Context, req scheduler.EnableRequest) (*scheduler.EnableResult, error) {
	if f.enable == nil {
		f.t.Fatal("unexpected Enable call")
	}
	return f.enable(ctx, req)
}

func (f *fakeAdmin) Disable(ctx context.Context, req scheduler.DisableRequest) (*scheduler.DisableResult, error) {
	if f.disable == nil {
		f.t.Fatal("unexpected Disable call")
	}
	return f.disable(ctx, req)
}

func (f *fakeAdmin) UpsertStrategy(ctx context.Context, strat *models.StrategyConfig) (*models.StrategyConfig, error) {
	if f.upsert == nil {
		f.t.Fatal("unexpected UpsertStrategy call")
	}
	return f.upsert(ctx, strat)
}

func (f *fakeAdmin) Status(ctx context.Context, tokenID int64, runsLimit int) (*scheduler.AgentStatus, error) {
	if f.status == nil {
		f.t.Fatal("unexpected Status call")
	}
	return f.status(ctx, tokenID, runsLimit)
}

func (f *fakeAdmin) StatusAll(ctx context.Context) ([]*scheduler.AgentStatus, error) {
	if f.statusAll == nil {
		f.t.Fatal("unexpected StatusAll call")
	}
	return f.statusAll(ctx)
}

func (f *fakeAdmin) ReloadBlueprints(ctx context.Context) ([]string, error) {
	if f.reload == nil {
		f.t.Fatal("unexpected ReloadBlueprints call")
	}
	return f.reload(ctx)
}

func (f *fakeAdmin) Snapshot() scheduler.Snapshot {
	if f.snapshot == nil {
		return scheduler.Snapshot{}
	}
	return f.snapshot()
}

// fakeSyncer implements SignalSyncer.
type fakeSyncer struct {
	ingested int
	err      error
	calls    int
}

func (f *fakeSyncer) SyncNow(context.Context) (int, error) {
	f.calls++
	return f.ingested, f.err
}

// doJSON runs one request through the full middleware stack and returns the
// recorder. A nil body sends no payload.
func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

// decodeBody unmarshals the recorded response body into out.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}
