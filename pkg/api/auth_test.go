package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nfa-labs/autopilot/pkg/scheduler"
	"github.com/nfa-labs/autopilot/pkg/store"
)

func TestRequireAPIKey(t *testing.T) {
	reloadOK := func(context.Context) ([]string, error) {
		return []string{"dex_trader"}, nil
	}

	t.Run("rejects missing key", func(t *testing.T) {
		s := NewServer(Config{
			APIKey: "secret",
			Admin:  &fakeAdmin{t: t},
			Store:  store.NewInMemory(100),
		})

		rec := doJSON(t, s, http.MethodPost, "/blueprints/reload", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var body ErrorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "UNAUTHORIZED", body.Code)
	})

	t.Run("rejects wrong key", func(t *testing.T) {
		s := NewServer(Config{
			APIKey: "secret",
			Admin:  &fakeAdmin{t: t},
			Store:  store.NewInMemory(100),
		})

		rec := doJSON(t, s, http.MethodPost, "/blueprints/reload", nil,
			map[string]string{"X-API-Key": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("accepts X-API-Key header", func(t *testing.T) {
		admin := &fakeAdmin{t: t, reload: reloadOK}
		s := NewServer(Config{APIKey: "secret", Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/blueprints/reload", nil,
			map[string]string{"X-API-Key": "secret"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("accepts bearer token", func(t *testing.T) {
		admin := &fakeAdmin{t: t, reload: reloadOK}
		s := NewServer(Config{APIKey: "secret", Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/blueprints/reload", nil,
			map[string]string{"Authorization": "Bearer secret"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("empty configured key disables auth", func(t *testing.T) {
		admin := &fakeAdmin{t: t, reload: reloadOK}
		s := NewServer(Config{APIKey: "", Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/blueprints/reload", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("read routes stay open when a key is configured", func(t *testing.T) {
		admin := &fakeAdmin{t: t, statusAll: func(context.Context) ([]*scheduler.AgentStatus, error) {
			return []*scheduler.AgentStatus{}, nil
		}}
		s := NewServer(Config{APIKey: "secret", Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodGet, "/status/all", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("metrics is key-gated when a key is configured", func(t *testing.T) {
		s := NewServer(Config{APIKey: "secret", Admin: &fakeAdmin{t: t}, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodGet, "/metrics", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = doJSON(t, s, http.MethodGet, "/metrics", nil,
			map[string]string{"X-API-Key": "secret"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestExtractAPIKey(t *testing.T) {
	t.Run("prefers X-API-Key over bearer", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", "from-header")
		req.Header.Set("Authorization", "Bearer from-bearer")
		assert.Equal(t, "from-header", extractAPIKey(req))
	})

	t.Run("ignores non-bearer authorization", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		assert.Equal(t, "", extractAPIKey(req))
	})
}
