package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/autopilot/pkg/models"
)

type fakeBlueprintSource struct {
	blueprints []*models.Blueprint
	err        error
}

func (s fakeBlueprintSource) ListBlueprints(ctx context.Context) ([]*models.Blueprint, error) {
	return s.blueprints, s.err
}

func TestBlueprintCache_GetFallsBackToBuiltin(t *testing.T) {
	cache := NewBlueprintCache(map[string]*models.Blueprint{
		"dca": {AgentType: "dca", Brain: "rule"},
	})

	bp, err := cache.Get("dca")
	require.NoError(t, err)
	assert.Equal(t, "rule", bp.Brain)

	_, err = cache.Get("unknown")
	require.Error(t, err)
}

func TestBlueprintCache_LoadedWinsOverBuiltin(t *testing.T) {
	cache := NewBlueprintCache(map[string]*models.Blueprint{
		"dca": {AgentType: "dca", Brain: "rule"},
	})
	cache.Reload([]*models.Blueprint{
		{AgentType: "dca", Brain: "llm"},
	})

	bp, err := cache.Get("dca")
	require.NoError(t, err)
	assert.Equal(t, "llm", bp.Brain, "loaded blueprint shadows the builtin")
}

func TestBlueprintCache_ReloadSwapsWholeMap(t *testing.T) {
	cache := NewBlueprintCache(nil)
	cache.Reload([]*models.Blueprint{
		{AgentType: "alpha", Brain: "rule"},
		{AgentType: "beta", Brain: "rule"},
	})
	cache.Reload([]*models.Blueprint{
		{AgentType: "gamma", Brain: "llm"},
	})

	_, err := cache.Get("alpha")
	assert.Error(t, err, "entries absent from the reload disappear")
	bp, err := cache.Get("gamma")
	require.NoError(t, err)
	assert.Equal(t, "llm", bp.Brain)
}

func TestBlueprintCache_LoadFrom(t *testing.T) {
	cache := NewBlueprintCache(nil)

	t.Run("source error is propagated", func(t *testing.T) {
		err := cache.LoadFrom(context.Background(), fakeBlueprintSource{err: errors.New("db down")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loading blueprints")
	})

	t.Run("loads and serves", func(t *testing.T) {
		err := cache.LoadFrom(context.Background(), fakeBlueprintSource{
			blueprints: []*models.Blueprint{{AgentType: "dca", Brain: "rule"}},
		})
		require.NoError(t, err)
		bp, err := cache.Get("dca")
		require.NoError(t, err)
		assert.Equal(t, "rule", bp.Brain)
	})
}
