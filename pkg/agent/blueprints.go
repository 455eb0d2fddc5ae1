package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// BlueprintSource is the narrow persistence view the cache reloads from.
type BlueprintSource interface {
	ListBlueprints(ctx context.Context) ([]*models.Blueprint, error)
}

// BlueprintCache holds the blueprint map with reader-writer protection.
// Reads are served from the loaded map with a built-in fallback; Reload
// swaps the whole map under the writer lock so readers never see a partial
// update.
type BlueprintCache struct {
	mu      sync.RWMutex
	loaded  map[string]*models.Blueprint
	builtin map[string]*models.Blueprint
}

// NewBlueprintCache creates a cache seeded with the built-in fallback set.
func NewBlueprintCache(builtin map[string]*models.Blueprint) *BlueprintCache {
	copied := make(map[string]*models.Blueprint, len(builtin))
	for k, v := range builtin {
		copied[k] = v
	}
	return &BlueprintCache{
		loaded:  make(map[string]*models.Blueprint),
		builtin: copied,
	}
}

// Get returns the blueprint for agentType, preferring a loaded blueprint
// over the built-in fallback.
func (c *BlueprintCache) Get(agentType string) (*models.Blueprint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if bp, ok := c.loaded[agentType]; ok {
		return bp, nil
	}
	if bp, ok := c.builtin[agentType]; ok {
		return bp, nil
	}
	return nil, fmt.Errorf("no blueprint for agent type %q", agentType)
}

// Reload replaces the loaded blueprint map. The writer lock is held only for
// the map swap, never across I/O.
func (c *BlueprintCache) Reload(blueprints []*models.Blueprint) {
	next := make(map[string]*models.Blueprint, len(blueprints))
	for _, bp := range blueprints {
		next[bp.AgentType] = bp
	}
	c.mu.Lock()
	c.loaded = next
	c.mu.Unlock()
}

// LoadFrom fetches all persisted blueprints and swaps them in. Built-ins
// remain as fallback for agent types the store does not cover.
func (c *BlueprintCache) LoadFrom(ctx context.Context, src BlueprintSource) error {
	blueprints, err := src.ListBlueprints(ctx)
	if err != nil {
		return fmt.Errorf("loading blueprints: %w", err)
	}
	c.Reload(blueprints)
	slog.Info("Blueprints loaded", "count", len(blueprints))
	return nil
}

// Types returns all agent types the cache can currently serve.
func (c *BlueprintCache) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{}, len(c.loaded)+len(c.builtin))
	for t := range c.loaded {
		seen[t] = struct{}{}
	}
	for t := range c.builtin {
		seen[t] = struct{}{}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	return types
}
