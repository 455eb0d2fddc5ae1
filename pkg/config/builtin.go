package config

import (
	"slices"
	"sync"

	"github.com/nfa-labs/autopilot/pkg/models"
)

var (
	builtinBlueprints     map[string]*models.Blueprint
	builtinBlueprintsOnce sync.Once
)

// BuiltinBlueprints returns the built-in blueprint set (thread-safe,
// lazy-initialized). Callers must treat the result as read-only; the loader
// clones entries before merging file-defined overrides on top.
func BuiltinBlueprints() map[string]*models.Blueprint {
	builtinBlueprintsOnce.Do(initBuiltinBlueprints)
	return builtinBlueprints
}

func initBuiltinBlueprints() {
	builtinBlueprints = map[string]*models.Blueprint{
		"dex_trader": {
			AgentType:  "dex_trader",
			Brain:      "hotpump_watchlist",
			Perception: "vault",
			Actions:    []string{"swap", "approve", "wrap", "unwrap", "portfolio"},
		},
		"dca_accumulator": {
			AgentType:  "dca_accumulator",
			Brain:      "dca",
			Perception: "vault",
			Actions:    []string{"swap", "approve", "portfolio"},
		},
		"llm_trader": {
			AgentType:  "llm_trader",
			Brain:      "llm",
			Perception: "vault",
			Actions:    []string{"swap", "approve", "wrap", "unwrap", "transfer", "portfolio"},
			LLMConfig: &models.LLMConfig{
				Provider:    "openai",
				Model:       "gpt-4o-mini",
				APIKeyEnv:   "OPENAI_API_KEY",
				Temperature: 0.2,
				MaxTokens:   600,
			},
		},
	}
}

// cloneBlueprint deep-copies a blueprint so merges never mutate the
// built-in set.
func cloneBlueprint(bp *models.Blueprint) *models.Blueprint {
	cp := *bp
	cp.Actions = slices.Clone(bp.Actions)
	if bp.LLMConfig != nil {
		llm := *bp.LLMConfig
		cp.LLMConfig = &llm
	}
	return &cp
}
