package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinBlueprints(t *testing.T) {
	bps := BuiltinBlueprints()
	require.Len(t, bps, 3)

	dex := bps["dex_trader"]
	require.NotNil(t, dex)
	assert.Equal(t, "hotpump_watchlist", dex.Brain)
	assert.Equal(t, "vault", dex.Perception)
	assert.Contains(t, dex.Actions, "swap")
	assert.Contains(t, dex.Actions, "approve")
	assert.Nil(t, dex.LLMConfig)

	dca := bps["dca_accumulator"]
	require.NotNil(t, dca)
	assert.Equal(t, "dca", dca.Brain)
	assert.Equal(t, "vault", dca.Perception)

	llm := bps["llm_trader"]
	require.NotNil(t, llm)
	assert.Equal(t, "llm", llm.Brain)
	require.NotNil(t, llm.LLMConfig)
	assert.Equal(t, "openai", llm.LLMConfig.Provider)
	assert.Equal(t, "gpt-4o-mini", llm.LLMConfig.Model)
	assert.Equal(t, "OPENAI_API_KEY", llm.LLMConfig.APIKeyEnv)
}

func TestBuiltinBlueprintsSingleton(t *testing.T) {
	a := BuiltinBlueprints()
	b := BuiltinBlueprints()
	assert.Equal(t, len(a), len(b))
	for k := range a {
		assert.Same(t, a[k], b[k])
	}
}

func TestBuiltinBlueprintsPassValidation(t *testing.T) {
	cfg := validConfig()
	cfg.Blueprints = BuiltinBlueprints()

	assert.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestCloneBlueprintDeepCopies(t *testing.T) {
	orig := BuiltinBlueprints()["llm_trader"]
	cp := cloneBlueprint(orig)

	cp.Actions[0] = "mutated"
	cp.LLMConfig.Model = "mutated"

	assert.Equal(t, "swap", orig.Actions[0])
	assert.Equal(t, "gpt-4o-mini", orig.LLMConfig.Model)
}
