package models

import "time"

// Blueprint is an assembly template keyed by agent type: which brain,
// perception module, and actions to wire into a new agent.
type Blueprint struct {
	AgentType  string     `json:"agentType"`
	Brain      string     `json:"brain"`
	Perception string     `json:"perception"`
	Actions    []string   `json:"actions"`
	LLMConfig  *LLMConfig `json:"llmConfig,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt,omitempty"`
}

// LLMConfig configures an LLM-backed brain. The API key is resolved from the
// named environment variable at client construction, never persisted.
type LLMConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	BaseURL     string  `json:"baseUrl,omitempty"`
	APIKeyEnv   string  `json:"apiKeyEnv,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
}
