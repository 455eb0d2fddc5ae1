// Package llm implements a brain backed by an OpenAI-compatible chat
// completion API. Each cycle the model sees the agent's observation, recent
// memory, and action catalog, and must answer with a single JSON decision.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/failure"
	"github.com/nfa-labs/autopilot/pkg/models"
)

// promptMemoryLimit caps how many memory entries are rendered into the
// prompt. Recall already returns newest-first, so the cap keeps the most
// recent context.
const promptMemoryLimit = 10

const systemPrompt = `You are the decision engine of an autonomous on-chain trading agent. Each cycle you receive the agent's current observation, its recent memory, and a catalog of actions it may perform. Choose exactly one action, or wait.

Respond with a single JSON object and nothing else:
{"action": "<action name, or \"wait\">", "params": {<action parameters>}, "reasoning": "<one sentence>", "confidence": <number between 0.0 and 1.0>, "nextCheckMs": <optional: milliseconds until the next cycle is worthwhile>}

Rules:
- Use only actions from the catalog, with only the parameters their schemas allow.
- Token amounts are base-10 integer strings denominated in the token's smallest unit.
- Every trade is checked against the user's safety policy after you decide; do not try to enforce it yourself.
- When no action is clearly justified by the observation, wait.`

// ChatClient is the slice of the OpenAI client the brain needs. Tests
// substitute a fake; production passes *openai.Client.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Brain asks a chat model for one decision per cycle.
type Brain struct {
	client      ChatClient
	model       string
	temperature float32
	maxTokens   int
}

// New builds an LLM brain on the given client. cfg.Model must be set.
func New(client ChatClient, cfg *models.LLMConfig) *Brain {
	return &Brain{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (b *Brain) Name() string { return "llm" }

// Think renders the cycle context into a prompt, asks the model, and parses
// its reply. A reply that is not a JSON decision is a model-output failure,
// not an infrastructure one: retrying the same prompt is pointless within a
// cycle, so the cycle fails and the scheduler decides when to try again.
func (b *Brain) Think(ctx context.Context, obs *models.Observation, memories []models.MemoryEntry, actions []agent.ActionSpec) (*models.Decision, error) {
	prompt, err := renderUserPrompt(obs, memories, actions)
	if err != nil {
		return nil, fmt.Errorf("rendering llm prompt: %w", err)
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, failure.Newf(failure.CategoryModelOutput, failure.CodeMalformedOutput,
			"llm returned no choices")
	}
	return parseDecision(resp.Choices[0].Message.Content)
}

func renderUserPrompt(obs *models.Observation, memories []models.MemoryEntry, actions []agent.ActionSpec) (string, error) {
	obsJSON, err := json.MarshalIndent(obs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling observation: %w", err)
	}
	catalogJSON, err := json.MarshalIndent(actions, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling action catalog: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("## Observation\n")
	sb.Write(obsJSON)
	sb.WriteString("\n\n## Recent memory (newest first)\n")
	if len(memories) == 0 {
		sb.WriteString("(none)\n")
	}
	for i, m := range memories {
		if i == promptMemoryLimit {
			break
		}
		line, err := json.Marshal(m)
		if err != nil {
			return "", fmt.Errorf("marshaling memory entry: %w", err)
		}
		sb.WriteString("- ")
		sb.Write(line)
		sb.WriteByte('\n')
	}
	sb.WriteString("\n## Action catalog\n")
	sb.Write(catalogJSON)
	sb.WriteString("\n\nDecide now.")
	return sb.String(), nil
}

// parseDecision turns the model's reply into a Decision. Markdown fences are
// tolerated because some models wrap JSON in them even when told not to;
// anything else that fails to parse is malformed output.
func parseDecision(content string) (*models.Decision, error) {
	cleaned := stripFences(content)
	if cleaned == "" {
		return nil, failure.Newf(failure.CategoryModelOutput, failure.CodeMalformedOutput,
			"llm returned an empty reply")
	}
	var d models.Decision
	if err := json.Unmarshal([]byte(cleaned), &d); err != nil {
		return nil, failure.Newf(failure.CategoryModelOutput, failure.CodeMalformedOutput,
			"parsing llm decision: %v", err)
	}
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}
	return &d, nil
}

func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if i := strings.LastIndex(trimmed, "```"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.TrimSpace(trimmed)
}

// Register adds the llm brain to the registries.
func Register(reg *agent.Registries) error {
	if err := reg.RegisterBrain("llm", Factory); err != nil {
		return fmt.Errorf("registering llm brain: %w", err)
	}
	return nil
}

// Factory builds the brain from the blueprint's llmConfig. The API key is
// read from the environment variable the config names so keys never live in
// blueprint rows.
func Factory(bc agent.BuildContext) (agent.Brain, error) {
	cfg := bc.LLM
	if cfg == nil {
		return nil, errors.New("llm brain requires llmConfig in the blueprint")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm brain: llmConfig.model is required")
	}
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("llm brain: environment variable %s is not set", keyEnv)
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return New(openai.NewClientWithConfig(clientCfg), cfg), nil
}
