package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Normalize(nil))
	})

	t.Run("classifies a raw error", func(t *testing.T) {
		re := Normalize(errors.New("context deadline exceeded"))
		require.NotNil(t, re)
		assert.Equal(t, CategoryInfrastructure, re.Category)
		assert.Equal(t, CodeTimeout, re.Code)
		assert.True(t, re.Retryable)
	})

	t.Run("passes through an existing RunnerError", func(t *testing.T) {
		orig := New(CategoryBusinessRejected, CodeAgentPaused, errors.New("agent paused"))
		assert.Same(t, orig, Normalize(orig))
	})

	t.Run("finds a RunnerError through wrapping", func(t *testing.T) {
		orig := New(CategoryModelOutput, CodeUnknownAction, errors.New("unknown action zap"))
		wrapped := fmt.Errorf("running cycle: %w", orig)
		assert.Same(t, orig, Normalize(wrapped))
	})

	t.Run("unmatched errors become non-retryable only when business", func(t *testing.T) {
		re := Normalize(errors.New("blocked by safety policy"))
		require.NotNil(t, re)
		assert.Equal(t, CategoryBusinessRejected, re.Category)
		assert.False(t, re.Retryable)
	})
}

func TestRunnerError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("execution reverted: SLIPPAGE")
	re := New(CategoryBusinessRejected, CodeChainReverted, inner)

	assert.Contains(t, re.Error(), string(CategoryBusinessRejected))
	assert.Contains(t, re.Error(), string(CodeChainReverted))
	assert.ErrorIs(t, re, inner)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "rate limit",
			raw:  "429 Too Many Requests from https://rpc.internal.example:8545",
			want: "Network is busy right now — your agent will retry shortly.",
		},
		{
			name: "revert",
			raw:  "execution reverted: INSUFFICIENT_OUTPUT_AMOUNT",
			want: "Transaction was rejected by the contract — no funds were moved.",
		},
		{
			name: "timeout",
			raw:  "context deadline exceeded",
			want: "The network took too long to respond — your agent will retry.",
		},
		{
			name: "generic fallback",
			raw:  "panic: runtime error: index out of range [3]",
			want: "Something unexpected happened; your agent will retry on its next cycle.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.raw))
		})
	}
}

// User-facing messages come from a fixed substitution table and must never
// echo RPC endpoints or other internals from the raw error.
func TestUserMessage_NeverLeaksInternals(t *testing.T) {
	raw := `Post "https://rpc.internal.example:8545/v1/secret-key-abc": connection refused`
	msg := UserMessage(raw)
	assert.NotContains(t, msg, "rpc.internal.example")
	assert.NotContains(t, msg, "secret-key-abc")
	assert.NotContains(t, msg, "8545")
}
