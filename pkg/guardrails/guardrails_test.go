package guardrails

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/autopilot/pkg/agent"
	"github.com/nfa-labs/autopilot/pkg/failure"
	"github.com/nfa-labs/autopilot/pkg/models"
)

type fakeGuard struct {
	name       string
	violations []models.Violation
	err        error
	calls      int
}

func (g *fakeGuard) Name() string { return g.name }

func (g *fakeGuard) Check(ctx context.Context, ec *models.ExecutionContext) ([]models.Violation, error) {
	g.calls++
	return g.violations, g.err
}

func TestRun_AllPass(t *testing.T) {
	soft := &fakeGuard{name: "soft_policy"}
	hard := &fakeGuard{name: "hard_policy"}

	violations, err := Run(context.Background(), []agent.Guardrail{soft, hard}, hardContext())
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Equal(t, 1, soft.calls)
	assert.Equal(t, 1, hard.calls)
}

func TestRun_FirstViolationShortCircuits(t *testing.T) {
	soft := &fakeGuard{name: "soft_policy", violations: []models.Violation{
		{Code: failure.ViolationMaxTradeAmount, Message: "spend 1000 exceeds max trade amount 500"},
	}}
	hard := &fakeGuard{name: "hard_policy"}

	violations, err := Run(context.Background(), []agent.Guardrail{soft, hard}, hardContext())
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, failure.ViolationMaxTradeAmount, violations[0].Code)
	assert.Equal(t, 0, hard.calls, "hard layer must not run once the soft layer denied")
}

func TestRun_GuardErrorAborts(t *testing.T) {
	soft := &fakeGuard{name: "soft_policy", err: errors.New("query safety config: timeout")}
	hard := &fakeGuard{name: "hard_policy"}

	violations, err := Run(context.Background(), []agent.Guardrail{soft, hard}, hardContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "soft_policy")
	assert.Empty(t, violations)
	assert.Equal(t, 0, hard.calls)
}
