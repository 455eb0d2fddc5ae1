package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/scheduler"
)

// postJSON sends body to path with the operator API key and decodes the
// response into out when out is non-nil. Returns the status code.
func (a *TestApp) postJSON(t *testing.T, path string, body, out any) int {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, a.BaseURL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// getJSON fetches path and decodes the response into out when the request
// succeeds. Returns the status code.
func (a *TestApp) getJSON(t *testing.T, path string, out any) int {
	t.Helper()

	resp, err := a.server.Client().Get(a.BaseURL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// agentStatus fetches one agent's status with up to 50 recent runs.
func (a *TestApp) agentStatus(t *testing.T, tokenID int64) *scheduler.AgentStatus {
	t.Helper()

	var status scheduler.AgentStatus
	code := a.getJSON(t, fmt.Sprintf("/status?tokenId=%d&runsLimit=50", tokenID), &status)
	require.Equal(t, http.StatusOK, code)
	return &status
}

// waitForRuns polls the status endpoint until the agent has recorded at
// least n runs, returning them newest-first.
func (a *TestApp) waitForRuns(t *testing.T, tokenID int64, n int) []*models.RunRecord {
	t.Helper()

	var runs []*models.RunRecord
	require.Eventually(t, func() bool {
		runs = a.agentStatus(t, tokenID).RecentRuns
		return len(runs) >= n
	}, 15*time.Second, pollInterval, "agent %d never recorded %d runs", tokenID, n)
	return runs
}

// enableAgent submits a signed permit for the agent and requires success.
func (a *TestApp) enableAgent(t *testing.T, tokenID int64) *scheduler.EnableResult {
	t.Helper()

	var result scheduler.EnableResult
	code := a.postJSON(t, "/enable", map[string]any{
		"permit": map[string]any{
			"tokenId":  tokenID,
			"deadline": time.Now().Add(time.Hour).Unix(),
		},
		"sig": "0xdeadbeef",
	}, &result)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, result.Autopilot)
	require.True(t, result.Autopilot.Enabled)
	return &result
}

// upsertStrategy posts a strategy row and requires success.
func (a *TestApp) upsertStrategy(t *testing.T, body map[string]any) {
	t.Helper()

	code := a.postJSON(t, "/strategy/upsert", body, nil)
	require.Equal(t, http.StatusOK, code)
}

// dcaStrategy builds the upsert body for a continuously-due DCA agent:
// the buy interval is 1ms, so every cycle past minIntervalMs places a buy.
func dcaStrategy(tokenID int64, amountPerBuy string) map[string]any {
	return map[string]any{
		"tokenId":      tokenID,
		"strategyType": "dca",
		"strategyParams": map[string]any{
			"intervalMs":   1,
			"tokenIn":      wnativeAddr.Hex(),
			"tokenOut":     memeAddr.Hex(),
			"amountPerBuy": amountPerBuy,
			"minAmountOut": amountPerBuy,
		},
		"minIntervalMs": 40,
		"maxFailures":   100,
	}
}
