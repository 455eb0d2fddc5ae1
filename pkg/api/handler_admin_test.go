package api

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfa-labs/autopilot/pkg/models"
	"github.com/nfa-labs/autopilot/pkg/scheduler"
	"github.com/nfa-labs/autopilot/pkg/store"
)

var testRegistry = common.HexToAddress("0x1111111111111111111111111111111111111111")

func testPermit() *models.EnablePermit {
	return &models.EnablePermit{
		TokenID:  42,
		Renter:   common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Operator: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Expires:  1900000000,
		Nonce:    7,
		Deadline: 1900000000,
	}
}

func TestEnableHandler(t *testing.T) {
	t.Run("submits permit and returns result", func(t *testing.T) {
		var got scheduler.EnableRequest
		admin := &fakeAdmin{t: t, enable: func(_ context.Context, req scheduler.EnableRequest) (*scheduler.EnableResult, error) {
			got = req
			return &scheduler.EnableResult{
				Autopilot: &models.Autopilot{TokenID: req.Permit.TokenID, Enabled: true},
				TxHash:    "0xabc",
			}, nil
		}}
		s := NewServer(Config{ChainID: 8453, Registry: testRegistry, Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/enable", &EnableAgentRequest{
			Permit:         testPermit(),
			Sig:            "0xdeadbeef",
			WaitForReceipt: true,
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, got.Sig)
		assert.True(t, got.WaitForReceipt)
		require.NotNil(t, got.Permit)
		assert.Equal(t, int64(42), got.Permit.TokenID)

		var result scheduler.EnableResult
		decodeBody(t, rec, &result)
		assert.Equal(t, "0xabc", result.TxHash)
		require.NotNil(t, result.Autopilot)
		assert.True(t, result.Autopilot.Enabled)
	})

	t.Run("accepts sig without 0x prefix", func(t *testing.T) {
		admin := &fakeAdmin{t: t, enable: func(_ context.Context, req scheduler.EnableRequest) (*scheduler.EnableResult, error) {
			assert.Equal(t, []byte{0xde, 0xad}, req.Sig)
			return &scheduler.EnableResult{TxHash: "0x1"}, nil
		}}
		s := NewServer(Config{ChainID: 8453, Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/enable",
			&EnableAgentRequest{Permit: testPermit(), Sig: "dead"}, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects missing sig", func(t *testing.T) {
		s := NewServer(Config{ChainID: 8453, Admin: &fakeAdmin{t: t}, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/enable",
			&EnableAgentRequest{Permit: testPermit()}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body ErrorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "BAD_REQUEST", body.Code)
		assert.Contains(t, body.Error, "sig")
	})

	t.Run("rejects malformed sig hex", func(t *testing.T) {
		s := NewServer(Config{ChainID: 8453, Admin: &fakeAdmin{t: t}, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/enable",
			&EnableAgentRequest{Permit: testPermit(), Sig: "0xzz"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects wrong chain", func(t *testing.T) {
		s := NewServer(Config{ChainID: 8453, Admin: &fakeAdmin{t: t}, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/enable",
			&EnableAgentRequest{Permit: testPermit(), Sig: "0x01", ChainID: 1}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body ErrorResponse
		decodeBody(t, rec, &body)
		assert.Contains(t, body.Error, "chain 8453")
	})

	t.Run("rejects wrong registry", func(t *testing.T) {
		s := NewServer(Config{ChainID: 8453, Registry: testRegistry, Admin: &fakeAdmin{t: t}, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/enable", &EnableAgentRequest{
			Permit:     testPermit(),
			Sig:        "0x01",
			NFAAddress: "0x9999999999999999999999999999999999999999",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("accepts matching registry in any case", func(t *testing.T) {
		admin := &fakeAdmin{t: t, enable: func(context.Context, scheduler.EnableRequest) (*scheduler.EnableResult, error) {
			return &scheduler.EnableResult{TxHash: "0x1"}, nil
		}}
		s := NewServer(Config{ChainID: 8453, Registry: testRegistry, Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/enable", &EnableAgentRequest{
			Permit:     testPermit(),
			Sig:        "0x01",
			NFAAddress: "0x1111111111111111111111111111111111111111",
		}, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("maps scheduler validation to 400 with field detail", func(t *testing.T) {
		admin := &fakeAdmin{t: t, enable: func(context.Context, scheduler.EnableRequest) (*scheduler.EnableResult, error) {
			return nil, store.NewValidationError("permit.deadline", "has passed")
		}}
		s := NewServer(Config{ChainID: 8453, Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/enable",
			&EnableAgentRequest{Permit: testPermit(), Sig: "0x01"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body ErrorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "VALIDATION_ERROR", body.Code)
		assert.Equal(t, "permit.deadline", body.Details["field"])
	})

	t.Run("hides chain failures behind 500", func(t *testing.T) {
		admin := &fakeAdmin{t: t, enable: func(context.Context, scheduler.EnableRequest) (*scheduler.EnableResult, error) {
			return nil, fmt.Errorf("submitting enable permit: %w", errors.New("rpc: connection refused"))
		}}
		s := NewServer(Config{ChainID: 8453, Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/enable",
			&EnableAgentRequest{Permit: testPermit(), Sig: "0x01"}, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var body ErrorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "internal server error", body.Error)
		assert.NotContains(t, rec.Body.String(), "rpc")
	})
}

func TestDisableHandler(t *testing.T) {
	t.Run("disables locally by default", func(t *testing.T) {
		var got scheduler.DisableRequest
		admin := &fakeAdmin{t: t, disable: func(_ context.Context, req scheduler.DisableRequest) (*scheduler.DisableResult, error) {
			got = req
			return &scheduler.DisableResult{TokenID: req.TokenID, Mode: scheduler.DisableModeLocal}, nil
		}}
		s := NewServer(Config{ChainID: 8453, Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/disable",
			&DisableAgentRequest{TokenID: 42, Reason: "maintenance"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, int64(42), got.TokenID)
		assert.Equal(t, "maintenance", got.Reason)
		assert.Empty(t, got.Mode)

		var result scheduler.DisableResult
		decodeBody(t, rec, &result)
		assert.Equal(t, "local", result.Mode)
		assert.Empty(t, result.TxHash)
	})

	t.Run("passes onchain mode through", func(t *testing.T) {
		admin := &fakeAdmin{t: t, disable: func(_ context.Context, req scheduler.DisableRequest) (*scheduler.DisableResult, error) {
			assert.Equal(t, scheduler.DisableModeOnchain, req.Mode)
			assert.True(t, req.WaitForReceipt)
			return &scheduler.DisableResult{TokenID: req.TokenID, Mode: req.Mode, TxHash: "0xdef"}, nil
		}}
		s := NewServer(Config{ChainID: 8453, Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/disable",
			&DisableAgentRequest{TokenID: 42, Mode: "onchain", WaitForReceipt: true}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var result scheduler.DisableResult
		decodeBody(t, rec, &result)
		assert.Equal(t, "0xdef", result.TxHash)
	})

	t.Run("maps unknown agent to 404", func(t *testing.T) {
		admin := &fakeAdmin{t: t, disable: func(context.Context, scheduler.DisableRequest) (*scheduler.DisableResult, error) {
			return nil, fmt.Errorf("agent 42: %w", store.ErrNotFound)
		}}
		s := NewServer(Config{ChainID: 8453, Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/disable", &DisableAgentRequest{TokenID: 42}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var body ErrorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "NOT_FOUND", body.Code)
	})
}

func TestUpsertStrategyHandler(t *testing.T) {
	t.Run("parses amounts and calldata from strings", func(t *testing.T) {
		var got *models.StrategyConfig
		admin := &fakeAdmin{t: t, upsert: func(_ context.Context, strat *models.StrategyConfig) (*models.StrategyConfig, error) {
			got = strat
			stored := *strat
			stored.ChainID = 8453
			stored.MinIntervalMs = 60_000
			stored.MaxFailures = 5
			return &stored, nil
		}}
		s := NewServer(Config{ChainID: 8453, Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/strategy/upsert", &StrategyUpsertRequest{
			TokenID:      42,
			StrategyType: "hotpump_watchlist",
			Target:       "0x4444444444444444444444444444444444444444",
			Data:         "0xa9059cbb",
			Value:        "1000000000000000000",
			StrategyParams: map[string]any{
				"pumpThresholdBps": 10000,
			},
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		require.NotNil(t, got)
		assert.Equal(t, common.HexToAddress("0x4444444444444444444444444444444444444444"), got.Target)
		assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, got.Data)
		assert.Equal(t, big.NewInt(1e18), got.Value)
		assert.True(t, got.Enabled)

		var stored models.StrategyConfig
		decodeBody(t, rec, &stored)
		assert.Equal(t, int64(8453), stored.ChainID)
		assert.Equal(t, int64(60_000), stored.MinIntervalMs)
	})

	t.Run("enabled false is preserved", func(t *testing.T) {
		disabled := false
		admin := &fakeAdmin{t: t, upsert: func(_ context.Context, strat *models.StrategyConfig) (*models.StrategyConfig, error) {
			assert.False(t, strat.Enabled)
			return strat, nil
		}}
		s := NewServer(Config{ChainID: 8453, Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/strategy/upsert", &StrategyUpsertRequest{
			TokenID:      42,
			StrategyType: "dca",
			Enabled:      &disabled,
		}, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects malformed target", func(t *testing.T) {
		s := NewServer(Config{ChainID: 8453, Admin: &fakeAdmin{t: t}, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/strategy/upsert", &StrategyUpsertRequest{
			TokenID: 42, StrategyType: "dca", Target: "not-an-address",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body ErrorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "target", body.Details["field"])
	})

	t.Run("rejects negative value", func(t *testing.T) {
		s := NewServer(Config{ChainID: 8453, Admin: &fakeAdmin{t: t}, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/strategy/upsert", &StrategyUpsertRequest{
			TokenID: 42, StrategyType: "dca", Value: "-5",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body ErrorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "value", body.Details["field"])
	})

	t.Run("rejects non-decimal value", func(t *testing.T) {
		s := NewServer(Config{ChainID: 8453, Admin: &fakeAdmin{t: t}, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/strategy/upsert", &StrategyUpsertRequest{
			TokenID: 42, StrategyType: "dca", Value: "1.5e18",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestReloadBlueprintsHandler(t *testing.T) {
	t.Run("returns refreshed types", func(t *testing.T) {
		admin := &fakeAdmin{t: t, reload: func(context.Context) ([]string, error) {
			return []string{"dca_accumulator", "dex_trader", "llm_trader"}, nil
		}}
		s := NewServer(Config{Admin: admin, Store: store.NewInMemory(100)})

		rec := doJSON(t, s, http.MethodPost, "/blueprints/reload", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body BlueprintReloadResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, 3, body.Count)
		assert.Contains(t, body.Types, "dex_trader")
	})
}
