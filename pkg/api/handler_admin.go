package api

import (
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/nfa-labs/autopilot/pkg/scheduler"
)

// enableHandler handles POST /enable.
// Submits the renter-signed permit on-chain and registers the agent.
func (s *Server) enableHandler(c *gin.Context) {
	// 1. Bind HTTP request
	var req EnableAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid enable request: "+err.Error())
		return
	}

	// 2. Decode the permit signature
	if req.Sig == "" {
		badRequest(c, "sig field is required")
		return
	}
	sig, err := decodeHex(req.Sig)
	if err != nil {
		badRequest(c, "sig must be a hex-encoded signature")
		return
	}

	// 3. Cross-check deployment coordinates (if provided)
	if req.ChainID != 0 && req.ChainID != s.cfg.ChainID {
		badRequest(c, fmt.Sprintf("this runner serves chain %d", s.cfg.ChainID))
		return
	}
	if req.NFAAddress != "" {
		if !common.IsHexAddress(req.NFAAddress) {
			badRequest(c, "nfaAddress must be a hex address")
			return
		}
		if common.HexToAddress(req.NFAAddress) != s.cfg.Registry {
			badRequest(c, fmt.Sprintf("this runner serves registry %s", s.cfg.Registry.Hex()))
			return
		}
	}

	// 4. Enable through the scheduler
	result, err := s.cfg.Admin.Enable(c.Request.Context(), scheduler.EnableRequest{
		Permit:         req.Permit,
		Sig:            sig,
		WaitForReceipt: req.WaitForReceipt,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// disableHandler handles POST /disable.
func (s *Server) disableHandler(c *gin.Context) {
	var req DisableAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid disable request: "+err.Error())
		return
	}

	result, err := s.cfg.Admin.Disable(c.Request.Context(), scheduler.DisableRequest{
		TokenID:        req.TokenID,
		Mode:           req.Mode,
		Reason:         req.Reason,
		WaitForReceipt: req.WaitForReceipt,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// upsertStrategyHandler handles POST /strategy/upsert. Returns the stored
// canonical row, including defaults the store filled in.
func (s *Server) upsertStrategyHandler(c *gin.Context) {
	var req StrategyUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid strategy request: "+err.Error())
		return
	}

	strat, err := req.ToStrategy()
	if err != nil {
		writeError(c, err)
		return
	}

	stored, err := s.cfg.Admin.UpsertStrategy(c.Request.Context(), strat)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, stored)
}

// reloadBlueprintsHandler handles POST /blueprints/reload. Re-reads
// store-defined blueprints and drops cached agents so new cycles rebuild.
func (s *Server) reloadBlueprintsHandler(c *gin.Context) {
	types, err := s.cfg.Admin.ReloadBlueprints(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, &BlueprintReloadResponse{Types: types, Count: len(types)})
}
