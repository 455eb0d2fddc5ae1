package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nfa-labs/autopilot/pkg/version"
)

// statusHandler handles GET /status?tokenId=N&runsLimit=N.
func (s *Server) statusHandler(c *gin.Context) {
	tokenID, err := strconv.ParseInt(c.Query("tokenId"), 10, 64)
	if err != nil || tokenID <= 0 {
		badRequest(c, "tokenId query parameter must be a positive integer")
		return
	}

	runsLimit := 10
	if v := c.Query("runsLimit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 200 {
			badRequest(c, "runsLimit must be an integer between 0 and 200")
			return
		}
		runsLimit = n
	}

	status, err := s.cfg.Admin.Status(c.Request.Context(), tokenID, runsLimit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// statusAllHandler handles GET /status/all: the fleet view without run
// history.
func (s *Server) statusAllHandler(c *gin.Context) {
	statuses, err := s.cfg.Admin.StatusAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, statuses)
}

// autopilotsHandler handles GET /autopilots: raw fleet registry rows for
// this chain.
func (s *Server) autopilotsHandler(c *gin.Context) {
	autopilots, err := s.cfg.Store.ListAutopilots(c.Request.Context(), s.cfg.ChainID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, autopilots)
}

// healthHandler handles GET /health. Unreachable storage makes the whole
// service unhealthy; the scheduler snapshot rides along either way.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:    "healthy",
		Version:   version.Full(),
		Database:  "up",
		Scheduler: s.cfg.Admin.Snapshot(),
	}

	if err := s.cfg.Store.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "down"
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}
