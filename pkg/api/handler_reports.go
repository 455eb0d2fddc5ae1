package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Report window defaults.
const (
	defaultShadowWindow = 24 * time.Hour
	defaultSafetyWindow = 7 * 24 * time.Hour
	defaultViolations   = 50
	maxViolations       = 200
)

// shadowMetricsHandler handles GET /shadow/metrics?tokenId=N&sinceHours=N:
// primary vs shadow planner agreement since the window start.
func (s *Server) shadowMetricsHandler(c *gin.Context) {
	since, ok := s.sinceFromQuery(c, defaultShadowWindow)
	if !ok {
		return
	}

	var tokenID *int64
	if v := c.Query("tokenId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			badRequest(c, "tokenId must be a positive integer")
			return
		}
		tokenID = &id
	}

	report, err := s.cfg.Store.ShadowMetrics(c.Request.Context(), since, tokenID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// safetyMetricsHandler handles GET /v3/safety/:tokenId/metrics.
func (s *Server) safetyMetricsHandler(c *gin.Context) {
	tokenID, ok := tokenIDParam(c)
	if !ok {
		return
	}
	since, ok := s.sinceFromQuery(c, defaultSafetyWindow)
	if !ok {
		return
	}

	report, err := s.cfg.Store.SafetyMetrics(c.Request.Context(), tokenID, since)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// safetyTimelineHandler handles GET /v3/safety/:tokenId/timeline: per-day
// run and block counts.
func (s *Server) safetyTimelineHandler(c *gin.Context) {
	tokenID, ok := tokenIDParam(c)
	if !ok {
		return
	}
	since, ok := s.sinceFromQuery(c, defaultSafetyWindow)
	if !ok {
		return
	}

	points, err := s.cfg.Store.SafetyTimeline(c.Request.Context(), tokenID, since)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, points)
}

// safetyViolationsHandler handles GET /v3/safety/:tokenId/violations?limit=N:
// the most recent blocked runs.
func (s *Server) safetyViolationsHandler(c *gin.Context) {
	tokenID, ok := tokenIDParam(c)
	if !ok {
		return
	}

	limit := defaultViolations
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxViolations {
			badRequest(c, "limit must be an integer between 1 and 200")
			return
		}
		limit = n
	}

	rows, err := s.cfg.Store.SafetyViolations(c.Request.Context(), tokenID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, rows)
}

// tokenIDParam parses the :tokenId path segment, answering 400 on garbage.
func tokenIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("tokenId"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "tokenId must be a positive integer")
		return 0, false
	}
	return id, true
}

// sinceFromQuery turns an optional sinceHours query parameter into a window
// start, answering 400 on garbage.
func (s *Server) sinceFromQuery(c *gin.Context, def time.Duration) (time.Time, bool) {
	window := def
	if v := c.Query("sinceHours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 1 || hours > 24*365 {
			badRequest(c, "sinceHours must be an integer between 1 and 8760")
			return time.Time{}, false
		}
		window = time.Duration(hours) * time.Hour
	}
	return s.now().Add(-window), true
}
