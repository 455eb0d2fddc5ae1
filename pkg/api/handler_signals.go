package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nfa-labs/autopilot/pkg/marketsync"
	"github.com/nfa-labs/autopilot/pkg/models"
)

// ingestSourceName labels signals pushed through the API rather than pulled
// from a configured feed.
const ingestSourceName = "api"

// ingestSignalHandler handles POST /market/signal: one signal, upserted by
// (chainId, pair).
func (s *Server) ingestSignalHandler(c *gin.Context) {
	var payload marketsync.SignalPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid signal payload: "+err.Error())
		return
	}

	signal, err := payload.ToSignal(s.cfg.ChainID, s.now(), ingestSourceName)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := s.cfg.Store.UpsertMarketSignal(c.Request.Context(), signal); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, signal)
}

// ingestSignalBatchHandler handles POST /market/signal/batch: a JSON array
// of signal payloads, upserted in one round trip.
func (s *Server) ingestSignalBatchHandler(c *gin.Context) {
	var payloads []marketsync.SignalPayload
	if err := c.ShouldBindJSON(&payloads); err != nil {
		badRequest(c, "invalid signal batch: expected a JSON array of signal payloads")
		return
	}
	if len(payloads) == 0 {
		badRequest(c, "signal batch is empty")
		return
	}

	now := s.now()
	signals := make([]*models.MarketSignal, 0, len(payloads))
	for i := range payloads {
		signal, err := payloads[i].ToSignal(s.cfg.ChainID, now, ingestSourceName)
		if err != nil {
			badRequest(c, fmt.Sprintf("signal[%d]: %v", i, err))
			return
		}
		signals = append(signals, signal)
	}

	ingested, err := s.cfg.Store.BatchUpsertMarketSignals(c.Request.Context(), signals)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, &SignalIngestResponse{Ingested: ingested})
}

// signalSyncHandler handles POST /market/signal/sync: an immediate pull of
// every configured source, outside the background interval.
func (s *Server) signalSyncHandler(c *gin.Context) {
	if !s.syncerConfigured() {
		c.JSON(http.StatusConflict, &ErrorResponse{
			Error: "no signal sources configured", Code: codeConflict,
		})
		return
	}

	ingested, err := s.cfg.Syncer.SyncNow(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, &SignalIngestResponse{Ingested: ingested})
}
