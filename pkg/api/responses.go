package api

import (
	"github.com/nfa-labs/autopilot/pkg/scheduler"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string             `json:"status"`
	Version   string             `json:"version"`
	Database  string             `json:"database"`
	Scheduler scheduler.Snapshot `json:"scheduler"`
	Error     string             `json:"error,omitempty"`
}

// SignalIngestResponse is returned by the signal ingest and sync routes.
type SignalIngestResponse struct {
	Ingested int `json:"ingested"`
}

// BlueprintReloadResponse is returned by POST /blueprints/reload.
type BlueprintReloadResponse struct {
	Types []string `json:"types"`
	Count int      `json:"count"`
}
