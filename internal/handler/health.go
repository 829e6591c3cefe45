package handler

import (
	"net/http"

	"github.com/capitalize-ai/agent-console/internal/console"
	natsclient "github.com/capitalize-ai/agent-console/internal/nats"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *natsclient.Client
	manager    *console.Manager
}

// NewHealthHandler creates a new health handler. natsClient is nil when live
// events are read over SSE.
func NewHealthHandler(natsClient *natsclient.Client, manager *console.Manager) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		manager:    manager,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "healthy",
	}
	if h.manager != nil {
		resp["sessions"] = h.manager.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
