package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	connected func() bool
}

// NewHealthHandler creates a HealthHandler. connected may be nil when no
// order stream runs.
func NewHealthHandler(connected func() bool) *HealthHandler {
	return &HealthHandler{connected: connected}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.connected != nil {
		body["connected"] = h.connected()
	}
	writeJSON(w, http.StatusOK, body)
}
