package handler

import (
	"net/http"
	"time"

	"github.com/emberchat/companion-api/internal/events"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	events  *events.Client
	started time.Time
}

// NewHealthHandler creates a new health handler. The events client may be
// nil when event publishing is disabled.
func NewHealthHandler(ev *events.Client) *HealthHandler {
	return &HealthHandler{
		events:  ev,
		started: time.Now(),
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if h.events != nil {
		if h.events.IsConnected() {
			checks["nats"] = "connected"
		} else {
			checks["nats"] = "disconnected"
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"ready":  ready,
		"checks": checks,
	})
}
