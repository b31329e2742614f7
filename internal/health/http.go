package health

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// HTTPHandler serves the probe endpoints from a Manager.
//
//	GET /health           aggregate status, 503 when unhealthy
//	GET /ready            readiness probe
//	GET /live             liveness probe, always 200 while the process runs
//	GET /health/detailed  per-component results
//
// Pass ?cached=true to read the background loop's last results instead of
// probing dependencies inline.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes mounts the probe endpoints on the given mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.HandleFunc("/live", h.handleLive)
	mux.HandleFunc("/health/detailed", h.handleDetailed)
}

func useCached(r *http.Request) bool {
	return r.URL.Query().Get("cached") == "true"
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	var overall OverallHealth
	if useCached(r) {
		overall = h.manager.GetCachedOverallHealth()
	} else {
		overall = h.manager.GetOverallHealth(r.Context())
	}

	status := http.StatusOK
	if overall.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, map[string]interface{}{
		"status":    overall.Status.String(),
		"message":   overall.Message,
		"degraded":  overall.Degraded,
		"timestamp": overall.Timestamp,
	})
}

func (h *HTTPHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	var overall OverallHealth
	if useCached(r) {
		overall = h.manager.GetCachedOverallHealth()
	} else {
		overall = h.manager.GetOverallHealth(r.Context())
	}

	status := http.StatusOK
	if !overall.Ready {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, map[string]interface{}{
		"ready":     overall.Ready,
		"message":   overall.Message,
		"timestamp": overall.Timestamp,
	})
}

func (h *HTTPHandler) handleLive(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"live": h.manager.IsLive(),
	})
}

func (h *HTTPHandler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	var detailed DetailedHealth
	if useCached(r) {
		detailed = h.manager.GetCachedDetailedHealth()
	} else {
		detailed = h.manager.GetDetailedHealth(r.Context())
	}

	status := http.StatusOK
	if detailed.Overall.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, detailed)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
