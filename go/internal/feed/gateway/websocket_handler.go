package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// WebSocketHandler handles WebSocket upgrade requests for the props feed
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	logger            zerolog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		logger:            logger,
	}
}

// HandlePropsConnection upgrades the request and attaches it to the feed
func (h *WebSocketHandler) HandlePropsConnection(w http.ResponseWriter, r *http.Request) {
	// Upgrade writes its own HTTP error response on failure
	if err := h.connectionManager.UpgradeConnection(w, r); err != nil {
		h.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/props", h.HandlePropsConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
