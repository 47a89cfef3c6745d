package handler

import (
	"log/slog"
	"net/http"

	gorilla "github.com/gorilla/websocket"

	"asset-recyclebin/internal/websocket"
)

// EventsHandler streams lifecycle and security events over a websocket.
type EventsHandler struct {
	hub      *websocket.Hub
	upgrader gorilla.Upgrader
}

func NewEventsHandler(hub *websocket.Hub, allowedOrigins []string) *EventsHandler {
	return &EventsHandler{hub: hub, upgrader: websocket.Upgrader(allowedOrigins)}
}

func (h *EventsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// Upgrade writes its own error response.
	if err := h.hub.Serve(h.upgrader, w, r, principal); err != nil {
		slog.Debug("websocket upgrade failed", "principal", principal.ID, "error", err)
	}
}
