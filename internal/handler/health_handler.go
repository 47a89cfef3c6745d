package handler

import (
	"context"
	"net/http"
	"time"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store pinger
}

func NewHealthHandler(store pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeSuccess(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()}, nil)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
}
