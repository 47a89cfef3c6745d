package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	from, err := parseTimeParam(query.Get("from"), "from")
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseTimeParam(query.Get("to"), "to")
	if err != nil {
		writeError(w, err)
		return
	}

	items, meta, err := h.service.Query(r.Context(), model.AuditQuery{
		EntryID:     strings.TrimSpace(query.Get("entry_id")),
		ObjectType:  strings.TrimSpace(query.Get("object_type")),
		ObjectID:    strings.TrimSpace(query.Get("object_id")),
		Module:      strings.TrimSpace(query.Get("module")),
		PrincipalID: strings.TrimSpace(query.Get("principal_id")),
		Action:      model.AuditAction(strings.TrimSpace(query.Get("action"))),
		Success:     parseBoolParam(query.Get("success")),
		From:        from,
		To:          to,
		Page:        parseIntOrDefault(query.Get("page"), 1),
		Limit:       parseIntOrDefault(query.Get("limit"), 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, items, meta)
}

// ObjectHistory rebuilds one object's lifecycle from the audit trail.
func (h *AuditHandler) ObjectHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.ObjectHistory(r.Context(), model.ObjectRef{
		Type: chi.URLParam(r, "type"),
		ID:   chi.URLParam(r, "id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, history, nil)
}
