package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/service"
	"asset-recyclebin/pkg/apierror"
)

type cleanupRunner interface {
	AutoCleanup(ctx context.Context, opts model.CleanupOptions) (model.CleanupReport, error)
}

// RecycleBinHandler exposes the entry lifecycle. Role checks for
// soft delete, restore and permanent delete happen in the service so that
// denials are audited.
type RecycleBinHandler struct {
	service *service.RecycleBinService
	cleaner cleanupRunner
}

func NewRecycleBinHandler(service *service.RecycleBinService, cleaner cleanupRunner) *RecycleBinHandler {
	return &RecycleBinHandler{service: service, cleaner: cleaner}
}

type softDeleteBody struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

func (h *RecycleBinHandler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload softDeleteBody
	if err := decodeJSON(r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	ref := model.ObjectRef{Type: chi.URLParam(r, "type"), ID: chi.URLParam(r, "id")}
	entry, err := h.service.SoftDelete(r.Context(), ref, principal, payload.Reason, requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, entry, nil)
}

func (h *RecycleBinHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	query := r.URL.Query()
	filter := model.EntryFilter{
		Module:      strings.TrimSpace(query.Get("module")),
		ObjectType:  strings.TrimSpace(query.Get("object_type")),
		DeletedByID: strings.TrimSpace(query.Get("deleted_by")),
		Status:      model.EntryStatus(strings.TrimSpace(query.Get("status"))),
		Page:        parseIntOrDefault(query.Get("page"), 1),
		Limit:       parseIntOrDefault(query.Get("limit"), 50),
	}
	if mine := parseBoolParam(query.Get("mine")); mine != nil && *mine {
		filter.DeletedByID = principal.ID
	}
	switch filter.Status {
	case "", model.EntryStatusActive, model.EntryStatusRestored, model.EntryStatusPurged, model.EntryStatusAll:
	default:
		writeError(w, apierror.New("BAD_REQUEST", "status must be one of active|restored|purged|all", apierror.Field("status", "oneof"), http.StatusBadRequest))
		return
	}

	items, meta, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, items, meta)
}

func (h *RecycleBinHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, view, nil)
}

func (h *RecycleBinHandler) Restore(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.RestoreRequest
	if err := decodeJSON(r, &payload, true); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.Restore(r.Context(), chi.URLParam(r, "id"), principal, payload.ConflictPolicy, requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result, nil)
}

func (h *RecycleBinHandler) BulkRestore(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.BulkRestoreRequest
	if err := decodeJSON(r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.BulkRestore(r.Context(), payload.EntryIDs, principal, payload.ConflictPolicy, requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result, nil)
}

func (h *RecycleBinHandler) PermanentDelete(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.PermanentDeleteBody
	if err := decodeJSON(r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.PermanentDelete(r.Context(), principal, model.PermanentDeleteRequest{
		EntryID:      chi.URLParam(r, "id"),
		Code:         payload.SecurityCode,
		CaptchaToken: payload.CaptchaToken,
		Reason:       payload.Reason,
	}, requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result, nil)
}

func (h *RecycleBinHandler) BulkPermanentDelete(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.BulkPermanentDeleteRequest
	if err := decodeJSON(r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.BulkPermanentDelete(r.Context(), principal, payload, requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result, nil)
}

type purgeBody struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// Purge drops the row of a closed entry; the audit trail keeps its history.
func (h *RecycleBinHandler) Purge(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload purgeBody
	if err := decodeJSON(r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.service.PurgeClosedEntry(r.Context(), principal, id, payload.Reason, requestContext(r)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"purged": true, "id": id}, nil)
}

func (h *RecycleBinHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var payload model.CleanupRequest
	if err := decodeJSON(r, &payload, true); err != nil {
		writeError(w, err)
		return
	}

	report, err := h.cleaner.AutoCleanup(r.Context(), model.CleanupOptions{
		Module: payload.Module,
		Force:  payload.Force,
		DryRun: payload.DryRun,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, report, nil)
}
