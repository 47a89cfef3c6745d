package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/service"
)

type PolicyHandler struct {
	service *service.RecycleBinService
}

func NewPolicyHandler(service *service.RecycleBinService) *PolicyHandler {
	return &PolicyHandler{service: service}
}

func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	policies, err := h.service.ListPolicies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, policies, nil)
}

func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	policy, err := h.service.Policy(r.Context(), chi.URLParam(r, "module"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, policy, nil)
}

func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.UpdatePolicyRequest
	if err := decodeJSON(r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	policy, err := h.service.UpdatePolicy(r.Context(), principal, chi.URLParam(r, "module"), payload, requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, policy, nil)
}

func (h *PolicyHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.service.RecomputeExisting(r.Context(), principal, chi.URLParam(r, "module"), requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result, nil)
}
