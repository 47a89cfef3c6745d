package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/service"
	"asset-recyclebin/pkg/apierror"
)

type SecurityHandler struct {
	service *service.RecycleBinService
}

func NewSecurityHandler(service *service.RecycleBinService) *SecurityHandler {
	return &SecurityHandler{service: service}
}

type securityStatus struct {
	Lockout   model.LockoutStatus   `json:"lockout"`
	RateLimit model.RateLimitStatus `json:"rate_limit"`
}

// Status reports the caller's own gate state so a client can show remaining
// attempts and CAPTCHA requirements before submitting a code.
func (h *SecurityHandler) Status(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	lockout, err := h.service.LockoutStatus(r.Context(), principal.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	rateLimit, err := h.service.RateLimitStatus(r.Context(), principal.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, securityStatus{Lockout: lockout, RateLimit: rateLimit}, nil)
}

// Summary aggregates the attempt ledger. Administrators may ask about any
// principal; everybody else only about themselves.
func (h *SecurityHandler) Summary(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	target := chi.URLParam(r, "principal")
	if !principal.IsAdmin() && target != principal.ID {
		writeError(w, apierror.New("FORBIDDEN", "Access denied", nil, http.StatusForbidden))
		return
	}

	hours := parseIntOrDefault(r.URL.Query().Get("hours"), 24)
	if hours <= 0 {
		writeError(w, apierror.New("BAD_REQUEST", "hours must be positive", apierror.Field("hours", "positive"), http.StatusBadRequest))
		return
	}

	summary, err := h.service.GetSecuritySummary(r.Context(), target, time.Duration(hours)*time.Hour)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, summary, nil)
}

func (h *SecurityHandler) Suspicious(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetSuspiciousActivityReport(r.Context(), parseIntOrDefault(r.URL.Query().Get("hours"), service.DefaultReportWindowHrs))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, report, nil)
}

func (h *SecurityHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.UnlockRequest
	if err := decodeJSON(r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	status, err := h.service.AdminUnlock(r.Context(), principal, chi.URLParam(r, "principal"), payload.Reason, requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, status, nil)
}
