package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/service"
	"asset-recyclebin/pkg/apierror"
)

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

// writeError renders err as the error envelope. Security gate rejections
// carry the numbers a client needs to react: remaining attempts, lock time
// left or minutes until the rate limit window resets.
func writeError(w http.ResponseWriter, err error) {
	status, body := describeError(err)
	if status == http.StatusTooManyRequests {
		if minutes, ok := body.Details["minutes_until_reset"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(minutes*60))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

func describeError(err error) (int, *model.APIError) {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus, &model.APIError{Code: apiErr.Code, Message: apiErr.Message, Details: apiErr.Details}
	}

	body := &model.APIError{Code: service.ErrorCode(err)}

	var (
		rateLimited *model.RateLimitedError
		lockedOut   *model.LockedOutError
		invalidCode *model.InvalidSecurityCodeError
		conflict    *model.RestoreConflictError
		validation  *model.ValidationError
	)
	switch {
	case errors.As(err, &rateLimited):
		body.Message = "Too many permanent delete attempts"
		body.Details = map[string]any{"minutes_until_reset": rateLimited.MinutesUntilReset}
		return http.StatusTooManyRequests, body
	case errors.As(err, &lockedOut):
		body.Message = "Permanent delete is locked for this account"
		body.Details = map[string]any{
			"level":                 lockedOut.Level,
			"minutes_remaining":     lockedOut.MinutesRemaining,
			"requires_admin_unlock": lockedOut.RequiresAdminUnlock,
		}
		return http.StatusLocked, body
	case errors.As(err, &invalidCode):
		body.Message = "Invalid security code"
		body.Details = map[string]any{
			"remaining_attempts": invalidCode.RemainingAttempts,
			"level":              invalidCode.Level,
		}
		return http.StatusForbidden, body
	case errors.As(err, &conflict):
		body.Message = "Restoring would duplicate a unique value"
		body.Details = map[string]any{"conflicts": conflict.Conflicts}
		return http.StatusConflict, body
	case errors.As(err, &validation):
		body.Message = "Invalid request"
		field := validation.Field
		if field == "" {
			field = "message"
		}
		body.Details = map[string]any{field: validation.Message}
		return http.StatusBadRequest, body
	}

	switch body.Code {
	case "VALIDATION_ERROR":
		body.Message = "Invalid request"
		return http.StatusBadRequest, body
	case "NOT_FOUND":
		body.Message = "Not found"
		return http.StatusNotFound, body
	case "UNSUPPORTED_OBJECT":
		body.Message = "Object type is not supported by the recycle bin"
		return http.StatusBadRequest, body
	case "ALREADY_DELETED":
		body.Message = "Object is already in the recycle bin"
		return http.StatusConflict, body
	case "ALREADY_RESTORED":
		body.Message = "Entry was already restored"
		return http.StatusConflict, body
	case "ALREADY_PURGED":
		body.Message = "Entry was already permanently deleted"
		return http.StatusGone, body
	case "RESTORE_CANCELLED":
		body.Message = "Restore cancelled because of a conflict"
		return http.StatusConflict, body
	case "NOT_EXPIRED":
		body.Message = "Entry has not reached its auto delete date"
		return http.StatusConflict, body
	case "UNAUTHORIZED", "FORBIDDEN":
		body.Message = "Access denied"
		return http.StatusForbidden, body
	case "TOKEN_EXPIRED":
		body.Message = "Invalid or expired token"
		return http.StatusUnauthorized, body
	case "CAPTCHA_REQUIRED":
		body.Message = "A CAPTCHA token is required"
		return http.StatusPreconditionRequired, body
	case "CAPTCHA_FAILED":
		body.Message = "CAPTCHA verification failed"
		return http.StatusForbidden, body
	case "PERSISTENCE_ERROR":
		slog.Error("persistence failure", "error", err)
		body.Message = "Storage is unavailable"
		return http.StatusServiceUnavailable, body
	}

	slog.Error("unhandled error in writeError", "error", err)
	body.Code = "INTERNAL_ERROR"
	body.Message = "Unexpected server error"
	return http.StatusInternalServerError, body
}
