package service

import (
	"errors"

	"asset-recyclebin/internal/model"
)

// ErrorCode returns the stable machine readable code reported for err in
// API envelopes and bulk results.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrInvalidInput):
		return "VALIDATION_ERROR"
	case errors.Is(err, model.ErrEntryNotFound), errors.Is(err, model.ErrObjectNotFound), errors.Is(err, model.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, model.ErrAlreadyDeleted):
		return "ALREADY_DELETED"
	case errors.Is(err, model.ErrAlreadyRestored):
		return "ALREADY_RESTORED"
	case errors.Is(err, model.ErrAlreadyPurged):
		return "ALREADY_PURGED"
	case errors.Is(err, model.ErrUnsupportedObject):
		return "UNSUPPORTED_OBJECT"
	case errors.Is(err, model.ErrRestoreConflict):
		return "RESTORE_CONFLICT"
	case errors.Is(err, model.ErrRestoreCancelled):
		return "RESTORE_CANCELLED"
	case errors.Is(err, model.ErrNotExpired):
		return "NOT_EXPIRED"
	case errors.Is(err, model.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, model.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, model.ErrTokenExpired):
		return "TOKEN_EXPIRED"
	case errors.Is(err, model.ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, model.ErrLockedOut):
		return "LOCKED_OUT"
	case errors.Is(err, model.ErrCaptchaRequired):
		return "CAPTCHA_REQUIRED"
	case errors.Is(err, model.ErrCaptchaFailed):
		return "CAPTCHA_FAILED"
	case errors.Is(err, model.ErrInvalidSecurityCode):
		return "INVALID_SECURITY_CODE"
	case errors.Is(err, model.ErrPersistence):
		return "PERSISTENCE_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
