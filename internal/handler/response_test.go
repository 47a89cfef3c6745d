package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-recyclebin/internal/model"
	"asset-recyclebin/pkg/apierror"
)

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"api error", apierror.New("BAD_REQUEST", "invalid JSON body", nil, http.StatusBadRequest), http.StatusBadRequest, "BAD_REQUEST"},
		{"entry not found", model.ErrEntryNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"wrapped unsupported", fmt.Errorf("vehicle: %w", model.ErrUnsupportedObject), http.StatusBadRequest, "UNSUPPORTED_OBJECT"},
		{"already restored", model.ErrAlreadyRestored, http.StatusConflict, "ALREADY_RESTORED"},
		{"already purged", model.ErrAlreadyPurged, http.StatusGone, "ALREADY_PURGED"},
		{"unauthorized", model.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED"},
		{"captcha required", model.ErrCaptchaRequired, http.StatusPreconditionRequired, "CAPTCHA_REQUIRED"},
		{"captcha failed", model.ErrCaptchaFailed, http.StatusForbidden, "CAPTCHA_FAILED"},
		{"persistence", &model.PersistenceError{Op: "append audit", Err: errors.New("conn reset")}, http.StatusServiceUnavailable, "PERSISTENCE_ERROR"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body model.APIResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestWriteErrorGateDetails(t *testing.T) {
	decode := func(rec *httptest.ResponseRecorder) map[string]any {
		var body struct {
			Error struct {
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body.Error.Details
	}

	rec := httptest.NewRecorder()
	writeError(rec, &model.RateLimitedError{MinutesUntilReset: 4})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "240", rec.Header().Get("Retry-After"))
	assert.EqualValues(t, 4, decode(rec)["minutes_until_reset"])

	rec = httptest.NewRecorder()
	writeError(rec, &model.LockedOutError{Level: model.LockoutCritical, RequiresAdminUnlock: true})
	assert.Equal(t, http.StatusLocked, rec.Code)
	details := decode(rec)
	assert.Equal(t, "critical", details["level"])
	assert.Equal(t, true, details["requires_admin_unlock"])

	rec = httptest.NewRecorder()
	writeError(rec, &model.InvalidSecurityCodeError{RemainingAttempts: 1, Level: model.LockoutHigh})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.EqualValues(t, 1, decode(rec)["remaining_attempts"])

	rec = httptest.NewRecorder()
	writeError(rec, &model.ValidationError{Field: "reason", Message: "a deletion reason is required"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "a deletion reason is required", decode(rec)["reason"])
}

func TestWriteErrorDetailsAreObjects(t *testing.T) {
	var dst struct {
		Reason string `json:"reason"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"keep":true}`))

	tests := []struct {
		name string
		err  error
		key  string
	}{
		{"malformed body", decodeJSON(req, &dst, false), "body"},
		{"validation without field", &model.ValidationError{Message: "entry ids must be unique"}, "message"},
		{"validator failure", validationError(errors.New("invalid validation target")), "message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			rec := httptest.NewRecorder()
			writeError(rec, tt.err)

			var body struct {
				Error struct {
					Details map[string]any `json:"details"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body.Error.Details[tt.key])
		})
	}
}
