package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"asset-recyclebin/internal/middleware"
	"asset-recyclebin/internal/model"
	"asset-recyclebin/pkg/apierror"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func principalFromRequest(r *http.Request) (model.Principal, error) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || principal.IsZero() {
		return model.Principal{}, apierror.New("UNAUTHORIZED", "authentication required", nil, http.StatusUnauthorized)
	}
	return principal, nil
}

// requestContext captures the transport metadata stored with ledger and
// audit rows.
func requestContext(r *http.Request) model.RequestContext {
	return model.RequestContext{
		IP:          middleware.ClientIP(r),
		UserAgent:   truncate(r.UserAgent(), 512),
		SessionID:   truncate(strings.TrimSpace(r.Header.Get("X-Session-ID")), 128),
		RequestPath: r.URL.Path,
		Referer:     truncate(r.Referer(), 512),
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

// decodeJSON reads a JSON body into dst and runs its validate tags. An empty
// body is accepted when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return apierror.New("BAD_REQUEST", "invalid JSON body", apierror.Field("body", err.Error()), http.StatusBadRequest)
	}

	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierror.New("VALIDATION_ERROR", "invalid request", apierror.Field("message", err.Error()), http.StatusBadRequest)
	}

	fields := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	return apierror.New("VALIDATION_ERROR", "invalid request", fields, http.StatusBadRequest)
}

func parseIntOrDefault(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func parseTimeParam(raw string, name string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if day, dayErr := time.Parse(time.DateOnly, raw); dayErr == nil {
			return &day, nil
		}
		return nil, apierror.New("BAD_REQUEST", fmt.Sprintf("%s must be an RFC 3339 timestamp or a date", name), apierror.Field(name, "timestamp"), http.StatusBadRequest)
	}
	return &parsed, nil
}

func parseBoolParam(raw string) *bool {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &value
}
