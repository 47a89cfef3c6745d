package middleware

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"asset-recyclebin/internal/model"
)

const requestIDHeader = "X-Request-ID"

const requestLogContextKey contextKey = "request_log"

// requestLog collects what inner middleware learns about a request so the
// access log line can carry it.
type requestLog struct {
	id        string
	principal *model.Principal
}

// gateError is the part of the error envelope the access log keeps.
type gateError struct {
	Error *struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// RequestIDFromContext returns the id assigned by Logging.
func RequestIDFromContext(ctx context.Context) string {
	if entry, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
		return entry.id
	}
	return ""
}

// notePrincipal records the authenticated principal on the access log entry.
func notePrincipal(ctx context.Context, principal model.Principal) {
	if entry, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
		entry.principal = &principal
	}
}

// Logging writes one access log line per request. Recycle bin calls are
// logged with the acting principal, the matched route and, for rejected
// permanent deletes, the gate details (level, remaining attempts).
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := &requestLog{id: r.Header.Get(requestIDHeader)}
		if entry.id == "" {
			entry.id = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, entry.id)
		r = r.WithContext(context.WithValue(r.Context(), requestLogContextKey, entry))

		started := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		attrs := []any{
			"request_id", entry.id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(started),
			"client_ip", ClientIP(r),
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			attrs = append(attrs, "route", rctx.RoutePattern())
		}
		if entry.principal != nil {
			attrs = append(attrs, "principal_id", entry.principal.ID, "role", entry.principal.Role)
		}

		if wrapped.status >= 400 {
			if query := redactQuery(r.URL.Query()); query != "" {
				attrs = append(attrs, "query", query)
			}
			attrs = append(attrs, errorAttrs(wrapped.body.Bytes())...)
		}

		switch {
		case wrapped.status >= 500:
			slog.Error("request", attrs...)
		case wrapped.status >= 400:
			slog.Warn("request", attrs...)
		default:
			slog.Info("request", attrs...)
		}
	})
}

func errorAttrs(body []byte) []any {
	var parsed gateError
	if len(body) == 0 || json.Unmarshal(body, &parsed) != nil || parsed.Error == nil {
		return nil
	}

	attrs := []any{"error_code", parsed.Error.Code}
	if level, ok := parsed.Error.Details["level"]; ok {
		attrs = append(attrs, "lockout_level", level)
	}
	for _, key := range []string{"remaining_attempts", "minutes_remaining", "minutes_until_reset"} {
		if value, ok := parsed.Error.Details[key]; ok {
			attrs = append(attrs, key, value)
		}
	}
	return attrs
}

// redactQuery drops the websocket access token from logged query strings.
func redactQuery(values url.Values) string {
	if values.Has("access_token") {
		values.Set("access_token", "REDACTED")
	}
	return values.Encode()
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.status = statusCode
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	// Only error bodies are kept, for the log line.
	if rw.status >= 400 {
		rw.body.Write(b)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
