package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-recyclebin/internal/clock"
	"asset-recyclebin/internal/config"
	"asset-recyclebin/internal/event"
	"asset-recyclebin/internal/handler"
	"asset-recyclebin/internal/metrics"
	"asset-recyclebin/internal/middleware"
	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/repository"
	"asset-recyclebin/internal/router"
	"asset-recyclebin/internal/security"
	"asset-recyclebin/internal/service"
	"asset-recyclebin/internal/storage"
	"asset-recyclebin/internal/sweeper"
	"asset-recyclebin/internal/websocket"
)

const securityCode = "open-sesame"

var (
	admin  = model.Principal{ID: "u-admin", Username: "registrar", Role: model.RoleAdmin}
	editor = model.Principal{ID: "u-editor", Username: "clerk", Role: model.RoleEditor}
	viewer = model.Principal{ID: "u-viewer", Username: "guest", Role: model.RoleViewer}
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	Meta *model.Meta `json:"meta"`
}

type testEnv struct {
	handler http.Handler
	tokens  *service.TokenService
	objects *storage.MemoryStorage
	bus     *event.InMemoryBus
	clock   *clock.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry, err := storage.NewRegistry([]storage.ObjectType{
		{Name: "asset", Module: "inventory", DisplayField: "name", UniqueFields: []string{"tag"}},
	})
	require.NoError(t, err)
	code, err := security.NewCodeChecker(securityCode, "")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		tokens:  service.NewTokenService("router-test-secret"),
		objects: storage.NewMemoryStorage(registry),
		bus:     event.NewBus(),
		clock:   clock.NewFake(time.Now().UTC()),
	}

	store := repository.NewMemoryStore()
	recorder := metrics.New()
	svc := service.NewRecycleBinService(store, env.objects, service.Options{
		Code:    code,
		Clock:   env.clock,
		Bus:     env.bus,
		Metrics: recorder,
		Logger:  logger,
	})
	sweep := sweeper.New(svc, sweeper.Options{Bus: env.bus, Metrics: recorder, Logger: logger})

	hub := websocket.NewHub(env.bus)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	cfg := &config.Config{RequestTimeout: 5 * time.Second, RateLimitRPM: -1, CORSOrigins: []string{"*"}}
	env.handler = router.New(cfg, middleware.NewAuthMiddleware(env.tokens), router.Handlers{
		Health:     handler.NewHealthHandler(store),
		RecycleBin: handler.NewRecycleBinHandler(svc, sweep),
		Policy:     handler.NewPolicyHandler(svc),
		Security:   handler.NewSecurityHandler(svc),
		Audit:      handler.NewAuditHandler(service.NewAuditService(store)),
		Events:     handler.NewEventsHandler(hub, nil),
		Metrics:    recorder.Handler(),
	})
	return env
}

func (e *testEnv) saveAsset(t *testing.T, id string, tag string) {
	t.Helper()

	_, err := e.objects.Save(context.Background(), "asset", id, model.Snapshot{
		{Key: "name", Value: "Laptop " + id},
		{Key: "tag", Value: tag},
	})
	require.NoError(t, err)
}

func (e *testEnv) token(t *testing.T, principal model.Principal) string {
	t.Helper()

	token, err := e.tokens.Issue(principal, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, principal *model.Principal, method string, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if principal != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, *principal))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (e *testEnv) softDelete(t *testing.T, id string) model.RecycleBinEntry {
	t.Helper()

	rec, out := e.do(t, &editor, http.MethodDelete, "/api/v1/objects/asset/"+id, map[string]string{"reason": "broken screen"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var entry model.RecycleBinEntry
	require.NoError(t, json.Unmarshal(out.Data, &entry))
	return entry
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec, out := env.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, out.Success)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	env.saveAsset(t, "1", "TAG-1")
	env.softDelete(t, "1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	env.handler.ServeHTTP(metricsRec, req)
	assert.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "recyclebin_operations_total")
}

func TestRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)

	rec, out := env.do(t, nil, http.MethodGet, "/api/v1/recycle-bin", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, out.Error)
	assert.Equal(t, "UNAUTHORIZED", out.Error.Code)
}

func TestSoftDeleteAndList(t *testing.T) {
	env := newTestEnv(t)
	env.saveAsset(t, "7", "TAG-7")

	entry := env.softDelete(t, "7")
	assert.Equal(t, "inventory", entry.ModuleName)

	rec, out := env.do(t, &editor, http.MethodGet, "/api/v1/recycle-bin?mine=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []model.EntryView
	require.NoError(t, json.Unmarshal(out.Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, 30, views[0].DaysRemaining)
	assert.Equal(t, model.WarningNone, views[0].WarningLevel)
	assert.Equal(t, 1, out.Meta.Total)

	rec, out = env.do(t, &editor, http.MethodGet, "/api/v1/recycle-bin/"+entry.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(out.Data), `"object_id":"7"`)

	rec, out = env.do(t, &editor, http.MethodDelete, "/api/v1/objects/asset/7", map[string]string{"reason": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_DELETED", out.Error.Code)

	rec, out = env.do(t, &viewer, http.MethodDelete, "/api/v1/objects/asset/7", map[string]string{"reason": "curious"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", out.Error.Code)

	rec, out = env.do(t, &editor, http.MethodGet, "/api/v1/recycle-bin?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", out.Error.Code)
}

func TestRestoreConflictResponse(t *testing.T) {
	env := newTestEnv(t)
	env.saveAsset(t, "7", "TAG-7")
	entry := env.softDelete(t, "7")
	env.saveAsset(t, "8", "TAG-7")

	rec, out := env.do(t, &editor, http.MethodPost, "/api/v1/recycle-bin/"+entry.ID+"/restore", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, out.Error)
	assert.Equal(t, "RESTORE_CONFLICT", out.Error.Code)
	conflicts, ok := out.Error.Details["conflicts"].([]any)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "8", conflicts[0].(map[string]any)["conflicting_object_id"])

	rec, out = env.do(t, &editor, http.MethodPost, "/api/v1/recycle-bin/"+entry.ID+"/restore", map[string]string{"conflict_policy": "merge"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"conflict_policy": "oneof"}, out.Error.Details)

	rec, out = env.do(t, &editor, http.MethodPost, "/api/v1/recycle-bin/"+entry.ID+"/restore", map[string]string{"conflict_policy": "rename"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result model.RestoreResult
	require.NoError(t, json.Unmarshal(out.Data, &result))
	assert.Equal(t, map[string]string{"tag": "TAG-7 (1)"}, result.Renamed)
}

func TestPermanentDeleteGateResponses(t *testing.T) {
	env := newTestEnv(t)
	env.saveAsset(t, "7", "TAG-7")
	entry := env.softDelete(t, "7")
	path := "/api/v1/recycle-bin/" + entry.ID + "/permanent-delete"

	rec, out := env.do(t, &admin, http.MethodPost, path, map[string]string{"security_code": securityCode})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", out.Error.Code)
	assert.Equal(t, "required", out.Error.Details["reason"])

	rec, out = env.do(t, &editor, http.MethodPost, path, map[string]string{"security_code": securityCode, "reason": "done"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", out.Error.Code)

	rec, out = env.do(t, &admin, http.MethodPost, path, map[string]string{"security_code": "guess", "reason": "done"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INVALID_SECURITY_CODE", out.Error.Code)
	assert.EqualValues(t, 2, out.Error.Details["remaining_attempts"])
	assert.Equal(t, "normal", out.Error.Details["level"])

	rec, out = env.do(t, &admin, http.MethodGet, "/api/v1/security/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(out.Data), `"failed_attempts_24h":1`)

	rec, out = env.do(t, &admin, http.MethodPost, path, map[string]string{"security_code": securityCode, "reason": "done"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, out.Success)

	rec, out = env.do(t, &admin, http.MethodPost, path, map[string]string{"security_code": securityCode, "reason": "done"})
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "ALREADY_PURGED", out.Error.Code)

	rec, out = env.do(t, &editor, http.MethodGet, "/api/v1/audit/objects/asset/7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history model.ObjectHistory
	require.NoError(t, json.Unmarshal(out.Data, &history))
	assert.Equal(t, model.ObjectStatusPurged, history.Status)

	rec, _ = env.do(t, &editor, http.MethodGet, "/api/v1/audit", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, out = env.do(t, &admin, http.MethodGet, "/api/v1/audit?action=security_violation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, out.Meta.Total)
}

func TestLockoutResponseAndUnlock(t *testing.T) {
	env := newTestEnv(t)
	env.saveAsset(t, "7", "TAG-7")
	entry := env.softDelete(t, "7")
	path := "/api/v1/recycle-bin/" + entry.ID + "/permanent-delete"

	for range 3 {
		rec, _ := env.do(t, &admin, http.MethodPost, path, map[string]string{"security_code": "guess", "reason": "done"})
		require.Equal(t, http.StatusForbidden, rec.Code)
	}

	rec, out := env.do(t, &admin, http.MethodPost, path, map[string]string{"security_code": securityCode, "reason": "done"})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "LOCKED_OUT", out.Error.Code)
	assert.Equal(t, "medium", out.Error.Details["level"])
	assert.EqualValues(t, 30, out.Error.Details["minutes_remaining"])

	rec, out = env.do(t, &editor, http.MethodPost, "/api/v1/security/unlock/u-admin", map[string]string{"reason": "verified by phone"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", out.Error.Code)

	supervisor := model.Principal{ID: "u-supervisor", Username: "supervisor", Role: model.RoleAdmin}
	rec, _ = env.do(t, &supervisor, http.MethodPost, "/api/v1/security/unlock/u-admin", map[string]string{"reason": "verified by phone"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Five attempts in ten minutes also trip the rate limit.
	rec, out = env.do(t, &admin, http.MethodPost, path, map[string]string{"security_code": securityCode, "reason": "done"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", out.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	env.clock.Advance(11 * time.Minute)

	rec, _ = env.do(t, &admin, http.MethodPost, path, map[string]string{"security_code": securityCode, "reason": "done"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, &editor, http.MethodGet, "/api/v1/security/summary/u-admin", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, out = env.do(t, &supervisor, http.MethodGet, "/api/v1/security/summary/u-admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary model.SecuritySummary
	require.NoError(t, json.Unmarshal(out.Data, &summary))
	assert.Equal(t, 3, summary.ByOutcome[model.OutcomeInvalidCode])

	rec, _ = env.do(t, &supervisor, http.MethodGet, "/api/v1/security/suspicious?hours=48", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCleanupEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.saveAsset(t, "7", "TAG-7")
	env.softDelete(t, "7")
	env.clock.Advance(31 * 24 * time.Hour)

	rec, out := env.do(t, &editor, http.MethodPost, "/api/v1/recycle-bin/cleanup", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", out.Error.Code)

	rec, out = env.do(t, &admin, http.MethodPost, "/api/v1/recycle-bin/cleanup", map[string]any{"dry_run": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var report model.CleanupReport
	require.NoError(t, json.Unmarshal(out.Data, &report))
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Eligible)

	rec, out = env.do(t, &admin, http.MethodPost, "/api/v1/recycle-bin/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(out.Data, &report))
	assert.Equal(t, 1, report.Deleted)
}

func TestPolicyEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec, out := env.do(t, &editor, http.MethodGet, "/api/v1/retention-policies/inventory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(out.Data), `"retention_days":30`)

	rec, out = env.do(t, &editor, http.MethodPut, "/api/v1/retention-policies/inventory", map[string]int{"retention_days": 60})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", out.Error.Code)

	rec, out = env.do(t, &admin, http.MethodPut, "/api/v1/retention-policies/inventory", map[string]int{"retention_days": 60})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, string(out.Data), `"retention_days":60`)

	rec, out = env.do(t, &admin, http.MethodPut, "/api/v1/retention-policies/inventory", map[string]any{"keep": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", out.Error.Code)
	assert.Contains(t, out.Error.Details["body"], "keep")

	rec, _ = env.do(t, &admin, http.MethodPost, "/api/v1/retention-policies/inventory/recompute", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, out = env.do(t, &viewer, http.MethodGet, "/api/v1/retention-policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(out.Data), `"module_name":"inventory"`)
}

func TestEventsFeed(t *testing.T) {
	env := newTestEnv(t)
	env.saveAsset(t, "7", "TAG-7")

	server := httptest.NewServer(env.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/events?types=recyclebin.&access_token=" + env.token(t, editor)
	conn, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// The hub registers the client after the handshake; keep announcing
	// until the first event arrives.
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				env.bus.Publish(event.New(event.TypeCleanupCompleted, "", nil, time.Now()))
			}
		}
	}()
	_, _, err = conn.ReadMessage()
	close(stop)
	require.NoError(t, err)

	env.softDelete(t, "7")

	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var got event.Event
		require.NoError(t, json.Unmarshal(raw, &got))
		if got.Type == event.TypeSoftDeleted {
			assert.Equal(t, editor.ID, got.ActorID)
			return
		}
	}
}
