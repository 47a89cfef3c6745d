//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"asset-recyclebin/internal/app"
	"asset-recyclebin/internal/config"
	"asset-recyclebin/internal/database"
	"asset-recyclebin/internal/handler"
	"asset-recyclebin/internal/middleware"
	"asset-recyclebin/internal/model"
	"asset-recyclebin/internal/router"
	"asset-recyclebin/internal/service"
	"asset-recyclebin/internal/storage"
	"asset-recyclebin/internal/websocket"
)

const securityCode = "integration-code"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type pgEnv struct {
	server  *httptest.Server
	core    *app.Core
	db      *database.DB
	objects *storage.PostgresStorage
	tokens  *service.TokenService
}

// newPostgresEnv runs the full HTTP stack against TEST_DATABASE_URL. Every
// test uses fresh object and principal ids so runs never collide.
func newPostgresEnv(t *testing.T) *pgEnv {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	cfg := &config.Config{
		RequestTimeout:      10 * time.Second,
		DatabaseURL:         url,
		DBMaxConns:          8,
		DBMinConns:          1,
		JWTSecret:           "integration-secret",
		CORSOrigins:         []string{"*"},
		RateLimitRPM:        -1,
		PermanentDeleteCode: securityCode,
		CaptchaThreshold:    2,
		CaptchaTimeout:      time.Second,
		GateRateLimitWindow: 10 * time.Minute,
		GateRateLimitMax:    5,
		SweeperItemTimeout:  5 * time.Second,
		SweeperConcurrency:  2,
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	core, err := app.NewCore(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(core.Close)

	db, err := database.New(ctx, url, 2, 0)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	objects, ok := core.Objects.(*storage.PostgresStorage)
	require.True(t, ok)

	tokens := service.NewTokenService(cfg.JWTSecret)
	hub := websocket.NewHub(core.Bus)
	hubCtx, cancel := context.WithCancel(ctx)
	go hub.Run(hubCtx)
	t.Cleanup(cancel)

	handlers := router.Handlers{
		Health:     handler.NewHealthHandler(core.Store),
		RecycleBin: handler.NewRecycleBinHandler(core.Service, core.Sweeper),
		Policy:     handler.NewPolicyHandler(core.Service),
		Security:   handler.NewSecurityHandler(core.Service),
		Audit:      handler.NewAuditHandler(core.Audit),
		Events:     handler.NewEventsHandler(hub, cfg.CORSOrigins),
	}
	server := httptest.NewServer(router.New(cfg, middleware.NewAuthMiddleware(tokens), handlers))
	t.Cleanup(server.Close)

	return &pgEnv{server: server, core: core, db: db, objects: objects, tokens: tokens}
}

func newPrincipal(role string) model.Principal {
	id := uuid.NewString()
	return model.Principal{ID: id, Username: role + "-" + id[:8], Role: role}
}

func (e *pgEnv) saveAsset(t *testing.T) string {
	t.Helper()
	return e.saveTaggedAsset(t, "")
}

// saveTaggedAsset stores a live asset; an empty tag gets a unique one.
func (e *pgEnv) saveTaggedAsset(t *testing.T, tag string) string {
	t.Helper()

	id := "IT-" + uuid.NewString()
	if tag == "" {
		tag = "TAG-" + id
	}
	_, err := e.objects.Save(context.Background(), "asset", id, model.Snapshot{
		{Key: "name", Value: "Projector " + id[:11]},
		{Key: "tag_number", Value: tag},
	})
	require.NoError(t, err)
	return id
}

func (e *pgEnv) do(t *testing.T, principal model.Principal, method string, path string, body any) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	token, err := e.tokens.Issue(principal, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (e *pgEnv) softDelete(t *testing.T, principal model.Principal, id string) model.RecycleBinEntry {
	t.Helper()

	resp, out := e.do(t, principal, http.MethodDelete, "/api/v1/objects/asset/"+id, map[string]string{"reason": "end of life"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var entry model.RecycleBinEntry
	require.NoError(t, json.Unmarshal(out.Data, &entry))
	return entry
}
