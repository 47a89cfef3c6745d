package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"asset-recyclebin/internal/event"
	"asset-recyclebin/internal/model"
)

func TestHubBroadcastsFilteredEvents(t *testing.T) {
	bus := event.NewBus()
	hub := NewHub(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	upgrader := Upgrader(nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, hub.Serve(upgrader, w, r, model.Principal{ID: "admin-1", Role: model.RoleAdmin}))
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?types=security."
	conn, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration happens asynchronously; keep publishing until the client reads.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.Publish(event.New(event.TypeSoftDeleted, "u1", nil, time.Now()))
				bus.Publish(event.New(event.TypeLockedOut, "u1", model.LockoutStatus{PrincipalID: "u1", Level: model.LockoutMedium}, time.Now()))
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var received event.Event
	require.NoError(t, json.Unmarshal(message, &received))
	require.Equal(t, event.TypeLockedOut, received.Type)
}

func TestUpgraderCheckOrigin(t *testing.T) {
	t.Parallel()

	upgrader := Upgrader([]string{"https://registry.example.gov"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Origin", "https://registry.example.gov")
	require.True(t, upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	require.False(t, upgrader.CheckOrigin(req))
}

func TestClientSecurityEventVisibility(t *testing.T) {
	t.Parallel()

	locked := event.New(event.TypeLockedOut, "u-7", model.LockoutStatus{PrincipalID: "u-7"}, time.Now())
	deleted := event.New(event.TypeSoftDeleted, "u-7", nil, time.Now())

	admin := &Client{principal: model.Principal{ID: "u-1", Role: model.RoleAdmin}}
	owner := &Client{principal: model.Principal{ID: "u-7", Role: model.RoleEditor}}
	other := &Client{principal: model.Principal{ID: "u-8", Role: model.RoleEditor}}

	require.True(t, admin.allowed(locked))
	require.True(t, owner.allowed(locked))
	require.False(t, other.allowed(locked))
	require.True(t, other.allowed(deleted))
}
