package websocket

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	gorilla "github.com/gorilla/websocket"

	"asset-recyclebin/internal/event"
	"asset-recyclebin/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	securityEventPrefix = "security."
)

// Client is one websocket connection subscribed to lifecycle events.
type Client struct {
	hub       *Hub
	conn      *gorilla.Conn
	send      chan []byte
	principal model.Principal
	prefixes  []string
}

// allowed hides security events from non-administrators unless the event
// is about their own account.
func (c *Client) allowed(e event.Event) bool {
	if !strings.HasPrefix(string(e.Type), securityEventPrefix) || c.principal.IsAdmin() {
		return true
	}
	status, ok := e.Payload.(model.LockoutStatus)
	return ok && status.PrincipalID == c.principal.ID
}

func (c *Client) wants(eventType event.Type) bool {
	if len(c.prefixes) == 0 {
		return true
	}
	for _, prefix := range c.prefixes {
		if strings.HasPrefix(string(eventType), prefix) {
			return true
		}
	}
	return false
}

// readPump only drains control frames; clients never send commands.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseGoingAway, gorilla.CloseAbnormalClosure) {
				slog.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(gorilla.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gorilla.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorilla.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Upgrader builds the connection upgrader; allowedOrigins empty accepts any
// origin already admitted by the CORS layer.
func Upgrader(allowedOrigins []string) gorilla.Upgrader {
	return gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// Serve upgrades the request and registers the connection with the hub.
// The optional "types" query parameter filters events by type prefix.
func (h *Hub) Serve(upgrader gorilla.Upgrader, w http.ResponseWriter, r *http.Request, principal model.Principal) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	var prefixes []string
	for _, raw := range strings.Split(r.URL.Query().Get("types"), ",") {
		if prefix := strings.TrimSpace(raw); prefix != "" {
			prefixes = append(prefixes, prefix)
		}
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 64),
		principal: principal,
		prefixes:  prefixes,
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()
	return nil
}
