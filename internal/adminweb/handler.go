package adminweb

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/dropbot/backend/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler upgrades admin-dashboard HTTP connections to the live feed.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler constructs a Handler over hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{hub: hub, logger: log}
}

// Upgrade returns the Fiber handler to mount behind the WebSocket upgrade
// check, at the route the dashboard connects to (protected by AdminAuth
// ahead of the upgrade, same as every other admin route).
func (h *Handler) Upgrade() fiber.Handler {
	return websocket.New(h.handleConnection, websocket.Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	})
}

func (h *Handler) handleConnection(conn *websocket.Conn) {
	c := &client{id: uuid.New().String(), send: make(chan []byte, 64)}

	h.hub.register <- c
	defer func() { h.hub.unregister <- c }()

	go h.writePump(conn, c)
	h.readPump(conn, c)
}

// readPump discards anything the dashboard sends — this feed is
// broadcast-only — but must keep reading to notice the connection close
// and to service the pong handler.
func (h *Handler) readPump(conn *websocket.Conn, c *client) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
