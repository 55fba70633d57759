// Package adminweb is the admin dashboard's live event feed: a
// broadcast-only WebSocket hub administrative handlers push catalog and
// moderation events into, so a connected dashboard sees product,
// discount and user changes as they happen instead of polling. The
// dashboard UI itself isn't part of this service; only the feed is.
//
// The register/unregister/broadcast channel trio and client
// buffer-or-drop send follow the same shape used for every other
// connection registry in this codebase; the per-symbol subscription
// bookkeeping a price feed would need is dropped since every admin event
// is relevant to every connected dashboard session, not opt-in per
// instrument.
package adminweb

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dropbot/backend/pkg/logger"
)

// EventKind names the administrative events the feed carries.
type EventKind string

const (
	EventProductCreated  EventKind = "product_created"
	EventProductUpdated  EventKind = "product_updated"
	EventProductDeleted  EventKind = "product_deleted"
	EventDiscountCreated EventKind = "discount_created"
	EventDiscountUpdated EventKind = "discount_updated"
	EventUserModerated   EventKind = "user_moderated"
	EventPurchase        EventKind = "purchase"
)

// Event is one broadcastable admin-feed message.
type Event struct {
	Kind EventKind `json:"kind"`
	Data any       `json:"data"`
}

const pingInterval = 30 * time.Second

// client is one connected dashboard session: an id and its outbound send
// queue. It holds no connection, so this file has no gofiber/contrib
// import — the handler in handler.go is the only file that touches the
// real connection type.
type client struct {
	id   string
	send chan []byte
}

// Hub fans broadcast events out to every connected dashboard session.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	logger     *logger.Logger
}

// NewHub constructs a Hub. Call Run to start its dispatch loop.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     log,
	}
}

// Run drains the hub's channels until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client: drop rather than block the hub.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish broadcasts an event to every connected dashboard session.
// Best-effort: a marshal failure is logged and swallowed, matching every
// other notification path in this service (a dashboard feed glitch must
// never propagate back into the admin action that triggered it).
func (h *Hub) Publish(kind EventKind, data any) {
	msg, err := json.Marshal(Event{Kind: kind, Data: data})
	if err != nil {
		if h.logger != nil {
			h.logger.Error("adminweb: failed to marshal event", "kind", kind, "error", err)
		}
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		if h.logger != nil {
			h.logger.Warn("adminweb: broadcast buffer full, dropping event", "kind", kind)
		}
	}
}

// ClientCount reports how many dashboard sessions are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
