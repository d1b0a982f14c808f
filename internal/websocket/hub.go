package websocket

import (
	"log/slog"
	"sync"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/pantrysync/internal/identity"
)

// Message is one frame pushed to a client. Data holds the latest state for
// Type; a newer message of the same type replaces an unsent older one.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Message types.
const (
	TypeDecision  = "decision"
	TypeSlow      = "slow"
	TypeHousehold = "household"
	TypePantry    = "pantry"
	TypeShopping  = "shopping"
	TypeActivity  = "activity"
	TypeError     = "error"
)

// Hub tracks connected clients so identity events reach every connection
// of the affected user.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client. Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// SessionChanged forwards an identity event. A sign-out reaches only the
// connections opened with that session.
func (h *Hub) SessionChanged(ev identity.SessionEvent) {
	if ev.Session != nil {
		return
	}
	for _, c := range h.snapshot() {
		if c.session.ID == ev.SessionID {
			h.logger.Info("session revoked, signing out connection", "user_id", ev.UserID)
			c.sessionEnded()
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		if c.conn != nil {
			c.conn.Close(ws.StatusGoingAway, "server shutting down")
		}
	}
}
