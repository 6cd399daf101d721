package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Client is one SSE connection.
type Client struct {
	UserID string
	Role   string
	Send   chan Event
}

// Hub fans events out to connected clients. Status updates go to the owner
// of the report only; new reports go to admins. A client whose buffer is
// full misses the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	log     *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{clients: make(map[*Client]struct{}), log: log.Named("hub")}
}

func (h *Hub) Register(userID, role string) *Client {
	c := &Client{UserID: userID, Role: role, Send: make(chan Event, 10)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("client registered", zap.String("user_id", userID), zap.Int("clients", n))
	return c
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.Send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("client unregistered", zap.String("user_id", c.UserID), zap.Int("clients", n))
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast returns the number of clients the event was queued for.
func (h *Hub) Broadcast(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients {
		if !wants(c, ev) {
			continue
		}
		select {
		case c.Send <- ev:
			delivered++
		default:
			h.log.Warn("client buffer full, event dropped",
				zap.String("user_id", c.UserID),
				zap.String("report_id", ev.ReportID))
		}
	}
	return delivered
}

func wants(c *Client, ev Event) bool {
	switch ev.Type {
	case EventStatusUpdate:
		return ev.UserID != "" && c.UserID == ev.UserID
	case EventNewReport:
		return c.Role == "admin"
	}
	return true
}
