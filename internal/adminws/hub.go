// Package adminws is a best-effort, read-only observability feed: every
// ticket issued is broadcast as JSON to any connected WebSocket client, for
// dashboards. It is not part of the camera/dispatcher wire protocol and no
// invariant depends on it — publishing never blocks ticket issuance.
// Grounded on sadewadee-maboo's internal/websocket.{Manager,Handler}.
package adminws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nordgate/speed-daemon/internal/metrics"
	"github.com/nordgate/speed-daemon/internal/model"
)

// TicketEvent is the JSON shape broadcast for every issued ticket.
type TicketEvent struct {
	Plate      string `json:"plate"`
	Road       uint16 `json:"road"`
	Mile1      uint16 `json:"mile1"`
	Timestamp1 uint32 `json:"timestamp1"`
	Mile2      uint16 `json:"mile2"`
	Timestamp2 uint32 `json:"timestamp2"`
	Speed      uint16 `json:"speed"`
}

func toEvent(t model.Ticket) TicketEvent {
	return TicketEvent{
		Plate:      string(t.Plate),
		Road:       uint16(t.Road),
		Mile1:      uint16(t.Mile1),
		Timestamp1: uint32(t.Timestamp1),
		Mile2:      uint16(t.Mile2),
		Timestamp2: uint32(t.Timestamp2),
		Speed:      t.Speed,
	}
}

type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// send writes data unless an earlier write to this client is still in
// progress, in which case it returns false without waiting.
func (c *client) send(data []byte) (bool, error) {
	if !c.mu.TryLock() {
		return false, nil
	}
	defer c.mu.Unlock()
	return true, c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected dashboard clients and fans out ticket events.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *slog.Logger
	nextID  uint64
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{clients: make(map[string]*client), logger: logger}
}

func (h *Hub) add(conn *websocket.Conn) *client {
	h.mu.Lock()
	h.nextID++
	id := clientID(h.nextID)
	c := &client{id: id, conn: conn}
	h.clients[id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

func clientID(n uint64) string {
	const hex = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = hex[n%16]
		n /= 16
	}
	return string(buf[i:])
}

// Publish broadcasts a ticket event to every connected client. It never
// blocks: a slow client is dropped from this broadcast, not awaited, the
// same non-blocking backpressure discipline used for dispatcher delivery.
func (h *Hub) Publish(t model.Ticket) {
	data, err := json.Marshal(toEvent(t))
	if err != nil {
		h.logger.Error("adminws_marshal_error", "error", err)
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		go func(c *client) {
			sent, err := c.send(data)
			if !sent || err != nil {
				h.logger.Debug("adminws_send_failed", "client", c.id, "busy", !sent, "error", err)
				metrics.IncOutboxDrop()
			}
		}(c)
	}
}

// Count returns the number of connected dashboard clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
