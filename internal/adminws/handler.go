package adminws

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests to WebSocket connections and registers
// them with a Hub. Clients never send anything meaningful back — this is a
// read-only feed, so the read loop exists only to detect disconnects.
type Handler struct {
	hub *Hub
}

// NewHandler builds a Handler serving the given Hub's ticket feed.
func NewHandler(hub *Hub) *Handler { return &Handler{hub: hub} }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("adminws_upgrade_failed", "error", err)
		return
	}
	c := h.hub.add(conn)
	h.hub.logger.Debug("adminws_connected", "client", c.id)
	go h.readPump(c)
}

func (h *Handler) readPump(c *client) {
	defer func() {
		h.hub.remove(c.id)
		_ = c.conn.Close()
		h.hub.logger.Debug("adminws_disconnected", "client", c.id)
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
