package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aleksmarkov/docpulse/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// client is one live WebSocket connection registered under an owner.
type client struct {
	ownerID string
	ws      *websocket.Conn
	send    chan []byte
}

// Hub maps owner identities to their live connections and implements Sink
// for the process that terminates the sockets. It is created at service
// start, passed to the API server, and torn down with Close.
type Hub struct {
	mu     sync.RWMutex
	owners map[string]map[*client]struct{}
	closed bool
}

// NewHub constructs an empty connection registry.
func NewHub() *Hub {
	return &Hub{owners: make(map[string]map[*client]struct{})}
}

// Attach registers a connection under an owner and starts its read/write
// pumps. The read pump enforces the heartbeat: a connection that stops
// answering pings is evicted even without a close frame, so the registry
// cannot grow past the set of live sockets.
func (h *Hub) Attach(ownerID string, ws *websocket.Conn) {
	c := &client{ownerID: ownerID, ws: ws, send: make(chan []byte, sendBuffer)}

	// Connection acknowledgement, queued before the client is visible to
	// publishers so it is always the first frame delivered.
	if msg, err := json.Marshal(map[string]string{"type": "connected"}); err == nil {
		c.send <- msg
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ws.Close()
		return
	}
	conns, ok := h.owners[ownerID]
	if !ok {
		conns = make(map[*client]struct{})
		h.owners[ownerID] = conns
	}
	conns[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump(h)
	go c.readPump(h)
}

// Publish sends the event to every connection of ownerID. No listeners is
// a no-op; clients that missed events re-fetch state on reconnect.
func (h *Hub) Publish(ctx context.Context, ownerID string, ev Event) {
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		Event
	}{Type: "fileStatus", Event: ev})
	if err != nil {
		logger.Error(ctx, "marshal notification", "error", err)
		return
	}

	// Sends run under the read lock so an eviction cannot close a send
	// channel mid-send. They never block: the default branch turns a full
	// buffer into a deferred eviction instead.
	var stalled []*client
	h.mu.RLock()
	for c := range h.owners[ownerID] {
		select {
		case c.send <- payload:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		// Send buffer full means the reader went away or stalled;
		// drop the connection rather than block the publisher.
		logger.Warn(ctx, "dropping stalled websocket client", "owner_id", ownerID)
		h.remove(c)
	}
}

// Connections reports how many live connections an owner has.
func (h *Hub) Connections(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners[ownerID])
}

// Close tears down the registry and every live connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, conns := range h.owners {
		for c := range conns {
			close(c.send)
		}
	}
	h.owners = make(map[string]map[*client]struct{})
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.owners[c.ownerID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.owners, c.ownerID)
	}
	close(c.send)
}

func (c *client) writePump(h *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.remove(c)
		c.ws.Close()
	}()
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// Inbound frames are ignored; the read loop exists to process
		// control frames and detect dead peers.
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
