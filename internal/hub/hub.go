package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hoopadvisors/courtside/internal/telemetry"
)

const (
	clientSendBuf = 256
	writeDeadline = 5 * time.Second
	pongWait      = 60 * time.Second
	pingInterval  = 20 * time.Second
)

// StateFunc returns the serialized full-state message for a late joiner,
// or nil when the scope has no records yet.
type StateFunc func() []byte

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Hub holds the live subscriber set for one scope actor and fans broadcasts
// out to all of them. A failing or slow connection never blocks the others:
// sends are buffered per client and a dead client removes itself.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	initial StateFunc
}

func New(initial StateFunc) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		initial: initial,
	}
}

// Register adopts an upgraded websocket connection as a subscriber and
// starts its read/write pumps. The connection is owned by the hub from
// here on.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendBuf),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	telemetry.Metrics.SubscribersActive.Inc()

	telemetry.Debugf("hub: subscriber %s connected", c.id)

	go h.writePump(c)
	go h.readPump(c)
}

// Broadcast enqueues a message to every connected subscriber. Non-blocking:
// a client whose buffer is full has the message dropped with a warning.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			telemetry.Warnf("hub: dropping message for slow subscriber %s", c.id)
		}
	}
	telemetry.Metrics.BroadcastsSent.Inc()
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// writePump drains the client's send channel and writes to the connection.
// It owns the client lifecycle: on exit it removes the client from the map
// (so Broadcast never sends to a stale channel) and closes the connection.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.removeClient(c)
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				telemetry.Debugf("hub: write error subscriber %s: %v", c.id, err)
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles inbound messages. A {"type":"initial"} request gets the
// current full state sent to that subscriber only; everything else is
// presentation-layer chatter and is ignored here.
// On exit it signals writePump via c.done (never closes c.send).
func (h *Hub) readPump(c *client) {
	defer close(c.done)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var req struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		if req.Type != "initial" {
			continue
		}

		if payload := h.initial(); payload != nil {
			select {
			case c.send <- payload:
			default:
				telemetry.Warnf("hub: dropping initial state for slow subscriber %s", c.id)
			}
		}
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		telemetry.Metrics.SubscribersActive.Dec()
		telemetry.Debugf("hub: subscriber %s disconnected", c.id)
	}
}
