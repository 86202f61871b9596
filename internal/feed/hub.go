package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Envelope wraps a published payload with its topic.
type Envelope struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// Hub broadcasts published payloads to connected websocket subscribers.
// A slow or dead subscriber is dropped rather than allowed to block
// delivery to the others.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]struct{}
	maxClients int
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHub builds a Hub capped at maxClients subscribers.
func NewHub(maxClients int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxClients <= 0 {
		maxClients = 256
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		maxClients: maxClients,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Publish broadcasts a payload to every connected subscriber. Best-effort:
// a subscriber with a full buffer is dropped. A client's send channel is
// never closed, so a concurrent disconnect cannot make the send panic;
// writePump observes done and discards whatever is left in the buffer.
func (h *Hub) Publish(topic string, payload interface{}) {
	message, err := json.Marshal(Envelope{Topic: topic, Payload: payload})
	if err != nil {
		h.logger.Error("feed payload marshal failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case <-c.done:
		case c.send <- message:
		default:
			h.logger.Warn("slow feed subscriber dropped")
			h.remove(c)
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := len(h.clients) >= h.maxClients
	h.mu.RUnlock()
	if full {
		http.Error(w, "subscriber limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump(h)
	go c.readPump(h)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	c.close()
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// writePump pushes hub messages out and probes liveness with pings.
func (c *client) writePump(h *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.remove(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump discards inbound frames and enforces the pong deadline.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
