package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mklimuk/frontdesk/pkg/notify"
)

// Topics pushed over the socket. Notices are events, everything else is the
// latest state of a tool.
const (
	TopicNotes     = "notes"
	TopicShift     = "shift"
	TopicCourier   = "courier"
	TopicSendUp    = "sendup"
	TopicIncidents = "incidents"
	TopicNotice    = "notice"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1024
	sendBuffer     = 32
)

// Event is one message on the socket.
type Event struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Hub fans state updates and notices out to WebSocket clients. New clients
// first receive the latest state of every topic.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  map[string][]byte
	order   []string
	closed  bool
}

var _ notify.Notifier = (*Hub)(nil)

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The dashboard is served from other origins during development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     logger.Named("ws"),
		clients: make(map[*client]struct{}),
		latest:  make(map[string][]byte),
	}
}

// Publish replaces the state of topic and pushes it to every client.
func (h *Hub) Publish(topic string, data any) {
	msg, err := encodeEvent(topic, data)
	if err != nil {
		h.log.Error("failed to encode event", zap.String("topic", topic), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.latest[topic]; !ok {
		h.order = append(h.order, topic)
	}
	h.latest[topic] = msg
	h.broadcastLocked(msg)
}

// Notify pushes a notice to the clients connected right now.
func (h *Hub) Notify(_ context.Context, n notify.Notice) error {
	msg, err := encodeEvent(TopicNotice, n)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(msg)
	return nil
}

func (h *Hub) broadcastLocked(msg []byte) {
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Too slow; it reconnects and gets the latest state.
			h.log.Warn("dropping slow client", zap.String("remote", c.remote))
			h.removeLocked(c)
		}
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer+len(h.order)), remote: r.RemoteAddr}
	for _, topic := range h.order {
		c.send <- h.latest[topic]
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("client connected", zap.String("remote", c.remote))

	go c.writePump()
	c.readPump(func() {
		h.mu.Lock()
		h.removeLocked(c)
		h.mu.Unlock()
	})
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func encodeEvent(topic string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Topic: topic, Data: raw})
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// readPump discards client messages and keeps the connection alive until it
// fails.
func (c *client) readPump(done func()) {
	defer func() {
		done()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
