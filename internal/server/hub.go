package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/friendflow/internal/event"
	"github.com/Iron-Ham/friendflow/internal/logging"
)

// TypeStreamOpen is the first message on every event stream.
const TypeStreamOpen = "stream.open"

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 4 << 10
)

// Envelope is one message on the event stream.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans bus events out to websocket clients. Slow clients lose
// messages instead of stalling the publisher.
type Hub struct {
	bus      *event.Bus
	logger   *logging.Logger
	upgrader websocket.Upgrader
	origins  []string

	mu      sync.Mutex
	clients map[*client]struct{}
	subID   string
}

// NewHub creates a hub subscribed to bus. allowedOrigins lists the
// browser origins accepted besides same-origin; "*" accepts any.
func NewHub(bus *event.Bus, allowedOrigins []string, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NopLogger()
	}
	h := &Hub{
		bus:     bus,
		logger:  logger,
		origins: allowedOrigins,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	h.Start()
	return h
}

// Start subscribes to the bus if not already subscribed.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subID != "" {
		return
	}
	h.subID = h.bus.SubscribeAll(h.broadcast)
}

// Close unsubscribes from the bus and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subID != "" {
		h.bus.Unsubscribe(h.subID)
		h.subID = ""
	}
	for c := range h.clients {
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

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("event stream upgrade failed", "error", err, "origin", r.Header.Get("Origin"))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	hello, err := encode(TypeStreamOpen, time.Now(), nil)
	if err == nil {
		c.send <- hello
	}
	h.mu.Lock()
	if h.subID == "" {
		h.mu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("event stream opened", "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(ev event.Event) {
	data, err := encode(ev.EventType(), ev.Timestamp(), payload(ev))
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("event stream read failed", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encode(typ string, at time.Time, data any) ([]byte, error) {
	return json.Marshal(Envelope{ID: uuid.NewString(), Type: typ, Timestamp: at, Data: data})
}

// payload makes log attributes JSON friendly: errors and stringers are
// rendered as text.
func payload(ev event.Event) any {
	l, ok := ev.(event.LogEvent)
	if !ok || len(l.Attrs) == 0 {
		return ev
	}
	attrs := make(map[string]any, len(l.Attrs))
	for k, v := range l.Attrs {
		switch v := v.(type) {
		case error:
			attrs[k] = v.Error()
		case fmt.Stringer:
			attrs[k] = v.String()
		default:
			attrs[k] = v
		}
	}
	l.Attrs = attrs
	return l
}
