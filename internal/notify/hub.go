package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alnah/go-psd2img"
	"github.com/alnah/go-psd2img/internal/logging"
)

// Hub defaults.
const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultClientBuffer = 64
)

// ErrHubClosed is returned by Notify after Close.
var ErrHubClosed = errors.New("hub closed")

// Hub broadcasts events as JSON text messages to every connected WebSocket
// client. A client whose buffer is full or whose write fails is dropped;
// broadcasting never blocks on a slow client. Clients may subscribe to one
// project with the "project" query parameter.
type Hub struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	buffer       int
	logger       *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn    *websocket.Conn
	project string
	send    chan []byte
	once    sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithWriteTimeout bounds each message write.
func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *Hub) { h.writeTimeout = d }
}

// WithClientBuffer sets how many messages may queue per client.
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) { h.buffer = n }
}

// WithOriginCheck sets the upgrade origin policy. The default accepts any origin.
func WithOriginCheck(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// WithHubLogger sets the logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = logging.OrDiscard(l) }
}

// NewHub creates a Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: DefaultWriteTimeout,
		buffer:       DefaultClientBuffer,
		logger:       logging.Discard(),
		clients:      make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and registers the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}
	c := &client{conn: conn, project: r.URL.Query().Get("project"), send: make(chan []byte, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client connected", slog.String("remote", r.RemoteAddr), slog.String("project", c.project))

	go h.readLoop(c)
	h.writeLoop(c)
}

// readLoop discards client messages and unregisters the client when the
// connection ends.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("dropping client", slog.Any("error", err))
			h.remove(c)
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// Notify implements psd2img.Notifier by broadcasting e.
func (h *Hub) Notify(_ context.Context, e psd2img.Event) error {
	msg, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	for c := range h.clients {
		if c.project != "" && c.project != e.ProjectID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client too slow, dropping", slog.String("project", c.project))
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later Notify calls return ErrHubClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	return nil
}
