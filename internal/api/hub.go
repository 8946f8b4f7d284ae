package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/observability"
	"solana-token-sale/internal/solana"
)

const (
	subscriberBuffer = 256
	writeWait        = 5 * time.Second
	pingInterval     = 15 * time.Second
)

// Hub streams committed sale events to websocket subscribers. It is
// registered with the runtime as an event sink.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan *domain.SaleEvent
	sale *solana.Address // nil receives every sale
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*subscriber]struct{}),
	}
}

// Name implements ledger.EventSink.
func (h *Hub) Name() string { return "websocket" }

// Publish implements ledger.EventSink. Subscribers whose buffer is full are
// disconnected rather than blocking the runtime.
func (h *Hub) Publish(_ context.Context, events []*domain.SaleEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for c := range h.clients {
		for _, ev := range events {
			if c.sale != nil && *c.sale != ev.Sale {
				continue
			}
			select {
			case c.send <- ev:
			default:
				h.removeLocked(c)
				dropped++
			}
			if _, ok := h.clients[c]; !ok {
				break
			}
		}
	}
	if dropped > 0 {
		return errors.Errorf("dropped %d slow subscribers", dropped)
	}
	return nil
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. An optional sale query parameter restricts the stream to one sale.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter *solana.Address
	if raw := r.URL.Query().Get("sale"); raw != "" {
		sale, err := solana.ParseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "sale"))
			return
		}
		filter = &sale
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	c := &subscriber{
		conn: conn,
		send: make(chan *domain.SaleEvent, subscriberBuffer),
		sale: filter,
	}
	h.add(c)
	go h.writeLoop(c)
	h.readLoop(c)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) add(c *subscriber) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	observability.UpdateSubscribers(n)
}

func (h *Hub) remove(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *subscriber) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	observability.UpdateSubscribers(len(h.clients))
}

// readLoop discards client messages; it only detects disconnects.
func (h *Hub) readLoop(c *subscriber) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
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
