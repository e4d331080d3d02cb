// Package gateway connects browser seats to a table over websockets.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/prism/internal/table"
)

// DefaultSendBuffer is the number of queued messages a seat may fall behind.
const DefaultSendBuffer = 256

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub routes table messages to connected seats. It implements
// table.Publisher; Publish never blocks, and a seat whose queue is full is
// disconnected.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	buffer  int
	logger  *zap.Logger
}

// NewHub creates an empty Hub. A non-positive buffer uses DefaultSendBuffer.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Hub{clients: make(map[string]*client), buffer: buffer, logger: logger}
}

// Publish encodes msg once and queues it for seatID, or for every seat when
// seatID is empty.
func (h *Hub) Publish(seatID string, msg table.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encoding message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	var slow []*client
	h.mu.RLock()
	if seatID == "" {
		for _, c := range h.clients {
			if !enqueue(c, data) {
				slow = append(slow, c)
			}
		}
	} else if c, ok := h.clients[seatID]; ok && !enqueue(c, data) {
		slow = append(slow, c)
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow seat", zap.String("seat", c.id))
		// Close waits for the peer's handshake; Publish must not.
		go func() { _ = c.conn.Close(websocket.StatusPolicyViolation, "too slow") }()
	}
}

func enqueue(c *client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Len returns the number of connected seats.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(id string, conn *websocket.Conn) *client {
	c := &client{id: id, conn: conn, send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.send)
	}
}

// writeLoop drains c.send to the connection until the queue is closed or a
// write fails.
func (h *Hub) writeLoop(c *client, timeout time.Duration) {
	for data := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Debug("seat write failed", zap.String("seat", c.id), zap.Error(err))
			_ = c.conn.Close(websocket.StatusInternalError, "write failed")
			// Keep draining so remove never races a full queue.
			for range c.send {
			}
			return
		}
	}
}
