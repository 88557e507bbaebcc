package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

const (
	TypeScanProgress   = "scan_progress"
	TypeBackupProgress = "backup_progress"
)

// Message is one progress update pushed to every client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of active WebSocket clients and broadcasts progress
// updates. It keeps the latest message of each type so that a client
// connecting mid-run starts from the current state.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	latest  map[string][]byte
	order   []string
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		latest:  make(map[string][]byte),
		logger:  logger,
	}
}

// Register adds a client to the hub and queues the latest message of each
// type for it.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	for _, typ := range h.order {
		select {
		case c.send <- h.latest[typ]:
		default:
		}
	}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends data as a message of the given type to all connected
// clients. Clients whose buffer is full miss the update.
func (h *Hub) Broadcast(typ string, data any) {
	payload, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		h.logger.Error("marshal broadcast", "type", typ, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.latest[typ]; !ok {
		h.order = append(h.order, typ)
	}
	h.latest[typ] = payload

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
