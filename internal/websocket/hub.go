package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// TypeIndicatorsUpdated is sent after indicators of some groups were rewritten.
const TypeIndicatorsUpdated = "group_indicators_updated"

// Message is a notification pushed to connected clients.
type Message struct {
	Type     string    `json:"type"`
	GroupIDs []int64   `json:"group_ids"`
	Fields   []string  `json:"fields,omitempty"`
	At       time.Time `json:"at"`
}

// IndicatorsUpdated builds the notification for a finished recompute.
func IndicatorsUpdated(groupIDs []int64, fields []string, at time.Time) Message {
	return Message{
		Type:     TypeIndicatorsUpdated,
		GroupIDs: groupIDs,
		Fields:   fields,
		At:       at.UTC(),
	}
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
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

// Broadcast sends msg to every client subscribed to at least one of its
// groups. Clients with a full buffer miss the message.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for c := range h.clients {
		if !c.wants(msg.GroupIDs) {
			continue
		}
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("dropped broadcast", "type", msg.Type, "clients", dropped)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
