package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// Client represents a single WebSocket connection.
type Client struct {
	hub  *Hub
	conn *ws.Conn
	send chan []byte

	mu     sync.RWMutex
	groups map[int64]struct{} // nil: every group
}

// subscription is the only message clients send: the groups they want
// updates for. An empty list subscribes to everything.
type subscription struct {
	Subscribe []int64 `json:"subscribe"`
}

// NewClient creates a Client tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// Subscribe restricts the client to the given groups.
func (c *Client) Subscribe(groupIDs []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(groupIDs) == 0 {
		c.groups = nil
		return
	}
	c.groups = make(map[int64]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		c.groups[id] = struct{}{}
	}
}

func (c *Client) wants(groupIDs []int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.groups == nil {
		return true
	}
	for _, id := range groupIDs {
		if _, ok := c.groups[id]; ok {
			return true
		}
	}
	return false
}

// readPump applies subscription messages and ignores anything else. It
// returns on error (connection close), which triggers cleanup.
func (c *Client) readPump(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != ws.MessageText {
			continue
		}
		var sub subscription
		if err := json.Unmarshal(data, &sub); err != nil {
			c.hub.logger.Debug("ignoring client message", "error", err)
			continue
		}
		c.Subscribe(sub.Subscribe)
	}
}

// writePump drains the send channel and writes messages to the WebSocket.
// It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
