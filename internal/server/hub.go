package server

import (
	"encoding/json"
	"sync"
	"time"

	"pfctl/internal/session"
	"pfctl/pkg/logging"

	"github.com/gorilla/websocket"
)

const (
	defaultSendBuffer = 64
	writeWait         = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// Hub fans state changes and notifications out to WebSocket clients. It
// implements session.Observer and session.Notifier and never blocks the
// caller: a client whose buffer is full is disconnected.
type Hub struct {
	mu         sync.Mutex
	clients    map[*client]struct{}
	state      session.State
	sendBuffer int
	closed     bool
}

var (
	_ session.Observer = (*Hub)(nil)
	_ session.Notifier = (*Hub)(nil)
)

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		sendBuffer: defaultSendBuffer,
	}
}

// StateChanged records st as the latest state and broadcasts it.
func (h *Hub) StateChanged(st session.State) {
	data, err := json.Marshal(stateMessage(MsgSessions, st))
	if err != nil {
		logging.Error("Server", err, "Failed to encode session state")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = st
	h.broadcastLocked(data)
}

// Notify broadcasts n.
func (h *Hub) Notify(n session.Notification) {
	data, err := json.Marshal(Message{Type: MsgNotification, Payload: n})
	if err != nil {
		logging.Error("Server", err, "Failed to encode notification")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(data)
}

// AddClient registers conn and queues the current snapshot as its first
// message. Later broadcasts are always queued after the snapshot.
func (h *Hub) AddClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, h.sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		go c.writePump()
		return c
	}
	if data, err := json.Marshal(stateMessage(MsgSnapshot, h.state)); err == nil {
		c.send <- data
	}
	h.clients[c] = struct{}{}
	go c.writePump()
	logging.Debug("Server", "WebSocket client added (%d connected)", len(h.clients))
	return c
}

// RemoveClient unregisters c and lets its writer shut the connection.
func (h *Hub) RemoveClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Clients added afterwards are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcastLocked(data []byte) {
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			logging.Warn("Server", "WebSocket client too slow, disconnecting")
			h.removeLocked(c)
		}
	}
}
