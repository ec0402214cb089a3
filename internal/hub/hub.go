// Package hub provides connection management for WebSocket clients.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection represents a single WebSocket connection. One connection may
// watch any number of runs.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	mu    sync.Mutex
	ready bool
}

// Hub manages all WebSocket connections and their run subscriptions.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// runs maps run_id to the set of watching connection IDs
	runs map[string]map[string]bool

	// Channels for registration/unregistration
	register   chan *Connection
	unregister chan *Connection

	// Broadcast channel for sending to a run's watchers
	broadcast chan *RunMessage

	mu sync.RWMutex
}

// RunMessage is used to broadcast a message to a run's watchers.
type RunMessage struct {
	RunID string
	Data  []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		runs:        make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *RunMessage, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			log.Printf("Connection registered: %s", conn.ID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				for runID, watchers := range h.runs {
					if watchers[conn.ID] {
						delete(watchers, conn.ID)
						if len(watchers) == 0 {
							delete(h.runs, runID)
						}
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("Connection unregistered: %s", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if connIDs, ok := h.runs[msg.RunID]; ok {
				for connID := range connIDs {
					if conn, exists := h.connections[connID]; exists {
						select {
						case conn.Send <- msg.Data:
						default:
							// Buffer full, close the connection
							log.Printf("Connection %s buffer full, closing", connID)
							go h.Unregister(conn)
						}
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a new connection handle.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 256),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// WatchRun adds a connection to a run's watcher set.
func (h *Hub) WatchRun(conn *Connection, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runs[runID] == nil {
		h.runs[runID] = make(map[string]bool)
	}
	h.runs[runID][conn.ID] = true
}

// UnwatchRun removes a connection from a run's watcher set.
func (h *Hub) UnwatchRun(conn *Connection, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if watchers, ok := h.runs[runID]; ok {
		delete(watchers, conn.ID)
		if len(watchers) == 0 {
			delete(h.runs, runID)
		}
	}
}

// IsWatching reports whether a connection watches a run.
func (h *Hub) IsWatching(conn *Connection, runID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	watchers, ok := h.runs[runID]
	return ok && watchers[conn.ID]
}

// Broadcast sends a message to all watchers of a run.
func (h *Hub) Broadcast(runID string, data []byte) {
	h.broadcast <- &RunMessage{RunID: runID, Data: data}
}

// BroadcastJSON sends a JSON message to all watchers of a run.
func (h *Hub) BroadcastJSON(runID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(runID, data)
	return nil
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetWatchedRunCount returns the number of runs with at least one watcher.
func (h *Hub) GetWatchedRunCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs)
}

// HasWatchers checks if a run has any watching connections.
func (h *Hub) HasWatchers(runID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	watchers, ok := h.runs[runID]
	return ok && len(watchers) > 0
}

// MarkReady records a completed hello handshake.
func (c *Connection) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = true
}

// IsReady reports whether the hello handshake completed.
func (c *Connection) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}
