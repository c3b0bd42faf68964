// Package hub provides connection management for WebSocket clients.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/locshare/internal/metrics"
)

const sendBufferSize = 256

// Connection represents a single WebSocket connection.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte

	// participantID and closed are guarded by hub.mu.
	participantID string
	closed        bool

	closeCode   int
	closeReason string

	hub *Hub
	mu  sync.Mutex
}

// Hub manages all WebSocket connections.
type Hub struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	// Connections indexed by connection ID
	connections map[string]*Connection

	// Sessions maps session_id to set of connection IDs
	sessions map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *SessionMessage
	done       chan struct{}

	mu sync.RWMutex
}

// SessionMessage is a frame for the connections of one session.
// An empty ParticipantIDs delivers to every connection of the session.
type SessionMessage struct {
	SessionID      string
	ParticipantIDs []string
	Data           []byte
}

// NewHub creates a new Hub.
func NewHub(log *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		log:         log,
		metrics:     m,
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *SessionMessage, sendBufferSize),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.sessions[conn.SessionID] == nil {
				h.sessions[conn.SessionID] = make(map[string]bool)
			}
			h.sessions[conn.SessionID][conn.ID] = true
			h.mu.Unlock()
			h.log.Debug("connection registered", zap.String("conn_id", conn.ID), zap.String("session_id", conn.SessionID))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if h.sessions[conn.SessionID] != nil {
					delete(h.sessions[conn.SessionID], conn.ID)
					if len(h.sessions[conn.SessionID]) == 0 {
						delete(h.sessions, conn.SessionID)
					}
				}
				conn.closed = true
				close(conn.Send)
			}
			h.mu.Unlock()
			h.log.Debug("connection unregistered", zap.String("conn_id", conn.ID))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *SessionMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	connIDs, ok := h.sessions[msg.SessionID]
	if !ok {
		return
	}
	for connID := range connIDs {
		conn, exists := h.connections[connID]
		if !exists || !conn.addressedBy(msg.ParticipantIDs) {
			continue
		}
		select {
		case conn.Send <- msg.Data:
		default:
			// Buffer full, close the connection
			h.log.Warn("connection buffer full, closing", zap.String("conn_id", connID))
			go h.Unregister(conn)
		}
	}
	h.metrics.Broadcast()
}

func (c *Connection) addressedBy(participantIDs []string) bool {
	if len(participantIDs) == 0 {
		return true
	}
	for _, id := range participantIDs {
		if id != "" && id == c.participantID {
			return true
		}
	}
	return false
}

// NewConnection creates a connection for sessionID. It is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn, sessionID string) *Connection {
	return &Connection{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan []byte, sendBufferSize),
		hub:       h,
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BindParticipant records which participant a connection speaks for.
func (h *Hub) BindParticipant(conn *Connection, participantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.participantID = participantID
}

// ParticipantID returns the participant bound to conn, if any.
func (h *Hub) ParticipantID(conn *Connection) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return conn.participantID
}

// Broadcast sends a message to all connections of a session.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	h.enqueue(&SessionMessage{SessionID: sessionID, Data: data})
}

// BroadcastJSON sends a JSON message to all connections of a session.
func (h *Hub) BroadcastJSON(sessionID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(sessionID, data)
	return nil
}

// SendJSONToParticipants sends a JSON message to the connections bound to participantIDs.
func (h *Hub) SendJSONToParticipants(sessionID string, v interface{}, participantIDs ...string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.enqueue(&SessionMessage{SessionID: sessionID, ParticipantIDs: participantIDs, Data: data})
	return nil
}

func (h *Hub) enqueue(msg *SessionMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conn.closed {
		return ErrConnectionClosed
	}
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

// GetSessionCount returns the number of sessions with at least one connection.
func (h *Hub) GetSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SessionConnectionCount returns the number of registered connections of a session.
func (h *Hub) SessionConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// HasParticipant reports whether any registered connection is bound to participantID.
func (h *Hub) HasParticipant(sessionID, participantID string) bool {
	return h.hasParticipant(sessionID, participantID, "")
}

// HasOtherConnection reports whether a connection other than conn speaks for the same participant.
func (h *Hub) HasOtherConnection(conn *Connection) bool {
	return h.hasParticipant(conn.SessionID, h.ParticipantID(conn), conn.ID)
}

func (h *Hub) hasParticipant(sessionID, participantID, exceptConnID string) bool {
	if participantID == "" {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.sessions[sessionID] {
		if connID == exceptConnID {
			continue
		}
		if conn, ok := h.connections[connID]; ok && conn.participantID == participantID {
			return true
		}
	}
	return false
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetCloseFrame sets the code and reason of the close frame written once Send is drained.
func (c *Connection) SetCloseFrame(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCode, c.closeReason = code, reason
}

// CloseFrame returns the close payload set by SetCloseFrame, or an empty one.
func (c *Connection) CloseFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCode == 0 {
		return []byte{}
	}
	return websocket.FormatCloseMessage(c.closeCode, c.closeReason)
}

// WriteClose sends a close frame with code and reason.
func (c *Connection) WriteClose(code int, reason string, timeout time.Duration) error {
	return c.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(timeout))
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

// ErrConnectionClosed is returned when sending to an unregistered connection.
var ErrConnectionClosed = errors.New("connection closed")

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}
