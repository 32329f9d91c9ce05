package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/keyrace/keyrace/internal/events"
	"github.com/rs/zerolog/log"
)

// MessageRouter receives inbound traffic from connections. The gateway's
// Handler implements it.
type MessageRouter interface {
	HandleMessage(conn *Connection, raw []byte)
	HandleDisconnect(conn *Connection)
}

// ConnectionManager owns the WebSocket connections and their room
// subscriptions. A single goroutine drains broadcastCh, so for any one room
// events go out in the order they were enqueued, which is the order the room
// applied them.
type ConnectionManager struct {
	mu              sync.RWMutex
	roomConnections map[string]map[*Connection]bool
	connsByID       map[string]*Connection

	upgrader websocket.Upgrader
	config   ConnectionConfig
	router   MessageRouter

	broadcastCh chan broadcastMessage
}

// Connection represents a WebSocket connection to a client. RoomID is empty
// until the client joins a room.
type Connection struct {
	ID      string
	RoomID  string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	RoomID        string
	TargetConnID  string // if set, deliver to exactly this connection
	ExcludeConnID string // if set, skip this connection
	Event         events.Event
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		connsByID:       make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetRouter wires the inbound message router. Must be called before the
// first upgrade.
func (cm *ConnectionManager) SetRouter(router MessageRouter) {
	cm.router = router
}

// Start begins processing broadcast messages until the context is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Publish sends an event to every connection subscribed to the room.
func (cm *ConnectionManager) Publish(roomID string, ev events.Event) {
	cm.enqueue(broadcastMessage{RoomID: roomID, Event: ev})
}

// PublishExcept sends an event to every subscribed connection except one.
func (cm *ConnectionManager) PublishExcept(roomID, exceptConnID string, ev events.Event) {
	cm.enqueue(broadcastMessage{RoomID: roomID, ExcludeConnID: exceptConnID, Event: ev})
}

// Deliver sends an event to exactly one connection.
func (cm *ConnectionManager) Deliver(connID string, ev events.Event) {
	cm.enqueue(broadcastMessage{TargetConnID: connID, Event: ev})
}

func (cm *ConnectionManager) enqueue(msg broadcastMessage) {
	select {
	case cm.broadcastCh <- msg:
	default:
		log.Warn().Str("room_id", msg.RoomID).Str("event_type", string(msg.Event.Type)).Msg("broadcast channel full, dropping message")
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection and
// starts its read/write pumps. The connection is not subscribed to any room
// until a join-room message arrives.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.mu.Lock()
	cm.connsByID[connection.ID] = connection
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().Str("connection_id", connection.ID).Msg("WebSocket connection established")
	return nil
}

// Subscribe adds a connection to a room's broadcast pool.
func (cm *ConnectionManager) Subscribe(conn *Connection, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	// A connection subscribes to at most one room; joining another moves it.
	if conn.RoomID != "" && conn.RoomID != roomID {
		if conns, ok := cm.roomConnections[conn.RoomID]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(cm.roomConnections, conn.RoomID)
			}
		}
	}

	conn.RoomID = roomID
	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", roomID).
		Int("total_connections", len(cm.roomConnections[roomID])).
		Msg("connection subscribed")
}

// unregisterConnection removes a connection from the manager and routes the
// disconnect exactly once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.connsByID[conn.ID]
	if exists {
		delete(cm.connsByID, conn.ID)
		if conns, ok := cm.roomConnections[conn.RoomID]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(cm.roomConnections, conn.RoomID)
			}
		}
		close(conn.Send)
	}
	cm.mu.Unlock()

	if !exists {
		return
	}

	log.Info().Str("connection_id", conn.ID).Str("room_id", conn.RoomID).Msg("connection unregistered")

	if cm.router != nil {
		cm.router.HandleDisconnect(conn)
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	if message.TargetConnID != "" {
		if conn, ok := cm.connsByID[message.TargetConnID]; ok {
			targets = append(targets, conn)
		}
	} else {
		for conn := range cm.roomConnections[message.RoomID] {
			if message.ExcludeConnID != "" && conn.ID == message.ExcludeConnID {
				continue
			}
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Connection is slow/dead, close it.
			log.Warn().Str("connection_id", conn.ID).Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room_id", message.RoomID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats returns statistics about active connections.
func (cm *ConnectionManager) Stats() (totalConnections, activeRooms int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connsByID), len(cm.roomConnections)
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.router != nil {
			c.Manager.router.HandleMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
