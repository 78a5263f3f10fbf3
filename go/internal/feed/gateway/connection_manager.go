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
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ConnectionManager manages WebSocket connections to the props feed
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock
	logger   zerolog.Logger

	broadcastCh chan *FeedEvent
}

// Connection represents a WebSocket connection to a dashboard client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	PingInterval      time.Duration
	HeartbeatInterval time.Duration
	MaxMessageSize    int64
	ReadBufferSize    int
	WriteBufferSize   int
	CheckOrigin       func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    4096,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin: func(r *http.Request) bool {
			// dashboard is served from arbitrary dev origins
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock, logger zerolog.Logger) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		clock:       clock,
		logger:      logger.With().Str("component", "feed_connections").Logger(),
		broadcastCh: make(chan *FeedEvent, 1000),
	}
}

// Start processes broadcasts and emits heartbeats until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	cm.logger.Info().Dur("heartbeat_interval", cm.config.HeartbeatInterval).Msg("connection manager started")

	heartbeat := cm.clock.NewTicker(cm.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			cm.logger.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return nil
		case event := <-cm.broadcastCh:
			cm.handleBroadcast(event)
		case <-heartbeat.Chan():
			cm.handleBroadcast(NewHeartbeatEvent(cm.ConnectionCount(), cm.clock.Now()))
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and greets the client
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
	}

	cm.registerConnection(connection)
	cm.sendTo(connection, NewWelcomeEvent(cm.clock.Now()))

	go connection.writePump()
	go connection.readPump()

	cm.logger.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn] = true

	cm.logger.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn]; exists {
		delete(cm.connections, conn)
		close(conn.Send)

		cm.logger.Info().
			Str("connection_id", conn.ID).
			Dur("connected_for", cm.clock.Since(conn.ConnectedAt)).
			Msg("connection unregistered")
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for conn := range cm.connections {
		delete(cm.connections, conn)
		close(conn.Send)
	}
}

// Broadcast queues an event for every connected client.
func (cm *ConnectionManager) Broadcast(event *FeedEvent) {
	select {
	case cm.broadcastCh <- event:
	default:
		cm.logger.Warn().Str("event_type", string(event.Type)).Msg("broadcast channel full, dropping message")
	}
}

// sendTo queues an event for a single connection. Send is only written while
// the connection is registered so it can never race with close.
func (cm *ConnectionManager) sendTo(conn *Connection, event *FeedEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		cm.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.connections[conn] {
		return
	}
	select {
	case conn.Send <- data:
	default:
		cm.logger.Warn().Str("connection_id", conn.ID).Msg("connection send buffer full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(event *FeedEvent) {
	eventData, err := json.Marshal(event)
	if err != nil {
		cm.logger.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	cm.mu.RLock()
	delivered := 0
	for conn := range cm.connections {
		select {
		case conn.Send <- eventData:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		cm.logger.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	cm.logger.Debug().
		Str("event_type", string(event.Type)).
		Int("connections", delivered).
		Msg("event broadcasted")
}

// ConnectionCount returns the number of registered connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// ConnectionStats is served by /ws/stats.
type ConnectionStats struct {
	TotalConnections int       `json:"total_connections"`
	OldestConnection time.Time `json:"oldest_connection,omitempty"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{TotalConnections: len(cm.connections)}
	for conn := range cm.connections {
		if stats.OldestConnection.IsZero() || conn.ConnectedAt.Before(stats.OldestConnection) {
			stats.OldestConnection = conn.ConnectedAt
		}
	}
	return stats
}

func (c *Connection) writePump() {
	ticker := c.Manager.clock.NewTicker(c.Manager.config.PingInterval)
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
				c.Manager.logger.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.Chan():
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Manager.logger.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.Manager.logger.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage echoes the client frame back to its sender.
func (c *Connection) handleClientMessage(message []byte) {
	c.Manager.logger.Debug().
		Str("connection_id", c.ID).
		Int("bytes", len(message)).
		Msg("received client message")

	c.Manager.sendTo(c, NewEchoEvent(string(message), c.Manager.clock.Now()))
}
