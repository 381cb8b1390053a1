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
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsync/go/internal/room/events"
	"github.com/mcdev12/coopsync/go/internal/room/registry"
)

// ConnectionManager upgrades WebSocket connections and attaches them to
// rooms in the registry
type ConnectionManager struct {
	registry *registry.Registry
	upgrader websocket.Upgrader
	config   ConnectionConfig
	buffer   int
}

// Connection represents a WebSocket connection to one room
type Connection struct {
	id       string
	roomID   string
	playerID string
	conn     *websocket.Conn
	send     chan []byte
	manager  *ConnectionManager

	closeMu  sync.Mutex
	isClosed bool

	connectedAt time.Time
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(reg *registry.Registry, config ConnectionConfig, buffer int) *ConnectionManager {
	return &ConnectionManager{
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		buffer: buffer,
	}
}

// HandleRoomConnection handles GET /ws/room?room_id=&player_id=
func (cm *ConnectionManager) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	playerID := r.URL.Query().Get("player_id")

	if err := cm.UpgradeConnection(w, r, roomID, playerID); err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Str("player_id", playerID).
			Msg("failed to upgrade WebSocket connection")
		// the upgrader already replied
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and subscribes
// it to roomID
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, roomID, playerID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		id:          uuid.New().String(),
		roomID:      roomID,
		playerID:    playerID,
		conn:        conn,
		send:        make(chan []byte, cm.buffer),
		manager:     cm,
		connectedAt: time.Now(),
	}

	// subscribe before the pumps start so FULL_STATE is the first frame
	cm.registry.Subscribe(roomID, c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("player_id", playerID).
		Str("room_id", roomID).
		Msg("WebSocket connection established")
	return nil
}

func (c *Connection) ID() string       { return c.id }
func (c *Connection) PlayerID() string { return c.playerID }

// Deliver implements registry.Subscriber. A full send buffer closes the
// connection.
func (c *Connection) Deliver(env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return c.enqueue(data)
}

func (c *Connection) enqueue(data []byte) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.isClosed {
		return errSubscriberClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.closeSendLocked()
		return errSlowConsumer
	}
}

func (c *Connection) closeSend() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	c.closeSendLocked()
}

func (c *Connection) closeSendLocked() {
	if !c.isClosed {
		c.isClosed = true
		close(c.send)
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads submissions from the client until the connection closes
func (c *Connection) readPump() {
	defer func() {
		c.manager.registry.Unsubscribe(c.roomID, c)
		c.closeSend()
		c.conn.Close()
		log.Info().
			Str("connection_id", c.id).
			Str("room_id", c.roomID).
			Dur("connected_for", time.Since(c.connectedAt)).
			Msg("WebSocket connection closed")
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

// handleClientMessage submits one client frame to the connection's room.
// Rejections are reported back on the same connection only.
func (c *Connection) handleClientMessage(message []byte) {
	var sub events.Submission
	if err := json.Unmarshal(message, &sub); err != nil {
		c.replyError(fmt.Errorf("%w: %v", events.ErrBadPayload, err))
		return
	}
	sub.RoomID = c.roomID
	if sub.SenderID == "" {
		sub.SenderID = c.playerID
	}

	if _, err := c.manager.registry.Submit(context.Background(), sub); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.id).
			Str("type", string(sub.Type)).
			Msg("client submission rejected")
		c.replyError(err)
	}
}

func (c *Connection) replyError(err error) {
	data, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		log.Error().Err(merr).Str("connection_id", c.id).Msg("failed to marshal error reply")
		return
	}
	if qerr := c.enqueue(data); qerr != nil {
		log.Warn().
			Err(qerr).
			Str("connection_id", c.id).
			Str("room_id", c.roomID).
			Msg("failed to queue error reply")
	}
}
