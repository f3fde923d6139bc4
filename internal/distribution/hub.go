package distribution

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trade-mentor-server/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Client represents one WebSocket connection for a user
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	userID    string
	closeChan chan struct{}
}

// UserID returns the user this connection belongs to
func (c *Client) UserID() string {
	return c.userID
}

// Done is closed when the connection's read pump exits
func (c *Client) Done() <-chan struct{} {
	return c.closeChan
}

// Hub tracks connected clients per user and fans events out to them.
// A user with zero connections never appears in the registry.
type Hub struct {
	// All connected clients (for global broadcasts)
	clients map[*Client]bool
	// User-specific client mappings
	userClients map[string]map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	done        chan struct{}
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewHub creates a connection hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		logger:      logger.With().Str("component", "Hub").Logger(),
	}
}

// Run services the register/unregister channels until Close
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if client.userID != "" {
				if h.userClients[client.userID] == nil {
					h.userClients[client.userID] = make(map[*Client]bool)
				}
				h.userClients[client.userID][client] = true
			}
			h.mu.Unlock()
			h.logger.Debug().Str("user_id", client.userID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Close drops every connection and stops the run loop
func (h *Hub) Close() {
	close(h.done)
}

// removeLocked drops a client from both maps and closes its send channel.
// Deletes the user entry when it would otherwise hold an empty set.
func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	if client.userID != "" {
		if userClients, ok := h.userClients[client.userID]; ok {
			delete(userClients, client)
			if len(userClients) == 0 {
				delete(h.userClients, client.userID)
			}
		}
	}
	close(client.send)
}

// Attach registers an upgraded connection, starts its pumps, and sends the
// connected handshake event
func (h *Hub) Attach(conn *websocket.Conn, userID string) *Client {
	client := &Client{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		hub:       h,
		userID:    userID,
		closeChan: make(chan struct{}),
	}

	// Enqueue the handshake before registration: once the read pump is
	// live a dead connection can close send concurrently
	if data, err := json.Marshal(events.NewConnected(userID)); err == nil {
		client.send <- data
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

// BroadcastToUser sends an event to every connection a user holds.
// Returns true only if at least one connection accepted the message;
// connections with full buffers are evicted.
func (h *Hub) BroadcastToUser(userID string, event events.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(event.Type)).Msg("failed to marshal user event")
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.userClients[userID]
	if !ok {
		return false
	}

	delivered := 0
	for client := range userClients {
		select {
		case client.send <- data:
			delivered++
		default:
			h.logger.Warn().Str("user_id", userID).Msg("send buffer full, evicting client")
			h.removeLocked(client)
		}
	}
	return delivered > 0
}

// BroadcastToAll sends an event to every connected client and returns how
// many connections accepted it
func (h *Hub) BroadcastToAll(event events.Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(event.Type)).Msg("failed to marshal event")
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for client := range h.clients {
		select {
		case client.send <- data:
			delivered++
		default:
			h.logger.Warn().Str("user_id", client.userID).Msg("send buffer full, evicting client")
			h.removeLocked(client)
		}
	}
	return delivered
}

// GetUserClientCount returns the number of connections a user holds
func (h *Hub) GetUserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[userID])
}

// GetTotalClientCount returns the total number of connected clients
func (h *Hub) GetTotalClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetConnectedUsers returns the user IDs with at least one active connection
func (h *Hub) GetConnectedUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.userClients))
	for userID := range h.userClients {
		users = append(users, userID)
	}
	return users
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// readPump drains inbound frames to keep pong handling alive; clients
// never send application data on this stream
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		close(c.closeChan)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Str("user_id", c.userID).Msg("websocket read error")
			}
			break
		}
	}
}
