package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yegors/clipgremlin/pkg/logger"
)

// Message types sent to dashboard clients
const (
	MessageTypeSnapshot      = "snapshot"
	MessageTypeStatusRequest = "status_request" // client asks for a fresh snapshot
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Message represents a WebSocket message
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// SnapshotFunc returns the current state sent to new and asking clients
type SnapshotFunc func() map[string]any

// Client represents a WebSocket client
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan *Message
	server *Server
	mu     sync.Mutex
	closed bool
}

// ID returns the client identifier
func (c *Client) ID() string { return c.id }

// Server fans pipeline events out to connected dashboard clients
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	upgrader   websocket.Upgrader
	logger     *logger.Logger
	mu         sync.RWMutex
	snapshot   SnapshotFunc
	done       chan struct{}
}

// NewServer creates a new WebSocket server
func NewServer(logger *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.Named("web-socket"),
		done:   make(chan struct{}),
	}
}

// SetSnapshot sets the state provider used for snapshot messages
func (s *Server) SetSnapshot(fn SnapshotFunc) {
	s.mu.Lock()
	s.snapshot = fn
	s.mu.Unlock()
}

// ClientCount returns the number of registered clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Run services registration and broadcast until ctx is done
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("Starting WebSocket hub")

	for {
		select {
		case <-ctx.Done():
			close(s.done)
			s.mu.Lock()
			for client := range s.clients {
				s.dropLocked(client)
			}
			s.mu.Unlock()
			s.logger.Info("WebSocket hub stopped")
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", String("client_id", client.id), Int("client_count", count))

		case client := <-s.unregister:
			s.mu.Lock()
			s.dropLocked(client)
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", String("client_id", client.id), Int("client_count", count))

		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					s.logger.Warn("Client too slow, disconnecting", String("client_id", client.id))
					s.dropLocked(client)
				}
			}
			s.mu.Unlock()
		}
	}
}

// dropLocked removes a client; caller holds s.mu
func (s *Server) dropLocked(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	client.mu.Lock()
	if !client.closed {
		client.closed = true
		close(client.send)
	}
	client.mu.Unlock()
}

// HandleConnection upgrades the request and attaches a client
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			Error(err),
			String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan *Message, sendBuffer),
		server: s,
	}
	s.logger.Info("Dashboard client connected",
		String("client_id", client.id),
		String("remote_addr", r.RemoteAddr))

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}
	client.sendSnapshot()

	go client.readPump()
	go client.writePump()
}

// Publish queues an event for every client without blocking the caller
func (s *Server) Publish(eventType string, data map[string]any) {
	s.Broadcast(&Message{Type: eventType, Data: data})
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(message *Message) {
	select {
	case s.broadcast <- message:
	default:
		s.logger.Warn("Broadcast queue full, dropping message", String("message_type", message.Type))
	}
}

func (c *Client) sendSnapshot() {
	c.server.mu.RLock()
	fn := c.server.snapshot
	c.server.mu.RUnlock()
	if fn == nil {
		return
	}
	c.SendMessage(&Message{Type: MessageTypeSnapshot, Data: fn()})
}

// readPump consumes client messages until the connection drops
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", Error(err))
			}
			return
		}

		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			c.server.logger.Debug("Ignoring malformed client message", Error(err))
			continue
		}
		if message.Type == MessageTypeStatusRequest {
			c.sendSnapshot()
		}
	}
}

// writePump writes queued messages and keepalive pings
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
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage sends a message to this specific client
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)
