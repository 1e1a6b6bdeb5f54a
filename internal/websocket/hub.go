package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"marketplace/internal/events"
	"marketplace/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrHubBusy is returned when the broadcast queue is full.
var ErrHubBusy = errors.New("websocket hub: broadcast queue full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one dashboard connection. ProjectID scopes which events it receives;
// admins with an empty ProjectID see everything.
type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	ProjectID string
	Admin     bool
}

type envelope struct {
	projectID string
	payload   []byte
}

// Hub fans domain events out to connected dashboards. It implements events.Publisher.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// Run starts the dispatch loop; it returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", zap.String("project_id", client.ProjectID))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.logger.Debug("websocket client disconnected", zap.String("project_id", client.ProjectID))
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.projectID) {
					continue
				}
				select {
				case client.Send <- msg.payload:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues the event without blocking the caller's transition.
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- envelope{projectID: event.ProjectID, payload: payload}:
		return nil
	default:
		return ErrHubBusy
	}
}

// join registers the client, reporting false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (c *Client) wants(projectID string) bool {
	if c.ProjectID == "" {
		return c.Admin
	}
	return c.ProjectID == projectID
}

// writePump handles writing messages from the Hub to the WebSocket connection
func (c *Client) writePump() {
	defer func() {
		_ = c.Conn.Close()
	}()
	for message := range c.Send {
		w, err := c.Conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		_, _ = w.Write(message)

		n := len(c.Send)
		for i := 0; i < n; i++ {
			_, _ = w.Write([]byte{'\n'})
			_, _ = w.Write(<-c.Send)
		}

		if err := w.Close(); err != nil {
			return
		}
	}
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump only drains the socket so close frames are noticed.
func (c *Client) readPump() {
	defer func() {
		c.Hub.leave(c)
		_ = c.Conn.Close()
	}()
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("websocket read failed", zap.Error(err))
			}
			break
		}
	}
}

// ServeWs authenticates the token query param and subscribes the peer.
// Non-admins must scope the subscription with ?project_id=.
func ServeWs(hub *Hub, c *gin.Context, secret []byte) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	claims, err := middleware.ParseToken(tokenString, secret)
	if err != nil {
		hub.logger.Info("websocket connection rejected", zap.Error(err))
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	projectID := c.Query("project_id")
	admin := claims.Role == middleware.RoleAdmin
	if !admin && projectID == "" {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{Hub: hub, Conn: conn, Send: make(chan []byte, 256), ProjectID: projectID, Admin: admin}
	if !hub.join(client) {
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
