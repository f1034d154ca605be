package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rzzdr/cat-risk-pipeline/pkg/models"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/logger"
)

// Hub maintains the set of active clients and broadcasts finished runs to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
	upgrader   websocket.Upgrader
	onCount    func(int)
	log        *logger.Logger
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	replies    chan []byte
	id         string
	requestIDs map[string]bool // empty means every run
	mu         sync.RWMutex
}

// Message represents a WebSocket message
type Message struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	ID    string      `json:"id,omitempty"`
}

// SubscriptionMessage narrows or widens the runs a client receives
type SubscriptionMessage struct {
	Type       string   `json:"type"`
	RequestIDs []string `json:"request_ids"`
	ID         string   `json:"id,omitempty"`
}

type outbound struct {
	requestID string
	data      []byte
}

// Config controls connection limits and origin checks
type Config struct {
	AllowedOrigins []string
	OnClientCount  func(int)
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	sendBuffer = 64
)

// NewHub creates a new WebSocket hub. Call Run before serving connections.
func NewHub(cfg Config) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		onCount:    cfg.OnClientCount,
		log:        logger.GetLogger("websocket.hub"),
	}

	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 || allowed["*"] {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
	return h
}

// Run owns the client set until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Starting WebSocket hub")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			h.log.Info("WebSocket hub shutting down")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount()
			h.log.Debugf("Client %s registered", client.id)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.log.Debugf("Client %s unregistered", client.id)
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.wants(msg.requestID) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					h.log.Warnf("Client %s is too slow, disconnecting", client.id)
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.clients)))
	if h.onCount != nil {
		h.onCount(len(h.clients))
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Name identifies the hub as a result sink
func (h *Hub) Name() string {
	return "websocket"
}

// Publish broadcasts a run summary to every interested client
func (h *Hub) Publish(ctx context.Context, result *models.SimulationResult) error {
	data, err := json.Marshal(Message{Type: "run_completed", Data: result.Summary()})
	if err != nil {
		return errors.Wrap(errors.WithType(err, errors.ErrorTypeInternal), "websocket: encode summary")
	}

	select {
	case <-h.done:
		return errors.Unavailable("websocket hub is stopped")
	default:
	}

	select {
	case h.broadcast <- outbound{requestID: result.RequestID, data: data}:
		return nil
	case <-h.done:
		return errors.Unavailable("websocket hub is stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleWebSocket upgrades the request and attaches the connection to the hub
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		replies:    make(chan []byte, sendBuffer),
		id:         uuid.NewString(),
		requestIDs: make(map[string]bool),
	}
	client.enqueue(Message{Type: "welcome", ID: client.id})

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) wants(requestID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.requestIDs) == 0 || c.requestIDs[requestID]
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Errorf("WebSocket error: %v", err)
			}
			return
		}

		c.handleMessage(data)
	}
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

		case reply := <-c.replies:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, reply); err != nil {
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

// handleMessage handles incoming messages from the client
func (c *Client) handleMessage(data []byte) {
	var msg SubscriptionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.enqueue(Message{Type: "error", Error: "invalid message format"})
		return
	}

	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		for _, id := range msg.RequestIDs {
			c.requestIDs[id] = true
		}
		c.mu.Unlock()
		c.enqueue(Message{Type: "subscription_confirmed", Data: map[string]interface{}{"request_ids": msg.RequestIDs}, ID: msg.ID})
	case "unsubscribe":
		c.mu.Lock()
		for _, id := range msg.RequestIDs {
			delete(c.requestIDs, id)
		}
		c.mu.Unlock()
		c.enqueue(Message{Type: "unsubscription_confirmed", Data: map[string]interface{}{"request_ids": msg.RequestIDs}, ID: msg.ID})
	case "ping":
		c.enqueue(Message{Type: "pong", ID: msg.ID})
	default:
		c.enqueue(Message{Type: "error", Error: "unknown message type", ID: msg.ID})
	}
}

// enqueue queues a direct reply to this client. Replies are dropped when the
// queue is full so the read loop never blocks.
func (c *Client) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Errorf("Failed to marshal message: %v", err)
		return
	}

	select {
	case c.replies <- data:
	default:
		c.hub.log.Warnf("Dropping reply to client %s", c.id)
	}
}
