package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/co-capacity/HeliosMLLP/internal/protocol"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
)

// FrameEvent is what a websocket tail receives for every decoded frame
type FrameEvent struct {
	Type string                  `json:"type"`
	Data protocol.InboundMessage `json:"data"`
}

// wsControl is a message sent by a websocket client
type wsControl struct {
	Type   string `json:"type"`
	ConnID string `json:"conn_id,omitempty"`
}

// Client is one websocket tail
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub

	filter atomic.Value // string, empty means every connection
}

// Hub fans decoded frames out to websocket clients
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan protocol.InboundMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     zerolog.Logger
	mu         sync.RWMutex
	seq        atomic.Uint64
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan protocol.InboundMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "ws").Logger(),
	}
}

// Run is the hub's event loop. It returns when ctx is done and closes
// every client on the way out.
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
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Str("client", client.ID).Int("clients", total).Msg("ws client connected")

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Str("client", client.ID).Int("clients", total).Msg("ws client disconnected")
}

func (h *Hub) fanOut(msg protocol.InboundMessage) {
	data, err := json.Marshal(FrameEvent{Type: "frame", Data: msg})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal frame event")
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if f, _ := client.filter.Load().(string); f != "" && f != msg.ConnID {
			continue
		}
		select {
		case client.Send <- data:
		default:
			// slow reader
			h.remove(client)
		}
	}
}

// Broadcast queues msg for every client. It never blocks the connection
// goroutine: when the queue is full the message is dropped.
func (h *Hub) Broadcast(msg protocol.InboundMessage) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and tails decoded frames. The
// conn_id query parameter limits the tail to one connection.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	client := &Client{
		ID:   c.ClientIP() + "#" + strconv.FormatUint(h.seq.Add(1), 10),
		Conn: conn,
		Send: make(chan []byte, 256),
		Hub:  h,
	}
	client.filter.Store(c.Query("conn_id"))
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// ReadPump handles control messages from the client
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Debug().Err(err).Str("client", c.ID).Msg("ws read error")
			}
			return
		}

		var ctl wsControl
		if err := json.Unmarshal(message, &ctl); err != nil {
			continue
		}
		// Send belongs to the hub, so the read side only changes the filter
		if ctl.Type == "subscribe" {
			c.filter.Store(ctl.ConnID)
		}
	}
}

// WritePump writes queued events and keeps the connection alive
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
