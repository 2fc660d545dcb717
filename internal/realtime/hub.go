// Package realtime streams call snapshots to WebSocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voiceguard-service/internal/observability/logging"
	"voiceguard-service/internal/observability/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 1000

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// Frame is one message sent to clients.
type Frame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription filters frames by type. Empty means everything.
type Subscription struct {
	Types []string `json:"types"`
}

func (s Subscription) matches(f *Frame) bool {
	return len(s.Types) == 0 || slices.Contains(s.Types, f.Type)
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// Hub fans frames out to every connected client.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Frame
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}
	maxClients int
	initial    func() *Frame
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	totalFrames  atomic.Int64
	totalClients atomic.Int64
}

// NewHub creates a hub. initial, when set, provides the frame sent to a
// client right after it connects.
func NewHub(initial func() *Frame) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Frame, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		maxClients: MaxClients,
		initial:    initial,
		logger:     logging.WithComponent("realtime-hub"),
		metrics:    metrics.DefaultMetrics,
	}
}

// Run is the hub loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Msg("Realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.metrics.WebSocketClients.Set(0)
			h.logger.Info().Msg("Realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			h.metrics.WebSocketClients.Set(float64(n))
			h.logger.Debug().Int("total", n).Msg("Client connected")

			if h.initial != nil {
				if f := h.initial(); f != nil {
					h.deliver(client, f)
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.WebSocketClients.Set(float64(n))
			h.logger.Debug().Int("total", n).Msg("Client disconnected")

		case f := <-h.broadcast:
			h.totalFrames.Add(1)
			data, err := json.Marshal(f)
			if err != nil {
				h.logger.Error().Err(err).Str("type", f.Type).Msg("Failed to encode frame")
				continue
			}
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if !client.subscription().matches(f) {
					continue
				}
				select {
				case client.send <- data:
					h.metrics.WebSocketSent.Inc()
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			if len(slow) > 0 {
				h.drop(slow)
			}
		}
	}
}

// deliver sends one frame to a single client from the hub loop.
func (h *Hub) deliver(client *Client, f *Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case client.send <- data:
		h.metrics.WebSocketSent.Inc()
	default:
		h.drop([]*Client{client})
	}
}

func (h *Hub) drop(slow []*Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			close(client.send)
			delete(h.clients, client)
			h.metrics.RecordDropped("slow_websocket_client")
		}
	}
	h.metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// Broadcast queues a frame for all matching clients. It never blocks; a
// full queue drops the frame.
func (h *Hub) Broadcast(f *Frame) bool {
	select {
	case h.broadcast <- f:
		return true
	default:
		h.metrics.RecordDropped("hub_full")
		h.logger.Warn().Str("type", f.Type).Msg("Broadcast channel full, dropping frame")
		return false
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns hub counters.
func (h *Hub) Stats() map[string]int64 {
	return map[string]int64{
		"connectedClients": int64(h.Clients()),
		"totalFrames":      h.totalFrames.Load(),
		"totalClients":     h.totalClients.Load(),
	}
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.Clients() >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if types := r.URL.Query()["type"]; len(types) > 0 {
		client.sub = Subscription{Types: types}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// readPump applies subscription updates until the connection closes.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

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
				c.hub.logger.Debug().Err(err).Msg("WebSocket write error")
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
