package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thefortaiagency/aether-insight/internal/bus"
	"github.com/thefortaiagency/aether-insight/internal/logger"
	"github.com/thefortaiagency/aether-insight/internal/models"
	"github.com/thefortaiagency/aether-insight/internal/syncqueue"
)

// BroadcastBuffer is how many messages may wait for the hub loop before
// new ones are dropped
const BroadcastBuffer = 256

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The console is served from the device itself
	},
}

// StatusSource reports the sync state sent to every new client
type StatusSource interface {
	Status(ctx context.Context) (*syncqueue.Status, error)
}

// Hub fans bus events out to the operator consoles
type Hub struct {
	log        logger.Logger
	clients    map[*Client]bool
	broadcast  chan models.WSMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	status     StatusSource
}

// Client is a middleman between the websocket connection and the hub.
// A client with a match filter only receives that match's events and
// events that belong to no match.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan models.WSMessage
	match string
}

// New creates a new Hub instance with injected dependencies
func New(log logger.Logger, status StatusSource) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan models.WSMessage, BroadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		status:     status,
	}
}

// Start begins the hub's main loop in a goroutine
func (h *Hub) Start() {
	go h.run()
}

// Subscribe forwards the operator-facing bus topics to connected clients
func (h *Hub) Subscribe(b *bus.Bus) {
	b.SubscribeMany(func(e bus.Event) error {
		h.send(models.WSMessage{
			Type:      string(e.Type),
			MatchID:   e.MatchID,
			Timestamp: e.Timestamp,
			Payload:   e.Payload,
		})
		return nil
	},
		bus.EventMatchUpdated,
		bus.EventScoreRecorded,
		bus.EventPeriodEnded,
		bus.EventClockTick,
		bus.EventMatchIDRewritten,
		bus.EventConnectivityChanged,
		bus.EventDrainCompleted,
		bus.EventOpFailed,
		bus.EventUploadProgress,
		bus.EventRemoteMatchChanged,
		bus.EventRealtimeStatus,
		bus.EventReviewNeeded,
	)
}

// run handles client registration/unregistration and message broadcasting
func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug("Client connected", "total_clients", total, "match_id", client.match)

			// Send current sync status to new client
			go h.greet(client)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug("Client disconnected", "total_clients", total)

		case message := <-h.broadcast:
			h.mutex.RLock()
			for client := range h.clients {
				if !client.wants(message) {
					continue
				}
				select {
				case client.send <- message:
				default:
					// Client's send channel is full, unregister
					go func(c *Client) {
						h.unregister <- c
					}(client)
				}
			}
			h.mutex.RUnlock()
		}
	}
}

func (h *Hub) greet(client *Client) {
	if h.status == nil {
		return
	}
	st, err := h.status.Status(context.Background())
	if err != nil {
		h.log.Warn("Failed to load sync status for new client", "error", err)
		return
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- models.WSMessage{Type: "sync_status", Timestamp: time.Now(), Payload: st}:
	default:
	}
}

// send queues a message without blocking the publisher. The clock publishes
// from the scoring path, so a stalled hub drops messages instead.
func (h *Hub) send(msg models.WSMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("Broadcast buffer full, dropping message", "type", msg.Type, "match_id", msg.MatchID)
	}
}

// BroadcastMessage sends a message to all connected clients
func (h *Hub) BroadcastMessage(msgType string, payload interface{}) {
	h.send(models.WSMessage{Type: msgType, Payload: payload})
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (c *Client) wants(msg models.WSMessage) bool {
	return c.match == "" || msg.MatchID == "" || msg.MatchID == c.match
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("WebSocket error", "error", err)
			}
			break
		}

		// Consoles only listen; anything they send is logged and dropped
		var msg models.WSMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			c.hub.log.Debug("Received message", "type", msg.Type)
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			msgBytes, _ := json.Marshal(message)
			w.Write(msgBytes)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles websocket requests from clients. The optional match query
// parameter limits the client to one match.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("WebSocket upgrade error", "error", err)
		return
	}

	client := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan models.WSMessage, 256),
		match: r.URL.Query().Get("match"),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// StartStatusBroadcast sends the sync status to every client on each tick
// until ctx is cancelled
func (h *Hub) StartStatusBroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("Status broadcast stopped")
			return
		case <-ticker.C:
			h.broadcastStatus(ctx)
		}
	}
}

func (h *Hub) broadcastStatus(ctx context.Context) {
	if h.status == nil {
		return
	}
	st, err := h.status.Status(ctx)
	if err != nil {
		h.log.Debug("Failed to load sync status", "error", err)
		return
	}
	h.BroadcastMessage("sync_status", st)
}
