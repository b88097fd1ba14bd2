// Package ws pushes per-match price updates to WebSocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

const (
	writeWait = 10 * time.Second

	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	// sendBufferSize is the per-client outgoing buffer. A client that falls
	// this far behind starts losing updates rather than stalling the hub.
	sendBufferSize = 256
)

// matchChannelPattern matches every per-match channel the stream manager
// publishes on.
const matchChannelPattern = "match:*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The HTTP layer's CORS policy is the access control surface.
		return true
	},
}

// client is one WebSocket connection and its match subscriptions.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[int64]bool
}

// clientMsg is the JSON a client sends to manage subscriptions.
type clientMsg struct {
	Action   string  `json:"action"` // "subscribe" or "unsubscribe"
	MatchIDs []int64 `json:"match_ids"`
}

// ack confirms one subscription change. Each match id is acknowledged
// individually.
type ack struct {
	Type    string `json:"type"` // "subscribed" or "unsubscribed"
	MatchID int64  `json:"match_id"`
}

// updateEnvelope wraps a price update for the wire.
type updateEnvelope struct {
	Type    string             `json:"type"` // "price_update"
	Payload domain.PriceUpdate `json:"payload"`
}

// Hub fans price updates out to connected WebSocket clients, routed by match
// id. Updates arrive either from the Redis signal bus (api mode, scanner
// running elsewhere) or directly via Broadcast (single-process mode).
type Hub struct {
	clients    map[*client]bool
	broadcast  chan domain.PriceUpdate
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus // nil when fed directly via Broadcast
	logger     *slog.Logger
}

// NewHub creates a hub. bus may be nil.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.PriceUpdate, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Broadcast queues an update for delivery to that match's subscribers. It
// never blocks; under extreme backlog the update is dropped.
func (h *Hub) Broadcast(update domain.PriceUpdate) {
	select {
	case h.broadcast <- update:
	default:
		h.logger.Warn("hub broadcast backlog, dropping update",
			slog.Int64("match_id", update.MatchID))
	}
}

// Run drives registration and fan-out until the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.consumeBus(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = true
			h.logger.Info("client connected", slog.Int("total", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.logger.Info("client disconnected", slog.Int("total", len(h.clients)))

		case update := <-h.broadcast:
			data, err := json.Marshal(updateEnvelope{Type: "price_update", Payload: update})
			if err != nil {
				continue
			}
			for c := range h.clients {
				if !c.subscribed(update.MatchID) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Full buffer: drop for this client, never stall the hub.
					h.logger.Warn("dropping update for slow client",
						slog.Int64("match_id", update.MatchID))
				}
			}
		}
	}
}

// consumeBus bridges the Redis signal bus into the broadcast loop. Payloads
// carry their own match id, so one pattern subscription covers all matches.
func (h *Hub) consumeBus(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, matchChannelPattern)
	if err != nil {
		h.logger.Error("signal bus subscribe failed", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("signal bus subscription closed")
				return
			}
			var update domain.PriceUpdate
			if err := json.Unmarshal(data, &update); err != nil || update.MatchID == 0 {
				continue
			}
			h.Broadcast(update)
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[int64]bool),
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) subscribed(matchID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[matchID]
}

// readPump consumes subscription management frames until the connection
// drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		c.handleSubscription(msg)
	}
}

// handleSubscription applies one subscribe/unsubscribe request, acking each
// match id individually.
func (c *client) handleSubscription(msg clientMsg) {
	var acks [][]byte

	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.MatchIDs {
			c.subs[id] = true
			if data, err := json.Marshal(ack{Type: "subscribed", MatchID: id}); err == nil {
				acks = append(acks, data)
			}
		}
	case "unsubscribe":
		for _, id := range msg.MatchIDs {
			delete(c.subs, id)
			if data, err := json.Marshal(ack{Type: "unsubscribed", MatchID: id}); err == nil {
				acks = append(acks, data)
			}
		}
	}
	c.mu.Unlock()

	for _, data := range acks {
		select {
		case c.send <- data:
		default:
		}
	}
}

// writePump writes queued frames and keepalive pings.
func (c *client) writePump() {
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
		}
	}
}
