package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbscanner/internal/stream"
)

const (
	wsWriteWait = 10 * time.Second
	wsReadWait  = 40 * time.Second

	// The CLOB feed uses an application-level heartbeat: the client sends
	// the text "PING" and the server answers "PONG".
	wsHeartbeatEvery = 10 * time.Second
)

// PriceHandler receives one normalized price per CLOB price event. assetID
// is the YES-side token the market was subscribed with.
type PriceHandler func(assetID string, yes, no, volume float64)

// StreamClient subscribes to the CLOB market channel for YES token IDs. It
// reconnects with backoff and restores its subscriptions on every new
// connection.
type StreamClient struct {
	wsURL     string
	logger    *slog.Logger
	backoff   *stream.Backoff
	heartbeat time.Duration

	// mu guards conn and subscribed, and serializes every data-frame write:
	// gorilla/websocket allows only one concurrent writer per connection.
	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]struct{}

	connected atomic.Bool
	onPrice   PriceHandler
}

// NewStreamClient creates a CLOB market-channel stream client.
func NewStreamClient(wsURL string, logger *slog.Logger) *StreamClient {
	return &StreamClient{
		wsURL:      wsURL,
		logger:     logger.With(slog.String("component", "polymarket_stream")),
		backoff:    stream.NewBackoff(0, 0),
		heartbeat:  wsHeartbeatEvery,
		subscribed: make(map[string]struct{}),
	}
}

// OnPrice sets the price handler. Must be called before Run.
func (c *StreamClient) OnPrice(h PriceHandler) { c.onPrice = h }

// SetReconnectBackoff overrides the reconnect delays. Must be called before
// Run.
func (c *StreamClient) SetReconnectBackoff(base, ceiling time.Duration) {
	c.backoff = stream.NewBackoff(base, ceiling)
}

// Connected reports whether the socket is currently up.
func (c *StreamClient) Connected() bool { return c.connected.Load() }

// Subscribe adds asset IDs to the tracked set and, when connected, sends
// the delta to the server.
func (c *StreamClient) Subscribe(assetIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var added []string
	for _, id := range assetIDs {
		if _, ok := c.subscribed[id]; !ok {
			c.subscribed[id] = struct{}{}
			added = append(added, id)
		}
	}
	if len(added) == 0 || c.conn == nil {
		return nil
	}
	return c.sendLocked(wsCommand{AssetIDs: added, Type: "market", Operation: "subscribe"})
}

// Unsubscribe drops asset IDs from the tracked set and, when connected,
// sends the delta to the server.
func (c *StreamClient) Unsubscribe(assetIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for _, id := range assetIDs {
		if _, ok := c.subscribed[id]; ok {
			delete(c.subscribed, id)
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 || c.conn == nil {
		return nil
	}
	return c.sendLocked(wsCommand{AssetIDs: removed, Type: "market", Operation: "unsubscribe"})
}

// Subscribed returns a snapshot of the tracked asset ID set.
func (c *StreamClient) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		out = append(out, id)
	}
	return out
}

// Run connects and pumps messages until ctx is done, reconnecting with
// backoff on any failure.
func (c *StreamClient) Run(ctx context.Context) error {
	for {
		err := c.connectAndPump(ctx)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := c.backoff.Next()
		c.logger.Warn("stream disconnected",
			slog.Any("error", err),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *StreamClient) connectAndPump(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsReadWait))

	c.mu.Lock()
	c.conn = conn
	tracked := make([]string, 0, len(c.subscribed))
	for id := range c.subscribed {
		tracked = append(tracked, id)
	}
	var subErr error
	if len(tracked) > 0 {
		// Initial subscribe carries no operation field.
		subErr = c.sendLocked(wsCommand{AssetIDs: tracked, Type: "market"})
	}
	c.mu.Unlock()
	if subErr != nil {
		return fmt.Errorf("polymarket/ws: restore subscriptions: %w", subErr)
	}

	c.connected.Store(true)
	c.backoff.Reset()
	c.logger.Info("stream connected", slog.Int("assets", len(tracked)))

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go c.heartbeatLoop(hbCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.detach(conn)
			return fmt.Errorf("polymarket/ws: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(wsReadWait))
		if bytes.Equal(message, []byte("PONG")) {
			continue
		}
		c.handleMessage(message)
	}
}

func (c *StreamClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Heartbeats share c.mu with the subscription writes so the two
			// never hit the connection concurrently.
			c.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses a frame, which carries either one event object or an
// array of them, and fires the price handler for each price event.
func (c *StreamClient) handleMessage(raw []byte) {
	var events []wsEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		var single wsEvent
		if err := json.Unmarshal(raw, &single); err != nil {
			return
		}
		events = []wsEvent{single}
	}

	for _, ev := range events {
		evType := ev.EventType
		if evType == "" {
			evType = ev.Type
		}
		if evType != "price_change" && evType != "last_trade_price" {
			continue
		}

		assetID := ev.AssetID
		if assetID == "" {
			assetID = ev.Market
		}
		if assetID == "" || ev.Price == "" || c.onPrice == nil {
			continue
		}

		price, err := strconv.ParseFloat(ev.Price, 64)
		if err != nil {
			continue
		}
		yes := clamp01(price)
		c.onPrice(assetID, yes, clamp01(1-yes), float64(ev.Volume))
	}
}

func (c *StreamClient) sendLocked(cmd wsCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// detach clears the shared conn reference once the read loop exits.
func (c *StreamClient) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}
