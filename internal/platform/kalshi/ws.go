package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbscanner/internal/stream"
)

const (
	wsWriteWait = 10 * time.Second
	wsReadWait  = 30 * time.Second
	wsPingEvery = 25 * time.Second
	wsAuthPath  = "/trade-api/ws/v2"
)

// TickerHandler receives one normalized price per ticker event.
type TickerHandler func(marketTicker string, yes, no, volume float64)

// StreamClient subscribes to the public ticker channel of the trade API
// WebSocket. It reconnects with backoff and restores its subscriptions on
// every new connection.
type StreamClient struct {
	wsURL     string
	auth      *Client // nil disables auth headers
	logger    *slog.Logger
	backoff   *stream.Backoff
	pingEvery time.Duration

	// mu guards conn and the subscription state, and serializes data-frame
	// writes. Ping and pong frames go through WriteControl, which gorilla
	// documents as safe to call concurrently with a data writer.
	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]struct{}
	cmdID      int64
	sid        int64 // ticker subscription id, 0 until acked

	connected atomic.Bool
	onTicker  TickerHandler
}

// NewStreamClient creates a ticker stream client. auth may be nil; the
// ticker channel is public.
func NewStreamClient(wsURL string, auth *Client, logger *slog.Logger) *StreamClient {
	return &StreamClient{
		wsURL:      wsURL,
		auth:       auth,
		logger:     logger.With(slog.String("component", "kalshi_stream")),
		backoff:    stream.NewBackoff(0, 0),
		pingEvery:  wsPingEvery,
		subscribed: make(map[string]struct{}),
	}
}

// OnTicker sets the price handler. Must be called before Run.
func (c *StreamClient) OnTicker(h TickerHandler) { c.onTicker = h }

// SetReconnectBackoff overrides the reconnect delays. Must be called before
// Run.
func (c *StreamClient) SetReconnectBackoff(base, ceiling time.Duration) {
	c.backoff = stream.NewBackoff(base, ceiling)
}

// Connected reports whether the socket is currently up.
func (c *StreamClient) Connected() bool { return c.connected.Load() }

// Subscribe adds tickers to the tracked set and, when connected, sends the
// delta to the server.
func (c *StreamClient) Subscribe(tickers []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var added []string
	for _, t := range tickers {
		if _, ok := c.subscribed[t]; !ok {
			c.subscribed[t] = struct{}{}
			added = append(added, t)
		}
	}
	if len(added) == 0 || c.conn == nil {
		return nil
	}
	if c.sid != 0 {
		return c.sendLocked(wsCommand{
			ID:  c.nextIDLocked(),
			Cmd: "update_subscription",
			Params: wsParams{
				SIDs:    []int64{c.sid},
				Tickers: added,
				Action:  "add_markets",
			},
		})
	}
	return c.sendLocked(c.subscribeCmdLocked(added))
}

// Unsubscribe drops tickers from the tracked set and, when connected, sends
// the delta to the server.
func (c *StreamClient) Unsubscribe(tickers []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for _, t := range tickers {
		if _, ok := c.subscribed[t]; ok {
			delete(c.subscribed, t)
			removed = append(removed, t)
		}
	}
	if len(removed) == 0 || c.conn == nil || c.sid == 0 {
		return nil
	}
	return c.sendLocked(wsCommand{
		ID:  c.nextIDLocked(),
		Cmd: "update_subscription",
		Params: wsParams{
			SIDs:    []int64{c.sid},
			Tickers: removed,
			Action:  "delete_markets",
		},
	})
}

// Subscribed returns a snapshot of the tracked ticker set.
func (c *StreamClient) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscribed))
	for t := range c.subscribed {
		out = append(out, t)
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

	var headers map[string][]string
	if c.auth != nil {
		h, err := c.auth.AuthHeaders("GET", wsAuthPath)
		if err != nil {
			return err
		}
		headers = h
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, headers)
	if err != nil {
		return fmt.Errorf("kalshi/ws: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteWait))
	})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.sid = 0
	tracked := make([]string, 0, len(c.subscribed))
	for t := range c.subscribed {
		tracked = append(tracked, t)
	}
	var subErr error
	if len(tracked) > 0 {
		subErr = c.sendLocked(c.subscribeCmdLocked(tracked))
	}
	c.mu.Unlock()
	if subErr != nil {
		return fmt.Errorf("kalshi/ws: restore subscriptions: %w", subErr)
	}

	c.connected.Store(true)
	c.backoff.Reset()
	c.logger.Info("stream connected", slog.Int("tickers", len(tracked)))

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.detach(conn)
			return fmt.Errorf("kalshi/ws: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(wsReadWait))
		c.handleMessage(message)
	}
}

func (c *StreamClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (c *StreamClient) handleMessage(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Type {
	case "subscribed":
		var sub wsSubscribed
		if err := json.Unmarshal(env.Msg, &sub); err != nil {
			return
		}
		if sub.Channel == "ticker" {
			c.mu.Lock()
			c.sid = sub.SID
			c.mu.Unlock()
		}

	case "ticker":
		var tick wsTicker
		if err := json.Unmarshal(env.Msg, &tick); err != nil {
			return
		}
		ticker := tick.MarketTicker
		if ticker == "" {
			ticker = tick.Ticker
		}
		if ticker == "" || c.onTicker == nil {
			return
		}
		yes := yesPriceFromCents(tick.LastPrice, tick.YesBid, tick.YesAsk)
		no := noPriceFromCents(tick.NoAsk, tick.NoBid, yes)
		c.onTicker(ticker, yes, no, tick.Volume)
	}
}

// subscribeCmdLocked builds a fresh ticker-channel subscribe command.
// Caller must hold c.mu.
func (c *StreamClient) subscribeCmdLocked(tickers []string) wsCommand {
	return wsCommand{
		ID:  c.nextIDLocked(),
		Cmd: "subscribe",
		Params: wsParams{
			Channels: []string{"ticker"},
			Tickers:  tickers,
		},
	}
}

func (c *StreamClient) nextIDLocked() int64 {
	c.cmdID++
	return c.cmdID
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
		c.sid = 0
	}
	c.mu.Unlock()
}
