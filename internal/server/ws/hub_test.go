package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

type wsFixture struct {
	hub    *Hub
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func dialHub(t *testing.T) *wsFixture {
	t.Helper()

	hub := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
	})

	return &wsFixture{hub: hub, conn: conn, cancel: cancel}
}

func (f *wsFixture) send(t *testing.T, action string, ids ...int64) {
	t.Helper()
	require.NoError(t, f.conn.WriteJSON(clientMsg{Action: action, MatchIDs: ids}))
}

func (f *wsFixture) read(t *testing.T) map[string]json.RawMessage {
	t.Helper()
	f.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := f.conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func msgType(t *testing.T, msg map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	require.NoError(t, json.Unmarshal(msg["type"], &typ))
	return typ
}

func TestSubscribeAcksEachMatch(t *testing.T) {
	f := dialHub(t)

	f.send(t, "subscribe", 1, 2)

	var got []int64
	for range 2 {
		msg := f.read(t)
		assert.Equal(t, "subscribed", msgType(t, msg))
		var id int64
		require.NoError(t, json.Unmarshal(msg["match_id"], &id))
		got = append(got, id)
	}
	assert.ElementsMatch(t, []int64{1, 2}, got)

	f.send(t, "unsubscribe", 2)
	msg := f.read(t)
	assert.Equal(t, "unsubscribed", msgType(t, msg))
}

func TestBroadcastRoutesBySubscription(t *testing.T) {
	f := dialHub(t)

	f.send(t, "subscribe", 1)
	f.read(t) // ack

	// Match 2 has no subscribers here and must not reach this client.
	f.hub.Broadcast(domain.PriceUpdate{MatchID: 2, Spread: 0.9})
	f.hub.Broadcast(domain.PriceUpdate{MatchID: 1, Spread: 0.05})

	msg := f.read(t)
	require.Equal(t, "price_update", msgType(t, msg))

	var update domain.PriceUpdate
	require.NoError(t, json.Unmarshal(msg["payload"], &update))
	assert.Equal(t, int64(1), update.MatchID)
	assert.InDelta(t, 0.05, update.Spread, 1e-9)
}

func TestUnsubscribedClientGetsNothing(t *testing.T) {
	f := dialHub(t)

	f.hub.Broadcast(domain.PriceUpdate{MatchID: 1, Spread: 0.05})

	f.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := f.conn.ReadMessage()
	assert.Error(t, err)
}
