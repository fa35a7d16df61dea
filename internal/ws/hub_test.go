package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/papertrade/papertrade/internal/events"
)

func dialTestHub(t *testing.T) (*Hub, *events.Bus, *websocket.Conn) {
	t.Helper()
	bus := events.NewBus(zap.NewNop(), 64)
	hub := NewHub(zap.NewNop(), bus)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		hub.Stop()
		bus.Close()
	})
	return hub, bus, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev events.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func TestClientReceivesBusEvents(t *testing.T) {
	_, bus, conn := dialTestHub(t)

	// Give the hub a moment to register the connection
	time.Sleep(50 * time.Millisecond)

	bus.Publish(events.Event{Kind: events.KindOrderUpdated})

	ev := readEvent(t, conn)
	assert.Equal(t, events.KindOrderUpdated, ev.Kind)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestClientKindFilter(t *testing.T) {
	_, bus, conn := dialTestHub(t)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string][]string{
		"subscribe": {events.KindPriceUpdated},
	}))
	// Let the filter take effect before publishing
	time.Sleep(100 * time.Millisecond)

	bus.Publish(events.Event{Kind: events.KindOrderUpdated})
	bus.Publish(events.Event{Kind: events.KindPriceUpdated})

	ev := readEvent(t, conn)
	assert.Equal(t, events.KindPriceUpdated, ev.Kind, "filtered kinds must not be delivered")
}

func TestClientUnsubscribeRestoresNothing(t *testing.T) {
	_, bus, conn := dialTestHub(t)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string][]string{
		"subscribe": {events.KindBookUpdated, events.KindPriceUpdated},
	}))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, conn.WriteJSON(map[string][]string{
		"unsubscribe": {events.KindBookUpdated},
	}))
	time.Sleep(100 * time.Millisecond)

	bus.Publish(events.Event{Kind: events.KindBookUpdated})
	bus.Publish(events.Event{Kind: events.KindPriceUpdated})

	ev := readEvent(t, conn)
	assert.Equal(t, events.KindPriceUpdated, ev.Kind)
}

func TestHubStopClosesClients(t *testing.T) {
	hub, _, conn := dialTestHub(t)
	time.Sleep(50 * time.Millisecond)

	hub.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection should be closed after hub stop")
}
