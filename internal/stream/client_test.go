package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestGateway runs a WebSocket server whose handler receives each
// upgraded connection. It returns the ws:// URL to dial.
func newTestGateway(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	client, err := NewClient([]string{endpoint}, "test-token", DefaultSubscriptionParams())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestClient_DialAndRead(t *testing.T) {
	gotAuth := make(chan string, 1)
	endpoint := newTestGateway(t, func(conn *websocket.Conn, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn.WriteMessage(websocket.TextMessage, []byte("\r\n"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{"id":"1","author_id":"u1","text":"hi"}}`))
		time.Sleep(100 * time.Millisecond)
	})

	client := newTestClient(t, endpoint)
	conn, err := client.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "Bearer test-token", <-gotAuth)

	event, err := conn.ReadEvent()
	require.NoError(t, err)
	assert.True(t, event.IsHeartbeat())

	event, err = conn.ReadEvent()
	require.NoError(t, err)
	require.False(t, event.IsHeartbeat())
	assert.Equal(t, "1", event.Data.ID)
}

func TestClient_DialRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	_, err := client.Dial(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, Kind(err))
}

func TestConn_CloseIdempotent(t *testing.T) {
	endpoint := newTestGateway(t, func(conn *websocket.Conn, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	client := newTestClient(t, endpoint)
	conn, err := client.Dial(context.Background())
	require.NoError(t, err)

	// Close from teardown and from the liveness path; neither may panic and
	// the first caller decides the classification.
	conn.Close()
	conn.Expire()
	conn.Close()

	_, err = conn.ReadEvent()
	require.Error(t, err)
	assert.Equal(t, KindCancelled, Kind(err))
}

func TestConn_ExpireClassifiesAsConnectionLost(t *testing.T) {
	endpoint := newTestGateway(t, func(conn *websocket.Conn, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	client := newTestClient(t, endpoint)
	conn, err := client.Dial(context.Background())
	require.NoError(t, err)

	conn.Expire()

	_, err = conn.ReadEvent()
	require.Error(t, err)
	assert.Equal(t, KindConnectionLost, Kind(err))
}
