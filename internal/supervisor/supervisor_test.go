package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapline/internal/stream"
)

// gateway is a scripted stream endpoint. handler runs once per accepted
// connection; dials counts handshake attempts, accepted or not.
type gateway struct {
	url   string
	dials atomic.Int32
}

func newGateway(t *testing.T, handler func(n int, conn *websocket.Conn)) *gateway {
	t.Helper()
	g := &gateway{}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(g.dials.Add(1))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(n, conn)
	}))
	t.Cleanup(srv.Close)
	g.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return g
}

// rateLimitedGateway refuses every handshake with HTTP 429.
func rateLimitedGateway(t *testing.T) *gateway {
	t.Helper()
	g := &gateway{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		g.dials.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)
	g.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return g
}

func newTestSupervisor(t *testing.T, g *gateway, cfg Config, handler Handler) *Supervisor {
	t.Helper()
	client, err := stream.NewClient([]string{g.url}, "token", stream.DefaultSubscriptionParams())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	if handler == nil {
		handler = func(context.Context, *stream.Post, *stream.Includes) {}
	}
	return New(client, cfg, handler)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSupervisor_DeliversPosts(t *testing.T) {
	g := newGateway(t, func(n int, conn *websocket.Conn) {
		if n > 1 {
			time.Sleep(time.Second)
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("\r\n")) // heartbeat
		conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{"id":"1","author_id":"u1","text":"one"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{"id":"2","author_id":"u1","text":"two"}}`))
		time.Sleep(200 * time.Millisecond)
	})

	var mu sync.Mutex
	var ids []string
	sup := newTestSupervisor(t, g, Config{
		LivenessTimeout: time.Second,
		ReconnectDelay:  10 * time.Millisecond,
		RateLimitFloor:  10 * time.Millisecond,
	}, func(_ context.Context, post *stream.Post, _ *stream.Includes) {
		mu.Lock()
		ids = append(ids, post.ID)
		mu.Unlock()
	})

	sup.Start(context.Background())
	defer sup.Stop()

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ids) == 2
	}, "expected both posts to reach the handler")

	mu.Lock()
	assert.Equal(t, []string{"1", "2"}, ids, "heartbeats must not reach the handler")
	mu.Unlock()
}

func TestSupervisor_ShutdownDoesNotReconnect(t *testing.T) {
	g := newGateway(t, func(_ int, conn *websocket.Conn) {
		time.Sleep(2 * time.Second)
	})

	sup := newTestSupervisor(t, g, Config{
		LivenessTimeout: time.Second,
		ReconnectDelay:  5 * time.Millisecond,
		RateLimitFloor:  5 * time.Millisecond,
	}, nil)

	sup.Start(context.Background())
	eventually(t, sup.IsConnected, "supervisor never reached streaming")

	sup.Stop()

	assert.Equal(t, StateShuttingDown, sup.State())
	assert.False(t, sup.IsConnected())
	dialsAtStop := g.dials.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, dialsAtStop, g.dials.Load(), "no reconnect after shutdown")
}

func TestSupervisor_LivenessForcesReconnect(t *testing.T) {
	// The gateway never sends anything, so only the liveness monitor can end
	// each connection.
	g := newGateway(t, func(_ int, conn *websocket.Conn) {
		time.Sleep(2 * time.Second)
	})

	sup := newTestSupervisor(t, g, Config{
		LivenessTimeout: 50 * time.Millisecond,
		ReconnectDelay:  10 * time.Millisecond,
		RateLimitFloor:  10 * time.Millisecond,
	}, nil)

	sup.Start(context.Background())
	defer sup.Stop()

	eventually(t, func() bool { return g.dials.Load() >= 2 },
		"stalled connection was never force-closed and re-dialed")
}

func TestSupervisor_RateLimitBacksOff(t *testing.T) {
	g := rateLimitedGateway(t)

	sup := newTestSupervisor(t, g, Config{
		LivenessTimeout: time.Second,
		ReconnectDelay:  5 * time.Millisecond,
		RateLimitFloor:  40 * time.Millisecond,
	}, nil)

	sup.Start(context.Background())
	defer sup.Stop()

	// With a 40ms floor doubling each time (40+80+160...), at most four
	// attempts fit in the observation window. A fixed-delay bug would
	// produce far more.
	time.Sleep(350 * time.Millisecond)
	dials := g.dials.Load()
	assert.GreaterOrEqual(t, dials, int32(2), "supervisor must keep retrying")
	assert.LessOrEqual(t, dials, int32(5), "delays must escalate, not stay at the floor")
}

func TestSupervisor_StrictRestartExitsOnRateLimit(t *testing.T) {
	g := rateLimitedGateway(t)

	sup := newTestSupervisor(t, g, Config{
		LivenessTimeout: time.Second,
		ReconnectDelay:  5 * time.Millisecond,
		RateLimitFloor:  5 * time.Millisecond,
		StrictRestart:   true,
	}, nil)

	exitCode := make(chan int, 1)
	sup.exit = func(code int) { exitCode <- code }

	sup.Start(context.Background())
	defer sup.Stop()

	select {
	case code := <-exitCode:
		assert.Equal(t, 1, code)
	case <-time.After(3 * time.Second):
		t.Fatal("strict mode never requested a process exit")
	}
}

func TestSupervisor_StartTwiceIsNoop(t *testing.T) {
	g := newGateway(t, func(_ int, conn *websocket.Conn) {
		time.Sleep(2 * time.Second)
	})

	sup := newTestSupervisor(t, g, Config{
		LivenessTimeout: time.Second,
		ReconnectDelay:  5 * time.Millisecond,
		RateLimitFloor:  5 * time.Millisecond,
	}, nil)

	sup.Start(context.Background())
	sup.Start(context.Background())
	defer sup.Stop()

	eventually(t, sup.IsConnected, "supervisor never connected")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), g.dials.Load(), "second start must not open a second loop")
}

func TestBackoff(t *testing.T) {
	b := newBackoff(time.Minute)

	assert.Equal(t, time.Minute, b.Next())
	assert.Equal(t, 2*time.Minute, b.Next())
	assert.Equal(t, 4*time.Minute, b.Next())

	b.Reset()
	assert.Equal(t, time.Minute, b.Next())
}
