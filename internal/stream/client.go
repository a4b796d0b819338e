package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// DefaultEndpoints lists the public gateway endpoints, tried in rotation.
var DefaultEndpoints = []string{
	"wss://gateway.tapline.dev/2/tweets/stream",
}

const defaultHandshakeTimeout = 10 * time.Second

// Client dials filtered-stream connections against a rotating endpoint list.
type Client struct {
	endpoints   []string
	token       string
	params      SubscriptionParams
	zstdDecoder *zstd.Decoder

	// next endpoint to try; only touched by the supervisor goroutine
	endpointIdx int
}

// NewClient creates a stream client. token is the bearer credential the
// gateway requires on the handshake.
func NewClient(endpoints []string, token string, params SubscriptionParams) (*Client, error) {
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}

	// One decoder shared across connections; messages are decoded serially.
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Client{
		endpoints:   endpoints,
		token:       token,
		params:      params,
		zstdDecoder: decoder,
	}, nil
}

// Close releases the client's decoder. Open connections are closed by their
// owners, not by the client.
func (c *Client) Close() {
	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
	}
}

// Dial opens one stream connection against the next endpoint in rotation.
// Failures are returned as *DisconnectError so the caller can apply its
// reconnect policy without inspecting transport details.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	endpoint := c.endpoints[c.endpointIdx]

	wsURL, err := BuildURL(endpoint, c.params)
	if err != nil {
		return nil, &DisconnectError{Kind: KindOther, Err: fmt.Errorf("build stream URL: %w", err)}
	}

	log.Info().Str("endpoint", endpoint).Msg("stream: connecting")

	dialer := websocket.Dialer{
		HandshakeTimeout: defaultHandshakeTimeout,
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		// Rotate to the next endpoint for the following attempt.
		c.endpointIdx = (c.endpointIdx + 1) % len(c.endpoints)
		return nil, classifyDial(err, resp)
	}

	log.Info().Str("endpoint", endpoint).Msg("stream: connected")

	return &Conn{
		ws:          ws,
		zstdDecoder: c.zstdDecoder,
		compress:    c.params.Compress,
	}, nil
}

// Conn is one open stream connection. The supervisor owns it exclusively;
// the liveness monitor only ever requests closure through Expire. Both close
// paths are idempotent and safe to race.
type Conn struct {
	ws          *websocket.Conn
	zstdDecoder *zstd.Decoder
	compress    bool

	closeOnce sync.Once

	mu        sync.Mutex
	closeKind DisconnectKind
	closed    bool
}

// Close tears the connection down as part of a deliberate local shutdown.
// Subsequent reads classify as cancelled.
func (c *Conn) Close() {
	c.close(KindCancelled)
}

// Expire force-closes a connection the liveness monitor considers stalled.
// Subsequent reads classify as a lost connection so the supervisor
// reconnects.
func (c *Conn) Expire() {
	c.close(KindConnectionLost)
}

func (c *Conn) close(kind DisconnectKind) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeKind = kind
		c.mu.Unlock()
		if err := c.ws.Close(); err != nil {
			log.Debug().Err(err).Msg("stream: close")
		}
	})
}

func (c *Conn) localClose() (DisconnectKind, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeKind, c.closed
}

// ReadEvent blocks for the next gateway message and decodes it. On failure
// it returns a *DisconnectError classified by who closed the connection and
// why.
func (c *Conn) ReadEvent() (*Event, error) {
	_, message, err := c.ws.ReadMessage()
	if err != nil {
		if kind, ok := c.localClose(); ok {
			return nil, &DisconnectError{Kind: kind, Err: err}
		}
		return nil, classifyRead(err)
	}

	data, err := c.decompress(message)
	if err != nil {
		return nil, &DisconnectError{Kind: KindOther, Err: err}
	}

	return ParseEvent(data)
}

// zstd frames start with magic number 0x28 0xB5 0x2F 0xFD.
func (c *Conn) decompress(data []byte) ([]byte, error) {
	if !c.compress {
		return data, nil
	}
	if len(data) >= 4 && data[0] == 0x28 && data[1] == 0xB5 && data[2] == 0x2F && data[3] == 0xFD {
		decompressed, err := c.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress message: %w", err)
		}
		return decompressed, nil
	}
	// Heartbeats and error frames may arrive uncompressed even when
	// compression is negotiated.
	return data, nil
}
