// Package supervisor owns the stream connection lifecycle: it opens one
// connection at a time, drives events into the handler, detects stalls and
// classified failures, and reconnects with the policy each failure class
// calls for.
package supervisor

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"tapline/internal/metrics"
	"tapline/internal/stream"
	"tapline/internal/tracing"
)

// State is the supervisor's position in its connection cycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateClosing
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Config tunes the reconnect and liveness policy.
type Config struct {
	// LivenessTimeout is the maximum gap between stream activity before the
	// connection is considered stalled.
	LivenessTimeout time.Duration

	// ReconnectDelay applies after connection-lost and unclassified faults.
	ReconnectDelay time.Duration

	// RateLimitFloor is the starting back-off after a rate-limit fault. It
	// doubles on each consecutive occurrence and resets once a connection
	// reaches streaming again.
	RateLimitFloor time.Duration

	// StrictRestart terminates the whole process on rate-limit and liveness
	// faults instead of retrying in-process, so an external supervisor
	// restarts it with a fresh transport.
	StrictRestart bool
}

// backoff tracks the escalating delay applied to consecutive rate-limit
// faults. It is uncapped; reaching the streaming state resets it.
type backoff struct {
	floor time.Duration
	next  time.Duration
}

func newBackoff(floor time.Duration) *backoff {
	return &backoff{floor: floor, next: floor}
}

// Next returns the current delay and doubles the following one.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	return d
}

// Reset drops the delay back to its floor.
func (b *backoff) Reset() {
	b.next = b.floor
}

// Handler receives every post event while streaming. Calls are sequential;
// a slow handler delays subsequent events by design.
type Handler func(ctx context.Context, post *stream.Post, includes *stream.Includes)

// Supervisor runs the Idle -> Connecting -> Streaming -> Closing loop until
// stopped. It is the single owner of the connection handle; everything else
// sees only close capabilities.
type Supervisor struct {
	client  *stream.Client
	handler Handler
	cfg     Config

	// exit is overridable in tests; defaults to os.Exit.
	exit func(code int)

	running   atomic.Bool
	state     atomic.Int32
	connected atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	connMu sync.Mutex
	conn   *stream.Conn
}

// New creates a supervisor. Zero config durations get conservative defaults.
func New(client *stream.Client, cfg Config, handler Handler) *Supervisor {
	if cfg.LivenessTimeout == 0 {
		cfg.LivenessTimeout = 40 * time.Second
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 30 * time.Second
	}
	if cfg.RateLimitFloor == 0 {
		cfg.RateLimitFloor = time.Minute
	}
	return &Supervisor{
		client:  client,
		handler: handler,
		cfg:     cfg,
		exit:    os.Exit,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the connection loop. A second start while running is a
// logged no-op.
func (s *Supervisor) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		log.Warn().Msg("supervisor: already running, ignoring start")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop requests shutdown: it closes the active connection (if any) and waits
// for the loop to exit without scheduling a reconnect. Idempotent.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
	s.wg.Wait()
}

// IsConnected reports whether a stream connection is currently open.
func (s *Supervisor) IsConnected() bool {
	return s.connected.Load()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.setState(StateShuttingDown)

	rateLimit := newBackoff(s.cfg.RateLimitFloor)
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		attempt++
		cycleCtx, span := tracing.StreamCycleSpan(ctx, attempt)

		s.setState(StateConnecting)
		conn, err := s.client.Dial(cycleCtx)

		var derr *stream.DisconnectError
		if err != nil {
			if !errors.As(err, &derr) {
				derr = &stream.DisconnectError{Kind: stream.KindOther, Err: err}
			}
		} else {
			s.setConn(conn)
			s.setState(StateStreaming)
			s.connected.Store(true)
			metrics.StreamConnectionState.Set(1)

			// Reaching the streaming state ends any rate-limit episode.
			rateLimit.Reset()

			derr = s.consume(cycleCtx, conn)

			s.setState(StateClosing)
			s.release()
		}

		tracing.EndWithError(span, derr)
		span.End()

		kind := derr.Kind
		metrics.StreamReconnectsTotal.WithLabelValues(kind.String()).Inc()

		switch kind {
		case stream.KindCancelled:
			log.Info().Msg("supervisor: shutdown requested, not reconnecting")
			return

		case stream.KindRateLimited:
			if s.cfg.StrictRestart {
				log.Error().Err(derr.Err).Msg("supervisor: rate limited, exiting for external restart")
				s.exit(1)
				return
			}
			delay := rateLimit.Next()
			log.Warn().
				Err(derr.Err).
				Dur("delay", delay).
				Msg("supervisor: rate limited, backing off")
			if !s.sleep(ctx, delay) {
				return
			}

		default:
			log.Warn().
				Err(derr.Err).
				Str("reason", kind.String()).
				Dur("delay", s.cfg.ReconnectDelay).
				Msg("supervisor: stream ended, reconnecting")
			if !s.sleep(ctx, s.cfg.ReconnectDelay) {
				return
			}
		}

		s.setState(StateIdle)
	}
}

// consume drives one open connection until it ends, feeding every event
// through the liveness monitor and the handler.
func (s *Supervisor) consume(ctx context.Context, conn *stream.Conn) *stream.DisconnectError {
	monitor := NewMonitor(s.cfg.LivenessTimeout, func() {
		metrics.LivenessClosesTotal.Inc()
		if s.cfg.StrictRestart {
			log.Error().Msg("supervisor: liveness timeout in strict mode, exiting for external restart")
			s.exit(1)
			return
		}
		conn.Expire()
	})
	defer monitor.Stop()

	// A successful open counts as activity.
	monitor.Reset()

	for {
		event, err := conn.ReadEvent()
		if err != nil {
			var derr *stream.DisconnectError
			if errors.As(err, &derr) {
				return derr
			}
			// Malformed events are logged and skipped; they do not end the
			// connection.
			metrics.StreamErrorsTotal.Inc()
			log.Warn().Err(err).Msg("supervisor: failed to process event")
			continue
		}

		monitor.Reset()

		if event.IsHeartbeat() {
			metrics.StreamEventsTotal.WithLabelValues("heartbeat").Inc()
			continue
		}

		metrics.StreamEventsTotal.WithLabelValues("post").Inc()
		s.handler(ctx, event.Data, event.Includes)
	}
}

func (s *Supervisor) setConn(conn *stream.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

// release closes and drops the current handle. Safe to run after a liveness
// expiry or shutdown already closed the socket; Conn.Close is idempotent.
func (s *Supervisor) release() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
	s.connected.Store(false)
	metrics.StreamConnectionState.Set(0)
}

// sleep waits for d unless shutdown arrives first. Returns false on shutdown.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
