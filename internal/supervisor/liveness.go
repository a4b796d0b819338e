package supervisor

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor watches one connection for silent stalls. The provider heartbeats
// roughly every 20 seconds, so any gap past the configured timeout means the
// transport is wedged even though the socket never reported an error.
//
// Strategy: a single deferred action rescheduled on every activity. If it
// ever fires, no activity arrived inside the window and the expire callback
// runs, at most once per connection. The monitor never holds the connection
// handle; it only gets the narrow close capability.
type Monitor struct {
	timeout time.Duration
	expire  func()

	mu           sync.Mutex
	timer        *time.Timer
	lastActivity time.Time
	stopped      bool
	fired        bool
}

// NewMonitor creates a monitor that calls expire when timeout elapses with
// no activity. Reset must be called once the connection is open to arm it.
func NewMonitor(timeout time.Duration, expire func()) *Monitor {
	return &Monitor{timeout: timeout, expire: expire}
}

// Reset records activity and reschedules the deadline.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.fired {
		return
	}
	m.lastActivity = time.Now()
	if m.timer == nil {
		m.timer = time.AfterFunc(m.timeout, m.fire)
		return
	}
	m.timer.Reset(m.timeout)
}

// Stop disarms the monitor. Idempotent; safe to call after the timer fired.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
	}
}

// LastActivity returns when the monitor last saw data.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

func (m *Monitor) fire() {
	m.mu.Lock()
	if m.stopped || m.fired {
		m.mu.Unlock()
		return
	}
	m.fired = true
	idle := time.Since(m.lastActivity)
	m.mu.Unlock()

	log.Warn().
		Dur("idle", idle).
		Dur("timeout", m.timeout).
		Msg("liveness: no stream activity, forcing connection closed")
	m.expire()
}
