// Package grouper coalesces bursts of same-conversation posts into one
// merged record. Provider-side threads arrive as independent events; a short
// debounce window after the first post of a conversation buffers the rest.
//
// Buffers are memory-only. Posts still inside a window when the process
// stops are dropped without replay.
package grouper

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tapline/internal/metrics"
	"tapline/internal/relay"
	"tapline/internal/text"
)

// group buffers the posts of one conversation, ordered by arrival.
type group struct {
	conversationID string
	posts          []relay.Record
}

// expiry is one pending debounce deadline. The window is fixed, so
// deadlines are strictly FIFO and a plain queue stands in for a priority
// queue.
type expiry struct {
	conversationID string
	at             time.Time
}

// Grouper buffers same-conversation posts and emits one merged record per
// group when its debounce window closes. A single scheduler goroutine owns
// all finalization, so group expiry never races with itself.
type Grouper struct {
	window time.Duration
	emit   func(relay.Record)

	mu     sync.Mutex
	groups map[string]*group
	queue  []expiry

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Grouper emitting merged records through emit. Start must be
// called before Observe.
func New(window time.Duration, emit func(relay.Record)) *Grouper {
	return &Grouper{
		window: window,
		emit:   emit,
		groups: make(map[string]*group),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Start launches the scheduler goroutine.
func (g *Grouper) Start() {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.run()
	}()
}

// Stop halts the scheduler. Groups still inside their window are dropped.
func (g *Grouper) Stop() {
	close(g.stopCh)
	g.wg.Wait()

	g.mu.Lock()
	dropped := len(g.groups)
	g.groups = make(map[string]*group)
	g.queue = nil
	g.mu.Unlock()

	metrics.GroupsOpen.Set(0)
	if dropped > 0 {
		log.Warn().Int("groups", dropped).Msg("grouper: dropped buffered groups on stop")
	}
}

// OpenCount returns the number of groups currently buffering.
func (g *Grouper) OpenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.groups)
}

// Observe buffers one single-post record. The first post of a conversation
// arms the debounce deadline; later posts append without resetting it.
func (g *Grouper) Observe(rec relay.Record) {
	key := rec.ConversationID
	if key == "" {
		key = rec.TweetID
	}

	g.mu.Lock()
	if grp, ok := g.groups[key]; ok {
		grp.posts = append(grp.posts, rec)
		g.mu.Unlock()
		return
	}

	g.groups[key] = &group{conversationID: key, posts: []relay.Record{rec}}
	wasIdle := len(g.queue) == 0
	g.queue = append(g.queue, expiry{conversationID: key, at: time.Now().Add(g.window)})
	g.mu.Unlock()

	metrics.GroupsOpen.Inc()

	if wasIdle {
		select {
		case g.wake <- struct{}{}:
		default:
		}
	}
}

func (g *Grouper) run() {
	for {
		g.mu.Lock()
		if len(g.queue) == 0 {
			g.mu.Unlock()
			select {
			case <-g.stopCh:
				return
			case <-g.wake:
			}
			continue
		}
		head := g.queue[0]
		g.mu.Unlock()

		if wait := time.Until(head.at); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-g.stopCh:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		// Take the group out of the live set before emitting so a post
		// arriving mid-flush starts a fresh group instead of appending to
		// one already being finalized.
		g.mu.Lock()
		g.queue = g.queue[1:]
		grp, ok := g.groups[head.conversationID]
		if ok {
			delete(g.groups, head.conversationID)
		}
		g.mu.Unlock()

		if !ok {
			continue
		}
		metrics.GroupsOpen.Dec()
		g.finalize(grp)
	}
}

// finalize merges a group's posts into one record, or discards the group
// when its only post is a bare reply.
func (g *Grouper) finalize(grp *group) {
	sort.Slice(grp.posts, func(i, j int) bool {
		return text.CompareIDs(grp.posts[i].TweetID, grp.posts[j].TweetID) < 0
	})

	if len(grp.posts) == 1 && strings.HasPrefix(strings.TrimSpace(grp.posts[0].Text), "@") {
		metrics.GroupsDiscardedTotal.Inc()
		log.Debug().
			Str("conversation_id", grp.conversationID).
			Msg("grouper: discarded lone reply")
		return
	}

	parts := make([]string, 0, len(grp.posts))
	for _, p := range grp.posts {
		parts = append(parts, strings.TrimSpace(p.Text))
	}

	earliest := grp.posts[0]
	merged := relay.Record{
		Timestamp:      earliest.Timestamp,
		Username:       earliest.Username,
		TweetID:        grp.conversationID,
		ConversationID: grp.conversationID,
		Text:           strings.Join(parts, " "),
		ExpandedURL:    earliest.ExpandedURL,
	}

	metrics.GroupsFlushedTotal.Inc()
	g.emit(merged)
}
