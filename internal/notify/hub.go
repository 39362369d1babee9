// Package notify fans board-changed events out to every connected session,
// on this instance and, through a relay, on the others.
package notify

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	EventBoardChanged = "board-changed"
	EventBoardReset   = "board-reset"
)

// Event tells sessions that a board changed under them.
type Event struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
	Origin  string `json:"origin,omitempty"`
	Node    string `json:"node,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Relay carries events to other instances.
type Relay interface {
	Publish(ctx context.Context, ev Event) error
}

// Hub delivers events to local subscribers. Subscribers that stop sending
// heartbeats for longer than the idle timeout are dropped.
type Hub struct {
	mu    sync.Mutex
	subs  map[chan Event]time.Time
	relay Relay
	idle  time.Duration
}

func NewHub(idle time.Duration) *Hub {
	return &Hub{
		subs: make(map[chan Event]time.Time),
		idle: idle,
	}
}

// SetRelay makes Publish forward events to other instances as well.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = r
}

func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 256)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[ch] = time.Now()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[ch]; !ok {
		return
	}
	delete(h.subs, ch)
	close(ch)
}

func (h *Hub) Heartbeat(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		h.subs[ch] = time.Now()
	}
}

// Count is the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers ev locally and hands it to the relay, if any.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	h.Deliver(ev)

	h.mu.Lock()
	relay := h.relay
	h.mu.Unlock()
	if relay == nil {
		return
	}
	if err := relay.Publish(ctx, ev); err != nil {
		log.WithError(err).WithField("board", ev.BoardID).Warn("failed to relay board event")
	}
}

// Deliver hands ev to local subscribers only. Slow subscribers miss it.
func (h *Hub) Deliver(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.subs); n > 0 {
		log.WithFields(log.Fields{"board": ev.BoardID, "type": ev.Type}).Debugf("broadcasting to %d subscribers", n)
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Reap drops subscribers idle since before now minus the idle timeout and
// returns how many were dropped.
func (h *Hub) Reap(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for ch, lastSeen := range h.subs {
		if now.Sub(lastSeen) > h.idle {
			delete(h.subs, ch)
			close(ch)
			dropped++
		}
	}
	return dropped
}

// Run reaps idle subscribers every interval until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := h.Reap(now); n > 0 {
				log.WithField("dropped", n).Info("dropped idle subscribers")
			}
		}
	}
}
