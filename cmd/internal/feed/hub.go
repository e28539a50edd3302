// Package feed streams scan decisions to staff dashboards over WebSocket.
//
// The hub is strictly best-effort: a slow or wedged subscriber is dropped
// rather than ever backpressuring the scan path.
package feed

import (
	"log/slog"
	"sync"
	"time"
)

// ScanUpdate is one scan decision as broadcast to dashboards.
type ScanUpdate struct {
	RegistrationID string    `json:"registration_id,omitempty"`
	EventID        string    `json:"event_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Granted        bool      `json:"granted"`
	Reason         string    `json:"reason"`
	At             time.Time `json:"at"`
}

const defaultQueueSize = 64

// Hub fans scan updates out to connected subscribers.
type Hub struct {
	log       *slog.Logger
	queueSize int

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch chan ScanUpdate
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:       log,
		queueSize: defaultQueueSize,
		subs:      make(map[*subscriber]struct{}),
	}
}

// Broadcast delivers an update to every subscriber without blocking.
// Subscribers whose queue is full miss the update.
func (h *Hub) Broadcast(u ScanUpdate) {
	if h == nil {
		return
	}
	if u.At.IsZero() {
		u.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.ch <- u:
		default:
			h.log.Debug("feed.drop", "reason", "subscriber_queue_full")
		}
	}
}

// subscribe registers a new subscriber and returns its channel plus a
// cancel function. cancel is idempotent per subscriber.
func (h *Hub) subscribe() (<-chan ScanUpdate, func()) {
	sub := &subscriber{ch: make(chan ScanUpdate, h.queueSize)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.log.Debug("feed.subscribe", "subscribers", n)

	return sub.ch, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
