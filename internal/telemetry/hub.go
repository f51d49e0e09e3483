package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
)

// subscriberBuffer bounds how far a subscriber may lag before snapshots are dropped.
const subscriberBuffer = 16

// Hub fans snapshots out to subscribers without ever blocking the publisher.
type Hub struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers map[uint64]chan Snapshot
	last        Snapshot
	hasLast     bool
	dropped     atomic.Uint64
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[uint64]chan Snapshot)}
}

// Subscribe registers a subscriber. The channel is closed once cancel is called
// or ctx ends. New subscribers first receive the latest published snapshot.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subscribers[id] = ch
	if h.hasLast {
		ch <- h.last
	}
	h.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			h.mu.Lock()
			if sub, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return ch, cancel
}

// Publish delivers the snapshot to every subscriber with buffer room and
// counts a drop for each one that is full.
func (h *Hub) Publish(snapshot Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = snapshot
	h.hasLast = true
	for _, ch := range h.subscribers {
		select {
		case ch <- snapshot:
		default:
			h.dropped.Add(1)
		}
	}
}

// Latest returns the most recently published snapshot.
func (h *Hub) Latest() (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.hasLast
}

// SubscriberCount reports the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Dropped reports how many deliveries were skipped because a subscriber lagged.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
