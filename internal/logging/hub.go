package logging

import "sync"

const defaultSubscriberBuffer = 100

// LogHub fans log entries out to live subscribers. Delivery never
// blocks the caller: when a subscriber's buffer is full the oldest
// buffered entry is evicted, so a stalled log viewer resumes with the
// newest lines rather than a stale window.
type LogHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan LogEntry
	closed bool
}

func NewLogHub() *LogHub {
	return &LogHub{
		subs: make(map[uint64]chan LogEntry),
	}
}

func (h *LogHub) Subscribe(buffer int) (<-chan LogEntry, func()) {
	if h == nil {
		return nil, func() {}
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		ch := make(chan LogEntry)
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	ch := make(chan LogEntry, buffer)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(existing)
		}
	}
}

// Broadcast fans the entry out under the hub lock. Every send is
// non-blocking, and holding the lock keeps cancellation from closing a
// channel mid-send.
func (h *LogHub) Broadcast(entry LogEntry) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		offerNewest(ch, entry)
	}
}

// offerNewest enqueues entry, evicting the oldest buffered entry first
// when the channel is full. Broadcasts are serialized by the hub lock,
// so the post-eviction send always finds room.
func offerNewest(ch chan LogEntry, entry LogEntry) {
	select {
	case ch <- entry:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- entry:
	default:
	}
}

func (h *LogHub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
