// Package events provides the in-process pub/sub hub that carries every
// snapshot and log line from the pipelines to the stream subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/appyard/appyard/internal/shared/id"
)

// Event is one hub entry. Data is pre-marshaled JSON so every subscriber
// sees identical ordered bytes.
type Event struct {
	ID   id.EventID      `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// DefaultCapacity bounds the replay ring when none is configured.
const DefaultCapacity = 256

// subscriberBuffer is each client channel's depth. Overflow drops the
// event for that client; reconnecting with a since-cursor recovers it.
const subscriberBuffer = 128

// Hub is an in-memory pub/sub with a replay ring for late clients.
// Publishing never blocks, whatever the subscribers are doing.
type Hub struct {
	mu sync.Mutex

	// buf[next] is the slot the next event lands in. Once wrapped is
	// set the ring is full and next also marks the oldest entry.
	buf     []Event
	next    int
	wrapped bool

	clients   map[uint64]chan Event
	clientSeq uint64
}

// NewHub creates a hub whose replay ring holds capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		buf:     make([]Event, capacity),
		clients: make(map[uint64]chan Event),
	}
}

// Publish stamps data with an id and timestamp, buffers the event, and
// fans it out. Marshal failures degrade to an empty payload rather than
// losing the event.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := sonic.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   id.NewEventID(),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = ev
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.wrapped = true
	}

	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default: // full client buffer, the ring covers the gap
		}
	}
	return ev
}

// Subscribe registers a receiver and returns its channel plus a cancel
// func. The channel closes on cancel; canceling twice is safe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := h.clientSeq
	h.clientSeq++
	ch := make(chan Event, subscriberBuffer)
	h.clients[key] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.clients[key]; ok {
			delete(h.clients, key)
			close(c)
		}
	}
	return ch, cancel
}

// SnapshotSince returns buffered events newer than lastID, oldest-first.
// ULIDs are k-sortable, so plain string comparison is the time order. An
// empty lastID returns the whole ring.
func (h *Hub) SnapshotSince(lastID id.EventID) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	oldest, count := 0, h.next
	if h.wrapped {
		oldest, count = h.next, len(h.buf)
	}

	out := make([]Event, 0, count)
	for i := 0; i < count; i++ {
		ev := h.buf[(oldest+i)%len(h.buf)]
		if lastID == "" || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
