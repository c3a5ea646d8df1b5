// Package events carries orchestrator status events to the UI layer.
// Delivery order per subscriber matches emission order, and the
// orchestrator only emits after the corresponding store write returned.
package events

import (
	"sync"
	"time"
)

// Type enumerates status events emitted by the orchestrator.
type Type string

const (
	TurnStarted     Type = "turn_started"
	Listening       Type = "listening"
	Recognized      Type = "recognized"
	CompletionDelta Type = "completion_delta"
	CompletionDone  Type = "completion_done"
	Speaking        Type = "speaking"
	Interrupted     Type = "interrupted"
	NothingHeard    Type = "nothing_heard"
	Busy            Type = "busy"
	Error           Type = "error"
)

// Event is one status notification.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus fans events out to subscribers. Subscribers never influence the
// emitting control flow: a subscriber that falls behind has its oldest
// events dropped rather than blocking the orchestrator.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe or bus close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 256)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish delivers ev to every subscriber in emission order.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop the oldest event to make room; order among the kept
			// events is preserved.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
