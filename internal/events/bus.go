// Package events distributes pipeline lifecycle events to multiple
// subscribers. Publishing never blocks: subscribers that fall behind miss
// events rather than stalling the capture or analysis paths.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type int

const (
	FrameSourceUp Type = iota
	FrameSourceDown
	CaptureDegraded
	AudioSourceUp
	AudioSourceDown
	AudioDeviceSwitched
	LoopStateChanged
	ResultPublished
	DeliveryRetried
	DeliveryDropped
)

// String returns a stable name for logs and the status API.
func (t Type) String() string {
	switch t {
	case FrameSourceUp:
		return "frame_source_up"
	case FrameSourceDown:
		return "frame_source_down"
	case CaptureDegraded:
		return "capture_degraded"
	case AudioSourceUp:
		return "audio_source_up"
	case AudioSourceDown:
		return "audio_source_down"
	case AudioDeviceSwitched:
		return "audio_device_switched"
	case LoopStateChanged:
		return "loop_state_changed"
	case ResultPublished:
		return "result_published"
	case DeliveryRetried:
		return "delivery_retried"
	case DeliveryDropped:
		return "delivery_dropped"
	default:
		return "unknown"
	}
}

// Event is one pipeline occurrence.
type Event struct {
	Type   Type
	At     time.Time
	Detail string
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Published   uint64 `json:"published"`
	Sent        uint64 `json:"sent"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Bus fans events out to subscribed channels. Safe for concurrent use.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	closed      bool
	published   uint64
	sent        uint64
	dropped     uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]chan Event)}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns its id along with the receive channel. The id is used to
// unsubscribe.
func (b *Bus) Subscribe(buffer int) (string, <-chan Event) {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.NewString()
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers ev to every subscriber without blocking. Events for full
// subscriber channels are dropped and counted. A nil bus discards events,
// so components in tools that run without one publish unconditionally.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.published++
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
			b.sent++
		default:
			b.dropped++
		}
	}
}

// Stats returns a snapshot of counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Published:   b.published,
		Sent:        b.sent,
		Dropped:     b.dropped,
		Subscribers: len(b.subscribers),
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
