// Package broadcast delivers interpreter events to local category listeners
// and to an optional remote channel, buffering while the channel is down and
// flushing in order on reconnect.
package broadcast

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/jkoski/edgeflow/pkg/api"
)

// DefaultCapacity is the buffer bound applied when none is configured.
const DefaultCapacity = 1000

// Category groups event types for local listener routing.
type Category string

const (
	CategoryLifecycle Category = "lifecycle"
	CategoryNode      Category = "node"
	CategoryProgress  Category = "progress"
	CategoryError     Category = "error"
	CategorySystem    Category = "system"
)

// categoryOf classifies an event by prefix-matching its type tag. Progress
// events share the workflow: namespace but route to their own category.
func categoryOf(eventType string) Category {
	switch {
	case eventType == api.TypeWorkflowProgress:
		return CategoryProgress
	case strings.HasPrefix(eventType, "workflow:"):
		return CategoryLifecycle
	case strings.HasPrefix(eventType, "node:"):
		return CategoryNode
	case strings.HasPrefix(eventType, "error:"):
		return CategoryError
	default:
		return CategorySystem
	}
}

// Sink is the remote end of the broadcaster. Send returns an error when the
// channel rejected the event; the broadcaster then degrades to buffering.
type Sink interface {
	Send(ev api.Event) error
}

// Listener receives events of one category, always on the emitting
// goroutine and in emission order.
type Listener func(ev api.Event)

// Broadcaster is an explicit, constructed service: build one per process (or
// per tenant), hand it to the interpreter, and shut it down when done.
// Ordering is guaranteed per instance, not globally across unrelated
// broadcasters.
type Broadcaster struct {
	mu        sync.Mutex
	sink      Sink
	connected bool
	buf       []api.Event
	capacity  int
	listeners map[Category][]Listener
	logger    *slog.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithCapacity overrides the disconnect buffer bound.
func WithCapacity(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithLogger sets the logger used for drop diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a Broadcaster. sink may be nil; events then go only to local
// listeners and the buffer until AttachSink is called.
func New(sink Sink, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		sink:      sink,
		capacity:  DefaultCapacity,
		listeners: make(map[Category][]Listener),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ api.Emitter = (*Broadcaster)(nil)

// Subscribe registers a local listener for one category and returns an
// unsubscribe function.
func (b *Broadcaster) Subscribe(cat Category, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners[cat] = append(b.listeners[cat], fn)
	idx := len(b.listeners[cat]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		ls := b.listeners[cat]
		if idx < len(ls) && ls[idx] != nil {
			ls[idx] = nil
		}
	}
}

// Emit routes ev to its category listeners and then to the remote channel.
// When disconnected, or when the send fails, the event joins the bounded
// FIFO buffer; at capacity the oldest entry is evicted (recent events are
// worth more for live diagnostics than historical ones).
//
// All emit/flush work runs under one mutex so that interleaved emitters
// observe a single total order.
func (b *Broadcaster) Emit(ev api.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, fn := range b.listeners[categoryOf(ev.EventType())] {
		if fn != nil {
			fn(ev)
		}
	}

	if b.connected && b.sink != nil {
		if err := b.sink.Send(ev); err == nil {
			return
		}
		// A failed send marks the channel down; delivering later events
		// ahead of this one would violate the ordering guarantee.
		b.connected = false
		b.logger.Warn("event channel send failed, buffering", "event", ev.EventType())
	}
	b.buffer(ev)
}

// buffer appends under b.mu.
func (b *Broadcaster) buffer(ev api.Event) {
	if len(b.buf) >= b.capacity {
		dropped := b.buf[0]
		b.buf = b.buf[1:]
		b.logger.Debug("event buffer full, dropping oldest", "event", dropped.EventType())
	}
	b.buf = append(b.buf, ev)
}

// AttachSink replaces the remote channel, leaving the connected flag
// untouched. Typically followed by SetConnected(true).
func (b *Broadcaster) AttachSink(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// DetachSink clears the channel, but only while sink is still the current
// one. A stale connection noticing its close after a replacement has
// attached must not disconnect the replacement.
func (b *Broadcaster) DetachSink(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink != sink {
		return
	}
	b.sink = nil
	b.connected = false
}

// SetConnected flips the channel availability flag. On transition to
// connected the buffer is flushed in original order; if a send fails
// mid-flush, the unsent suffix (including the failed event) stays buffered
// in order and flushing stops for this cycle.
func (b *Broadcaster) SetConnected(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = connected
	if connected {
		b.flushLocked()
	}
}

// Connected reports the current channel flag.
func (b *Broadcaster) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// BufferedCount returns the number of events currently held.
func (b *Broadcaster) BufferedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Buffered returns a copy of the held events in order. Intended for tests
// and diagnostics.
func (b *Broadcaster) Buffered() []api.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]api.Event, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *Broadcaster) flushLocked() {
	if b.sink == nil {
		return
	}
	for i, ev := range b.buf {
		if err := b.sink.Send(ev); err != nil {
			b.buf = append([]api.Event(nil), b.buf[i:]...)
			b.connected = false
			b.logger.Warn("flush interrupted, re-buffering", "remaining", len(b.buf))
			return
		}
	}
	b.buf = nil
}

// Shutdown attempts a final flush and detaches the sink. Events emitted
// after Shutdown go only to local listeners and the buffer.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		b.flushLocked()
	}
	b.connected = false
	b.sink = nil
}
