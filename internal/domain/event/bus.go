package event

import (
	"maps"
	"sync"
	"time"

	"github.com/Strob0t/SearchForge/internal/domain"
)

// Observer receives every event accepted by a Bus, in log order.
// Observers must not emit onto the same bus.
type Observer func(Event)

// Option configures a Bus.
type Option func(*Bus)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// WithObserver registers an observer at construction time.
func WithObserver(fn Observer) Option {
	return func(b *Bus) { b.observers = append(b.observers, fn) }
}

// Bus is the append-only event channel of a single search.
//
// The log has two read modes: Drain consumes the pending queue once,
// Replay returns the whole history. Neither perturbs the other.
type Bus struct {
	mu        sync.Mutex
	pending   []Event
	log       []Event
	done      bool
	delivered int // log prefix handed to observers; guarded by mu

	// deliverMu serializes observer calls in log order. mu is never held
	// while waiting for it or while an observer runs.
	deliverMu sync.Mutex
	observers []Observer

	cancelOnce sync.Once
	cancelled  chan struct{}

	now func() time.Time
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		cancelled: make(chan struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddObserver registers fn for all events emitted from now on.
func (b *Bus) AddObserver(fn Observer) {
	b.deliverMu.Lock()
	b.observers = append(b.observers, fn)
	b.deliverMu.Unlock()
}

// Emit appends a timestamped event to the pending queue and the full log.
// Events after the first terminal one are still accepted; IsDone stays true.
func (b *Bus) Emit(t Type, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	} else {
		data = maps.Clone(data)
	}

	b.mu.Lock()
	ev := Event{
		Type:      t,
		Data:      data,
		Timestamp: b.now().UTC(),
		Seq:       int64(len(b.log) + 1),
	}
	b.log = append(b.log, ev)
	b.pending = append(b.pending, ev)
	if IsTerminal(t) {
		b.done = true
	}
	b.mu.Unlock()

	b.deliver()
	return ev
}

// deliver hands every logged but undelivered event to the observers.
// Whoever holds deliverMu delivers the whole backlog, so by the time an
// Emit returns its own event has been observed.
func (b *Bus) deliver() {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	batch := b.log[b.delivered:len(b.log):len(b.log)]
	b.delivered = len(b.log)
	b.mu.Unlock()

	for _, ev := range batch {
		for _, fn := range b.observers {
			fn(ev)
		}
	}
}

// Drain atomically returns and clears the pending queue.
func (b *Bus) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// Replay returns the entire history without clearing anything.
func (b *Bus) Replay() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.log...)
}

// Resync returns the entire history and clears the pending queue in one step,
// so a consumer that replayed can continue with Drain without gaps or duplicates.
func (b *Bus) Resync() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
	return append([]Event(nil), b.log...)
}

// Len returns the number of events ever emitted.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.log)
}

// IsDone reports whether a terminal event has been emitted.
func (b *Bus) IsDone() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Cancel requests cooperative cancellation. Idempotent.
func (b *Bus) Cancel() {
	b.cancelOnce.Do(func() { close(b.cancelled) })
}

// Cancelled returns a channel that is closed once Cancel has been called.
func (b *Bus) Cancelled() <-chan struct{} {
	return b.cancelled
}

// IsCancelled reports whether Cancel has been called.
func (b *Bus) IsCancelled() bool {
	select {
	case <-b.cancelled:
		return true
	default:
		return false
	}
}

// RaiseIfCancelled returns domain.ErrCancelled once Cancel has been called.
// The loop polls this between steps; in-flight work is never interrupted.
func (b *Bus) RaiseIfCancelled() error {
	if b.IsCancelled() {
		return domain.ErrCancelled
	}
	return nil
}
