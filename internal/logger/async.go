package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes and releases logging resources.
type Closer interface {
	Close()
}

// entry is a record queued together with the handler that must format it,
// so attributes added through WithAttrs survive the hand-off.
type entry struct {
	handler slog.Handler
	rec     slog.Record
}

// queue is shared by an AsyncHandler and every handler derived from it.
type queue struct {
	entries chan entry
	workers sync.WaitGroup
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func (q *queue) run() {
	defer q.workers.Done()
	for e := range q.entries {
		_ = e.handler.Handle(context.Background(), e.rec)
	}
}

// push enqueues without blocking. It reports false when the record was dropped.
func (q *queue) push(e entry) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.entries <- e:
		return true
	default:
		return false
	}
}

func (q *queue) shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.entries)
	q.mu.Unlock()
	q.workers.Wait()
}

// AsyncHandler hands records to a fixed set of background workers.
// Records are dropped rather than blocking the caller when the buffer is full.
type AsyncHandler struct {
	inner slog.Handler
	q     *queue
}

// NewAsyncHandler starts workers goroutines draining a buffer of size records.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	q := &queue{entries: make(chan entry, size)}
	q.workers.Add(workers)
	for range workers {
		go q.run()
	}
	return &AsyncHandler{inner: inner, q: q}
}

// Enabled implements slog.Handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if !h.q.push(entry{handler: h.inner, rec: rec.Clone()}) {
		h.q.dropped.Add(1)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

// WithGroup implements slog.Handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// Dropped returns how many records were discarded since start.
func (h *AsyncHandler) Dropped() int64 {
	return h.q.dropped.Load()
}

// Close drains queued records and stops the workers. Safe to call twice.
func (h *AsyncHandler) Close() {
	h.q.shutdown()
}
