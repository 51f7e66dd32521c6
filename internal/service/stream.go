package service

import (
	"context"
	"time"

	"github.com/Strob0t/SearchForge/internal/domain/event"
	"github.com/Strob0t/SearchForge/internal/port/eventstore"
)

// StreamTimeoutMessage is carried by the error event synthesized when a stream outlives its budget.
const StreamTimeoutMessage = "stream timeout"

// StreamWriter delivers events to one connected client.
type StreamWriter interface {
	WriteEvent(ev event.Event) error
	WriteComment(text string) error
}

// StreamOptions configures StreamBus. Zero values fall back to the defaults.
type StreamOptions struct {
	PollInterval      time.Duration
	KeepaliveInterval time.Duration
	Budget            time.Duration
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = 15 * time.Second
	}
	if o.Budget <= 0 {
		o.Budget = 10 * time.Minute
	}
	return o
}

// StreamBus delivers a bus's events to w in emission order until the first
// terminal event, the stream budget, or ctx is done.
//
// With replay set, the full history is written first; if it already holds a
// terminal event the stream ends right after it. A client that goes away
// (ctx done or a failed write) cancels the search.
func StreamBus(ctx context.Context, bus *event.Bus, replay bool, w StreamWriter, opts StreamOptions) error {
	opts = opts.withDefaults()

	budget := time.NewTimer(opts.Budget)
	defer budget.Stop()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	lastSent := time.Now()
	if replay {
		finished, err := writeUntilTerminal(w, bus.Resync())
		if err != nil {
			return disconnect(bus, err)
		}
		if finished {
			return nil
		}
	}

	for {
		// Read done before draining: a terminal emitted in between is
		// then picked up on the next round instead of being skipped.
		done := bus.IsDone()
		evs := bus.Drain()
		if len(evs) > 0 {
			finished, err := writeUntilTerminal(w, evs)
			if err != nil {
				return disconnect(bus, err)
			}
			if finished {
				return nil
			}
			lastSent = time.Now()
		}
		if done {
			// The terminal event went to another consumer.
			return nil
		}

		select {
		case <-ctx.Done():
			return disconnect(bus, ctx.Err())
		case <-budget.C:
			timeout := event.Event{
				Type:      event.TypeError,
				Data:      map[string]any{"message": StreamTimeoutMessage},
				Timestamp: time.Now().UTC(),
			}
			return w.WriteEvent(timeout)
		case <-ticker.C:
			if time.Since(lastSent) >= opts.KeepaliveInterval {
				if err := w.WriteComment("keepalive"); err != nil {
					return disconnect(bus, err)
				}
				lastSent = time.Now()
			}
		}
	}
}

// StreamRecords replays a durable event log up to its first terminal event.
func StreamRecords(ctx context.Context, recs []eventstore.Record, w StreamWriter) error {
	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := r.Event()
		if err := w.WriteEvent(ev); err != nil {
			return err
		}
		if ev.Terminal() {
			return nil
		}
	}
	return nil
}

func writeUntilTerminal(w StreamWriter, evs []event.Event) (bool, error) {
	for _, ev := range evs {
		if err := w.WriteEvent(ev); err != nil {
			return false, err
		}
		if ev.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func disconnect(bus *event.Bus, err error) error {
	if !bus.IsDone() {
		bus.Cancel()
	}
	return err
}
