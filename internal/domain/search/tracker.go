package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/SearchForge/internal/domain/event"
)

// maxSummaryLen caps the result summary carried on tool_end events.
const maxSummaryLen = 200

// ToolObserver receives tool lifecycle callbacks (tracing, metrics).
// ToolStarted may return a derived context that is passed to the tool.
type ToolObserver interface {
	ToolStarted(ctx context.Context, searchID, tool string) context.Context
	ToolFinished(ctx context.Context, searchID, tool string, d time.Duration, err error)
}

// Tracker instruments tool invocations of one search: every call emits
// tool_start before and tool_end after, followed by a quality event when
// the gate's confidence or phase moved.
type Tracker struct {
	search   *Search
	observer ToolObserver
	now      func() time.Time
	seq      atomic.Int64

	mu          sync.Mutex
	lastQuality string
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithToolObserver attaches an observer.
func WithToolObserver(o ToolObserver) TrackerOption {
	return func(t *Tracker) { t.observer = o }
}

// WithTrackerClock overrides time.Now.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker for s.
func NewTracker(s *Search, opts ...TrackerOption) *Tracker {
	t := &Tracker{search: s, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Search returns the tracked search.
func (t *Tracker) Search() *Search {
	return t.search
}

// Call is one in-flight tool invocation.
type Call struct {
	tracker *Tracker
	ctx     context.Context
	ID      string
	Tool    string
	started time.Time
	once    sync.Once
}

// Start emits tool_start for tool. An empty callID is generated.
// Returns domain.ErrCancelled when the search was cancelled.
func (t *Tracker) Start(ctx context.Context, tool, callID string, args map[string]any) (*Call, error) {
	if err := t.search.Bus.RaiseIfCancelled(); err != nil {
		return nil, err
	}
	if callID == "" {
		callID = fmt.Sprintf("%s-%d", tool, t.seq.Add(1))
	}
	if t.observer != nil {
		ctx = t.observer.ToolStarted(ctx, t.search.ID, tool)
	}
	data := map[string]any{"tool": tool, "call_id": callID}
	if args != nil {
		data["args"] = args
	}
	t.search.Bus.Emit(event.TypeToolStart, data)
	return &Call{tracker: t, ctx: ctx, ID: callID, Tool: tool, started: t.now()}, nil
}

// Context returns the context derived by the observer for this call.
func (c *Call) Context() context.Context {
	return c.ctx
}

// End emits tool_end with the elapsed duration (seconds) and a short summary of result.
// Only the first End of a call has any effect.
func (c *Call) End(result any, err error) {
	c.EndWithDuration(c.tracker.now().Sub(c.started), summarize(result), err)
}

// EndWithDuration is End for calls executed elsewhere, whose duration and
// summary were measured remotely.
func (c *Call) EndWithDuration(d time.Duration, summary string, err error) {
	c.once.Do(func() {
		t := c.tracker
		data := map[string]any{
			"tool":     c.Tool,
			"call_id":  c.ID,
			"duration": d.Seconds(),
		}
		if summary != "" {
			data["result_summary"] = summary
		}
		if err != nil {
			data["error"] = err.Error()
		}
		t.search.Bus.Emit(event.TypeToolEnd, data)
		if t.observer != nil {
			t.observer.ToolFinished(c.ctx, t.search.ID, c.Tool, d, err)
		}
		t.emitQualityIfChanged()
	})
}

// Track runs fn as tool, bracketed by tool_start and tool_end. A tool error is
// recorded on tool_end and returned; the search itself continues.
func (t *Tracker) Track(ctx context.Context, tool string, args map[string]any, fn func(context.Context) (any, error)) (any, error) {
	call, err := t.Start(ctx, tool, "", args)
	if err != nil {
		return nil, err
	}
	var res any
	defer func() {
		if r := recover(); r != nil {
			call.End(nil, fmt.Errorf("tool %s panicked: %v", tool, r))
			panic(r)
		}
	}()
	res, err = fn(call.Context())
	call.End(res, err)
	return res, err
}

// EmitQuality emits the current assessment unconditionally.
func (t *Tracker) EmitQuality() {
	a := t.search.Gate.Assess()
	t.mu.Lock()
	t.lastQuality = qualityKey(a.Confidence, string(a.Phase))
	t.mu.Unlock()
	t.search.Bus.Emit(event.TypeQuality, qualityData(a.Confidence, string(a.Phase), a.Guidance))
}

func (t *Tracker) emitQualityIfChanged() {
	a := t.search.Gate.Assess()
	key := qualityKey(a.Confidence, string(a.Phase))
	t.mu.Lock()
	changed := key != t.lastQuality
	t.lastQuality = key
	t.mu.Unlock()
	if changed {
		t.search.Bus.Emit(event.TypeQuality, qualityData(a.Confidence, string(a.Phase), a.Guidance))
	}
}

func qualityKey(conf int, phase string) string {
	return fmt.Sprintf("%d/%s", conf, phase)
}

func qualityData(conf int, phase, guidance string) map[string]any {
	return map[string]any{"confidence": conf, "phase": phase, "guidance": guidance}
}

func summarize(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s = x
	case fmt.Stringer:
		s = x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			s = fmt.Sprintf("%v", x)
		} else {
			s = string(b)
		}
	}
	r := []rune(s)
	if len(r) > maxSummaryLen {
		return string(r[:maxSummaryLen]) + "..."
	}
	return s
}
