package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Strob0t/SearchForge/internal/domain"
	"github.com/Strob0t/SearchForge/internal/domain/event"
	"github.com/Strob0t/SearchForge/internal/domain/evidence"
)

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []string
	errs     []error
}

func (o *recordingObserver) ToolStarted(ctx context.Context, _, tool string) context.Context {
	o.mu.Lock()
	o.started = append(o.started, tool)
	o.mu.Unlock()
	return ctx
}

func (o *recordingObserver) ToolFinished(_ context.Context, _, tool string, _ time.Duration, err error) {
	o.mu.Lock()
	o.finished = append(o.finished, tool)
	o.errs = append(o.errs, err)
	o.mu.Unlock()
}

func types(evs []event.Event) []event.Type {
	out := make([]event.Type, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func TestTracker_TrackEmitsStartEndAndQuality(t *testing.T) {
	s := New(Params{ID: "s1", Query: "q"})
	obs := &recordingObserver{}
	tr := NewTracker(s, WithToolObserver(obs))

	_, err := tr.Track(context.Background(), "register_hit", map[string]any{"id": "h1"}, func(context.Context) (any, error) {
		s.Evidence.Register(evidence.Record{ID: "h1", Score: 0.4})
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}

	evs := s.Bus.Replay()
	want := []event.Type{event.TypeToolStart, event.TypeToolEnd, event.TypeQuality}
	if diff := cmp.Diff(want, types(evs)); diff != "" {
		t.Fatalf("event types (-want +got):\n%s", diff)
	}
	if evs[0].Data["call_id"] != evs[1].Data["call_id"] {
		t.Errorf("call ids differ: %v vs %v", evs[0].Data["call_id"], evs[1].Data["call_id"])
	}
	if evs[1].Data["result_summary"] != "ok" {
		t.Errorf("result_summary = %v", evs[1].Data["result_summary"])
	}
	if evs[2].Data["confidence"] != 10 {
		t.Errorf("confidence = %v, want 10", evs[2].Data["confidence"])
	}
	if diff := cmp.Diff([]string{"register_hit"}, obs.finished); diff != "" {
		t.Errorf("observer finished (-want +got):\n%s", diff)
	}
}

func TestTracker_QualityOnlyWhenChanged(t *testing.T) {
	s := New(Params{ID: "s1"})
	tr := NewTracker(s)
	noop := func(context.Context) (any, error) { return nil, nil }

	for range 3 {
		if _, err := tr.Track(context.Background(), "quality_status", nil, noop); err != nil {
			t.Fatal(err)
		}
	}
	var quality int
	for _, e := range s.Bus.Replay() {
		if e.Type == event.TypeQuality {
			quality++
		}
	}
	if quality != 1 {
		t.Errorf("quality events = %d, want 1", quality)
	}
}

func TestTracker_ToolErrorRecordedAndReturned(t *testing.T) {
	s := New(Params{ID: "s1"})
	obs := &recordingObserver{}
	tr := NewTracker(s, WithToolObserver(obs))
	boom := errors.New("backend unavailable")

	_, err := tr.Track(context.Background(), "log_search", nil, func(context.Context) (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	end := s.Bus.Replay()[1]
	if end.Type != event.TypeToolEnd || end.Data["error"] != "backend unavailable" {
		t.Errorf("tool_end = %+v", end)
	}
	if s.Bus.IsDone() {
		t.Error("tool error terminated the search")
	}
	if !errors.Is(obs.errs[0], boom) {
		t.Errorf("observer err = %v", obs.errs[0])
	}
}

func TestTracker_CancelledSearchRejectsTools(t *testing.T) {
	s := New(Params{ID: "s1"})
	s.Bus.Cancel()
	called := false
	_, err := NewTracker(s).Track(context.Background(), "rate_hit", nil, func(context.Context) (any, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if called {
		t.Error("tool ran after cancellation")
	}
	if s.Bus.Len() != 0 {
		t.Errorf("events emitted after cancellation: %d", s.Bus.Len())
	}
}

func TestTracker_RemoteCallEndsOnce(t *testing.T) {
	s := New(Params{ID: "s1"})
	tr := NewTracker(s)
	call, err := tr.Start(context.Background(), "vector_search", "remote-7", map[string]any{"query": "x"})
	if err != nil {
		t.Fatal(err)
	}
	call.EndWithDuration(1500*time.Millisecond, "3 hits", nil)
	call.EndWithDuration(time.Second, "again", nil)

	var ends []event.Event
	for _, e := range s.Bus.Replay() {
		if e.Type == event.TypeToolEnd {
			ends = append(ends, e)
		}
	}
	if len(ends) != 1 {
		t.Fatalf("tool_end count = %d, want 1", len(ends))
	}
	if ends[0].Data["call_id"] != "remote-7" || ends[0].Data["duration"] != 1.5 {
		t.Errorf("tool_end data = %v", ends[0].Data)
	}
}

func TestTracker_PanicEndsCall(t *testing.T) {
	s := New(Params{ID: "s1"})
	tr := NewTracker(s)
	func() {
		defer func() { _ = recover() }()
		_, _ = tr.Track(context.Background(), "record_draft", nil, func(context.Context) (any, error) {
			panic("bad draft")
		})
	}()
	evs := s.Bus.Replay()
	if len(evs) < 2 || evs[1].Type != event.TypeToolEnd {
		t.Fatalf("events = %v", types(evs))
	}
	if evs[1].Data["error"] == nil {
		t.Error("panic not recorded on tool_end")
	}
}

func TestSearch_StatusAndPayload(t *testing.T) {
	s := New(Params{ID: "s1"})
	if s.Status() != StatusRunning {
		t.Errorf("status = %q", s.Status())
	}
	r := &Result{Answer: "42"}
	p := r.Payload()
	if p["answer"] != "42" || p["usage"] == nil || p["sources"] == nil {
		t.Errorf("payload = %v", p)
	}
	s.Bus.Emit(event.TypeCancelled, map[string]any{})
	s.Bus.Emit(event.TypeError, map[string]any{"message": "late"})
	if s.Status() != StatusCancelled {
		t.Errorf("status = %q, want cancelled (first terminal wins)", s.Status())
	}
}

func TestSummarize_Truncates(t *testing.T) {
	long := make([]rune, maxSummaryLen+50)
	for i := range long {
		long[i] = 'é'
	}
	got := []rune(summarize(string(long)))
	if len(got) != maxSummaryLen+3 {
		t.Errorf("summary length = %d, want %d", len(got), maxSummaryLen+3)
	}
	if summarize(map[string]int{"n": 1}) != `{"n":1}` {
		t.Errorf("json summary = %q", summarize(map[string]int{"n": 1}))
	}
}
