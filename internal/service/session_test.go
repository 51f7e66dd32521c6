package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Strob0t/SearchForge/internal/domain"
	"github.com/Strob0t/SearchForge/internal/domain/event"
	"github.com/Strob0t/SearchForge/internal/domain/search"
	"github.com/Strob0t/SearchForge/internal/service"
)

type countingHandle struct {
	closed atomic.Int32
}

func (h *countingHandle) Run(context.Context, *search.Search) (*search.Result, error) {
	return &search.Result{}, nil
}

func (h *countingHandle) Close() error {
	h.closed.Add(1)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSessionManager_CreateAndGet(t *testing.T) {
	m := service.NewSessionManager(time.Hour)
	id := m.Create(&countingHandle{}, event.NewBus())
	if id == "" {
		t.Fatal("empty session id")
	}
	s := m.Get(id)
	if s == nil {
		t.Fatal("Get returned nil for created session")
	}
	if s.ActiveSearchID() != "" || s.SearchCount() != 0 {
		t.Errorf("new session not idle: %+v", s.Info())
	}
	if m.Get("nope") != nil {
		t.Error("Get returned a session for an unknown id")
	}
}

func TestSessionManager_NotFoundVersusBusy(t *testing.T) {
	m := service.NewSessionManager(time.Hour)

	_, _, err := m.PrepareFollowUp("missing", event.NewBus(), "s1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown session: err = %v, want ErrNotFound", err)
	}
	if _, err := m.IsBusy("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("IsBusy unknown: err = %v, want ErrNotFound", err)
	}

	id := m.Create(&countingHandle{}, event.NewBus())
	if _, _, err := m.PrepareFollowUp(id, event.NewBus(), "s1"); err != nil {
		t.Fatalf("first PrepareFollowUp: %v", err)
	}
	_, _, err = m.PrepareFollowUp(id, event.NewBus(), "s2")
	if !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("busy session: err = %v, want ErrBusy", err)
	}
	if errors.Is(err, domain.ErrNotFound) {
		t.Fatal("busy error also matches ErrNotFound")
	}
}

func TestSessionManager_BusyFollowUpDoesNotMutate(t *testing.T) {
	clock := newFakeClock()
	m := service.NewSessionManager(time.Hour, service.WithSessionClock(clock.Now))
	id := m.Create(&countingHandle{}, event.NewBus())

	firstBus := event.NewBus()
	if _, _, err := m.PrepareFollowUp(id, firstBus, "s1"); err != nil {
		t.Fatal(err)
	}
	before := m.Get(id).Info()

	clock.Advance(time.Minute)
	if _, _, err := m.PrepareFollowUp(id, event.NewBus(), "s2"); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	after := m.Get(id).Info()
	if after != before {
		t.Errorf("session mutated:\nbefore %+v\nafter  %+v", before, after)
	}
	if m.Get(id).Bus() != firstBus {
		t.Error("bus swapped on busy follow-up")
	}
}

func TestSessionManager_TwoSequentialFollowUps(t *testing.T) {
	m := service.NewSessionManager(time.Hour)
	h := &countingHandle{}
	id := m.Create(h, event.NewBus())

	for _, sid := range []string{"s1", "s2"} {
		got, sess, err := m.PrepareFollowUp(id, event.NewBus(), sid)
		if err != nil {
			t.Fatalf("PrepareFollowUp %s: %v", sid, err)
		}
		if got != h {
			t.Error("handle not returned unchanged")
		}
		if sess.ActiveSearchID() != sid {
			t.Errorf("active = %q, want %q", sess.ActiveSearchID(), sid)
		}
		if err := m.ClearActive(id); err != nil {
			t.Fatal(err)
		}
	}
	if got := m.Get(id).SearchCount(); got != 2 {
		t.Errorf("search_count = %d, want 2", got)
	}
}

func TestSessionManager_ConcurrentFollowUpsOnlyOneWins(t *testing.T) {
	m := service.NewSessionManager(time.Hour)
	id := m.Create(&countingHandle{}, event.NewBus())

	const n = 32
	var wins, busy atomic.Int32
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.PrepareFollowUp(id, event.NewBus(), string(rune('a'+i)))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrBusy):
				busy.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || busy.Load() != n-1 {
		t.Errorf("wins=%d busy=%d, want 1 and %d", wins.Load(), busy.Load(), n-1)
	}
	if got := m.Get(id).SearchCount(); got != 1 {
		t.Errorf("search_count = %d, want 1", got)
	}
}

func TestSessionManager_CleanupNeverRemovesBusy(t *testing.T) {
	clock := newFakeClock()
	m := service.NewSessionManager(time.Minute, service.WithSessionClock(clock.Now))

	idleHandle, busyHandle := &countingHandle{}, &countingHandle{}
	idle := m.Create(idleHandle, event.NewBus())
	busyID := m.Create(busyHandle, event.NewBus())
	if _, _, err := m.PrepareFollowUp(busyID, event.NewBus(), "s1"); err != nil {
		t.Fatal(err)
	}

	clock.Advance(24 * time.Hour)
	expired := m.CleanupExpired()
	if len(expired) != 1 || expired[0] != idle {
		t.Fatalf("expired = %v, want [%s]", expired, idle)
	}
	if m.Get(idle) != nil {
		t.Error("idle session still present")
	}
	if idleHandle.closed.Load() != 1 {
		t.Errorf("idle handle closed %d times, want 1", idleHandle.closed.Load())
	}
	if m.Get(busyID) == nil {
		t.Fatal("busy session was swept")
	}
	if busyHandle.closed.Load() != 0 {
		t.Error("busy handle released")
	}

	// Once the search ends the session becomes sweepable.
	if err := m.ClearActive(busyID); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)
	if got := m.CleanupExpired(); len(got) != 1 || got[0] != busyID {
		t.Errorf("second sweep = %v, want [%s]", got, busyID)
	}
}

func TestSessionManager_CleanupKeepsFreshSessions(t *testing.T) {
	clock := newFakeClock()
	m := service.NewSessionManager(time.Hour, service.WithSessionClock(clock.Now))
	m.Create(&countingHandle{}, event.NewBus())
	clock.Advance(59 * time.Minute)
	if got := m.CleanupExpired(); len(got) != 0 {
		t.Errorf("expired = %v, want none", got)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestSessionManager_Delete(t *testing.T) {
	m := service.NewSessionManager(time.Hour)
	h := &countingHandle{}
	id := m.Create(h, event.NewBus())

	if err := m.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if h.closed.Load() != 1 {
		t.Errorf("handle closed %d times, want 1", h.closed.Load())
	}
	if err := m.Delete(id); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second Delete: err = %v, want ErrNotFound", err)
	}
}

func TestSessionManager_DeleteIdleRefusesBusy(t *testing.T) {
	m := service.NewSessionManager(time.Hour)
	h := &countingHandle{}
	id := m.Create(h, event.NewBus())
	if _, _, err := m.PrepareFollowUp(id, event.NewBus(), "s1"); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteIdle(id); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if m.Get(id) == nil || h.closed.Load() != 0 {
		t.Fatal("busy session deleted")
	}
	_ = m.ClearActive(id)
	if err := m.DeleteIdle(id); err != nil {
		t.Fatalf("DeleteIdle: %v", err)
	}
	if h.closed.Load() != 1 {
		t.Errorf("handle closed %d times, want 1", h.closed.Load())
	}
}

func TestSessionManager_RunSweepsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clock := newFakeClock()
	m := service.NewSessionManager(time.Minute,
		service.WithSessionClock(clock.Now),
		service.WithSweepInterval(5*time.Millisecond),
	)
	h := &countingHandle{}
	m.Create(h, event.NewBus())
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for m.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not remove the expired session")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if h.closed.Load() != 1 {
		t.Errorf("handle closed %d times, want 1", h.closed.Load())
	}
}
