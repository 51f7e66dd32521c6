package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("event log unavailable")

func fail() error { return errTest }
func ok() error   { return nil }

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker("events", 3, time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker("events", 3, time.Second)
	for range 3 {
		_ = b.Execute(fail)
	}
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
}

func TestHalfOpenTrialCallCloses(t *testing.T) {
	now := time.Now()
	b := NewBreaker("events", 2, time.Second)
	b.now = func() time.Time { return now }

	for range 2 {
		_ = b.Execute(fail)
	}
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half_open", b.State())
	}
	if err := b.Execute(ok); err != nil {
		t.Fatalf("expected trial call to run, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful trial call", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("events", 2, time.Second)
	b.now = func() time.Time { return now }

	for range 2 {
		_ = b.Execute(fail)
	}
	now = now.Add(2 * time.Second)
	_ = b.Execute(fail)

	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed trial call", b.State())
	}
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestHalfOpenAllowsSingleTrialCall(t *testing.T) {
	now := time.Now()
	b := NewBreaker("events", 1, time.Second)
	b.now = func() time.Time { return now }
	_ = b.Execute(fail)
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second call during trial call: expected ErrCircuitOpen, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call: %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("events", 3, time.Second)
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	_ = b.Execute(ok)
	_ = b.Execute(fail)
	_ = b.Execute(fail)

	if err := b.Execute(ok); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCancelledContextIsNotAFailure(t *testing.T) {
	b := NewBreaker("cache", 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.ExecuteContext(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []string
	b := NewBreaker("events", 1, time.Hour, WithStateChange(func(name string, from, to State) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	}))
	_ = b.Execute(fail)
	if len(transitions) != 1 || transitions[0] != "events:closed->open" {
		t.Fatalf("transitions = %v", transitions)
	}
}
