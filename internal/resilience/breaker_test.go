package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "stt"})
	if b.threshold != 4 {
		t.Errorf("threshold = %d, want 4", b.threshold)
	}
	if b.cooldown != 15*time.Second {
		t.Errorf("cooldown = %v, want 15s", b.cooldown)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedForwardsCalls(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "stt", Threshold: 3})

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{
		Name:      "stt",
		Threshold: 3,
		Cooldown:  time.Hour,
	})

	for i := 0; i < 3; i++ {
		_ = b.Do(func() error { return errBackend })
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Fatal("fn was called while open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "stt", Threshold: 3, Cooldown: time.Hour})

	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed (success resets the counter)", b.State())
	}

	_ = b.Do(func() error { return errBackend })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 consecutive failures", b.State())
	}
}

func TestBreaker_CancellationIsNeutral(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "llm", Threshold: 1, Cooldown: time.Hour})

	// Repeated user aborts must not trip a threshold-1 breaker.
	for i := 0; i < 3; i++ {
		err := b.Do(func() error { return context.Canceled })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled passed through", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after cancellations", b.State())
	}

	// A genuine failure still opens immediately.
	_ = b.Do(func() error { return errBackend })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after real failure", b.State())
	}
}

func TestBreaker_ProbeClosesAfterCooldown(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{
		Name:      "stt",
		Threshold: 1,
		Cooldown:  10 * time.Millisecond,
	})

	_ = b.Do(func() error { return errBackend })
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen inside cooldown", err)
	}

	time.Sleep(20 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", b.State())
	}

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{
		Name:      "stt",
		Threshold: 1,
		Cooldown:  10 * time.Millisecond,
	})

	_ = b.Do(func() error { return errBackend })
	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return errBackend }); !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want the probe's own error", err)
	}

	// openedAt was just refreshed, so the stored state is open again.
	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	if s != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", s)
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen right after re-opening", err)
	}
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{
		Name:      "tts",
		Threshold: 1,
		Cooldown:  time.Millisecond,
	})

	_ = b.Do(func() error { return errBackend })
	time.Sleep(5 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen while a probe is in flight", err)
	}
	if called {
		t.Fatal("second call ran during the probe")
	}

	close(release)
	<-done
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after the probe succeeded", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "stt", Threshold: 1, Cooldown: time.Hour})

	_ = b.Do(func() error { return errBackend })
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
