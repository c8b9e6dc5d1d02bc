package resilience

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	breaker := NewBreaker(2, 30*time.Second, WithClock(clock.Now))

	if !breaker.CanExecute() {
		t.Fatal("new breaker should admit executions")
	}

	breaker.RecordFailure()
	if got := breaker.State(); got != StateClosed {
		t.Fatalf("state after one failure = %q, want %q", got, StateClosed)
	}
	if !breaker.CanExecute() {
		t.Fatal("breaker should still admit below threshold")
	}

	breaker.RecordFailure()
	if got := breaker.State(); got != StateOpen {
		t.Fatalf("state after threshold = %q, want %q", got, StateOpen)
	}
	if breaker.CanExecute() {
		t.Fatal("open breaker should refuse executions")
	}
}

func TestBreakerHalfOpensAfterRecoveryTimeout(t *testing.T) {
	clock := newFakeClock()
	breaker := NewBreaker(2, 30*time.Second, WithClock(clock.Now))

	breaker.RecordFailure()
	breaker.RecordFailure()
	if breaker.CanExecute() {
		t.Fatal("open breaker should refuse executions")
	}

	clock.Advance(29 * time.Second)
	if breaker.CanExecute() {
		t.Fatal("breaker should stay open before the recovery timeout")
	}

	clock.Advance(time.Second)
	if !breaker.CanExecute() {
		t.Fatal("breaker should admit a trial after the recovery timeout")
	}
	if got := breaker.State(); got != StateHalfOpen {
		t.Fatalf("state after cooldown = %q, want %q", got, StateHalfOpen)
	}
}

func TestBreakerClosesOnHalfOpenSuccess(t *testing.T) {
	clock := newFakeClock()
	breaker := NewBreaker(2, 30*time.Second, WithClock(clock.Now))

	breaker.RecordFailure()
	breaker.RecordFailure()
	clock.Advance(30 * time.Second)
	if got := breaker.State(); got != StateHalfOpen {
		t.Fatalf("state = %q, want %q", got, StateHalfOpen)
	}

	breaker.RecordSuccess()
	if got := breaker.State(); got != StateClosed {
		t.Fatalf("state after trial success = %q, want %q", got, StateClosed)
	}
	if snap := breaker.Snapshot(); snap.FailureCount != 0 {
		t.Fatalf("failure count after close = %d, want 0", snap.FailureCount)
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	clock := newFakeClock()
	breaker := NewBreaker(2, 30*time.Second, WithClock(clock.Now))

	breaker.RecordFailure()
	breaker.RecordFailure()
	clock.Advance(30 * time.Second)
	if got := breaker.State(); got != StateHalfOpen {
		t.Fatalf("state = %q, want %q", got, StateHalfOpen)
	}

	breaker.RecordFailure()
	if got := breaker.State(); got != StateOpen {
		t.Fatalf("state after trial failure = %q, want %q", got, StateOpen)
	}

	// The cooldown restarts from the trial failure.
	clock.Advance(29 * time.Second)
	if breaker.CanExecute() {
		t.Fatal("breaker should stay open until a fresh cooldown elapses")
	}
	clock.Advance(time.Second)
	if !breaker.CanExecute() {
		t.Fatal("breaker should admit a trial after the fresh cooldown")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	breaker := NewBreaker(3, 30*time.Second, WithClock(clock.Now))

	breaker.RecordFailure()
	breaker.RecordFailure()
	breaker.RecordSuccess()
	breaker.RecordFailure()
	breaker.RecordFailure()

	if got := breaker.State(); got != StateClosed {
		t.Fatalf("state = %q, want %q after non-consecutive failures", got, StateClosed)
	}
}

func TestBreakerStateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	breaker := NewBreaker(1, 30*time.Second,
		WithClock(clock.Now),
		WithStateChange(func(from, to BreakerState) {
			transitions = append(transitions, string(from)+">"+string(to))
		}),
	)

	breaker.RecordFailure()
	clock.Advance(30 * time.Second)
	breaker.State()
	breaker.RecordSuccess()

	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestBreakerDefaults(t *testing.T) {
	breaker := NewBreaker(0, 0)
	for i := 0; i < 2; i++ {
		breaker.RecordFailure()
	}
	if got := breaker.State(); got != StateClosed {
		t.Fatalf("state = %q, want %q below default threshold", got, StateClosed)
	}
	breaker.RecordFailure()
	if got := breaker.State(); got != StateOpen {
		t.Fatalf("state = %q, want %q at default threshold", got, StateOpen)
	}
}

func TestBreakerReset(t *testing.T) {
	breaker := NewBreaker(1, time.Hour)
	breaker.RecordFailure()
	if breaker.CanExecute() {
		t.Fatal("breaker should be open")
	}

	breaker.Reset()
	if !breaker.CanExecute() {
		t.Fatal("reset breaker should admit executions")
	}
	if snap := breaker.Snapshot(); snap.FailureCount != 0 {
		t.Fatalf("failure count after reset = %d, want 0", snap.FailureCount)
	}
}
