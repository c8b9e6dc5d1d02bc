// Package resilience provides the circuit breaker that guards repeated
// start attempts against flapping services.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen reports that the breaker is refusing executions.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// BreakerState identifies the circuit position.
type BreakerState string

const (
	// StateClosed admits executions and counts consecutive failures.
	StateClosed BreakerState = "closed"
	// StateOpen refuses executions until the recovery timeout elapses.
	StateOpen BreakerState = "open"
	// StateHalfOpen admits a trial execution after the cooldown.
	StateHalfOpen BreakerState = "half_open"
)

// BreakerOption adjusts a Breaker at construction time.
type BreakerOption func(*Breaker)

// WithClock replaces the breaker's time source, for tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithStateChange registers a hook invoked on every state transition.
// The hook runs with the breaker lock held and must not call back in.
func WithStateChange(hook func(from, to BreakerState)) BreakerOption {
	return func(b *Breaker) {
		b.onStateChange = hook
	}
}

// Breaker is a consecutive-failure circuit breaker. It opens once the
// failure threshold is reached, refuses executions while open, moves to
// half open after the recovery timeout, and closes again on the next
// recorded success.
type Breaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time
	onStateChange    func(from, to BreakerState)

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	lastFailure  time.Time
}

// NewBreaker builds a Breaker. Non-positive arguments fall back to a
// threshold of 3 failures and a 30 second recovery timeout.
func NewBreaker(failureThreshold int, recoveryTimeout time.Duration, opts ...BreakerOption) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	b := &Breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CanExecute reports whether an execution may proceed. Calling it on an
// open breaker whose recovery timeout has elapsed moves the breaker to
// half open.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked() != StateOpen
}

// RecordFailure counts a failed execution. The breaker opens when the
// consecutive failure count reaches the threshold, and reopens on any
// failure while half open.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.now()

	switch b.currentLocked() {
	case StateClosed:
		if b.failureCount >= b.failureThreshold {
			b.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		b.setStateLocked(StateOpen)
	}
}

// RecordSuccess counts a successful execution. It closes a half-open
// breaker and clears the consecutive failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentLocked() {
	case StateHalfOpen:
		b.failureCount = 0
		b.setStateLocked(StateClosed)
	case StateClosed:
		b.failureCount = 0
	}
}

// State returns the current breaker state, applying the open-to-half-open
// transition if the cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked()
}

// Snapshot captures the breaker position for status reporting.
type Snapshot struct {
	State         BreakerState `json:"state"`
	FailureCount  int          `json:"failure_count"`
	LastFailureAt time.Time    `json:"last_failure_at"`
}

// Snapshot returns the current state, failure count, and last failure time.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:         b.currentLocked(),
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailure,
	}
}

// Reset forces the breaker back to closed with a clean failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.setStateLocked(StateClosed)
}

func (b *Breaker) currentLocked() BreakerState {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
		b.setStateLocked(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) setStateLocked(next BreakerState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	if b.onStateChange != nil {
		b.onStateChange(prev, next)
	}
}
