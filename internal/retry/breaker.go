package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned while a [Breaker] refuses calls.
var ErrOpen = errors.New("circuit open")

// State is a breaker's operational state.
type State int

const (
	// StateClosed passes calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets one trial call decide between closed and open.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker stops calling a dependency that keeps failing.  Threshold
// consecutive failures open it for Cooldown; the first call after that
// is a trial call whose outcome closes or reopens it.
type Breaker struct {
	// Threshold defaults to 3.
	Threshold int
	// Cooldown defaults to 30s.
	Cooldown time.Duration
	// OnChange observes transitions.  It runs under the lock.
	OnChange func(from, to State)
	// Now defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// Do runs fn unless the breaker is open, in which case it returns an
// error wrapping ErrOpen without calling fn.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and forgets past failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.transition(StateClosed)
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	waited := b.now().Sub(b.openedAt)
	if waited >= b.cooldown() {
		b.transition(StateHalfOpen)
		return nil
	}
	return fmt.Errorf("%w: %d consecutive failures, retry in %v",
		ErrOpen, b.failures, (b.cooldown() - waited).Truncate(time.Second))
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.transition(StateClosed)
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold() {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.OnChange != nil {
		b.OnChange(from, to)
	}
}

func (b *Breaker) threshold() int {
	if b.Threshold <= 0 {
		return 3
	}
	return b.Threshold
}

func (b *Breaker) cooldown() time.Duration {
	if b.Cooldown <= 0 {
		return 30 * time.Second
	}
	return b.Cooldown
}

func (b *Breaker) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}
