// Package retry provides exponential backoff for reconnecting to the
// synergy server and for bringing up the SSH gateway.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.  [Backoff.Do] returns the inner
// error immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff implements exponential backoff with optional jitter.  It is
// stateful: [Backoff.Next] grows the delay, [Backoff.Reset] rewinds it
// after a connection that stayed up.  Not safe for concurrent use.
type Backoff struct {
	// InitialDelay is the delay before the first retry (default 1s).
	InitialDelay time.Duration
	// MaxDelay caps the backoff duration (default 60s).
	MaxDelay time.Duration
	// Multiplier increases the delay each attempt (default 2.0).
	Multiplier float64
	// MaxAttempts bounds [Backoff.Do]; 0 retries until the context is
	// cancelled.
	MaxAttempts int
	// Jitter adds ±25% randomisation.
	Jitter bool

	current time.Duration
}

// DefaultBackoff returns the reconnect policy used by the supervisor.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Next returns the delay to wait before the next attempt and advances
// the internal state.
func (b *Backoff) Next() time.Duration {
	initial := b.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}

	if b.current == 0 {
		b.current = initial
	} else {
		b.current = time.Duration(float64(b.current) * multiplier)
	}
	if b.current > maxDelay {
		b.current = maxDelay
	}

	if b.Jitter {
		return addJitter(b.current)
	}
	return b.current
}

// Reset rewinds the delay to InitialDelay.
func (b *Backoff) Reset() { b.current = 0 }

// Wait sleeps for [Backoff.Next] or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// Do executes fn repeatedly until it succeeds, returns a permanent
// error, or the retry budget (attempts / context) is exhausted.  The
// attempt parameter passed to fn is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	b.Reset()
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("max retries (%d) exceeded: %w", b.MaxAttempts, err)
		}
		if werr := b.Wait(ctx); werr != nil {
			return werr
		}
	}
}

// addJitter adds ±25% randomisation to a duration.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	result := float64(d) + delta
	return time.Duration(math.Max(result, float64(time.Millisecond)))
}
