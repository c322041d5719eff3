// Package retry provides a small, explicit bounded-retry policy. Components
// receive a Policy value instead of wrapping calls in ad hoc loops, so retry
// counts and backoff curves are testable as pure functions.
package retry

import (
	"context"
	"time"

	"github.com/clinicflow/appointment-engine/internal/apperr"
)

// Policy describes a bounded exponential backoff schedule.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
}

// DefaultPolicy mirrors the booking core defaults: three attempts, exponential
// backoff from 4s capped at 10s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 4 * time.Second, MaxDelay: 10 * time.Second}
}

// Delay returns the wait before attempt n+1, where n counts completed
// attempts starting at 1. Pure; callers decide how to sleep.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay * time.Duration(1<<(attempt-1))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do invokes fn up to MaxAttempts times, sleeping Delay between attempts.
// Only errors classified transient are retried; anything else returns
// immediately. The context bounds both fn and the waits.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !apperr.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return err
}
