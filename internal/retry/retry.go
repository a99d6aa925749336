// Package retry runs an operation with exponential backoff between attempts.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retry loop. Attempts <= 0 means retry forever; Base is the
// first delay and doubles each attempt up to MaxDelay.
type Policy struct {
	Attempts int
	Base     time.Duration
	MaxDelay time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Minute
	}
	return p
}

// Delay returns the backoff before retrying after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts the
// attempt budget, or ctx is done. retryable decides whether an error is worth
// another attempt; a nil retryable retries everything.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if p.Attempts > 0 && attempt >= p.Attempts {
			return err
		}

		t := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
