package backend

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds the exponential-backoff retry loop shared by the
// clouddns and sqldns backends. No backoff/retry library is wired in
// (see DESIGN.md); this generalizes a fixed-sleep retry loop to
// exponential backoff with jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Do runs fn until it succeeds, the retry budget is exhausted, or ctx
// is cancelled. It retries only on errors matching ErrTransient or
// ErrConflict; any other error (including ErrFatal, ErrInvariantViolation)
// returns immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransient) && !errors.Is(err, ErrConflict) {
			return err
		}
		delay := p.backoff(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(d) + 1))
	return jitter
}
