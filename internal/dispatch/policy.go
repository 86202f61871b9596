package dispatch

import (
	"context"
	"time"
)

// RetryPolicy is the notifier backoff policy: a pure function of the
// attempt number and the error class, so it is testable without timers.
// Network-class errors wait longer per attempt than other failures.
type RetryPolicy struct {
	MaxAttempts    int
	TransientDelay time.Duration
	FailureDelay   time.Duration
}

// DefaultRetryPolicy is the notifier retry used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		TransientDelay: 2 * time.Second,
		FailureDelay:   500 * time.Millisecond,
	}
}

// Delay returns the wait before retrying after the given attempt (1-based).
func (p RetryPolicy) Delay(attempt int, transient bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	step := p.FailureDelay
	if transient {
		step = p.TransientDelay
	}
	return step * time.Duration(attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
