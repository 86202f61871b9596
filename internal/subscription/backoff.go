package subscription

import (
	"context"
	"time"
)

// ReconnectDelay is the linear backoff policy for reconnect attempts.
// Attempt numbering is 1-based; attempt n waits baseDelay * n.
func ReconnectDelay(baseDelay time.Duration, attempt int) time.Duration {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	return baseDelay * time.Duration(attempt)
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
