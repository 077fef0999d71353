package allocation

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy is the single retry/backoff configuration shared by the fetch,
// match, update and status-mark paths.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
	}
}

// Do runs fn until it succeeds or MaxAttempts is exhausted, sleeping with
// exponential backoff between attempts. The backoff sleep is the only
// suspension point and honors context cancellation.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s interrupted: %w", op, ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, err)
}
