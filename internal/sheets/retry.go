package sheets

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/api/googleapi"
)

// RetryPolicy controls backoff for transient API failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy makes three attempts, waiting 1s and then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

// TransientError is returned once a retryable failure outlives the policy.
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("sheets %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// retryable reports rate limiting and upstream 5xx responses.
func retryable(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	switch gerr.Code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := range attempts {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}

		delay := c.backoff(attempt)
		c.log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt+1).
			Int("max_attempts", attempts).
			Dur("retry_in", delay).
			Msg("Sheets API call failed")

		if attempt == attempts-1 {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}

	c.log.Error().Err(lastErr).Str("op", op).Msg("Sheets API retries exhausted")
	return &TransientError{Op: op, Attempts: attempts, Err: lastErr}
}

func (c *Client) backoff(attempt int) time.Duration {
	mult := c.retry.Multiplier
	if mult <= 0 {
		mult = 2
	}
	return time.Duration(float64(c.retry.BaseDelay) * math.Pow(mult, float64(attempt)))
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.retry.Sleep != nil {
		return c.retry.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
