package reliability

import (
	"context"
	"errors"
	"time"
)

// StatusError is implemented by upstream errors that carry an HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a generation failure is worth another attempt.
// Caller cancellation is never retried; errors without a status are assumed
// to be transport failures and are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se StatusError
	if errors.As(err, &se) && se.HTTPStatus() != 0 {
		return IsRetryableHTTPStatus(se.HTTPStatus())
	}
	return true
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
