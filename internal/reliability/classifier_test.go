package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatalf("nil error should not be retryable")
	}
	if IsRetryable(fmt.Errorf("wrapped: %w", context.Canceled)) {
		t.Fatalf("canceled context should not be retryable")
	}
	if IsRetryable(fmt.Errorf("call: %w", statusErr(401))) {
		t.Fatalf("401 should not be retryable")
	}
	if !IsRetryable(fmt.Errorf("call: %w", statusErr(503))) {
		t.Fatalf("503 should be retryable")
	}
	if !IsRetryable(errors.New("connection reset")) {
		t.Fatalf("transport error should be retryable")
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want %v", got, 400*time.Millisecond)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep() error = %v, want context.Canceled", err)
	}
}

func TestIsRetryableStatusZeroIsTransport(t *testing.T) {
	if !IsRetryable(statusErr(0)) {
		t.Fatalf("status-less upstream error should be retryable")
	}
}
