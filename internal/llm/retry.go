package llm

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ent0n29/interviewer/internal/reliability"
)

// RetryPolicy bounds retries of transient generation failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 250 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 4 * time.Second
	}
	return p
}

// RetryClient retries retryable failures with capped exponential backoff.
type RetryClient struct {
	next   Client
	policy RetryPolicy
	logger *log.Logger
}

func NewRetryClient(next Client, policy RetryPolicy, logger *log.Logger) *RetryClient {
	if logger == nil {
		logger = log.Default()
	}
	return &RetryClient{next: next, policy: policy.normalized(), logger: logger}
}

func (c *RetryClient) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		text, err := c.next.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !c.backoff(ctx, req, attempt, err) {
			break
		}
	}
	return "", lastErr
}

// GenerateStream retries only while no fragment has reached the caller.
func (c *RetryClient) GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (string, error) {
	var (
		lastErr   error
		text      string
		delivered bool
	)
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		var err error
		text, err = c.next.GenerateStream(ctx, req, func(delta string) error {
			if delta != "" {
				delivered = true
			}
			if onDelta == nil {
				return nil
			}
			return onDelta(delta)
		})
		if err == nil {
			return text, nil
		}
		lastErr = err
		if delivered || !c.backoff(ctx, req, attempt, err) {
			break
		}
	}
	return text, lastErr
}

// backoff reports whether another attempt should run and waits before it.
func (c *RetryClient) backoff(ctx context.Context, req Request, attempt int, err error) bool {
	if attempt+1 >= c.policy.MaxAttempts || !reliability.IsRetryable(err) || ctx.Err() != nil {
		return false
	}
	delay := reliability.ExponentialBackoff(attempt, c.policy.BaseDelay, c.policy.MaxDelay)
	c.logger.Warn("generation failed, retrying",
		"purpose", req.Purpose,
		"attempt", attempt+1,
		"max_attempts", c.policy.MaxAttempts,
		"delay", delay,
		"err", err,
	)
	return reliability.Sleep(ctx, delay) == nil
}
