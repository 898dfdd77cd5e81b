package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FallbackClient attempts a primary client first and falls back on error.
// A stream never falls back once a fragment has been delivered to the caller.
type FallbackClient struct {
	primary  Client
	fallback Client

	// firstDeltaTimeout abandons a silent primary stream. Zero disables it.
	firstDeltaTimeout time.Duration
}

func NewFallbackClient(primary Client, fallback Client) *FallbackClient {
	return &FallbackClient{
		primary:  primary,
		fallback: fallback,
	}
}

// WithFirstDeltaTimeout switches to the secondary client when the primary
// produces no visible text within d.
func (c *FallbackClient) WithFirstDeltaTimeout(d time.Duration) *FallbackClient {
	c.firstDeltaTimeout = d
	return c
}

// Primary returns the preferred client used before fallback.
func (c *FallbackClient) Primary() Client {
	if c == nil {
		return nil
	}
	return c.primary
}

// Secondary returns the fallback client.
func (c *FallbackClient) Secondary() Client {
	if c == nil {
		return nil
	}
	return c.fallback
}

func (c *FallbackClient) Generate(ctx context.Context, req Request) (string, error) {
	if c == nil || c.primary == nil {
		if c != nil && c.fallback != nil {
			return c.fallback.Generate(ctx, req)
		}
		return "", fmt.Errorf("fallback client misconfigured")
	}
	text, err := c.primary.Generate(ctx, req)
	if err == nil {
		return text, nil
	}
	if isContextErr(err) || c.fallback == nil {
		return "", err
	}
	text, fbErr := c.fallback.Generate(ctx, req)
	if fbErr != nil {
		return "", fmt.Errorf("primary client error: %w; fallback client error: %v", err, fbErr)
	}
	return text, nil
}

func (c *FallbackClient) GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (string, error) {
	if c == nil || c.primary == nil {
		if c != nil && c.fallback != nil {
			return c.fallback.GenerateStream(ctx, req, onDelta)
		}
		return "", fmt.Errorf("fallback client misconfigured")
	}

	type result struct {
		text string
		err  error
	}

	primaryCtx, cancelPrimary := context.WithCancel(ctx)
	defer cancelPrimary()

	var (
		delivered     atomic.Bool
		accept        atomic.Bool
		firstOnce     sync.Once
		firstDeltaCh  = make(chan struct{})
		primaryResult = make(chan result, 1)
	)
	accept.Store(true)

	go func() {
		text, err := c.primary.GenerateStream(primaryCtx, req, func(delta string) error {
			if strings.TrimSpace(delta) != "" {
				firstOnce.Do(func() { close(firstDeltaCh) })
			}
			if !accept.Load() {
				return context.Canceled
			}
			if delta != "" {
				delivered.Store(true)
			}
			if onDelta == nil {
				return nil
			}
			return onDelta(delta)
		})
		primaryResult <- result{text: text, err: err}
	}()

	var (
		primary  result
		timedOut bool
	)
	if c.fallback == nil || c.firstDeltaTimeout <= 0 {
		primary = <-primaryResult
	} else {
		timer := time.NewTimer(c.firstDeltaTimeout)
		defer timer.Stop()
		select {
		case primary = <-primaryResult:
		case <-firstDeltaCh:
			primary = <-primaryResult
		case <-timer.C:
			accept.Store(false)
			cancelPrimary()
			primary = <-primaryResult
			timedOut = !delivered.Load()
		}
	}

	if primary.err == nil && !timedOut {
		return primary.text, nil
	}
	if delivered.Load() {
		return primary.text, primary.err
	}
	if !timedOut && isContextErr(primary.err) {
		return "", primary.err
	}
	if c.fallback == nil {
		return "", primary.err
	}

	text, fbErr := c.fallback.GenerateStream(ctx, req, onDelta)
	if fbErr != nil {
		if timedOut {
			return text, fmt.Errorf("primary client silent for %s; fallback client error: %w", c.firstDeltaTimeout, fbErr)
		}
		return text, fmt.Errorf("primary client error: %w; fallback client error: %v", primary.err, fbErr)
	}
	return text, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
