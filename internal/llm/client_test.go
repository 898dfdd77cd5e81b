package llm

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClientAutoUsesMockWithoutBackends(t *testing.T) {
	c, err := NewClient(context.Background(), Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	text, err := c.Generate(context.Background(), Request{
		Purpose: PurposeGrade,
		Messages: []Message{{Role: RoleSystem, Text: "ANALYZE the candidate's latest answer: \"I don't know\"\n"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.HasPrefix(text, "Easy|") {
		t.Fatalf("text = %q, want Easy directive", text)
	}
}

func TestNewClientRejectsMisconfiguredModes(t *testing.T) {
	for _, cfg := range []Config{
		{Mode: "gemini"},
		{Mode: "http"},
		{Mode: "carrier-pigeon"},
	} {
		if _, err := NewClient(context.Background(), cfg); err == nil {
			t.Fatalf("NewClient(%q) expected error", cfg.Mode)
		}
	}
}

func TestMockClientStreamsWordFragments(t *testing.T) {
	c := NewMockClient()
	req := Request{
		Purpose: PurposeRespond,
		Messages: []Message{{Role: RoleSystem, Text: "- Resume Highlights: 5 yrs Go, built a cache layer\n- Assessment: Start of interview\n"}},
	}
	var deltas []string
	text, err := c.GenerateStream(context.Background(), req, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	if len(deltas) < 2 || strings.Join(deltas, "") != text {
		t.Fatalf("fragments %q do not concatenate to %q", deltas, text)
	}
	if !strings.Contains(text, "cache layer") {
		t.Fatalf("greeting should reference resume, got %q", text)
	}
}

func TestMockGradeRules(t *testing.T) {
	cases := []struct {
		answer string
		want   string
	}{
		{"(Candidate remained silent)", "Easy|Check in"},
		{"Honestly I don't know", "Easy|Offer"},
		{"Can we skip this one", "Medium|"},
		{"Redis", "Easy|Probe"},
		{"I sharded the cache by tenant and used consistent hashing", "Hard|"},
	}
	for _, tc := range cases {
		got := mockGrade("ANALYZE the candidate's latest answer: \"" + tc.answer + "\"\n")
		if !strings.HasPrefix(got, tc.want) {
			t.Fatalf("mockGrade(%q) = %q, want prefix %q", tc.answer, got, tc.want)
		}
	}
}

func TestFallbackClientUsesFallback(t *testing.T) {
	c := NewFallbackClient(errClient{}, okClient{text: "fallback"})
	text, err := c.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "fallback" {
		t.Fatalf("text = %q, want fallback", text)
	}

	text, err = c.GenerateStream(context.Background(), Request{}, nil)
	if err != nil || text != "fallback" {
		t.Fatalf("GenerateStream() = %q, %v", text, err)
	}
}

func TestFallbackClientSkipsFallbackOnCanceledContext(t *testing.T) {
	fb := &countingClient{text: "fallback"}
	c := NewFallbackClient(cancelClient{}, fb)
	_, err := c.GenerateStream(context.Background(), Request{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if fb.calls.Load() != 0 {
		t.Fatalf("fallback should not be called, calls = %d", fb.calls.Load())
	}
}

func TestFallbackClientKeepsPartialStream(t *testing.T) {
	fb := &countingClient{text: "fallback"}
	c := NewFallbackClient(partialClient{deltas: []string{"Tell me "}}, fb)

	var got []string
	text, err := c.GenerateStream(context.Background(), Request{}, func(d string) error {
		got = append(got, d)
		return nil
	})
	if err == nil {
		t.Fatalf("GenerateStream() expected mid-stream error")
	}
	if text != "Tell me " || len(got) != 1 {
		t.Fatalf("text = %q deltas = %q", text, got)
	}
	if fb.calls.Load() != 0 {
		t.Fatalf("fallback must not run after a delivered fragment")
	}
}

func TestFallbackClientFirstDeltaTimeout(t *testing.T) {
	c := NewFallbackClient(silentClient{}, okClient{text: "fallback"}).WithFirstDeltaTimeout(20 * time.Millisecond)
	text, err := c.GenerateStream(context.Background(), Request{}, nil)
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	if text != "fallback" {
		t.Fatalf("text = %q, want fallback", text)
	}
}

func TestRetryClientRetriesTransientFailures(t *testing.T) {
	next := &flakyClient{failures: 2}
	c := NewRetryClient(next, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil)
	text, err := c.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "ok" || next.calls.Load() != 3 {
		t.Fatalf("text = %q calls = %d, want ok after 3 calls", text, next.calls.Load())
	}
}

func TestRetryClientStopsOnPermanentStatus(t *testing.T) {
	next := &flakyClient{failures: 10, status: 400}
	c := NewRetryClient(next, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}, nil)
	if _, err := c.Generate(context.Background(), Request{}); !errors.Is(err, ErrGeneration) {
		t.Fatalf("Generate() error = %v, want ErrGeneration", err)
	}
	if next.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", next.calls.Load())
	}
}

func TestRetryClientGivesUpAfterMaxAttempts(t *testing.T) {
	next := &flakyClient{failures: 10, status: 503}
	c := NewRetryClient(next, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)
	if _, err := c.Generate(context.Background(), Request{}); err == nil {
		t.Fatalf("Generate() expected error")
	}
	if next.calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", next.calls.Load())
	}
}

func TestRetryClientDoesNotRetryDeliveredStream(t *testing.T) {
	next := &countingPartial{deltas: []string{"Hel"}}
	c := NewRetryClient(next, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}, nil)
	text, err := c.GenerateStream(context.Background(), Request{}, nil)
	if err == nil {
		t.Fatalf("GenerateStream() expected error")
	}
	if text != "Hel" || next.calls.Load() != 1 {
		t.Fatalf("text = %q calls = %d", text, next.calls.Load())
	}
}

func TestRetryClientRetriesAfterEmptyChunk(t *testing.T) {
	next := &blankThenFailClient{failures: 1}
	c := NewRetryClient(next, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil)
	var got []string
	text, err := c.GenerateStream(context.Background(), Request{}, func(d string) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	if text != "ok" || next.calls.Load() != 2 {
		t.Fatalf("text = %q calls = %d, want ok after 2 calls", text, next.calls.Load())
	}
	if strings.Join(got, "") != "ok" {
		t.Fatalf("deltas = %q", got)
	}
}

func TestMockClientWrapsContextErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewMockClient()

	_, err := c.Generate(ctx, Request{Purpose: PurposeRespond})
	if !errors.Is(err, ErrGeneration) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() error = %v, want ErrGeneration wrapping context.Canceled", err)
	}
	_, err = c.GenerateStream(ctx, Request{Purpose: PurposeRespond}, nil)
	var ge *Error
	if !errors.As(err, &ge) || ge.Provider != "mock" || !errors.Is(err, context.Canceled) {
		t.Fatalf("GenerateStream() error = %v, want mock *Error wrapping context.Canceled", err)
	}
}

func TestTracedClientPassesThrough(t *testing.T) {
	c := NewTracedClient(okClient{text: "hello"}, "test-model")
	var got string
	text, err := c.GenerateStream(context.Background(), Request{Purpose: PurposeRespond}, func(d string) error {
		got += d
		return nil
	})
	if err != nil || text != "hello" || got != "hello" {
		t.Fatalf("GenerateStream() = %q, %q, %v", text, got, err)
	}
	if promptHash(Request{Messages: []Message{{Role: RoleUser, Text: "a"}}}) == promptHash(Request{Messages: []Message{{Role: RoleUser, Text: "b"}}}) {
		t.Fatalf("prompt hashes should differ")
	}
}

type errClient struct{}

func (errClient) Generate(context.Context, Request) (string, error) {
	return "", &Error{Provider: "test", Status: 500, Message: "boom"}
}

func (errClient) GenerateStream(context.Context, Request, DeltaHandler) (string, error) {
	return "", &Error{Provider: "test", Status: 500, Message: "boom"}
}

type okClient struct {
	text string
}

func (c okClient) Generate(context.Context, Request) (string, error) { return c.text, nil }

func (c okClient) GenerateStream(_ context.Context, _ Request, onDelta DeltaHandler) (string, error) {
	if onDelta != nil {
		if err := onDelta(c.text); err != nil {
			return "", err
		}
	}
	return c.text, nil
}

type cancelClient struct{}

func (cancelClient) Generate(context.Context, Request) (string, error) { return "", context.Canceled }

func (cancelClient) GenerateStream(context.Context, Request, DeltaHandler) (string, error) {
	return "", context.Canceled
}

type countingClient struct {
	text  string
	calls atomic.Int32
}

func (c *countingClient) Generate(context.Context, Request) (string, error) {
	c.calls.Add(1)
	return c.text, nil
}

func (c *countingClient) GenerateStream(context.Context, Request, DeltaHandler) (string, error) {
	c.calls.Add(1)
	return c.text, nil
}

type partialClient struct {
	deltas []string
}

func (c partialClient) Generate(context.Context, Request) (string, error) {
	return "", errors.New("unused")
}

func (c partialClient) GenerateStream(_ context.Context, _ Request, onDelta DeltaHandler) (string, error) {
	var out strings.Builder
	for _, d := range c.deltas {
		out.WriteString(d)
		if onDelta != nil {
			if err := onDelta(d); err != nil {
				return out.String(), err
			}
		}
	}
	return out.String(), &Error{Provider: "test", Status: 503, Message: "connection dropped"}
}

type countingPartial struct {
	deltas []string
	calls  atomic.Int32
}

func (c *countingPartial) Generate(context.Context, Request) (string, error) {
	return "", errors.New("unused")
}

func (c *countingPartial) GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (string, error) {
	c.calls.Add(1)
	return partialClient{deltas: c.deltas}.GenerateStream(ctx, req, onDelta)
}

type silentClient struct{}

func (silentClient) Generate(ctx context.Context, _ Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (silentClient) GenerateStream(ctx context.Context, _ Request, _ DeltaHandler) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type flakyClient struct {
	failures int32
	status   int
	calls    atomic.Int32
}

func (c *flakyClient) Generate(context.Context, Request) (string, error) {
	n := c.calls.Add(1)
	if n <= c.failures {
		status := c.status
		if status == 0 {
			status = 429
		}
		return "", &Error{Provider: "test", Status: status, Message: "try later"}
	}
	return "ok", nil
}

func (c *flakyClient) GenerateStream(ctx context.Context, req Request, _ DeltaHandler) (string, error) {
	return c.Generate(ctx, req)
}

// blankThenFailClient sends an empty chunk and fails for the first attempts.
type blankThenFailClient struct {
	failures int32
	calls    atomic.Int32
}

func (c *blankThenFailClient) Generate(context.Context, Request) (string, error) {
	return "", errors.New("unused")
}

func (c *blankThenFailClient) GenerateStream(_ context.Context, _ Request, onDelta DeltaHandler) (string, error) {
	if c.calls.Add(1) <= c.failures {
		if err := onDelta(""); err != nil {
			return "", err
		}
		return "", &Error{Provider: "test", Status: 503, Message: "stream reset"}
	}
	if err := onDelta("ok"); err != nil {
		return "", err
	}
	return "ok", nil
}
