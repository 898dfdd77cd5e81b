package interview

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ent0n29/interviewer/internal/llm"
)

// fakeClient overrides individual purposes and falls back to the mock client.
type fakeClient struct {
	mu      sync.Mutex
	calls   map[string]int
	grade   func(prompt string) (string, error)
	stream  func(ctx context.Context, onDelta llm.DeltaHandler) (string, error)
	respond func() (string, error)
	report  func() (string, error)
	base    *llm.MockClient
}

func newFakeClient() *fakeClient {
	return &fakeClient{calls: make(map[string]int), base: llm.NewMockClient()}
}

func (f *fakeClient) count(purpose string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[purpose]
}

func (f *fakeClient) record(purpose string) {
	f.mu.Lock()
	f.calls[purpose]++
	f.mu.Unlock()
}

func (f *fakeClient) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.record(req.Purpose)
	switch {
	case req.Purpose == llm.PurposeGrade && f.grade != nil:
		return f.grade(req.Messages[0].Text)
	case req.Purpose == llm.PurposeRespond && f.respond != nil:
		return f.respond()
	case req.Purpose == llm.PurposeReport && f.report != nil:
		return f.report()
	}
	return f.base.Generate(ctx, req)
}

func (f *fakeClient) GenerateStream(ctx context.Context, req llm.Request, onDelta llm.DeltaHandler) (string, error) {
	f.record(req.Purpose)
	if f.stream != nil {
		return f.stream(ctx, onDelta)
	}
	return f.base.GenerateStream(ctx, req, onDelta)
}

var errUpstream = &llm.Error{Provider: "test", Status: 503, Message: "upstream unavailable"}

// streamThenFail delivers deltas and then fails like a dropped connection.
func streamThenFail(deltas ...string) func(context.Context, llm.DeltaHandler) (string, error) {
	return func(_ context.Context, onDelta llm.DeltaHandler) (string, error) {
		var out strings.Builder
		for _, d := range deltas {
			out.WriteString(d)
			if err := onDelta(d); err != nil {
				return out.String(), err
			}
		}
		return out.String(), errUpstream
	}
}

// collector is a Sink that records fragments and can hang up after n of them.
type collector struct {
	fragments []string
	hangUpAt  int
	onHangUp  func()
}

func (c *collector) sink(fragment string) error {
	c.fragments = append(c.fragments, fragment)
	if c.hangUpAt > 0 && len(c.fragments) >= c.hangUpAt {
		if c.onHangUp != nil {
			c.onHangUp()
		}
		return errors.New("client went away")
	}
	return nil
}

func (c *collector) text() string { return strings.Join(c.fragments, "") }
