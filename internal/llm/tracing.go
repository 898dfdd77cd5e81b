package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ent0n29/interviewer/internal/llm"

// TracedClient records one span per generation call.
type TracedClient struct {
	next   Client
	model  string
	tracer trace.Tracer
}

func NewTracedClient(next Client, model string) *TracedClient {
	return &TracedClient{next: next, model: model, tracer: otel.Tracer(tracerName)}
}

func (c *TracedClient) Generate(ctx context.Context, req Request) (string, error) {
	ctx, span := c.start(ctx, req, false)
	defer span.End()

	text, err := c.next.Generate(ctx, req)
	finishSpan(span, len(text), 0, err)
	return text, err
}

func (c *TracedClient) GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (string, error) {
	ctx, span := c.start(ctx, req, true)
	defer span.End()

	fragments := 0
	text, err := c.next.GenerateStream(ctx, req, func(delta string) error {
		fragments++
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	})
	finishSpan(span, len(text), fragments, err)
	return text, err
}

func (c *TracedClient) start(ctx context.Context, req Request, streamed bool) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.purpose", req.Purpose),
		attribute.String("llm.model", c.model),
		attribute.String("llm.prompt_hash", promptHash(req)),
		attribute.Bool("llm.streamed", streamed),
	))
}

func finishSpan(span trace.Span, size, fragments int, err error) {
	span.SetAttributes(
		attribute.Int("llm.response_bytes", size),
		attribute.Int("llm.fragments", fragments),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// promptHash identifies a prompt without exporting candidate text.
func promptHash(req Request) string {
	h := sha256.New()
	for _, m := range req.Messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
