package interview

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ent0n29/interviewer/internal/llm"
	"github.com/ent0n29/interviewer/internal/logging"
	"github.com/ent0n29/interviewer/internal/observability"
	"github.com/ent0n29/interviewer/internal/session"
)

// Sink receives interviewer fragments in production order. A returned error
// means the caller is gone and the stream is terminated.
type Sink func(fragment string) error

// Response describes what the response stage delivered and committed.
type Response struct {
	Text      string
	Fragments int
	// Degraded is set when the apology replaced or ended the utterance.
	Degraded bool
	// Disconnected is set when the sink stopped accepting fragments.
	Disconnected bool
}

// Interviewer phrases the next question.
type Interviewer struct {
	client      llm.Client
	temperature float32
	budgets     PromptBudgets
	metrics     *observability.Metrics
	logger      *log.Logger
}

func NewInterviewer(
	client llm.Client,
	temperature float32,
	budgets PromptBudgets,
	metrics *observability.Metrics,
	logger *log.Logger,
) *Interviewer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Interviewer{
		client:      client,
		temperature: temperature,
		budgets:     budgets.normalized(),
		metrics:     metrics,
		logger:      logger,
	}
}

// Respond generates the interviewer utterance for directive d against the
// uncommitted session s. A nil sink requests a single non-streamed
// generation. Generation problems are absorbed into the apology.
func (iv *Interviewer) Respond(ctx context.Context, s session.Session, d Directive, sink Sink) Response {
	req := iv.buildRequest(s, d)
	started := time.Now()

	var resp Response
	if sink == nil {
		resp = iv.generate(ctx, s.ID, req)
	} else {
		resp = iv.stream(ctx, s.ID, req, sink, started)
	}
	iv.metrics.ObserveStage(observability.StageRespond, time.Since(started))
	return resp
}

func (iv *Interviewer) generate(ctx context.Context, sessionID string, req llm.Request) Response {
	text, err := iv.client.Generate(ctx, req)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		iv.recordDegrade(sessionID, err, "empty_response")
		return Response{Text: ApologyFragment, Degraded: true}
	}
	return Response{Text: text}
}

func (iv *Interviewer) stream(ctx context.Context, sessionID string, req llm.Request, sink Sink, started time.Time) Response {
	var (
		acc     strings.Builder
		resp    Response
		sinkErr error
	)
	_, err := iv.client.GenerateStream(ctx, req, func(delta string) error {
		if delta == "" {
			return nil
		}
		if resp.Fragments == 0 {
			iv.metrics.ObserveStage(observability.StageFirstFragment, time.Since(started))
		}
		acc.WriteString(delta)
		resp.Fragments++
		iv.metrics.Fragment()
		if err := sink(delta); err != nil {
			sinkErr = err
			return err
		}
		return nil
	})

	text := strings.TrimSpace(acc.String())
	switch {
	case sinkErr != nil || (err != nil && ctx.Err() != nil):
		resp.Disconnected = true
		iv.metrics.ObserveFallback(observability.StageRespond, "caller_disconnected")
		iv.logger.Info("caller disconnected mid-stream, committing partial utterance",
			"session_id", sessionID,
			"fragments", resp.Fragments,
		)
		if text == "" {
			text = ApologyFragment
			resp.Degraded = true
		}
	case err != nil || text == "":
		iv.recordDegrade(sessionID, err, "empty_stream")
		resp.Degraded = true
		if err := sink(ApologyFragment); err == nil {
			resp.Fragments++
		} else {
			resp.Disconnected = true
		}
		if text == "" {
			text = ApologyFragment
		}
	}
	resp.Text = text
	return resp
}

func (iv *Interviewer) recordDegrade(sessionID string, err error, emptyReason string) {
	reason := emptyReason
	if err != nil {
		reason = "generation_error"
		iv.metrics.ObserveGenerationError(llm.PurposeRespond, errorCode(err))
	}
	iv.metrics.ObserveFallback(observability.StageRespond, reason)
	iv.logger.Warn("response degraded to apology",
		"session_id", sessionID,
		"reason", reason,
		"err", err,
	)
}

// buildRequest sends the persona prompt followed by the conversation so far.
// System utterances stay out of the conversational context.
func (iv *Interviewer) buildRequest(s session.Session, d Directive) llm.Request {
	messages := make([]llm.Message, 0, len(s.Transcript)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Text: interviewerPrompt(s, d, iv.budgets)})
	for _, u := range s.Transcript {
		switch u.Speaker {
		case session.SpeakerCandidate:
			messages = append(messages, llm.Message{Role: llm.RoleUser, Text: u.Text})
		case session.SpeakerInterviewer:
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Text: u.Text})
		}
	}
	temp := iv.temperature
	return llm.Request{
		Purpose:     llm.PurposeRespond,
		Messages:    messages,
		Temperature: &temp,
	}
}

func errorCode(err error) string {
	var ge *llm.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &ge) && ge.Status != 0:
		return ge.Provider + "_" + statusClass(ge.Status)
	case errors.As(err, &ge):
		return ge.Provider
	default:
		return "unknown"
	}
}

func statusClass(code int) string {
	switch {
	case code == 429:
		return "429"
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "other"
	}
}
