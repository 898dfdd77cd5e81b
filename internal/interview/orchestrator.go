package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/ent0n29/interviewer/internal/llm"
	"github.com/ent0n29/interviewer/internal/logging"
	"github.com/ent0n29/interviewer/internal/observability"
	"github.com/ent0n29/interviewer/internal/policy"
	"github.com/ent0n29/interviewer/internal/session"
)

// Options tunes the pipeline stages.
type Options struct {
	ChatTemperature   float32
	ReportTemperature float32
	Budgets           PromptBudgets
	Metrics           *observability.Metrics
	Logger            *log.Logger
	// NewID generates session ids when the caller supplies none.
	NewID func() string
}

type StartRequest struct {
	OwnerID        string
	JobDescription string
	ResumeText     string
	SessionID      string
}

type StartResult struct {
	SessionID string
	Greeting  string
	Degraded  bool
}

type TurnResult struct {
	Text         string
	TurnCount    int
	Difficulty   session.Difficulty
	Degraded     bool
	Disconnected bool
}

type EndResult struct {
	Report             Report
	Transcript         []session.Utterance
	RenderedTranscript string
	Session            session.Session
}

const defaultCommitTimeout = 10 * time.Second

// Orchestrator sequences grading and response for every session. Calls on
// the same session are serialized; different sessions run in parallel.
// Stages work on an uncommitted copy of the session and each exchange is
// persisted with one store write, so a store failure leaves the session as
// it was before the call.
type Orchestrator struct {
	store         session.Store
	critic        *Critic
	interviewer   *Interviewer
	reporter      *Reporter
	locks         *keyedMutex
	commitTimeout time.Duration
	metrics       *observability.Metrics
	logger        *log.Logger
	newID         func() string
}

// NewOrchestrator wires the stages. reportClient may be nil to reuse chat.
func NewOrchestrator(store session.Store, chat llm.Client, reportClient llm.Client, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "interview")
	if reportClient == nil {
		reportClient = chat
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Orchestrator{
		store:         store,
		critic:        NewCritic(chat, opts.ChatTemperature, opts.Metrics, logger.With("stage", "grade")),
		interviewer:   NewInterviewer(chat, opts.ChatTemperature, opts.Budgets, opts.Metrics, logger.With("stage", "respond")),
		reporter:      NewReporter(reportClient, opts.ReportTemperature, opts.Budgets, opts.Metrics, logger.With("stage", "report")),
		locks:         newKeyedMutex(),
		commitTimeout: defaultCommitTimeout,
		metrics:       opts.Metrics,
		logger:        logger,
		newID:         newID,
	}
}

// Start creates the session, seeds it and returns the interviewer greeting.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = o.newID()
	}
	unlock := o.locks.Lock(id)
	defer unlock()

	switch _, err := o.store.Get(ctx, id); {
	case err == nil:
		return StartResult{}, fmt.Errorf("create session %s: %w", id, session.ErrSessionExists)
	case !errors.Is(err, session.ErrSessionNotFound):
		return StartResult{}, fmt.Errorf("create session: %w", err)
	}

	s := session.Session{
		ID:             id,
		OwnerID:        req.OwnerID,
		JobDescription: req.JobDescription,
		ResumeText:     req.ResumeText,
		Difficulty:     session.DifficultyMedium,
		Critique:       "Start",
		Status:         session.StatusAwaitingFirstTurn,
		Transcript: []session.Utterance{
			{Speaker: session.SpeakerCandidate, Text: SeedUtterance, Seed: true},
		},
	}
	directive := o.critic.Grade(ctx, s)
	s.Difficulty, s.Critique = directive.Difficulty, directive.Critique
	resp := o.interviewer.Respond(ctx, s, directive, nil)

	// The session only becomes visible together with its greeting.
	s.Transcript = append(s.Transcript, session.Utterance{Speaker: session.SpeakerInterviewer, Text: resp.Text})
	s.TurnCount = 1
	s.Status = session.StatusActive
	committed, err := o.store.Create(ctx, s)
	if err != nil {
		return StartResult{}, fmt.Errorf("create session: %w", err)
	}

	o.metrics.SessionEvent("started")
	if o.metrics != nil {
		o.metrics.ActiveSessions.Inc()
	}
	o.logger.Info("interview started",
		"session_id", id,
		"owner_id", req.OwnerID,
		"turn_count", committed.TurnCount,
		"degraded", resp.Degraded,
	)
	return StartResult{SessionID: id, Greeting: resp.Text, Degraded: resp.Degraded}, nil
}

// Turn records the candidate answer, grades it and streams the next
// interviewer utterance to sink. Only valid while the session is active.
func (o *Orchestrator) Turn(ctx context.Context, sessionID, candidateText string, sink Sink) (TurnResult, error) {
	if sink == nil {
		sink = func(string) error { return nil }
	}
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	started := time.Now()
	result, err := o.turnLocked(ctx, sessionID, candidateText, sink)
	if err != nil {
		o.metrics.SessionEvent("turn_failed")
		return TurnResult{}, err
	}
	o.metrics.ObserveStage(observability.StageTurnTotal, time.Since(started))
	o.metrics.SessionEvent("turn")
	return result, nil
}

func (o *Orchestrator) turnLocked(ctx context.Context, sessionID, candidateText string, sink Sink) (TurnResult, error) {
	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	if s.Status != session.StatusActive {
		return TurnResult{}, fmt.Errorf("turn on %s session: %w", s.Status, session.ErrInvalidState)
	}

	text := candidateText
	if strings.TrimSpace(text) == "" {
		text = SilenceSentinel
	}
	candidate := session.Utterance{Speaker: session.SpeakerCandidate, Text: text}
	s.Transcript = append(s.Transcript, candidate)

	directive := o.critic.Grade(ctx, s)
	s.Difficulty, s.Critique = directive.Difficulty, directive.Critique

	resp := o.interviewer.Respond(ctx, s, directive, sink)

	// The candidate may have heard part of the utterance, so it is committed
	// even when the caller has already gone away.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.commitTimeout)
	defer cancel()
	committed, err := o.store.CommitTurn(commitCtx, sessionID, session.TurnCommit{
		Candidate:   &candidate,
		Difficulty:  directive.Difficulty,
		Critique:    directive.Critique,
		Interviewer: session.Utterance{Speaker: session.SpeakerInterviewer, Text: resp.Text},
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("commit turn: %w", err)
	}

	o.logger.Info("turn committed",
		"session_id", sessionID,
		"turn_count", committed.TurnCount,
		"difficulty", directive.Difficulty,
		"grade_fallback", directive.Fallback,
		"degraded", resp.Degraded,
		"disconnected", resp.Disconnected,
		"answer", policy.LogPreview(text, 60),
	)
	return TurnResult{
		Text:         resp.Text,
		TurnCount:    committed.TurnCount,
		Difficulty:   directive.Difficulty,
		Degraded:     resp.Degraded,
		Disconnected: resp.Disconnected,
	}, nil
}

// Interact runs a turn and returns the whole utterance at once.
func (o *Orchestrator) Interact(ctx context.Context, sessionID, candidateText string) (TurnResult, error) {
	return o.Turn(ctx, sessionID, candidateText, func(string) error { return nil })
}

// End synthesizes the report and completes the session. The report degrades
// to a placeholder instead of failing.
func (o *Orchestrator) End(ctx context.Context, sessionID string) (EndResult, error) {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return EndResult{}, err
	}
	if s.Status != session.StatusActive {
		return EndResult{}, fmt.Errorf("end on %s session: %w", s.Status, session.ErrInvalidState)
	}

	report := o.reporter.Synthesize(ctx, s)
	if err := o.store.MarkCompleted(ctx, sessionID); err != nil {
		return EndResult{}, fmt.Errorf("complete session: %w", err)
	}
	s.Status = session.StatusCompleted

	o.metrics.SessionEvent("ended")
	if o.metrics != nil {
		o.metrics.ActiveSessions.Dec()
	}
	o.logger.Info("interview ended",
		"session_id", sessionID,
		"turn_count", s.TurnCount,
		"verdict", report.OverallSummary.FinalVerdict,
		"report_degraded", report.Degraded,
	)

	visible := s.VisibleTranscript()
	return EndResult{
		Report:             report,
		Transcript:         visible,
		RenderedTranscript: renderTranscript(visible),
		Session:            s,
	}, nil
}

// Get returns a snapshot of the session.
func (o *Orchestrator) Get(ctx context.Context, sessionID string) (session.Session, error) {
	return o.store.Get(ctx, sessionID)
}

// List returns the owner's most recent sessions.
func (o *Orchestrator) List(ctx context.Context, ownerID string, limit int) ([]session.Summary, error) {
	return o.store.List(ctx, ownerID, limit)
}
