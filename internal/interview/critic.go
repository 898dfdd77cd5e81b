package interview

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ent0n29/interviewer/internal/llm"
	"github.com/ent0n29/interviewer/internal/logging"
	"github.com/ent0n29/interviewer/internal/observability"
	"github.com/ent0n29/interviewer/internal/policy"
	"github.com/ent0n29/interviewer/internal/session"
)

// Directive is the grading outcome consumed by the response stage of the same turn.
type Directive struct {
	Difficulty session.Difficulty
	Critique   string
	// Fallback is set when the directive is a default rather than a model decision.
	Fallback bool
}

// Critic grades the latest candidate answer and steers difficulty.
type Critic struct {
	client      llm.Client
	temperature float32
	metrics     *observability.Metrics
	logger      *log.Logger
}

func NewCritic(client llm.Client, temperature float32, metrics *observability.Metrics, logger *log.Logger) *Critic {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Critic{client: client, temperature: temperature, metrics: metrics, logger: logger}
}

// Grade never fails. The first turn is answered without a model call and
// generation failures degrade to a fixed directive.
func (c *Critic) Grade(ctx context.Context, s session.Session) Directive {
	if s.OnlySeed() {
		return Directive{Difficulty: session.DifficultyMedium, Critique: StartCritique}
	}

	answer := SilenceSentinel
	if last, ok := s.LastCandidate(); ok && strings.TrimSpace(last.Text) != "" {
		answer = last.Text
	}
	prior := s.Difficulty
	if _, ok := session.ParseDifficulty(string(prior)); !ok {
		prior = session.DifficultyMedium
	}

	started := time.Now()
	temp := c.temperature
	raw, err := c.client.Generate(ctx, llm.Request{
		Purpose:     llm.PurposeGrade,
		Messages:    []llm.Message{{Role: llm.RoleSystem, Text: gradePrompt(answer, prior)}},
		Temperature: &temp,
	})
	c.metrics.ObserveStage(observability.StageGrade, time.Since(started))
	if err != nil {
		c.metrics.ObserveFallback(observability.StageGrade, "generation_error")
		c.metrics.ObserveGenerationError(llm.PurposeGrade, errorCode(err))
		c.logger.Warn("grading failed, using default directive",
			"session_id", s.ID,
			"answer", policy.LogPreview(answer, 80),
			"err", err,
		)
		return Directive{Difficulty: session.DifficultyMedium, Critique: ContinueCritique, Fallback: true}
	}

	d := parseDirective(raw, prior)
	if d.Fallback {
		c.metrics.ObserveFallback(observability.StageGrade, "unparsed_directive")
	}
	c.logger.Debug("graded answer",
		"session_id", s.ID,
		"difficulty", d.Difficulty,
		"critique", d.Critique,
	)
	return d
}

// parseDirective splits a DIFFICULTY|CRITIQUE line on the first separator.
// A missing separator or an unknown difficulty keeps the prior difficulty.
func parseDirective(raw string, prior session.Difficulty) Directive {
	raw = strings.TrimSpace(raw)
	head, tail, found := strings.Cut(raw, "|")
	if !found {
		critique := raw
		if critique == "" {
			critique = ContinueCritique
		}
		return Directive{Difficulty: prior, Critique: critique, Fallback: true}
	}

	d := Directive{Difficulty: prior, Critique: strings.TrimSpace(tail)}
	if parsed, ok := session.ParseDifficulty(head); ok {
		d.Difficulty = parsed
	} else {
		d.Fallback = true
	}
	if d.Critique == "" {
		d.Critique = ContinueCritique
	}
	return d
}
