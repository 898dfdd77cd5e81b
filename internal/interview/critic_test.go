package interview

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/interviewer/internal/session"
)

func seededSession(difficulty session.Difficulty, extra ...session.Utterance) session.Session {
	s := session.Session{
		ID:         "s-1",
		Difficulty: difficulty,
		Status:     session.StatusActive,
		Transcript: []session.Utterance{{Speaker: session.SpeakerCandidate, Text: SeedUtterance, Seed: true}},
	}
	s.Transcript = append(s.Transcript, extra...)
	return s
}

func TestGradeFirstTurnNeverCallsClient(t *testing.T) {
	client := newFakeClient()
	client.grade = func(string) (string, error) {
		t.Fatalf("grader must not be called on the first turn")
		return "", nil
	}
	c := NewCritic(client, 0.7, nil, nil)

	for _, d := range []session.Difficulty{session.DifficultyEasy, session.DifficultyHard} {
		got := c.Grade(context.Background(), seededSession(d))
		assert.Equal(t, Directive{Difficulty: session.DifficultyMedium, Critique: StartCritique}, got)
	}
	assert.Equal(t, 0, client.count("grade"))
}

func TestGradeFailureFallsBack(t *testing.T) {
	client := newFakeClient()
	client.grade = func(string) (string, error) { return "", errUpstream }
	c := NewCritic(client, 0.7, nil, nil)

	got := c.Grade(context.Background(), seededSession(session.DifficultyHard,
		session.Utterance{Speaker: session.SpeakerInterviewer, Text: "Hi"},
		session.Utterance{Speaker: session.SpeakerCandidate, Text: "I built a cache"},
	))
	assert.Equal(t, session.DifficultyMedium, got.Difficulty)
	assert.Equal(t, ContinueCritique, got.Critique)
	assert.True(t, got.Fallback)
}

func TestGradeWithoutSeparatorKeepsDifficulty(t *testing.T) {
	client := newFakeClient()
	client.grade = func(string) (string, error) { return "The candidate seems unsure.", nil }
	c := NewCritic(client, 0.7, nil, nil)

	got := c.Grade(context.Background(), seededSession(session.DifficultyHard,
		session.Utterance{Speaker: session.SpeakerInterviewer, Text: "Hi"},
		session.Utterance{Speaker: session.SpeakerCandidate, Text: "maybe"},
	))
	assert.Equal(t, session.DifficultyHard, got.Difficulty)
	assert.Equal(t, "The candidate seems unsure.", got.Critique)
}

func TestGradePromptQuotesLatestAnswer(t *testing.T) {
	client := newFakeClient()
	var prompt string
	client.grade = func(p string) (string, error) {
		prompt = p
		return "Easy|Probe for details.", nil
	}
	c := NewCritic(client, 0.7, nil, nil)
	c.Grade(context.Background(), seededSession(session.DifficultyMedium,
		session.Utterance{Speaker: session.SpeakerInterviewer, Text: "Hi"},
		session.Utterance{Speaker: session.SpeakerCandidate, Text: "Redis"},
	))
	require.NotEmpty(t, prompt)
	assert.Contains(t, prompt, `latest answer: "Redis"`)
	assert.Contains(t, prompt, "CURRENT DIFFICULTY: Medium")
	assert.Contains(t, prompt, "DIFFICULTY|CRITIQUE")
}

func TestParseDirective(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		prior session.Difficulty
		want  Directive
	}{
		{
			name:  "well formed",
			raw:   "Hard|Move to advanced topic.",
			prior: session.DifficultyMedium,
			want:  Directive{Difficulty: session.DifficultyHard, Critique: "Move to advanced topic."},
		},
		{
			name:  "splits on first separator only",
			raw:   " easy | Probe | then hint ",
			prior: session.DifficultyHard,
			want:  Directive{Difficulty: session.DifficultyEasy, Critique: "Probe | then hint"},
		},
		{
			name:  "no separator",
			raw:   "Probe for details.",
			prior: session.DifficultyEasy,
			want:  Directive{Difficulty: session.DifficultyEasy, Critique: "Probe for details.", Fallback: true},
		},
		{
			name:  "unknown difficulty",
			raw:   "Expert|Ask about consensus.",
			prior: session.DifficultyMedium,
			want:  Directive{Difficulty: session.DifficultyMedium, Critique: "Ask about consensus.", Fallback: true},
		},
		{
			name:  "empty critique",
			raw:   "Hard|",
			prior: session.DifficultyMedium,
			want:  Directive{Difficulty: session.DifficultyHard, Critique: ContinueCritique},
		},
		{
			name:  "empty response",
			raw:   "  ",
			prior: session.DifficultyHard,
			want:  Directive{Difficulty: session.DifficultyHard, Critique: ContinueCritique, Fallback: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseDirective(tc.raw, tc.prior))
		})
	}
}
