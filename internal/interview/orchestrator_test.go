package interview

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/interviewer/internal/llm"
	"github.com/ent0n29/interviewer/internal/observability"
	"github.com/ent0n29/interviewer/internal/session"
)

func newTestOrchestrator(t *testing.T, client llm.Client) (*Orchestrator, session.Store) {
	t.Helper()
	store := session.NewInMemoryStore()
	o := NewOrchestrator(store, client, nil, Options{
		ChatTemperature:   0.7,
		ReportTemperature: 0.1,
		Metrics:           observability.NewMetrics("interviewer_test"),
	})
	return o, store
}

func startSession(t *testing.T, o *Orchestrator) string {
	t.Helper()
	res, err := o.Start(context.Background(), StartRequest{
		OwnerID:        "owner-1",
		JobDescription: "Backend Engineer",
		ResumeText:     "5 yrs Go, built a cache layer",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	return res.SessionID
}

func TestEndToEndInterview(t *testing.T) {
	client := newFakeClient()
	client.grade = func(string) (string, error) { return "Hard|Move to advanced topic", nil }
	o, _ := newTestOrchestrator(t, client)
	ctx := context.Background()

	start, err := o.Start(ctx, StartRequest{
		OwnerID:        "owner-1",
		JobDescription: "Backend Engineer",
		ResumeText:     "5 yrs Go, built a cache layer",
	})
	require.NoError(t, err)
	assert.Contains(t, start.Greeting, "cache layer")
	assert.Equal(t, 0, client.count(llm.PurposeGrade), "first turn must not call the grader")

	var got collector
	turn, err := o.Turn(ctx, start.SessionID, "I used an LRU cache with sharding", got.sink)
	require.NoError(t, err)
	assert.Equal(t, session.DifficultyHard, turn.Difficulty)
	assert.Greater(t, len(got.fragments), 1, "response should arrive in several fragments")
	assert.Equal(t, turn.Text, strings.TrimSpace(got.text()))
	assert.Contains(t, turn.Text, "cache layer")

	s, err := o.Get(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.DifficultyHard, s.Difficulty)
	assert.Equal(t, "Move to advanced topic", s.Critique)

	end, err := o.End(ctx, start.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, end.Report.QuestionAnalysis)
	assert.False(t, end.Report.Degraded)
	assert.Equal(t, session.StatusCompleted, end.Session.Status)
	require.Len(t, end.Transcript, 3)
	assert.NotContains(t, end.RenderedTranscript, SeedUtterance)
	assert.True(t, strings.HasPrefix(end.RenderedTranscript, "Alex: "))
	assert.Contains(t, end.RenderedTranscript, "Candidate: I used an LRU cache with sharding")

	stored, err := o.Get(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, stored.Status)
}

func TestTurnCountTracksInterviewerUtterances(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeClient())
	ctx := context.Background()
	id := startSession(t, o)

	s, err := o.Get(ctx, id)
	require.NoError(t, err)
	base := s.TurnCount
	assert.Equal(t, 1, base)

	answers := []string{"Redis", "I don't know", "I partitioned keys by tenant and replicated hot shards across zones"}
	for i, a := range answers {
		res, err := o.Interact(ctx, id, a)
		require.NoError(t, err)
		assert.Equal(t, base+i+1, res.TurnCount)
	}

	s, err = o.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, base+len(answers), s.TurnCount)
	assert.Equal(t, s.TurnCount, s.InterviewerTurns())
}

func TestGradingFailureStillCompletesTurn(t *testing.T) {
	client := newFakeClient()
	client.grade = func(string) (string, error) { return "", errUpstream }
	o, _ := newTestOrchestrator(t, client)
	ctx := context.Background()
	id := startSession(t, o)

	res, err := o.Interact(ctx, id, "I'd use a write-through cache")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Text)
	assert.Equal(t, session.DifficultyMedium, res.Difficulty)

	s, err := o.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ContinueCritique, s.Critique)
	assert.Equal(t, 2, s.TurnCount)
	assert.Equal(t, session.SpeakerInterviewer, s.Transcript[len(s.Transcript)-1].Speaker)
}

func TestMidStreamFailureCommitsPartialText(t *testing.T) {
	client := newFakeClient()
	client.stream = streamThenFail("Tell me ", "about your ")
	o, _ := newTestOrchestrator(t, client)
	ctx := context.Background()
	id := startSession(t, o)

	var got collector
	res, err := o.Turn(ctx, id, "I built a cache", got.sink)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"Tell me ", "about your ", ApologyFragment}, got.fragments)
	assert.Equal(t, "Tell me about your", res.Text)

	s, err := o.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TurnCount)
	assert.Equal(t, "Tell me about your", s.Transcript[len(s.Transcript)-1].Text)
}

func TestFailureBeforeFirstFragmentCommitsApology(t *testing.T) {
	client := newFakeClient()
	client.stream = streamThenFail()
	o, _ := newTestOrchestrator(t, client)
	ctx := context.Background()
	id := startSession(t, o)

	var got collector
	res, err := o.Turn(ctx, id, "I built a cache", got.sink)
	require.NoError(t, err)
	assert.Equal(t, []string{ApologyFragment}, got.fragments)
	assert.Equal(t, ApologyFragment, res.Text)

	s, err := o.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TurnCount)
	last := s.Transcript[len(s.Transcript)-1]
	assert.Equal(t, session.SpeakerInterviewer, last.Speaker)
	assert.Equal(t, ApologyFragment, last.Text)
}

func TestCallerDisconnectCommitsHeardText(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeClient())
	id := startSession(t, o)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := collector{hangUpAt: 2, onHangUp: cancel}
	res, err := o.Turn(ctx, id, "I used consistent hashing for the shards", got.sink)
	require.NoError(t, err)
	assert.True(t, res.Disconnected)
	assert.Len(t, got.fragments, 2)
	assert.Equal(t, strings.TrimSpace(got.text()), res.Text)

	s, err := o.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TurnCount)
	assert.Equal(t, res.Text, s.Transcript[len(s.Transcript)-1].Text)
}

func TestSilentTurnUsesSentinel(t *testing.T) {
	client := newFakeClient()
	var prompt string
	client.grade = func(p string) (string, error) {
		prompt = p
		return "Easy|Check in on candidate gently.", nil
	}
	o, _ := newTestOrchestrator(t, client)
	ctx := context.Background()
	id := startSession(t, o)

	_, err := o.Interact(ctx, id, "   ")
	require.NoError(t, err)
	assert.Contains(t, prompt, `latest answer: "`+SilenceSentinel+`"`)

	s, err := o.Get(ctx, id)
	require.NoError(t, err)
	last, ok := s.LastCandidate()
	require.True(t, ok)
	assert.Equal(t, SilenceSentinel, last.Text)
}

func TestEndStateErrors(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeClient())
	ctx := context.Background()

	_, err := o.End(ctx, "missing")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	_, err = o.Turn(ctx, "missing", "hi", nil)
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	id := startSession(t, o)
	_, err = o.End(ctx, id)
	require.NoError(t, err)

	_, err = o.End(ctx, id)
	require.ErrorIs(t, err, session.ErrInvalidState)
	_, err = o.Turn(ctx, id, "one more thing", nil)
	require.ErrorIs(t, err, session.ErrInvalidState)
}

func TestMalformedReportStillCompletesSession(t *testing.T) {
	client := newFakeClient()
	client.report = func() (string, error) { return `{"overall_summary": [oops`, nil }
	o, _ := newTestOrchestrator(t, client)
	ctx := context.Background()
	id := startSession(t, o)

	end, err := o.End(ctx, id)
	require.NoError(t, err)
	assert.True(t, end.Report.Degraded)
	assert.Equal(t, "Analysis Failed", end.Report.OverallSummary.FinalVerdict)
	assert.Empty(t, end.Report.QuestionAnalysis)

	s, err := o.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, s.Status)
}

func TestStartWithDuplicateIDFails(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeClient())
	ctx := context.Background()
	_, err := o.Start(ctx, StartRequest{SessionID: "fixed", OwnerID: "o"})
	require.NoError(t, err)
	_, err = o.Start(ctx, StartRequest{SessionID: "fixed", OwnerID: "o"})
	require.ErrorIs(t, err, session.ErrSessionExists)
}

func TestTurnsOnSameSessionAreSerialized(t *testing.T) {
	client := newFakeClient()
	var inFlight, maxInFlight atomic.Int32
	client.grade = func(string) (string, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "Medium|Probe for details.", nil
	}
	o, _ := newTestOrchestrator(t, client)
	ctx := context.Background()
	id := startSession(t, o)

	const turns = 8
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Interact(ctx, id, "an answer with a handful of words in it")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	s, err := o.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, turns+1, s.TurnCount)
	assert.Equal(t, s.TurnCount, s.InterviewerTurns())

	// Transcript alternates strictly after the seed.
	for i, u := range s.VisibleTranscript() {
		want := session.SpeakerInterviewer
		if i%2 == 1 {
			want = session.SpeakerCandidate
		}
		assert.Equal(t, want, u.Speaker, "utterance %d", i)
	}
	assert.Equal(t, 0, o.locks.size())
}

// flakyStore fails the next write of the armed kind with ErrPersistence.
type flakyStore struct {
	session.Store
	failCreate atomic.Bool
	failCommit atomic.Bool
}

func (f *flakyStore) Create(ctx context.Context, s session.Session) (session.Session, error) {
	if f.failCreate.CompareAndSwap(true, false) {
		return session.Session{}, fmt.Errorf("create session: %w", session.ErrPersistence)
	}
	return f.Store.Create(ctx, s)
}

func (f *flakyStore) CommitTurn(ctx context.Context, sessionID string, c session.TurnCommit) (session.Session, error) {
	if f.failCommit.CompareAndSwap(true, false) {
		return session.Session{}, fmt.Errorf("commit turn: %w", session.ErrPersistence)
	}
	return f.Store.CommitTurn(ctx, sessionID, c)
}

func newFlakyOrchestrator(t *testing.T, client llm.Client) (*Orchestrator, *flakyStore) {
	t.Helper()
	store := &flakyStore{Store: session.NewInMemoryStore()}
	return NewOrchestrator(store, client, nil, Options{}), store
}

func TestFailedTurnCommitLeavesSessionUnchanged(t *testing.T) {
	o, store := newFlakyOrchestrator(t, newFakeClient())
	ctx := context.Background()
	id := startSession(t, o)

	before, err := o.Get(ctx, id)
	require.NoError(t, err)

	store.failCommit.Store(true)
	_, err = o.Turn(ctx, id, "LRU cache", nil)
	require.ErrorIs(t, err, session.ErrPersistence)

	after, err := o.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.TurnCount, after.TurnCount)
	assert.Equal(t, before.Difficulty, after.Difficulty)
	assert.Equal(t, before.Critique, after.Critique)
	assert.Len(t, after.Transcript, len(before.Transcript))

	res, err := o.Turn(ctx, id, "LRU cache", nil)
	require.NoError(t, err)
	assert.Equal(t, before.TurnCount+1, res.TurnCount)

	final, err := o.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, final.Transcript, len(before.Transcript)+2)
	candidates := 0
	for _, u := range final.Transcript {
		if u.Speaker == session.SpeakerCandidate && u.Text == "LRU cache" {
			candidates++
		}
	}
	assert.Equal(t, 1, candidates)
	assert.Equal(t, final.TurnCount, final.InterviewerTurns())
}

func TestFailedStartLeavesNoSession(t *testing.T) {
	o, store := newFlakyOrchestrator(t, newFakeClient())
	ctx := context.Background()

	store.failCreate.Store(true)
	_, err := o.Start(ctx, StartRequest{SessionID: "fixed", OwnerID: "o"})
	require.ErrorIs(t, err, session.ErrPersistence)

	_, err = o.Get(ctx, "fixed")
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	res, err := o.Start(ctx, StartRequest{SessionID: "fixed", OwnerID: "o"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Greeting)

	s, err := o.Get(ctx, "fixed")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, s.Status)
	assert.Equal(t, 1, s.TurnCount)
	require.Len(t, s.Transcript, 2)
	assert.True(t, s.Transcript[0].Seed)
	assert.Equal(t, session.SpeakerInterviewer, s.Transcript[1].Speaker)

	_, err = o.End(ctx, "fixed")
	require.NoError(t, err)
}
