package records

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	require.NoError(t, s.Create(ctx, Record{ID: "i-1", OwnerID: "u-1", JobDescription: "Backend Engineer"}))
	require.Error(t, s.Create(ctx, Record{ID: "i-1", OwnerID: "u-1"}))

	r, err := s.Get(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, r.Status)
	assert.Nil(t, r.OverallScore)

	require.NoError(t, s.Complete(ctx, "i-1", Completion{
		Feedback:     json.RawMessage(`{"overall_summary":{"final_verdict":"HIRE"}}`),
		Transcript:   "Alex: How can we reach you?\nCandidate: jane@example.com",
		OverallScore: 7,
	}))
	r, err = s.Get(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	require.NotNil(t, r.OverallScore)
	assert.Equal(t, 7, *r.OverallScore)
	assert.True(t, r.PIIRedacted)
	assert.NotContains(t, r.Transcript, "jane@example.com")
	assert.JSONEq(t, `{"overall_summary":{"final_verdict":"HIRE"}}`, string(r.Feedback))

	require.ErrorIs(t, s.Complete(ctx, "missing", Completion{}), ErrNotFound)
	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSummarize(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, time.March, d, 10, 0, 0, 0, time.UTC) }
	score := func(v int) *int { return &v }

	got := Summarize([]Record{
		{ID: "b", Status: StatusCompleted, OverallScore: score(8), CreatedAt: day(5)},
		{ID: "a", Status: StatusCompleted, OverallScore: score(5), CreatedAt: day(2)},
		{ID: "c", Status: StatusInProgress, CreatedAt: day(6)},
		{ID: "d", Status: StatusCompleted, CreatedAt: day(7)},
	})

	assert.Equal(t, 3, got.TotalSessions)
	assert.Equal(t, 4.3, got.AverageScore)
	require.Len(t, got.History, 3)
	assert.Equal(t, HistoryPoint{Date: "Mar 02", Score: 5, Role: "Interview Session"}, got.History[0])
	assert.Equal(t, 0, got.History[2].Score)
}

func TestSummarizeEmpty(t *testing.T) {
	got := Summarize(nil)
	assert.Equal(t, 0, got.TotalSessions)
	assert.Equal(t, 0.0, got.AverageScore)
	assert.NotNil(t, got.History)
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)
}
