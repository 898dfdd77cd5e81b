package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps sessions in process memory for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*Session)}
}

func (m *InMemoryStore) Create(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return Session{}, ErrSessionExists
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	transcript := s.Transcript
	s.Transcript = nil
	for _, u := range transcript {
		s.Transcript = append(s.Transcript, prepareUtterance(u, len(s.Transcript)))
	}
	m.sessions[s.ID] = clone(&s)
	return *clone(&s), nil
}

func (m *InMemoryStore) Append(_ context.Context, sessionID string, u Utterance) (Utterance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Utterance{}, ErrSessionNotFound
	}
	u = prepareUtterance(u, len(s.Transcript))
	s.Transcript = append(s.Transcript, u)
	s.UpdatedAt = time.Now().UTC()
	return u, nil
}

func (m *InMemoryStore) Get(_ context.Context, sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *clone(s), nil
}

func (m *InMemoryStore) SetControl(_ context.Context, sessionID string, difficulty Difficulty, critique string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Difficulty = difficulty
	s.Critique = critique
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *InMemoryStore) CommitTurn(_ context.Context, sessionID string, c TurnCommit) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if s.Status == StatusCompleted {
		return Session{}, ErrInvalidState
	}
	if c.Candidate != nil {
		s.Transcript = append(s.Transcript, prepareUtterance(*c.Candidate, len(s.Transcript)))
	}
	if c.Difficulty != "" {
		s.Difficulty, s.Critique = c.Difficulty, c.Critique
	}
	s.Transcript = append(s.Transcript, prepareUtterance(c.Interviewer, len(s.Transcript)))
	s.TurnCount++
	if s.Status == StatusAwaitingFirstTurn {
		s.Status = StatusActive
	}
	s.UpdatedAt = time.Now().UTC()
	return *clone(s), nil
}

func (m *InMemoryStore) MarkCompleted(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status == StatusCompleted {
		return ErrInvalidState
	}
	s.Status = StatusCompleted
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *InMemoryStore) List(_ context.Context, ownerID string, limit int) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0)
	for _, s := range m.sessions {
		if ownerID != "" && s.OwnerID != ownerID {
			continue
		}
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *InMemoryStore) Close() error { return nil }
