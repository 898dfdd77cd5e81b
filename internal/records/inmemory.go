package records

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/interviewer/internal/policy"
)

// InMemoryStore is a simple in-process record store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) Create(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("record %q already exists", r.ID)
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = StatusInProgress
	}
	s.records[r.ID] = r
	return nil
}

func (s *InMemoryStore) Complete(_ context.Context, id string, c Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	transcript, redacted := policy.RedactPII(c.Transcript)
	score := c.OverallScore
	r.Status = StatusCompleted
	r.Feedback = append([]byte(nil), c.Feedback...)
	r.Transcript = transcript
	r.PIIRedacted = redacted
	r.OverallScore = &score
	r.UpdatedAt = time.Now().UTC()
	s.records[id] = r
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, ownerID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range s.records {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
