package records

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("interview record not found")

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Record is the archived, owner-scoped view of one interview.
type Record struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	JobDescription string          `json:"job_description"`
	Status         Status          `json:"status"`
	Feedback       json.RawMessage `json:"feedback,omitempty"`
	Transcript     string          `json:"transcript,omitempty"`
	PIIRedacted    bool            `json:"pii_redacted"`
	OverallScore   *int            `json:"overall_score,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Completion carries the end-of-interview results.
type Completion struct {
	Feedback     json.RawMessage
	Transcript   string
	OverallScore int
}

// Store persists interview records.
type Store interface {
	Create(ctx context.Context, r Record) error
	Complete(ctx context.Context, id string, c Completion) error
	Get(ctx context.Context, id string) (Record, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Record, error)
	Close() error
}
