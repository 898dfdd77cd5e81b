package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Store persists interview sessions. Appends are ordered and every method
// returns ErrSessionNotFound for unknown ids.
type Store interface {
	Create(ctx context.Context, s Session) (Session, error)
	Append(ctx context.Context, sessionID string, u Utterance) (Utterance, error)
	Get(ctx context.Context, sessionID string) (Session, error)
	SetControl(ctx context.Context, sessionID string, difficulty Difficulty, critique string) error
	// CommitTurn writes the candidate answer, the directive and the interviewer
	// reply and bumps TurnCount. Either all of it lands or none of it does.
	CommitTurn(ctx context.Context, sessionID string, c TurnCommit) (Session, error)
	MarkCompleted(ctx context.Context, sessionID string) error
	List(ctx context.Context, ownerID string, limit int) ([]Summary, error)
	Close() error
}

// NewStore picks a backend from the DSN scheme: empty means in-memory,
// postgres:// or postgresql:// means PostgreSQL, sqlite:// means a local file.
func NewStore(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || dsn == "memory":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	default:
		return nil, fmt.Errorf("unsupported session store dsn %q", dsn)
	}
}

func prepareUtterance(u Utterance, seq int) Utterance {
	if u.ID == "" {
		u.ID = ulid.Make().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Seq = seq
	return u
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrPersistence, err)
}
