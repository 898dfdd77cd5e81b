package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists interview sessions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS interview_sessions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			job_description TEXT NOT NULL DEFAULT '',
			resume_text TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL,
			critique TEXT NOT NULL DEFAULT '',
			turn_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interview_sessions_owner_created ON interview_sessions (owner_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS interview_utterances (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES interview_sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			seed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (session_id, seq)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, sess Session) (Session, error) {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO interview_sessions (id, owner_id, job_description, resume_text, difficulty, critique, turn_count, status, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			sess.ID, sess.OwnerID, sess.JobDescription, sess.ResumeText,
			string(sess.Difficulty), sess.Critique, sess.TurnCount, string(sess.Status),
			sess.CreatedAt, sess.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrSessionExists
			}
			return err
		}
		transcript := sess.Transcript
		sess.Transcript = nil
		for _, u := range transcript {
			u = prepareUtterance(u, len(sess.Transcript))
			if err := insertUtterance(ctx, tx, sess.ID, u); err != nil {
				return err
			}
			sess.Transcript = append(sess.Transcript, u)
		}
		return nil
	})
	if err != nil {
		return Session{}, s.mapError("create session", err)
	}
	return sess, nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID string, u Utterance) (Utterance, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockSession(ctx, tx, sessionID); err != nil {
			return err
		}
		seq, err := nextSeq(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		u = prepareUtterance(u, seq)
		if err := insertUtterance(ctx, tx, sessionID, u); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE interview_sessions SET updated_at=$2 WHERE id=$1`, sessionID, time.Now().UTC())
		return err
	})
	if err != nil {
		return Utterance{}, s.mapError("append utterance", err)
	}
	return u, nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (Session, error) {
	var (
		sess       Session
		difficulty string
		status     string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, job_description, resume_text, difficulty, critique, turn_count, status, created_at, updated_at
		 FROM interview_sessions WHERE id=$1`,
		sessionID,
	).Scan(&sess.ID, &sess.OwnerID, &sess.JobDescription, &sess.ResumeText, &difficulty, &sess.Critique,
		&sess.TurnCount, &status, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return Session{}, s.mapError("get session", err)
	}
	sess.Difficulty = Difficulty(difficulty)
	sess.Status = Status(status)

	rows, err := s.pool.Query(ctx,
		`SELECT id, seq, speaker, text, seed, created_at
		 FROM interview_utterances WHERE session_id=$1 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return Session{}, s.mapError("query transcript", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			u       Utterance
			speaker string
		)
		if err := rows.Scan(&u.ID, &u.Seq, &speaker, &u.Text, &u.Seed, &u.CreatedAt); err != nil {
			return Session{}, s.mapError("scan utterance row", err)
		}
		u.Speaker = Speaker(speaker)
		sess.Transcript = append(sess.Transcript, u)
	}
	if err := rows.Err(); err != nil {
		return Session{}, s.mapError("iterate utterance rows", err)
	}
	return sess, nil
}

func (s *PostgresStore) SetControl(ctx context.Context, sessionID string, difficulty Difficulty, critique string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE interview_sessions SET difficulty=$2, critique=$3, updated_at=$4 WHERE id=$1`,
		sessionID, string(difficulty), critique, time.Now().UTC(),
	)
	if err != nil {
		return s.mapError("set control", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) CommitTurn(ctx context.Context, sessionID string, c TurnCommit) (Session, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		status, err := lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if status == StatusCompleted {
			return ErrInvalidState
		}
		seq, err := nextSeq(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if c.Candidate != nil {
			if err := insertUtterance(ctx, tx, sessionID, prepareUtterance(*c.Candidate, seq)); err != nil {
				return err
			}
			seq++
		}
		if err := insertUtterance(ctx, tx, sessionID, prepareUtterance(c.Interviewer, seq)); err != nil {
			return err
		}
		if c.Difficulty != "" {
			if _, err := tx.Exec(ctx,
				`UPDATE interview_sessions SET difficulty=$2, critique=$3 WHERE id=$1`,
				sessionID, string(c.Difficulty), c.Critique,
			); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx,
			`UPDATE interview_sessions
			 SET turn_count = turn_count + 1,
			     status = CASE WHEN status = $2 THEN $3 ELSE status END,
			     updated_at = $4
			 WHERE id=$1`,
			sessionID, string(StatusAwaitingFirstTurn), string(StatusActive), time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return Session{}, s.mapError("commit turn", err)
	}
	return s.Get(ctx, sessionID)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, sessionID string) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		status, err := lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if status == StatusCompleted {
			return ErrInvalidState
		}
		_, err = tx.Exec(ctx,
			`UPDATE interview_sessions SET status=$2, updated_at=$3 WHERE id=$1`,
			sessionID, string(StatusCompleted), time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return s.mapError("mark completed", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, ownerID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, status, turn_count, created_at, updated_at
		 FROM interview_sessions WHERE ($1 = '' OR owner_id=$1) ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, s.mapError("list sessions", err)
	}
	defer rows.Close()

	out := make([]Summary, 0, limit)
	for rows.Next() {
		var (
			sum    Summary
			status string
		)
		if err := rows.Scan(&sum.ID, &sum.OwnerID, &status, &sum.TurnCount, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, s.mapError("scan session row", err)
		}
		sum.Status = Status(status)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapError("iterate session rows", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) mapError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, ErrSessionNotFound):
		return ErrSessionNotFound
	case errors.Is(err, ErrSessionExists), errors.Is(err, ErrInvalidState):
		return err
	default:
		return persistenceError(op, err)
	}
}

func lockSession(ctx context.Context, tx pgx.Tx, sessionID string) (Status, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM interview_sessions WHERE id=$1 FOR UPDATE`, sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(status), nil
}

func nextSeq(ctx context.Context, tx pgx.Tx, sessionID string) (int, error) {
	var seq int
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM interview_utterances WHERE session_id=$1`,
		sessionID,
	).Scan(&seq)
	return seq, err
}

func insertUtterance(ctx context.Context, tx pgx.Tx, sessionID string, u Utterance) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO interview_utterances (id, session_id, seq, speaker, text, seed, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, sessionID, u.Seq, string(u.Speaker), u.Text, u.Seed, u.CreatedAt,
	)
	return err
}
