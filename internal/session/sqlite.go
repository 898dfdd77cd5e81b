package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore persists interview sessions in a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; transactions serialize on the single connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS interview_sessions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		job_description TEXT NOT NULL DEFAULT '',
		resume_text TEXT NOT NULL DEFAULT '',
		difficulty TEXT NOT NULL,
		critique TEXT NOT NULL DEFAULT '',
		turn_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_interview_sessions_owner ON interview_sessions(owner_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS interview_utterances (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		speaker TEXT NOT NULL,
		text TEXT NOT NULL,
		seed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		UNIQUE (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES interview_sessions(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, sess Session) (Session, error) {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO interview_sessions (id, owner_id, job_description, resume_text, difficulty, critique, turn_count, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sess.ID, sess.OwnerID, sess.JobDescription, sess.ResumeText, string(sess.Difficulty), sess.Critique,
			sess.TurnCount, string(sess.Status), sess.CreatedAt, sess.UpdatedAt)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
				return ErrSessionExists
			}
			return err
		}
		transcript := sess.Transcript
		sess.Transcript = nil
		for _, u := range transcript {
			u = prepareUtterance(u, len(sess.Transcript))
			if err := s.insertUtterance(ctx, tx, sess.ID, u); err != nil {
				return err
			}
			sess.Transcript = append(sess.Transcript, u)
		}
		return nil
	})
	if err != nil {
		return Session{}, mapSQLError("create session", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, u Utterance) (Utterance, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.status(ctx, tx, sessionID); err != nil {
			return err
		}
		seq, err := s.nextSeq(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		u = prepareUtterance(u, seq)
		if err := s.insertUtterance(ctx, tx, sessionID, u); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE interview_sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), sessionID)
		return err
	})
	if err != nil {
		return Utterance{}, mapSQLError("append utterance", err)
	}
	return u, nil
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (Session, error) {
	var (
		sess       Session
		difficulty string
		status     string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, job_description, resume_text, difficulty, critique, turn_count, status, created_at, updated_at
		FROM interview_sessions WHERE id = ?
	`, sessionID).Scan(&sess.ID, &sess.OwnerID, &sess.JobDescription, &sess.ResumeText, &difficulty, &sess.Critique,
		&sess.TurnCount, &status, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return Session{}, mapSQLError("get session", err)
	}
	sess.Difficulty = Difficulty(difficulty)
	sess.Status = Status(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, speaker, text, seed, created_at
		FROM interview_utterances WHERE session_id = ? ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return Session{}, mapSQLError("query transcript", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			u       Utterance
			speaker string
		)
		if err := rows.Scan(&u.ID, &u.Seq, &speaker, &u.Text, &u.Seed, &u.CreatedAt); err != nil {
			return Session{}, mapSQLError("scan utterance", err)
		}
		u.Speaker = Speaker(speaker)
		sess.Transcript = append(sess.Transcript, u)
	}
	if err := rows.Err(); err != nil {
		return Session{}, mapSQLError("iterate utterances", err)
	}
	return sess, nil
}

func (s *SQLiteStore) SetControl(ctx context.Context, sessionID string, difficulty Difficulty, critique string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE interview_sessions SET difficulty = ?, critique = ?, updated_at = ? WHERE id = ?
	`, string(difficulty), critique, time.Now().UTC(), sessionID)
	if err != nil {
		return mapSQLError("set control", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) CommitTurn(ctx context.Context, sessionID string, c TurnCommit) (Session, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		status, err := s.status(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if status == StatusCompleted {
			return ErrInvalidState
		}
		seq, err := s.nextSeq(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if c.Candidate != nil {
			if err := s.insertUtterance(ctx, tx, sessionID, prepareUtterance(*c.Candidate, seq)); err != nil {
				return err
			}
			seq++
		}
		if err := s.insertUtterance(ctx, tx, sessionID, prepareUtterance(c.Interviewer, seq)); err != nil {
			return err
		}
		if c.Difficulty != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE interview_sessions SET difficulty = ?, critique = ? WHERE id = ?`,
				string(c.Difficulty), c.Critique, sessionID); err != nil {
				return err
			}
		}
		next := status
		if next == StatusAwaitingFirstTurn {
			next = StatusActive
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE interview_sessions SET turn_count = turn_count + 1, status = ?, updated_at = ? WHERE id = ?
		`, string(next), time.Now().UTC(), sessionID)
		return err
	})
	if err != nil {
		return Session{}, mapSQLError("commit turn", err)
	}
	return s.Get(ctx, sessionID)
}

func (s *SQLiteStore) MarkCompleted(ctx context.Context, sessionID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		status, err := s.status(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if status == StatusCompleted {
			return ErrInvalidState
		}
		_, err = tx.ExecContext(ctx, `UPDATE interview_sessions SET status = ?, updated_at = ? WHERE id = ?`,
			string(StatusCompleted), time.Now().UTC(), sessionID)
		return err
	})
	if err != nil {
		return mapSQLError("mark completed", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, ownerID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, status, turn_count, created_at, updated_at
		FROM interview_sessions WHERE (? = '' OR owner_id = ?) ORDER BY created_at DESC LIMIT ?
	`, ownerID, ownerID, limit)
	if err != nil {
		return nil, mapSQLError("list sessions", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum    Summary
			status string
		)
		if err := rows.Scan(&sum.ID, &sum.OwnerID, &status, &sum.TurnCount, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, mapSQLError("scan session", err)
		}
		sum.Status = Status(status)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLError("iterate sessions", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) status(ctx context.Context, tx *sql.Tx, sessionID string) (Status, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM interview_sessions WHERE id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(status), nil
}

func (s *SQLiteStore) nextSeq(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	var seq int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq) + 1, 0) FROM interview_utterances WHERE session_id = ?`, sessionID).Scan(&seq)
	return seq, err
}

func (s *SQLiteStore) insertUtterance(ctx context.Context, tx *sql.Tx, sessionID string, u Utterance) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO interview_utterances (id, session_id, seq, speaker, text, seed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, sessionID, u.Seq, string(u.Speaker), u.Text, u.Seed, u.CreatedAt)
	return err
}

func mapSQLError(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, ErrSessionNotFound):
		return ErrSessionNotFound
	case errors.Is(err, ErrSessionExists), errors.Is(err, ErrInvalidState):
		return err
	default:
		return persistenceError(op, err)
	}
}
