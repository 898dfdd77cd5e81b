package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/interviewer/internal/policy"
)

// PostgresStore persists interview records in PostgreSQL.
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
		`CREATE TABLE IF NOT EXISTS interview_records (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			job_description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'IN_PROGRESS',
			feedback JSONB,
			transcript TEXT NOT NULL DEFAULT '',
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			overall_score INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interview_records_owner_created ON interview_records (owner_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, r Record) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.Status == "" {
		r.Status = StatusInProgress
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO interview_records (id, owner_id, job_description, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID,
		r.OwnerID,
		r.JobDescription,
		string(r.Status),
		r.CreatedAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, c Completion) error {
	transcript, redacted := policy.RedactPII(c.Transcript)
	var feedback any
	if len(c.Feedback) > 0 {
		feedback = string(c.Feedback)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE interview_records
		 SET status=$2, feedback=$3::jsonb, transcript=$4, pii_redacted=$5, overall_score=$6, updated_at=now()
		 WHERE id=$1`,
		id,
		string(StatusCompleted),
		feedback,
		transcript,
		redacted,
		c.OverallScore,
	)
	if err != nil {
		return fmt.Errorf("complete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `id, owner_id, job_description, status, feedback, transcript, pii_redacted, overall_score, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM interview_records WHERE id=$1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM interview_records WHERE owner_id=$1 ORDER BY created_at ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return items, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r        Record
		status   string
		feedback []byte
		score    *int32
	)
	if err := row.Scan(&r.ID, &r.OwnerID, &r.JobDescription, &status, &feedback, &r.Transcript, &r.PIIRedacted, &score, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Record{}, err
	}
	r.Status = Status(status)
	if len(feedback) > 0 {
		r.Feedback = feedback
	}
	if score != nil {
		v := int(*score)
		r.OverallScore = &v
	}
	return r, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
