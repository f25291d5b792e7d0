package invoiceflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists threads in PostgreSQL for deployments where
// several API replicas share one durable backend. Checkpoint and
// transition land in a single transaction, same contract as the SQLite
// store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects with the given DSN and runs migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	step_index     INTEGER NOT NULL,
	payload        JSONB NOT NULL,
	attempt_counts JSONB NOT NULL,
	error          JSONB,
	pending_review JSONB,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threads_status ON threads(status);

CREATE TABLE IF NOT EXISTS transitions (
	thread_id TEXT NOT NULL REFERENCES threads(id),
	seq       INTEGER NOT NULL,
	step      TEXT NOT NULL,
	outcome   TEXT NOT NULL,
	status    TEXT NOT NULL,
	detail    TEXT NOT NULL DEFAULT '',
	at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (thread_id, seq)
);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateThread(ctx context.Context, thread *Thread, transition *Transition) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		payload, counts, threadErr, review, err := encodeThreadColumns(thread)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO threads (id, status, step_index, payload, attempt_counts, error, pending_review, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			thread.ID, string(thread.Status), thread.StepIndex, payload, counts, threadErr, review,
			thread.CreatedAt.UTC(), thread.UpdatedAt.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return NewConflictError(thread.ID, "thread already exists")
			}
			return fmt.Errorf("insert thread: %w", err)
		}
		return insertTransitionPostgres(ctx, tx, transition)
	})
}

func (s *PostgresStore) SaveThread(ctx context.Context, thread *Thread, transition *Transition) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		payload, counts, threadErr, review, err := encodeThreadColumns(thread)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
UPDATE threads
SET status = $1, step_index = $2, payload = $3, attempt_counts = $4, error = $5, pending_review = $6, updated_at = $7
WHERE id = $8`,
			string(thread.Status), thread.StepIndex, payload, counts, threadErr, review,
			thread.UpdatedAt.UTC(), thread.ID)
		if err != nil {
			return fmt.Errorf("update thread: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update thread: %w", err)
		}
		if affected == 0 {
			return NewNotFoundError(thread.ID)
		}
		return insertTransitionPostgres(ctx, tx, transition)
	})
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, status, step_index, payload::text, attempt_counts::text, error::text, pending_review::text, created_at, updated_at
FROM threads WHERE id = $1`, threadID)
	thread, err := scanThreadPostgres(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError(threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return thread, nil
}

func (s *PostgresStore) ListThreads(ctx context.Context, status Status) ([]*Thread, error) {
	query := `
SELECT id, status, step_index, payload::text, attempt_counts::text, error::text, pending_review::text, created_at, updated_at
FROM threads`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		thread, err := scanThreadPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("list threads: %w", err)
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return threads, nil
}

func (s *PostgresStore) Transitions(ctx context.Context, threadID string) ([]*Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT thread_id, seq, step, outcome, status, detail, at
FROM transitions WHERE thread_id = $1 ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*Transition
	for rows.Next() {
		var t Transition
		var status string
		if err := rows.Scan(&t.ThreadID, &t.Seq, &t.Step, &t.Outcome, &status, &t.Detail, &t.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Status = Status(status)
		transitions = append(transitions, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	return transitions, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func insertTransitionPostgres(ctx context.Context, tx *sql.Tx, transition *Transition) error {
	if transition == nil {
		return nil
	}
	var seq int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM transitions WHERE thread_id = $1`,
		transition.ThreadID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next transition seq: %w", err)
	}
	transition.Seq = seq
	_, err = tx.ExecContext(ctx, `
INSERT INTO transitions (thread_id, seq, step, outcome, status, detail, at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		transition.ThreadID, transition.Seq, transition.Step, transition.Outcome,
		string(transition.Status), transition.Detail, transition.At.UTC())
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

func scanThreadPostgres(row scanner) (*Thread, error) {
	var t Thread
	var status, payload, counts string
	var threadErr, review sql.NullString

	err := row.Scan(&t.ID, &status, &t.StepIndex, &payload, &counts, &threadErr, &review, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	if err := json.Unmarshal([]byte(payload), &t.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal([]byte(counts), &t.AttemptCounts); err != nil {
		return nil, fmt.Errorf("decode attempt counts: %w", err)
	}
	if threadErr.Valid {
		t.Error = &ThreadError{}
		if err := json.Unmarshal([]byte(threadErr.String), t.Error); err != nil {
			return nil, fmt.Errorf("decode thread error: %w", err)
		}
	}
	if review.Valid {
		t.PendingReview = &PendingReview{}
		if err := json.Unmarshal([]byte(review.String), t.PendingReview); err != nil {
			return nil, fmt.Errorf("decode pending review: %w", err)
		}
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
