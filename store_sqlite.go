package invoiceflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists threads in a single-file SQLite database. It is the
// default durable backend: zero setup, WAL mode for concurrent reads, and
// a single writer connection so checkpoint writes serialize naturally.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path and
// runs migrations. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent checkpointing.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite (%s): %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	step_index     INTEGER NOT NULL,
	payload        TEXT NOT NULL,
	attempt_counts TEXT NOT NULL,
	error          TEXT,
	pending_review TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threads_status ON threads(status);

CREATE TABLE IF NOT EXISTS transitions (
	thread_id TEXT NOT NULL REFERENCES threads(id),
	seq       INTEGER NOT NULL,
	step      TEXT NOT NULL,
	outcome   TEXT NOT NULL,
	status    TEXT NOT NULL,
	detail    TEXT NOT NULL DEFAULT '',
	at        TEXT NOT NULL,
	PRIMARY KEY (thread_id, seq)
);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread, transition *Transition) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM threads WHERE id = ?`, thread.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check thread existence: %w", err)
		}
		if exists > 0 {
			return NewConflictError(thread.ID, "thread already exists")
		}

		payload, counts, threadErr, review, err := encodeThreadColumns(thread)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO threads (id, status, step_index, payload, attempt_counts, error, pending_review, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			thread.ID, string(thread.Status), thread.StepIndex, payload, counts, threadErr, review,
			thread.CreatedAt.UTC().Format(time.RFC3339Nano), thread.UpdatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert thread: %w", err)
		}
		return insertTransitionSQLite(ctx, tx, transition)
	})
}

func (s *SQLiteStore) SaveThread(ctx context.Context, thread *Thread, transition *Transition) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		payload, counts, threadErr, review, err := encodeThreadColumns(thread)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
UPDATE threads
SET status = ?, step_index = ?, payload = ?, attempt_counts = ?, error = ?, pending_review = ?, updated_at = ?
WHERE id = ?`,
			string(thread.Status), thread.StepIndex, payload, counts, threadErr, review,
			thread.UpdatedAt.UTC().Format(time.RFC3339Nano), thread.ID)
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
		return insertTransitionSQLite(ctx, tx, transition)
	})
}

func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, status, step_index, payload, attempt_counts, error, pending_review, created_at, updated_at
FROM threads WHERE id = ?`, threadID)
	thread, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError(threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return thread, nil
}

func (s *SQLiteStore) ListThreads(ctx context.Context, status Status) ([]*Thread, error) {
	query := `
SELECT id, status, step_index, payload, attempt_counts, error, pending_review, created_at, updated_at
FROM threads`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
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
		thread, err := scanThread(rows)
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

func (s *SQLiteStore) Transitions(ctx context.Context, threadID string) ([]*Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT thread_id, seq, step, outcome, status, detail, at
FROM transitions WHERE thread_id = ? ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*Transition
	for rows.Next() {
		var t Transition
		var status, at string
		if err := rows.Scan(&t.ThreadID, &t.Seq, &t.Step, &t.Outcome, &status, &t.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Status = Status(status)
		if t.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse transition time: %w", err)
		}
		transitions = append(transitions, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	return transitions, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
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

func insertTransitionSQLite(ctx context.Context, tx *sql.Tx, transition *Transition) error {
	if transition == nil {
		return nil
	}
	var seq int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM transitions WHERE thread_id = ?`,
		transition.ThreadID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next transition seq: %w", err)
	}
	transition.Seq = seq
	_, err = tx.ExecContext(ctx, `
INSERT INTO transitions (thread_id, seq, step, outcome, status, detail, at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		transition.ThreadID, transition.Seq, transition.Step, transition.Outcome,
		string(transition.Status), transition.Detail, transition.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanThread(row scanner) (*Thread, error) {
	var t Thread
	var status, payload, counts, createdAt, updatedAt string
	var threadErr, review sql.NullString

	err := row.Scan(&t.ID, &status, &t.StepIndex, &payload, &counts, &threadErr, &review, &createdAt, &updatedAt)
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
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &t, nil
}

func encodeThreadColumns(thread *Thread) (payload, counts string, threadErr, review sql.NullString, err error) {
	p := thread.Payload
	if p == nil {
		p = map[string]any{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", "", sql.NullString{}, sql.NullString{}, fmt.Errorf("encode payload: %w", err)
	}
	payload = string(raw)

	c := thread.AttemptCounts
	if c == nil {
		c = map[string]int{}
	}
	if raw, err = json.Marshal(c); err != nil {
		return "", "", sql.NullString{}, sql.NullString{}, fmt.Errorf("encode attempt counts: %w", err)
	}
	counts = string(raw)

	if thread.Error != nil {
		if raw, err = json.Marshal(thread.Error); err != nil {
			return "", "", sql.NullString{}, sql.NullString{}, fmt.Errorf("encode thread error: %w", err)
		}
		threadErr = sql.NullString{String: string(raw), Valid: true}
	}
	if thread.PendingReview != nil {
		if raw, err = json.Marshal(thread.PendingReview); err != nil {
			return "", "", sql.NullString{}, sql.NullString{}, fmt.Errorf("encode pending review: %w", err)
		}
		review = sql.NullString{String: string(raw), Valid: true}
	}
	return payload, counts, threadErr, review, nil
}
