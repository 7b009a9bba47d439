package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// --- SQLite Engine ---

// sqliteQueue persists jobs so queued work survives a restart. One open
// connection: sqlite serializes writers anyway and the queue is low
// volume.
type sqliteQueue struct {
	db       *sql.DB
	maxItems int
}

func newSQLiteQueue(path string, maxItems int) (*sqliteQueue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS jobs (
  seq        INTEGER PRIMARY KEY AUTOINCREMENT,
  hash       TEXT NOT NULL UNIQUE,
  action     TEXT NOT NULL,
  payload    TEXT NOT NULL,
  status     TEXT NOT NULL DEFAULT 'queued',
  result     TEXT DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init queue db: %w", err)
	}

	// Jobs left "running" by a crashed process go back to the line.
	if _, err := db.Exec(`UPDATE jobs SET status = 'queued' WHERE status = 'running'`); err != nil {
		db.Close()
		return nil, fmt.Errorf("requeue stale jobs: %w", err)
	}

	return &sqliteQueue{db: db, maxItems: maxItems}, nil
}

func (q *sqliteQueue) waiting(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN ('queued','running')`).Scan(&n)
	return n, err
}

func (q *sqliteQueue) Push(ctx context.Context, action string, payload json.RawMessage) (string, int, error) {
	waiting, err := q.waiting(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("count jobs: %w", err)
	}
	if q.maxItems > 0 && waiting >= q.maxItems {
		return "", 0, errQueueFull
	}

	hash := randomToken(9)
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO jobs (hash, action, payload, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'queued', ?, ?)`,
		hash, action, string(payload), now, now)
	if err != nil {
		return "", 0, fmt.Errorf("enqueue: %w", err)
	}
	return hash, waiting, nil
}

func (q *sqliteQueue) Status(ctx context.Context, hash string) (string, any, error) {
	var status, result string
	err := q.db.QueryRowContext(ctx,
		`SELECT status, result FROM jobs WHERE hash = ?`, hash).Scan(&status, &result)
	if err == sql.ErrNoRows {
		return jobNotFound, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("job status: %w", err)
	}
	if result == "" {
		return status, nil, nil
	}
	var data any
	if err := json.Unmarshal([]byte(result), &data); err != nil {
		return "", nil, fmt.Errorf("decode job result: %w", err)
	}
	return status, data, nil
}

func (q *sqliteQueue) Next(ctx context.Context) (*QueueJob, error) {
	var job QueueJob
	var payload string
	err := q.db.QueryRowContext(ctx,
		`SELECT hash, action, payload, created_at, updated_at
		 FROM jobs WHERE status = 'queued' ORDER BY seq ASC LIMIT 1`).
		Scan(&job.Hash, &job.Action, &payload, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next job: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'running', updated_at = ? WHERE hash = ? AND status = 'queued'`,
		now, job.Hash)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Claimed by someone else between select and update.
		return nil, nil
	}

	job.Payload = json.RawMessage(payload)
	job.Status = jobRunning
	job.UpdatedAt = now
	return &job, nil
}

func (q *sqliteQueue) setTerminal(ctx context.Context, hash, status string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, updated_at = ? WHERE hash = ?`,
		status, string(data), now, hash)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

func (q *sqliteQueue) Complete(ctx context.Context, hash string, result any) error {
	return q.setTerminal(ctx, hash, jobCompleted, result)
}

func (q *sqliteQueue) Fail(ctx context.Context, hash string, msg string) error {
	return q.setTerminal(ctx, hash, jobFailed, map[string]any{"error": msg})
}

func (q *sqliteQueue) Depth(ctx context.Context) (int, error) {
	return q.waiting(ctx)
}

func (q *sqliteQueue) Close() error {
	return q.db.Close()
}
