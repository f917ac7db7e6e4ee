// Package sqlite provides an embedded durable queue provider backed by
// SQLite (pure-Go driver). It gives single-node durability without an
// external broker; claim semantics use short transactions keyed on the
// monotonic seq column, so priority order is stable and FIFO within a
// tier.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dripflow/dripflow/pkg/queue"
	"github.com/google/uuid"
)

const defaultPollInterval = 20 * time.Millisecond

// Queue is the SQLite-backed queue.Queue.
type Queue struct {
	db           *sql.DB
	pollInterval time.Duration
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue initializes the queue schema on the given database. The caller
// owns opening the database (driver "sqlite" from modernc.org/sqlite).
func NewQueue(ctx context.Context, db *sql.DB) (*Queue, error) {
	q := &Queue{
		db:           db,
		pollInterval: defaultPollInterval,
	}

	if err := q.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	return q, nil
}

func (q *Queue) initSchema(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			priority INTEGER NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'waiting',
			scheduled_for INTEGER NOT NULL,
			finished_at INTEGER,
			failure_reason TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_dequeue
			ON jobs (status, scheduled_for, priority, seq);
		CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL
		);
	`)

	return err
}

func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	scheduledFor := job.EnqueuedAt
	if !job.ScheduledFor.IsZero() {
		scheduledFor = job.ScheduledFor
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, priority, payload, status, scheduled_for)
		VALUES (?, ?, ?, ?, 'waiting', ?)`,
		job.ID, string(job.Type), int(job.Priority), string(payload), scheduledFor.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		job, err := q.tryClaim(ctx)
		if err != nil {
			return nil, err
		}

		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *Queue) tryClaim(ctx context.Context) (*queue.Job, error) {
	now := time.Now().UnixNano()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}

	var (
		seq     int64
		payload string
	)

	row := tx.QueryRowContext(ctx, `
		SELECT seq, payload FROM jobs
		WHERE status = 'waiting' AND scheduled_for <= ?
		ORDER BY priority, seq
		LIMIT 1`, now)

	err = row.Scan(&seq, &payload)
	if err != nil {
		_ = tx.Rollback()

		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to select job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'active' WHERE seq = ?`, seq); err != nil {
		_ = tx.Rollback()

		return nil, fmt.Errorf("failed to mark job active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	var job queue.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job payload: %w", err)
	}

	return &job, nil
}

func (q *Queue) Complete(ctx context.Context, job *queue.Job) error {
	return q.finish(ctx, job, "completed", "")
}

func (q *Queue) Fail(ctx context.Context, job *queue.Job, reason string) error {
	return q.finish(ctx, job, "failed", reason)
}

func (q *Queue) finish(ctx context.Context, job *queue.Job, status, reason string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, finished_at = ?, failure_reason = ?
		WHERE id = ? AND status = 'active'`,
		status, time.Now().UnixNano(), reason, job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finish result: %w", err)
	}

	if affected == 0 {
		return queue.ErrJobNotActive
	}

	return nil
}

func (q *Queue) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, expires_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at
		WHERE idempotency_keys.expires_at <= ?`,
		key, now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency claim: %w", err)
	}

	return affected > 0, nil
}

func (q *Queue) Metrics(ctx context.Context) (map[queue.JobType]queue.Metrics, error) {
	metrics := make(map[queue.JobType]queue.Metrics, len(queue.JobTypes))
	for _, jt := range queue.JobTypes {
		metrics[jt] = queue.Metrics{}
	}

	now := time.Now().UnixNano()

	rows, err := q.db.QueryContext(ctx, `
		SELECT type,
			CASE
				WHEN status = 'waiting' AND scheduled_for > ? THEN 'delayed'
				ELSE status
			END AS state,
			COUNT(*)
		FROM jobs
		GROUP BY type, state`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			jobType string
			state   string
			count   int64
		)

		if err := rows.Scan(&jobType, &state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan metrics row: %w", err)
		}

		m := metrics[queue.JobType(jobType)]

		switch state {
		case "waiting":
			m.Waiting = count
		case "active":
			m.Active = count
		case "completed":
			m.Completed = count
		case "failed":
			m.Failed = count
		case "delayed":
			m.Delayed = count
		}

		metrics[queue.JobType(jobType)] = m
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read metrics rows: %w", err)
	}

	return metrics, nil
}

func (q *Queue) Purge(ctx context.Context, policy queue.RetentionPolicy) error {
	now := time.Now()

	states := []struct {
		status string
		maxAge time.Duration
	}{
		{"completed", policy.CompletedMaxAge},
		{"failed", policy.FailedMaxAge},
	}

	for _, s := range states {
		if s.maxAge > 0 {
			cutoff := now.Add(-s.maxAge).UnixNano()

			if _, err := q.db.ExecContext(ctx,
				`DELETE FROM jobs WHERE status = ? AND finished_at < ?`, s.status, cutoff); err != nil {
				return fmt.Errorf("failed to purge %s jobs by age: %w", s.status, err)
			}
		}

		if policy.MaxRetained > 0 {
			if _, err := q.db.ExecContext(ctx, `
				DELETE FROM jobs WHERE status = ? AND seq NOT IN (
					SELECT seq FROM jobs WHERE status = ? ORDER BY seq DESC LIMIT ?
				)`, s.status, s.status, policy.MaxRetained); err != nil {
				return fmt.Errorf("failed to purge %s jobs by count: %w", s.status, err)
			}
		}
	}

	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at <= ?`, now.UnixNano()); err != nil {
		return fmt.Errorf("failed to purge idempotency keys: %w", err)
	}

	return nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}
