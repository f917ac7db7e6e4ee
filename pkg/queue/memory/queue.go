// Package memory provides an in-memory queue implementation for tests and
// local development. It mirrors the durable providers' semantics: priority
// ordering, FIFO within a tier, delayed eligibility, active tracking, and
// retained completed/failed jobs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dripflow/dripflow/pkg/queue"
	"github.com/google/uuid"
)

type entry struct {
	job        queue.Job
	reason     string
	finishedAt time.Time
}

// Queue is a process-local queue.Queue. Not durable; everything is lost on
// restart.
type Queue struct {
	mu           sync.Mutex
	waiting      map[queue.Priority][]*entry
	delayed      []*entry
	active       map[string]*entry
	completed    []*entry
	failed       []*entry
	idempotency  map[string]time.Time
	closed       bool
	pollInterval time.Duration

	now func() time.Time
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue creates an empty in-memory queue.
func NewQueue() *Queue {
	return &Queue{
		waiting:      make(map[queue.Priority][]*entry),
		active:       make(map[string]*entry),
		idempotency:  make(map[string]time.Time),
		pollInterval: 10 * time.Millisecond,
		now:          time.Now,
	}
}

func (q *Queue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return queue.ErrQueueClosed
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now()
	}

	e := &entry{job: job}

	if job.ScheduledFor.After(q.now()) {
		q.delayed = append(q.delayed, e)
	} else {
		q.waiting[job.Priority] = append(q.waiting[job.Priority], e)
	}

	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	for {
		q.mu.Lock()

		if q.closed {
			q.mu.Unlock()

			return nil, queue.ErrQueueClosed
		}

		q.promoteDueLocked()

		for _, priority := range queue.Priorities {
			tier := q.waiting[priority]
			if len(tier) == 0 {
				continue
			}

			e := tier[0]
			q.waiting[priority] = tier[1:]
			q.active[e.job.ID] = e
			job := e.job
			q.mu.Unlock()

			return &job, nil
		}

		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// promoteDueLocked moves eligible delayed entries into their priority
// tiers, oldest eligibility first so FIFO holds among promoted jobs.
func (q *Queue) promoteDueLocked() {
	now := q.now()
	remaining := q.delayed[:0]

	for _, e := range q.delayed {
		if e.job.ScheduledFor.After(now) {
			remaining = append(remaining, e)

			continue
		}

		q.waiting[e.job.Priority] = append(q.waiting[e.job.Priority], e)
	}

	q.delayed = remaining
}

func (q *Queue) Complete(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.active[job.ID]
	if !ok {
		return queue.ErrJobNotActive
	}

	delete(q.active, job.ID)
	e.finishedAt = q.now()
	q.completed = append(q.completed, e)

	return nil
}

func (q *Queue) Fail(_ context.Context, job *queue.Job, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.active[job.ID]
	if !ok {
		return queue.ErrJobNotActive
	}

	delete(q.active, job.ID)
	e.finishedAt = q.now()
	e.reason = reason
	q.failed = append(q.failed, e)

	return nil
}

func (q *Queue) ClaimIdempotencyKey(_ context.Context, key string, ttl time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	if expiry, ok := q.idempotency[key]; ok && expiry.After(now) {
		return false, nil
	}

	q.idempotency[key] = now.Add(ttl)

	return true, nil
}

func (q *Queue) Metrics(_ context.Context) (map[queue.JobType]queue.Metrics, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	metrics := make(map[queue.JobType]queue.Metrics, len(queue.JobTypes))
	for _, jt := range queue.JobTypes {
		metrics[jt] = queue.Metrics{}
	}

	add := func(jt queue.JobType, f func(m *queue.Metrics)) {
		m := metrics[jt]
		f(&m)
		metrics[jt] = m
	}

	for _, tier := range q.waiting {
		for _, e := range tier {
			add(e.job.Type, func(m *queue.Metrics) { m.Waiting++ })
		}
	}

	for _, e := range q.delayed {
		add(e.job.Type, func(m *queue.Metrics) { m.Delayed++ })
	}

	for _, e := range q.active {
		add(e.job.Type, func(m *queue.Metrics) { m.Active++ })
	}

	for _, e := range q.completed {
		add(e.job.Type, func(m *queue.Metrics) { m.Completed++ })
	}

	for _, e := range q.failed {
		add(e.job.Type, func(m *queue.Metrics) { m.Failed++ })
	}

	return metrics, nil
}

func (q *Queue) Purge(_ context.Context, policy queue.RetentionPolicy) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.completed = prune(q.completed, now, policy.CompletedMaxAge, policy.MaxRetained)
	q.failed = prune(q.failed, now, policy.FailedMaxAge, policy.MaxRetained)

	for key, expiry := range q.idempotency {
		if !expiry.After(now) {
			delete(q.idempotency, key)
		}
	}

	return nil
}

func prune(entries []*entry, now time.Time, maxAge time.Duration, maxRetained int) []*entry {
	kept := entries[:0]

	for _, e := range entries {
		if maxAge > 0 && now.Sub(e.finishedAt) > maxAge {
			continue
		}

		kept = append(kept, e)
	}

	if maxRetained > 0 && len(kept) > maxRetained {
		kept = kept[len(kept)-maxRetained:]
	}

	return kept
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true

	return nil
}
