// Package queue defines the durable, priority-ordered job queue that
// drives the step scheduler, and the job model shared by its providers.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// JobType identifies what a worker should do with a job.
type JobType string

const (
	JobTypeProcessTrigger       JobType = "process_trigger"
	JobTypeExecuteAutomation    JobType = "execute_automation"
	JobTypeProcessScheduledStep JobType = "process_scheduled_step"
	JobTypeRetryFailedStep      JobType = "retry_failed_step"
)

// JobTypes lists all job types, used by metrics collection.
var JobTypes = []JobType{
	JobTypeProcessTrigger,
	JobTypeExecuteAutomation,
	JobTypeProcessScheduledStep,
	JobTypeRetryFailedStep,
}

// Priority orders dequeueing: lower values dequeue first, FIFO within a
// tier. Ordering across different instances is only guaranteed at this
// granularity.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// Priorities lists all tiers from most to least urgent.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Job is one unit of work for the scheduler. Jobs are ephemeral: created
// by enrollment or by the scheduler itself, and purged after completion or
// failure once the retention window passes.
type Job struct {
	ID       string   `json:"id"`
	Type     JobType  `json:"type"`
	Priority Priority `json:"priority"`

	AutomationID string `json:"automation_id,omitempty"`
	SubscriberID string `json:"subscriber_id,omitempty"`
	InstanceID   string `json:"instance_id,omitempty"`
	NodeID       string `json:"node_id,omitempty"`
	Attempt      int    `json:"attempt,omitempty"`

	// For process_trigger jobs: the originating domain event.
	EventType string         `json:"event_type,omitempty"`
	EventData map[string]any `json:"event_data,omitempty"`

	// ScheduledFor is the earliest eligibility time. Zero means
	// immediately. Delayed continuations and retries use this instead of
	// holding worker capacity.
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`

	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Metrics is the per-job-type operational counters surface.
type Metrics struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// RetentionPolicy bounds how long finished jobs are kept for debugging.
// It is an observability window, not part of correctness.
type RetentionPolicy struct {
	CompletedMaxAge time.Duration
	FailedMaxAge    time.Duration
	MaxRetained     int
}

// DefaultRetention keeps completed jobs for 24h and failed jobs for 7
// days, capped at 10000 retained entries per state.
var DefaultRetention = RetentionPolicy{
	CompletedMaxAge: 24 * time.Hour,
	FailedMaxAge:    7 * 24 * time.Hour,
	MaxRetained:     10000,
}

var (
	// ErrQueueClosed is returned by operations on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrJobNotActive is returned when completing or failing a job that is
	// not currently dequeued.
	ErrJobNotActive = errors.New("job is not active")
)

// Queue is the durable job store. All providers give at-least-once
// delivery: a dequeued job that is never completed or failed may be
// delivered again, which the scheduler makes safe with idempotency keys.
type Queue interface {
	// Enqueue adds a job. Jobs with a future ScheduledFor stay invisible
	// until eligible.
	Enqueue(ctx context.Context, job Job) error

	// Dequeue blocks until an eligible job is available or ctx is done,
	// returning the highest-priority job (FIFO within a tier). The job is
	// marked active until Complete or Fail is called.
	Dequeue(ctx context.Context) (*Job, error)

	// Complete marks an active job finished; it is retained for the
	// completed retention window.
	Complete(ctx context.Context, job *Job) error

	// Fail marks an active job failed with a reason; it is retained for
	// the failed retention window.
	Fail(ctx context.Context, job *Job, reason string) error

	// ClaimIdempotencyKey atomically records a side-effect key. It returns
	// true exactly once per key; redundant deliveries observe false and
	// must skip the side effect.
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Metrics reports per-job-type counters for dashboards and alerting.
	Metrics(ctx context.Context) (map[JobType]Metrics, error)

	// Purge removes completed/failed jobs past the retention policy.
	Purge(ctx context.Context, policy RetentionPolicy) error

	Close() error
}

// IdempotencyKey derives the deterministic key guarding a node-level side
// effect. The attempt generation is part of the key so that a retry is a
// distinct effect while redundant deliveries of the same attempt are not.
func IdempotencyKey(automationID, subscriberID, nodeID string, attemptGeneration int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%d", automationID, subscriberID, nodeID, attemptGeneration))

	return hex.EncodeToString(sum[:16])
}
