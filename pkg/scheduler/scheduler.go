// Package scheduler runs the queue-driven execution engine: a worker pool
// that dequeues jobs, steps execution instances through their workflow
// graphs, and schedules delayed continuations and retries as future jobs.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dripflow/dripflow/pkg/delivery"
	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/otelhelper"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/queue"
	"github.com/dripflow/dripflow/pkg/services"
	"github.com/dripflow/dripflow/pkg/subscriber"
)

const (
	// MaxSteps bounds the total steps of one execution instance, so delay
	// cycles terminate even though they are structurally allowed.
	MaxSteps = 100

	leaseTTL           = 30 * time.Second
	leaseRetryDelay    = 2 * time.Second
	pausedRequeueDelay = 30 * time.Second
	infraRequeueDelay  = 5 * time.Second
	idempotencyTTL     = 24 * time.Hour
)

// Deps bundles everything a worker needs to process jobs.
type Deps struct {
	Persistence persistence.Persistence
	Queue       queue.Queue
	Subscribers subscriber.Provider
	Sender      delivery.Sender
	Enrollment  *services.Enrollment
	EventBus    eventbus.EventBus
}

// Worker is one scheduler process. It runs a pool of goroutines that all
// dequeue from the shared queue; per-instance leases keep concurrent
// workers from stepping the same instance.
type Worker struct {
	id          string
	deps        Deps
	concurrency int
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewWorker creates a worker with the given pool size.
func NewWorker(id string, deps Deps, concurrency int, tracer trace.Tracer, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Worker{
		id:          id,
		deps:        deps,
		concurrency: concurrency,
		tracer:      tracer,
		logger:      logger.With("module", "scheduler", "worker_id", id),
	}
}

// Start runs the dequeue loops until ctx is cancelled or the queue closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting scheduler worker", "concurrency", w.concurrency)

	var wg sync.WaitGroup

	for range w.concurrency {
		wg.Add(1)

		go func() {
			defer wg.Done()
			w.runLoop(ctx)
		}()
	}

	wg.Wait()
	w.logger.InfoContext(ctx, "Scheduler worker stopped")

	return nil
}

func (w *Worker) runLoop(ctx context.Context) {
	for {
		job, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, queue.ErrQueueClosed) {
				return
			}

			w.logger.ErrorContext(ctx, "Failed to dequeue job", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}

			continue
		}

		w.handleJob(ctx, job)
	}
}

// handleJob dispatches a job and settles it: handlers return nil to
// complete the job, or an error to fail it with that reason.
func (w *Worker) handleJob(ctx context.Context, job *queue.Job) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "scheduler.handle_job",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.JobTypeKey, string(job.Type)),
		attribute.String(otelhelper.AutomationIDKey, job.AutomationID),
		attribute.String(otelhelper.InstanceIDKey, job.InstanceID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	var err error

	switch job.Type {
	case queue.JobTypeProcessTrigger:
		err = w.handleProcessTrigger(ctx, job)
	case queue.JobTypeExecuteAutomation, queue.JobTypeProcessScheduledStep, queue.JobTypeRetryFailedStep:
		err = w.handleStepJob(ctx, job)
	default:
		w.logger.ErrorContext(ctx, "Unknown job type", "job_id", job.ID, "job_type", job.Type)
		err = errors.New("unknown job type: " + string(job.Type))
	}

	if err != nil {
		otelhelper.SetError(span, err)
		w.logger.ErrorContext(ctx, "Job failed",
			"job_id", job.ID, "job_type", job.Type, "error", err)

		// Step handlers settle domain failures on the instance and return
		// errors only for infrastructure faults, so redeliver the job
		// instead of stranding the instance mid-graph.
		if isStepJob(job.Type) {
			if requeueErr := w.requeue(ctx, job, infraRequeueDelay); requeueErr != nil {
				w.logger.ErrorContext(ctx, "Failed to requeue step job",
					"job_id", job.ID, "error", requeueErr)
			}
		}

		if failErr := w.deps.Queue.Fail(ctx, job, err.Error()); failErr != nil {
			w.logger.ErrorContext(ctx, "Failed to mark job failed", "job_id", job.ID, "error", failErr)
		}

		return
	}

	if completeErr := w.deps.Queue.Complete(ctx, job); completeErr != nil {
		w.logger.ErrorContext(ctx, "Failed to mark job completed", "job_id", job.ID, "error", completeErr)
	}
}

func isStepJob(jobType queue.JobType) bool {
	switch jobType {
	case queue.JobTypeExecuteAutomation, queue.JobTypeProcessScheduledStep, queue.JobTypeRetryFailedStep:
		return true
	default:
		return false
	}
}

// handleProcessTrigger runs trigger matching and enrollment. Failures are
// retried with the same backoff schedule as steps, since they are almost
// always infrastructure errors.
func (w *Worker) handleProcessTrigger(ctx context.Context, job *queue.Job) error {
	err := w.deps.Enrollment.ProcessTrigger(ctx, job.SubscriberID, job.EventType)
	if err == nil {
		return nil
	}

	if job.Attempt+1 <= MaxAttempts {
		retry := *job
		retry.ID = ""
		retry.Attempt = job.Attempt + 1
		retry.ScheduledFor = time.Now().Add(RetryDelay(retry.Attempt))
		retry.EnqueuedAt = time.Time{}

		if enqueueErr := w.deps.Queue.Enqueue(ctx, retry); enqueueErr != nil {
			w.logger.ErrorContext(ctx, "Failed to enqueue trigger retry", "job_id", job.ID, "error", enqueueErr)
		}
	}

	return err
}

// requeue reschedules a copy of the job for later without consuming its
// retry budget. The original job completes normally.
func (w *Worker) requeue(ctx context.Context, job *queue.Job, delay time.Duration) error {
	copied := *job
	copied.ID = ""
	copied.ScheduledFor = time.Now().Add(delay)
	copied.EnqueuedAt = time.Time{}

	return w.deps.Queue.Enqueue(ctx, copied)
}

// requeueAt is requeue pinned to the node the loop has advanced to, so a
// redelivered job resumes where the instance actually is instead of
// replaying earlier nodes.
func (w *Worker) requeueAt(ctx context.Context, job *queue.Job, nodeID string, attempt int, delay time.Duration) error {
	copied := *job
	copied.ID = ""
	copied.NodeID = nodeID
	copied.Attempt = attempt
	copied.ScheduledFor = time.Now().Add(delay)
	copied.EnqueuedAt = time.Time{}

	return w.deps.Queue.Enqueue(ctx, copied)
}
