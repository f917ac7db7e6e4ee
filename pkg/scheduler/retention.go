package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/dripflow/dripflow/pkg/queue"
)

// RetentionJanitor periodically purges finished jobs past the retention
// policy. Retention is an observability window; purging never touches
// waiting or active jobs.
type RetentionJanitor struct {
	queue  queue.Queue
	policy queue.RetentionPolicy
	cron   *cron.Cron
	logger *slog.Logger
}

// NewRetentionJanitor creates a janitor with the given policy.
func NewRetentionJanitor(jobQueue queue.Queue, policy queue.RetentionPolicy, logger *slog.Logger) *RetentionJanitor {
	return &RetentionJanitor{
		queue:  jobQueue,
		policy: policy,
		cron:   cron.New(),
		logger: logger.With("module", "retention_janitor"),
	}
}

// Start schedules the purge to run every 10 minutes until ctx is done.
func (j *RetentionJanitor) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc("@every 10m", func() {
		if err := j.queue.Purge(ctx, j.policy); err != nil {
			j.logger.ErrorContext(ctx, "Failed to purge finished jobs", "error", err)

			return
		}

		j.logger.DebugContext(ctx, "Purged finished jobs past retention")
	})
	if err != nil {
		return err
	}

	j.cron.Start()

	go func() {
		<-ctx.Done()
		j.cron.Stop()
	}()

	return nil
}
