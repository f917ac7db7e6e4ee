// Package redis provides the Redis-backed durable queue provider.
//
// Key layout (under the configured prefix):
//
//	ready:<priority>   LIST of job ids, LPUSH/BRPOP for FIFO per tier
//	delayed            ZSET of job ids scored by eligibility (unix ms)
//	job:<id>           JSON job payload
//	active             SET of in-flight job ids
//	done:completed     ZSET of job ids scored by finish time
//	done:failed        ZSET of job ids scored by finish time
//	reasons            HASH job id -> failure reason
//	metrics:<state>    HASH job type -> count
//	idem:<key>         idempotency claims (SET NX with TTL)
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dripflow/dripflow/pkg/queue"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	brpopTimeout     = 1 * time.Second
	promoteBatchSize = 100
)

// Queue is the Redis-backed queue.Queue.
type Queue struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue creates a Redis queue. prefix namespaces all keys and should
// end with a colon (defaults to "dripflow:queue:").
func NewQueue(ctx context.Context, client redis.UniversalClient, prefix string, logger *slog.Logger) (*Queue, error) {
	if prefix == "" {
		prefix = "dripflow:queue:"
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Queue{
		client: client,
		prefix: prefix,
		logger: logger.With("module", "redis_queue"),
	}, nil
}

func (q *Queue) keyReady(p queue.Priority) string { return q.prefix + "ready:" + p.String() }
func (q *Queue) keyDelayed() string               { return q.prefix + "delayed" }
func (q *Queue) keyJob(id string) string          { return q.prefix + "job:" + id }
func (q *Queue) keyActive() string                { return q.prefix + "active" }
func (q *Queue) keyDone(state string) string      { return q.prefix + "done:" + state }
func (q *Queue) keyReasons() string               { return q.prefix + "reasons" }
func (q *Queue) keyMetrics(state string) string   { return q.prefix + "metrics:" + state }
func (q *Queue) keyIdem(key string) string        { return q.prefix + "idem:" + key }

func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.keyJob(job.ID), payload, 0)

	if job.ScheduledFor.After(time.Now()) {
		pipe.ZAdd(ctx, q.keyDelayed(), redis.Z{
			Score:  float64(job.ScheduledFor.UnixMilli()),
			Member: job.ID,
		})
		pipe.HIncrBy(ctx, q.keyMetrics("delayed"), string(job.Type), 1)
	} else {
		pipe.LPush(ctx, q.keyReady(job.Priority), job.ID)
		pipe.HIncrBy(ctx, q.keyMetrics("waiting"), string(job.Type), 1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	readyKeys := make([]string, 0, len(queue.Priorities))
	for _, p := range queue.Priorities {
		readyKeys = append(readyKeys, q.keyReady(p))
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := q.promoteDue(ctx); err != nil {
			return nil, err
		}

		// BRPOP scans keys in argument order, so priority tiers are
		// drained before lower ones; the short timeout keeps the
		// promotion of delayed jobs responsive.
		res, err := q.client.BRPop(ctx, brpopTimeout, readyKeys...).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}

			return nil, fmt.Errorf("failed to dequeue: %w", err)
		}

		jobID := res[1]

		job, err := q.loadJob(ctx, jobID)
		if err != nil {
			q.logger.ErrorContext(ctx, "Dequeued job payload missing, dropping", "job_id", jobID, "error", err)

			continue
		}

		pipe := q.client.TxPipeline()
		pipe.SAdd(ctx, q.keyActive(), jobID)
		pipe.HIncrBy(ctx, q.keyMetrics("waiting"), string(job.Type), -1)
		pipe.HIncrBy(ctx, q.keyMetrics("active"), string(job.Type), 1)

		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to mark job active: %w", err)
		}

		return job, nil
	}
}

// promoteDue moves eligible delayed jobs into their priority tiers.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := time.Now().UnixMilli()

	ids, err := q.client.ZRangeByScore(ctx, q.keyDelayed(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: promoteBatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	for _, id := range ids {
		// ZRem returning zero means another worker promoted it first.
		removed, err := q.client.ZRem(ctx, q.keyDelayed(), id).Result()
		if err != nil {
			return fmt.Errorf("failed to claim delayed job: %w", err)
		}

		if removed == 0 {
			continue
		}

		job, err := q.loadJob(ctx, id)
		if err != nil {
			q.logger.ErrorContext(ctx, "Delayed job payload missing, dropping", "job_id", id, "error", err)

			continue
		}

		pipe := q.client.TxPipeline()
		pipe.LPush(ctx, q.keyReady(job.Priority), id)
		pipe.HIncrBy(ctx, q.keyMetrics("delayed"), string(job.Type), -1)
		pipe.HIncrBy(ctx, q.keyMetrics("waiting"), string(job.Type), 1)

		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to promote delayed job: %w", err)
		}
	}

	return nil
}

func (q *Queue) loadJob(ctx context.Context, id string) (*queue.Job, error) {
	data, err := q.client.Get(ctx, q.keyJob(id)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var job queue.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}

	return &job, nil
}

func (q *Queue) Complete(ctx context.Context, job *queue.Job) error {
	return q.finish(ctx, job, "completed", "")
}

func (q *Queue) Fail(ctx context.Context, job *queue.Job, reason string) error {
	return q.finish(ctx, job, "failed", reason)
}

func (q *Queue) finish(ctx context.Context, job *queue.Job, state, reason string) error {
	removed, err := q.client.SRem(ctx, q.keyActive(), job.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to remove active job: %w", err)
	}

	if removed == 0 {
		return queue.ErrJobNotActive
	}

	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, q.keyDone(state), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: job.ID,
	})
	pipe.HIncrBy(ctx, q.keyMetrics("active"), string(job.Type), -1)
	pipe.HIncrBy(ctx, q.keyMetrics(state), string(job.Type), 1)

	if reason != "" {
		pipe.HSet(ctx, q.keyReasons(), job.ID, reason)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}

	return nil
}

func (q *Queue) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	claimed, err := q.client.SetNX(ctx, q.keyIdem(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}

	return claimed, nil
}

func (q *Queue) Metrics(ctx context.Context) (map[queue.JobType]queue.Metrics, error) {
	metrics := make(map[queue.JobType]queue.Metrics, len(queue.JobTypes))
	for _, jt := range queue.JobTypes {
		metrics[jt] = queue.Metrics{}
	}

	states := []string{"waiting", "active", "completed", "failed", "delayed"}

	for _, state := range states {
		counts, err := q.client.HGetAll(ctx, q.keyMetrics(state)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s metrics: %w", state, err)
		}

		for jobType, raw := range counts {
			count, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
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
	}

	return metrics, nil
}

func (q *Queue) Purge(ctx context.Context, policy queue.RetentionPolicy) error {
	if err := q.purgeState(ctx, "completed", policy.CompletedMaxAge, policy.MaxRetained); err != nil {
		return err
	}

	return q.purgeState(ctx, "failed", policy.FailedMaxAge, policy.MaxRetained)
}

func (q *Queue) purgeState(ctx context.Context, state string, maxAge time.Duration, maxRetained int) error {
	doneKey := q.keyDone(state)

	cutoff := time.Now().Add(-maxAge).UnixMilli()

	expired, err := q.client.ZRangeByScore(ctx, doneKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list expired %s jobs: %w", state, err)
	}

	if maxRetained > 0 {
		total, err := q.client.ZCard(ctx, doneKey).Result()
		if err != nil {
			return fmt.Errorf("failed to count %s jobs: %w", state, err)
		}

		if over := total - int64(maxRetained); over > int64(len(expired)) {
			oldest, err := q.client.ZRange(ctx, doneKey, 0, over-1).Result()
			if err != nil {
				return fmt.Errorf("failed to list oldest %s jobs: %w", state, err)
			}

			expired = oldest
		}
	}

	for _, id := range expired {
		job, loadErr := q.loadJob(ctx, id)

		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, doneKey, id)
		pipe.Del(ctx, q.keyJob(id))
		pipe.HDel(ctx, q.keyReasons(), id)

		if loadErr == nil {
			pipe.HIncrBy(ctx, q.keyMetrics(state), string(job.Type), -1)
		}

		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to purge job %s: %w", id, err)
		}
	}

	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
