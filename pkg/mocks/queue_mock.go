package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dripflow/dripflow/pkg/queue"
)

// MockQueue is a mock implementation of the queue.Queue interface.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, job queue.Job) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	args := m.Called(ctx)

	job, _ := args.Get(0).(*queue.Job)

	return job, args.Error(1)
}

func (m *MockQueue) Complete(ctx context.Context, job *queue.Job) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockQueue) Fail(ctx context.Context, job *queue.Job, reason string) error {
	args := m.Called(ctx, job, reason)

	return args.Error(0)
}

func (m *MockQueue) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)

	return args.Bool(0), args.Error(1)
}

func (m *MockQueue) Metrics(ctx context.Context) (map[queue.JobType]queue.Metrics, error) {
	args := m.Called(ctx)

	metrics, _ := args.Get(0).(map[queue.JobType]queue.Metrics)

	return metrics, args.Error(1)
}

func (m *MockQueue) Purge(ctx context.Context, policy queue.RetentionPolicy) error {
	args := m.Called(ctx, policy)

	return args.Error(0)
}

func (m *MockQueue) Close() error {
	args := m.Called()

	return args.Error(0)
}
