package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dripflow/dripflow/pkg/delivery"
)

// MockSender is a mock implementation of the delivery.Sender interface.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, req delivery.SendRequest) error {
	args := m.Called(ctx, req)

	return args.Error(0)
}
