package mock

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// QueueService is a mock of optin.QueueService
type QueueService struct {
	mock.Mock
}

// Consume provides a mock function
func (m *QueueService) Consume(ctx context.Context, topic string) (<-chan []byte, error) {
	args := m.Called(topic)
	if ch := args.Get(0); ch != nil {
		return ch.(<-chan []byte), args.Error(1)
	}
	return nil, args.Error(1)
}

// Close provides a mock function
func (m *QueueService) Close() error {
	args := m.Called()
	return args.Error(0)
}
