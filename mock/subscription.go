package mock

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// SubscriptionService is a mock of optin.SubscriptionService
type SubscriptionService struct {
	mock.Mock
}

// Subscribe provides a mock function
func (m *SubscriptionService) Subscribe(ctx context.Context, email, name string) error {
	args := m.Called(email, name)
	return args.Error(0)
}

// Confirm provides a mock function
func (m *SubscriptionService) Confirm(ctx context.Context, token string) error {
	args := m.Called(token)
	return args.Error(0)
}

// Revoke provides a mock function
func (m *SubscriptionService) Revoke(ctx context.Context, token string) error {
	args := m.Called(token)
	return args.Error(0)
}
