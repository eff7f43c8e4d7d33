package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/quantonganh/optin"
)

// NewsletterService is a mock of optin.NewsletterService
type NewsletterService struct {
	mock.Mock
}

// Publish provides a mock function
func (m *NewsletterService) Publish(ctx context.Context, issue *optin.Issue) error {
	args := m.Called(issue)
	return args.Error(0)
}
