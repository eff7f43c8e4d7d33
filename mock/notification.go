package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/quantonganh/optin"
)

// NotificationGateway is a mock of optin.NotificationGateway
type NotificationGateway struct {
	mock.Mock
}

// SendEmail provides a mock function
func (m *NotificationGateway) SendEmail(ctx context.Context, recipient optin.Email, subject, htmlBody, textBody string) error {
	args := m.Called(recipient, subject, htmlBody, textBody)
	return args.Error(0)
}
