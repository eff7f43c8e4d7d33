package optin

import "context"

// NotificationGateway delivers a single email. Implementations bound each
// call by their own timeout and do not abandon a send once it is issued.
type NotificationGateway interface {
	SendEmail(ctx context.Context, recipient Email, subject, htmlBody, textBody string) error
}
