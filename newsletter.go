package optin

import "context"

// Issue is a newsletter sent to every confirmed subscriber
type Issue struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// NewsletterService is the interface that wraps newsletter delivery
type NewsletterService interface {
	Publish(ctx context.Context, issue *Issue) error
}
