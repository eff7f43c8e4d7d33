package subscription

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/quantonganh/optin"
)

// Publisher implements optin.NewsletterService.
type Publisher struct {
	store    optin.SubscriptionStore
	gateway  optin.NotificationGateway
	composer *Composer
}

// NewPublisher returns new newsletter publisher
func NewPublisher(store optin.SubscriptionStore, gateway optin.NotificationGateway, composer *Composer) *Publisher {
	return &Publisher{
		store:    store,
		gateway:  gateway,
		composer: composer,
	}
}

// Publish sends issue to every confirmed subscriber. Each copy carries the
// recipient's revocation link. A failed delivery does not stop the others;
// failures are reported once every recipient was attempted.
func (p *Publisher) Publish(ctx context.Context, issue *optin.Issue) error {
	const op = "subscription.Publish"

	if issue == nil || strings.TrimSpace(issue.Subject) == "" {
		return optin.Errorf(optin.ErrInvalid, "subject is required")
	}
	if strings.TrimSpace(issue.HTML) == "" || strings.TrimSpace(issue.Text) == "" {
		return optin.Errorf(optin.ErrInvalid, "both html and text content are required")
	}

	subscribers, err := p.store.FindByStatus(ctx, optin.StatusConfirmed)
	if err != nil {
		return optin.Internal(op, err)
	}

	logger := zerolog.Ctx(ctx)
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	var failed int
	for _, s := range subscribers {
		msg := p.composer.Newsletter(issue, s.Token)
		if err := p.gateway.SendEmail(ctx, s.Email, msg.Subject, msg.HTML, msg.Text); err != nil {
			failed++
			logger.Error().Err(err).Str("subscriber_id", s.ID.String()).Msg("Failed to deliver newsletter")
			hub.CaptureException(err)
		}
	}

	logger.Info().
		Int("recipients", len(subscribers)).
		Int("failed", failed).
		Msg("Newsletter published")

	if failed > 0 {
		return optin.Errorf(optin.ErrInternal, "Newsletter delivery failed for %d of %d subscribers.", failed, len(subscribers))
	}
	return nil
}

// Listen publishes every issue received on topic until the queue closes its
// channel. Malformed messages and failed publications are logged and
// skipped.
func (p *Publisher) Listen(ctx context.Context, queue optin.QueueService, topic string) error {
	const op = "subscription.Listen"

	messages, err := queue.Consume(ctx, topic)
	if err != nil {
		return optin.Internal(op, err)
	}

	logger := zerolog.Ctx(ctx).With().Str("topic", topic).Logger()
	logger.Info().Msg("Listening for newsletter issues")

	for body := range messages {
		var issue optin.Issue
		if err := json.Unmarshal(body, &issue); err != nil {
			logger.Error().Err(err).Msg("Dropping malformed newsletter issue")
			continue
		}

		if err := p.Publish(ctx, &issue); err != nil {
			logger.Error().Err(err).Str("subject", issue.Subject).Msg("Failed to publish queued newsletter")
		}
	}

	return nil
}
