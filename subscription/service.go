package subscription

import (
	"context"

	"github.com/rs/zerolog"
	uuid "github.com/satori/go.uuid"

	"github.com/quantonganh/optin"
)

const unknownTokenMessage = "The token received does not correspond to any subscriber."

// Service implements optin.SubscriptionService. It keeps no state between
// calls: every operation re-reads the store, and exclusion between
// concurrent requests comes from the store's transactions and unique
// constraints.
type Service struct {
	store    optin.SubscriptionStore
	gateway  optin.NotificationGateway
	composer *Composer
	newToken func() (optin.Token, error)
}

// NewService returns new subscription service
func NewService(store optin.SubscriptionStore, gateway optin.NotificationGateway, composer *Composer) *Service {
	return &Service{
		store:    store,
		gateway:  gateway,
		composer: composer,
		newToken: optin.NewToken,
	}
}

// Subscribe registers a pending subscriber, or finds the existing one, and
// sends the confirmation email. Delivery happens after the commit, so a
// failed send leaves the subscriber stored; calling Subscribe again resends
// with the same token.
func (s *Service) Subscribe(ctx context.Context, rawEmail, rawName string) error {
	const op = "subscription.Subscribe"

	email, err := optin.ParseEmail(rawEmail)
	if err != nil {
		return err
	}
	name, err := optin.ParseName(rawName)
	if err != nil {
		return err
	}

	logger := zerolog.Ctx(ctx).With().Str("subscriber_email", email.String()).Logger()

	existing, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return optin.Internal(op, err)
	}

	var token optin.Token
	if existing != nil {
		logger.Info().Str("status", string(existing.Status)).Msg("Subscriber already exists, resending confirmation email")
		name, token = existing.Name, existing.Token
	} else {
		logger.Info().Msg("Saving new subscriber into the database")
		token, err = s.insert(ctx, email, name)
		if optin.ErrorCode(err) == optin.ErrConflict {
			existing, err = s.store.FindByEmail(ctx, email)
			switch {
			case err != nil:
			case existing != nil:
				logger.Info().Msg("Subscriber was inserted concurrently, resending confirmation email")
				name, token = existing.Name, existing.Token
			default:
				// The email is still free, so the conflict came from the token.
				logger.Warn().Msg("Subscription token collided, retrying with a fresh one")
				token, err = s.insert(ctx, email, name)
			}
		}
		if err != nil {
			return optin.Internal(op, err)
		}
	}

	msg, err := s.composer.Welcome(name, token)
	if err != nil {
		return optin.Internal(op, err)
	}

	logger.Info().Msg("Sending confirmation email")
	if err := s.gateway.SendEmail(ctx, email, msg.Subject, msg.HTML, msg.Text); err != nil {
		logger.Error().Err(err).Msg("Subscriber stored but confirmation email was not sent")
		return &optin.Error{Code: optin.ErrInternal, Op: op, Message: "Failed to send the confirmation email.", Err: err}
	}

	return nil
}

func (s *Service) insert(ctx context.Context, email optin.Email, name optin.Name) (optin.Token, error) {
	token, err := s.newToken()
	if err != nil {
		return "", err
	}

	err = s.store.RunInTx(ctx, func(tx optin.SubscriptionTx) error {
		id, err := tx.InsertSubscriber(ctx, email, name)
		if err != nil {
			return err
		}
		return tx.StoreToken(ctx, id, token)
	})
	if err != nil {
		return "", err
	}

	return token, nil
}

// Confirm marks the subscriber owning rawToken as confirmed. Confirming
// twice is a no-op.
func (s *Service) Confirm(ctx context.Context, rawToken string) error {
	const op = "subscription.Confirm"

	id, err := s.lookup(ctx, op, rawToken)
	if err != nil {
		return err
	}

	if err := s.store.UpdateStatus(ctx, id, optin.StatusConfirmed); err != nil {
		if optin.ErrorCode(err) == optin.ErrNotFound {
			return &optin.Error{Code: optin.ErrUnauthorized, Op: op, Message: unknownTokenMessage}
		}
		return optin.Internal(op, err)
	}

	zerolog.Ctx(ctx).Info().Str("subscriber_id", id.String()).Msg("Subscription confirmed")
	return nil
}

// Revoke deletes the subscriber owning rawToken together with the token.
func (s *Service) Revoke(ctx context.Context, rawToken string) error {
	const op = "subscription.Revoke"

	id, err := s.lookup(ctx, op, rawToken)
	if err != nil {
		return err
	}

	if err := s.store.DeleteSubscriberAndToken(ctx, id); err != nil {
		if optin.ErrorCode(err) == optin.ErrNotFound {
			return &optin.Error{Code: optin.ErrUnauthorized, Op: op, Message: unknownTokenMessage}
		}
		return optin.Internal(op, err)
	}

	zerolog.Ctx(ctx).Info().Str("subscriber_id", id.String()).Msg("Subscription revoked")
	return nil
}

func (s *Service) lookup(ctx context.Context, op, rawToken string) (uuid.UUID, error) {
	token, err := optin.ParseToken(rawToken)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := s.store.FindSubscriberIDByToken(ctx, token)
	if err != nil {
		return uuid.Nil, optin.Internal(op, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, &optin.Error{Code: optin.ErrUnauthorized, Op: op, Message: unknownTokenMessage}
	}

	return id, nil
}
