package optin

import (
	"context"
	"time"

	uuid "github.com/satori/go.uuid"
)

// Status is the lifecycle state of a live subscriber.
type Status string

// Subscriber status
const (
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusConfirmed           Status = "confirmed"
)

// Subscriber represents a mailing-list entrant
type Subscriber struct {
	ID           uuid.UUID
	Email        Email
	Name         Name
	SubscribedAt time.Time
	Status       Status
}

// Subscription is a subscriber joined with its token.
type Subscription struct {
	Subscriber
	Token Token
}

// SubscriptionService is the interface that wraps the double opt-in workflow
type SubscriptionService interface {
	Subscribe(ctx context.Context, email, name string) error
	Confirm(ctx context.Context, token string) error
	Revoke(ctx context.Context, token string) error
}

// SubscriptionStore persists subscribers and their tokens.
//
// Lookups return a nil subscription or uuid.Nil when nothing matches.
// UpdateStatus and DeleteSubscriberAndToken return an ErrNotFound error when
// the subscriber no longer exists.
type SubscriptionStore interface {
	FindByEmail(ctx context.Context, email Email) (*Subscription, error)
	FindByStatus(ctx context.Context, status Status) ([]*Subscription, error)
	FindSubscriberIDByToken(ctx context.Context, token Token) (uuid.UUID, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	DeleteSubscriberAndToken(ctx context.Context, id uuid.UUID) error

	// RunInTx runs fn inside a transaction. The transaction is committed
	// only if fn returns nil and is rolled back on every other path.
	RunInTx(ctx context.Context, fn func(tx SubscriptionTx) error) error
}

// SubscriptionTx holds the writes that must commit together.
type SubscriptionTx interface {
	// InsertSubscriber creates a pending subscriber. It returns an
	// ErrConflict error if the email is already taken.
	InsertSubscriber(ctx context.Context, email Email, name Name) (uuid.UUID, error)

	// StoreToken attaches token to the subscriber. It returns an
	// ErrConflict error if the subscriber already has a token.
	StoreToken(ctx context.Context, id uuid.UUID, token Token) error
}
