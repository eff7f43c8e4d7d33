package bolt

import (
	"context"
	"sort"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/go-errors/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/quantonganh/optin"
)

type subscriberRecord struct {
	ID           string `storm:"id"`
	Email        string `storm:"unique"`
	Name         string
	SubscribedAt time.Time
	Status       string `storm:"index"`
}

type tokenRecord struct {
	SubscriberID string `storm:"id"`
	Token        string `storm:"unique"`
}

type subscriptionStore struct {
	db *DB
}

// NewSubscriptionStore returns a SubscriptionStore backed by db.
func NewSubscriptionStore(db *DB) optin.SubscriptionStore {
	return &subscriptionStore{
		db: db,
	}
}

// FindByEmail finds a subscription by email
func (ss *subscriptionStore) FindByEmail(ctx context.Context, email optin.Email) (*optin.Subscription, error) {
	tx, err := ss.db.stormDB.Begin(false)
	if err != nil {
		return nil, errors.Errorf("failed to begin: %v", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var rec subscriberRecord
	if err := tx.One("Email", string(email), &rec); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Errorf("failed to find by email: %v", err)
	}

	return findToken(tx, &rec)
}

// FindByStatus finds subscriptions by status
func (ss *subscriptionStore) FindByStatus(ctx context.Context, status optin.Status) ([]*optin.Subscription, error) {
	tx, err := ss.db.stormDB.Begin(false)
	if err != nil {
		return nil, errors.Errorf("failed to begin: %v", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var recs []subscriberRecord
	if err := tx.Find("Status", string(status), &recs); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Errorf("failed to find by status: %v", err)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].SubscribedAt.Before(recs[j].SubscribedAt)
	})

	subscriptions := make([]*optin.Subscription, 0, len(recs))
	for i := range recs {
		s, err := findToken(tx, &recs[i])
		if err != nil {
			return nil, err
		}
		if s != nil {
			subscriptions = append(subscriptions, s)
		}
	}

	return subscriptions, nil
}

// FindSubscriberIDByToken returns the owner of token, or uuid.Nil
func (ss *subscriptionStore) FindSubscriberIDByToken(ctx context.Context, token optin.Token) (uuid.UUID, error) {
	var tok tokenRecord
	if err := ss.db.stormDB.One("Token", string(token), &tok); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return uuid.Nil, nil
		}
		return uuid.Nil, errors.Errorf("failed to find by token: %v", err)
	}

	return uuid.FromString(tok.SubscriberID)
}

// UpdateStatus updates subscriber status
func (ss *subscriptionStore) UpdateStatus(ctx context.Context, id uuid.UUID, status optin.Status) error {
	return ss.withTx(func(tx storm.Node) error {
		err := tx.UpdateField(&subscriberRecord{ID: id.String()}, "Status", string(status))
		if err != nil {
			if errors.Is(err, storm.ErrNotFound) {
				return optin.Errorf(optin.ErrNotFound, "subscriber %s not found", id)
			}
			return errors.Errorf("failed to update status: %v", err)
		}
		return nil
	})
}

// DeleteSubscriberAndToken removes the token and then its subscriber in one transaction
func (ss *subscriptionStore) DeleteSubscriberAndToken(ctx context.Context, id uuid.UUID) error {
	return ss.withTx(func(tx storm.Node) error {
		var tok tokenRecord
		switch err := tx.One("SubscriberID", id.String(), &tok); {
		case err == nil:
			if err := tx.DeleteStruct(&tok); err != nil {
				return errors.Errorf("failed to delete token: %v", err)
			}
		case !errors.Is(err, storm.ErrNotFound):
			return errors.Errorf("failed to find token: %v", err)
		}

		var rec subscriberRecord
		if err := tx.One("ID", id.String(), &rec); err != nil {
			if errors.Is(err, storm.ErrNotFound) {
				return optin.Errorf(optin.ErrNotFound, "subscriber %s not found", id)
			}
			return errors.Errorf("failed to find subscriber: %v", err)
		}
		if err := tx.DeleteStruct(&rec); err != nil {
			return errors.Errorf("failed to delete subscriber: %v", err)
		}
		return nil
	})
}

// RunInTx runs fn in a writable transaction
func (ss *subscriptionStore) RunInTx(ctx context.Context, fn func(tx optin.SubscriptionTx) error) error {
	return ss.withTx(func(tx storm.Node) error {
		return fn(&subscriptionTx{node: tx})
	})
}

// withTx commits only when fn succeeds. Bolt serialises writable
// transactions, so checks made inside fn hold until commit.
func (ss *subscriptionStore) withTx(fn func(tx storm.Node) error) error {
	tx, err := ss.db.stormDB.Begin(true)
	if err != nil {
		return errors.Errorf("failed to begin: %v", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Errorf("failed to commit: %v", err)
	}
	return nil
}

type subscriptionTx struct {
	node storm.Node
}

// InsertSubscriber saves a pending subscriber
func (t *subscriptionTx) InsertSubscriber(ctx context.Context, email optin.Email, name optin.Name) (uuid.UUID, error) {
	id := uuid.NewV4()
	rec := &subscriberRecord{
		ID:           id.String(),
		Email:        string(email),
		Name:         string(name),
		SubscribedAt: time.Now().UTC(),
		Status:       string(optin.StatusPendingConfirmation),
	}
	if err := t.node.Save(rec); err != nil {
		if errors.Is(err, storm.ErrAlreadyExists) {
			return uuid.Nil, &optin.Error{Code: optin.ErrConflict, Message: "email is already subscribed", Err: err}
		}
		return uuid.Nil, errors.Errorf("failed to save: %v", err)
	}

	return id, nil
}

// StoreToken saves the subscriber token
func (t *subscriptionTx) StoreToken(ctx context.Context, id uuid.UUID, token optin.Token) error {
	var existing tokenRecord
	switch err := t.node.One("SubscriberID", id.String(), &existing); {
	case err == nil:
		return optin.Errorf(optin.ErrConflict, "subscriber %s already has a token", id)
	case !errors.Is(err, storm.ErrNotFound):
		return errors.Errorf("failed to find token: %v", err)
	}

	if err := t.node.Save(&tokenRecord{SubscriberID: id.String(), Token: string(token)}); err != nil {
		if errors.Is(err, storm.ErrAlreadyExists) {
			return &optin.Error{Code: optin.ErrConflict, Message: "subscription token already exists", Err: err}
		}
		return errors.Errorf("failed to save: %v", err)
	}

	return nil
}

func findToken(tx storm.Node, rec *subscriberRecord) (*optin.Subscription, error) {
	var tok tokenRecord
	if err := tx.One("SubscriberID", rec.ID, &tok); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Errorf("failed to find token: %v", err)
	}

	id, err := uuid.FromString(rec.ID)
	if err != nil {
		return nil, errors.Errorf("invalid subscriber id %q: %v", rec.ID, err)
	}

	return &optin.Subscription{
		Subscriber: optin.Subscriber{
			ID:           id,
			Email:        optin.Email(rec.Email),
			Name:         optin.Name(rec.Name),
			SubscribedAt: rec.SubscribedAt,
			Status:       optin.Status(rec.Status),
		},
		Token: optin.Token(tok.Token),
	}, nil
}
