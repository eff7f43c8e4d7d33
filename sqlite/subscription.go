package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	uuid "github.com/satori/go.uuid"

	"github.com/quantonganh/optin"
)

const selectSubscription = `
SELECT s.id, s.email, s.name, s.subscribed_at, s.status, t.subscription_token
FROM subscriptions s
JOIN subscription_tokens t ON t.subscriber_id = s.id`

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
	row := ss.db.sqlDB.QueryRowContext(ctx, selectSubscription+` WHERE s.email = ?`, string(email))
	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find by email %s: %w", email, err)
	}
	return s, nil
}

// FindByStatus finds subscriptions by status
func (ss *subscriptionStore) FindByStatus(ctx context.Context, status optin.Status) ([]*optin.Subscription, error) {
	rows, err := ss.db.sqlDB.QueryContext(ctx, selectSubscription+` WHERE s.status = ? ORDER BY s.subscribed_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to find by status: %w", err)
	}
	defer rows.Close()

	var subscriptions []*optin.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		subscriptions = append(subscriptions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to find by status: %w", err)
	}

	return subscriptions, nil
}

// FindSubscriberIDByToken returns the owner of token, or uuid.Nil
func (ss *subscriptionStore) FindSubscriberIDByToken(ctx context.Context, token optin.Token) (uuid.UUID, error) {
	var id uuid.UUID
	err := ss.db.sqlDB.QueryRowContext(ctx, `SELECT subscriber_id FROM subscription_tokens WHERE subscription_token = ?`, string(token)).
		Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("failed to find by token: %w", err)
	}
	return id, nil
}

// UpdateStatus updates subscriber status
func (ss *subscriptionStore) UpdateStatus(ctx context.Context, id uuid.UUID, status optin.Status) error {
	res, err := ss.db.sqlDB.ExecContext(ctx, `UPDATE subscriptions SET status = ? WHERE id = ?`, string(status), id.String())
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return expectRow(res, id)
}

// DeleteSubscriberAndToken removes the token and then its subscriber in one transaction
func (ss *subscriptionStore) DeleteSubscriberAndToken(ctx context.Context, id uuid.UUID) error {
	return ss.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subscription_tokens WHERE subscriber_id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to delete token: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete subscriber: %w", err)
		}
		return expectRow(res, id)
	})
}

// RunInTx runs fn in a transaction
func (ss *subscriptionStore) RunInTx(ctx context.Context, fn func(tx optin.SubscriptionTx) error) error {
	return ss.db.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&subscriptionTx{tx: tx})
	})
}

type subscriptionTx struct {
	tx *sql.Tx
}

// InsertSubscriber inserts a pending subscriber
func (t *subscriptionTx) InsertSubscriber(ctx context.Context, email optin.Email, name optin.Name) (uuid.UUID, error) {
	id := uuid.NewV4()
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO subscriptions (id, email, name, subscribed_at, status) VALUES (?, ?, ?, ?, ?)`,
		id.String(), string(email), string(name), time.Now().UTC(), string(optin.StatusPendingConfirmation))
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, &optin.Error{Code: optin.ErrConflict, Message: "email is already subscribed", Err: err}
		}
		return uuid.Nil, fmt.Errorf("failed to insert: %w", err)
	}
	return id, nil
}

// StoreToken stores the subscriber token
func (t *subscriptionTx) StoreToken(ctx context.Context, id uuid.UUID, token optin.Token) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO subscription_tokens (subscription_token, subscriber_id) VALUES (?, ?)`,
		string(token), id.String())
	if err != nil {
		if isUniqueViolation(err) {
			return &optin.Error{Code: optin.ErrConflict, Message: "subscription token already exists", Err: err}
		}
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row scanner) (*optin.Subscription, error) {
	var s optin.Subscription
	if err := row.Scan(&s.ID, &s.Email, &s.Name, &s.SubscribedAt, &s.Status, &s.Token); err != nil {
		return nil, err
	}
	return &s, nil
}

func expectRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return optin.Errorf(optin.ErrNotFound, "subscriber %s not found", id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
