package subscription

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	uuid "github.com/satori/go.uuid"
	testifymock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantonganh/optin"
	"github.com/quantonganh/optin/mock"
	"github.com/quantonganh/optin/sqlite"
)

const (
	testEmail = "alphacentauri@smail.com"
	testName  = "Alpha Centauri"
)

var testComposer = NewComposer("Optin", "https://optin.example.com", "http://localhost:8080")

func newTestStore(t *testing.T) optin.SubscriptionStore {
	t.Helper()

	db := sqlite.NewDB(filepath.Join(t.TempDir(), "optin.db"))
	require.NoError(t, db.Open())
	t.Cleanup(func() {
		_ = db.Close()
	})
	return sqlite.NewSubscriptionStore(db)
}

// sentMail records what the gateway was asked to deliver.
type sentMail struct {
	mu    sync.Mutex
	html  []string
	texts []string
}

func (s *sentMail) record(args testifymock.Arguments) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = append(s.html, args.String(2))
	s.texts = append(s.texts, args.String(3))
}

func (s *sentMail) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.html)
}

func expectSend(gateway *mock.NotificationGateway, email string, err error) *sentMail {
	sent := new(sentMail)
	gateway.On("SendEmail", optin.Email(email), testifymock.Anything, testifymock.Anything, testifymock.Anything).
		Run(sent.record).
		Return(err)
	return sent
}

func countSubscriptions(t *testing.T, store optin.SubscriptionStore) int {
	t.Helper()

	var n int
	for _, status := range []optin.Status{optin.StatusPendingConfirmation, optin.StatusConfirmed} {
		subscriptions, err := store.FindByStatus(context.Background(), status)
		require.NoError(t, err)
		n += len(subscriptions)
	}
	return n
}

func TestSubscribeConfirmRevoke(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := new(mock.NotificationGateway)
	sent := expectSend(gateway, testEmail, nil)
	s := NewService(store, gateway, testComposer)

	require.NoError(t, s.Subscribe(ctx, testEmail, testName))

	saved, err := store.FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, optin.Name(testName), saved.Name)
	assert.Equal(t, optin.StatusPendingConfirmation, saved.Status)
	assert.Equal(t, 1, countSubscriptions(t, store))

	require.Equal(t, 1, sent.count())
	assert.Contains(t, sent.html[0], testComposer.ConfirmationLink(saved.Token))
	assert.Contains(t, sent.html[0], testComposer.RevocationLink(saved.Token))
	assert.Contains(t, sent.texts[0], testComposer.ConfirmationLink(saved.Token))

	require.NoError(t, s.Confirm(ctx, saved.Token.String()))
	confirmed, err := store.FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, optin.StatusConfirmed, confirmed.Status)

	require.NoError(t, s.Confirm(ctx, saved.Token.String()), "confirming twice is a no-op")

	require.NoError(t, s.Revoke(ctx, saved.Token.String()))
	gone, err := store.FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.Equal(t, 0, countSubscriptions(t, store))

	err = s.Confirm(ctx, saved.Token.String())
	assert.Equal(t, optin.ErrUnauthorized, optin.ErrorCode(err))
	err = s.Revoke(ctx, saved.Token.String())
	assert.Equal(t, optin.ErrUnauthorized, optin.ErrorCode(err))

	gateway.AssertExpectations(t)
}

func TestSubscribeAfterRevokeMintsNewToken(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := new(mock.NotificationGateway)
	expectSend(gateway, testEmail, nil)
	s := NewService(store, gateway, testComposer)

	require.NoError(t, s.Subscribe(ctx, testEmail, testName))
	first, err := store.FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	require.NoError(t, s.Revoke(ctx, first.Token.String()))

	require.NoError(t, s.Subscribe(ctx, testEmail, testName))
	second, err := store.FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, optin.StatusPendingConfirmation, second.Status)
}

func TestSubscribeRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		email string
		input string
	}{
		{"missing email", "", testName},
		{"missing name", testEmail, ""},
		{"missing both", "", ""},
		{"blank name", testEmail, "   "},
		{"invalid email", "certainly-not-an-email", testName},
		{"forbidden character", testEmail, "Alpha <Centauri>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			gateway := new(mock.NotificationGateway)
			s := NewService(store, gateway, testComposer)

			err := s.Subscribe(context.Background(), tt.email, tt.input)
			require.Error(t, err)
			assert.Equal(t, optin.ErrInvalid, optin.ErrorCode(err))
			assert.Equal(t, 0, countSubscriptions(t, store))
			gateway.AssertNotCalled(t, "SendEmail", testifymock.Anything, testifymock.Anything, testifymock.Anything, testifymock.Anything)
		})
	}
}

func TestSubscribeTwiceResendsWithSameToken(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := new(mock.NotificationGateway)
	sent := expectSend(gateway, testEmail, nil)
	s := NewService(store, gateway, testComposer)

	require.NoError(t, s.Subscribe(ctx, testEmail, testName))
	require.NoError(t, s.Subscribe(ctx, testEmail, testName))

	assert.Equal(t, 1, countSubscriptions(t, store))
	saved, err := store.FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	require.Equal(t, 2, sent.count())
	for _, body := range sent.html {
		assert.Contains(t, body, testComposer.ConfirmationLink(saved.Token))
	}
}

func TestSubscribeDoesNotResetConfirmedStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := new(mock.NotificationGateway)
	sent := expectSend(gateway, testEmail, nil)
	s := NewService(store, gateway, testComposer)

	require.NoError(t, s.Subscribe(ctx, testEmail, testName))
	saved, err := store.FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	require.NoError(t, s.Confirm(ctx, saved.Token.String()))

	require.NoError(t, s.Subscribe(ctx, testEmail, "Another Name"))

	after, err := store.FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, optin.StatusConfirmed, after.Status)
	assert.Equal(t, saved.Token, after.Token)
	assert.Equal(t, optin.Name(testName), after.Name)
	assert.Equal(t, 2, sent.count())
}

func TestSubscribeReportsNotificationFailureAfterCommit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := new(mock.NotificationGateway)
	gateway.On("SendEmail", optin.Email(testEmail), testifymock.Anything, testifymock.Anything, testifymock.Anything).
		Return(errors.New("smtp: connection refused")).Once()
	s := NewService(store, gateway, testComposer)

	err := s.Subscribe(ctx, testEmail, testName)
	require.Error(t, err)
	assert.Equal(t, optin.ErrInternal, optin.ErrorCode(err))

	saved, err := store.FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	require.NotNil(t, saved, "the subscriber stays committed")

	gateway.On("SendEmail", optin.Email(testEmail), testifymock.Anything, testifymock.Anything, testifymock.Anything).
		Return(nil).Once()
	require.NoError(t, s.Subscribe(ctx, testEmail, testName))

	retried, err := store.FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, saved.Token, retried.Token)
	gateway.AssertExpectations(t)
}

// racingStore hides existing subscribers from the first lookup, as if a
// concurrent request committed right after it.
type racingStore struct {
	optin.SubscriptionStore

	mu     sync.Mutex
	hidden bool
}

func (r *racingStore) FindByEmail(ctx context.Context, email optin.Email) (*optin.Subscription, error) {
	r.mu.Lock()
	hide := !r.hidden
	r.hidden = true
	r.mu.Unlock()

	if hide {
		return nil, nil
	}
	return r.SubscriptionStore.FindByEmail(ctx, email)
}

func TestSubscribeFallsBackToResendOnConcurrentInsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := new(mock.NotificationGateway)
	sent := expectSend(gateway, testEmail, nil)

	require.NoError(t, NewService(store, gateway, testComposer).Subscribe(ctx, testEmail, testName))
	winner, err := store.FindByEmail(ctx, testEmail)
	require.NoError(t, err)

	s := NewService(&racingStore{SubscriptionStore: store}, gateway, testComposer)
	require.NoError(t, s.Subscribe(ctx, testEmail, testName))

	assert.Equal(t, 1, countSubscriptions(t, store))
	require.Equal(t, 2, sent.count())
	assert.Contains(t, sent.html[1], testComposer.ConfirmationLink(winner.Token))
}

func TestConcurrentSubscribesCreateOneSubscriber(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := new(mock.NotificationGateway)
	sent := expectSend(gateway, testEmail, nil)
	s := NewService(store, gateway, testComposer)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Subscribe(ctx, testEmail, testName)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, countSubscriptions(t, store))
	assert.Equal(t, workers, sent.count())
}

func TestConfirmAndRevokeRejectBadTokens(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	s := NewService(store, new(mock.NotificationGateway), testComposer)

	for _, op := range []func(context.Context, string) error{s.Confirm, s.Revoke} {
		err := op(ctx, "")
		assert.Equal(t, optin.ErrInvalid, optin.ErrorCode(err))

		err = op(ctx, "KYu7R2TPDCAy1rT141uOExlVVf")
		assert.Equal(t, optin.ErrInvalid, optin.ErrorCode(err))

		err = op(ctx, "KYu7R2TPDCAy1rT141uOExlVV")
		assert.Equal(t, optin.ErrUnauthorized, optin.ErrorCode(err))
	}
	assert.Equal(t, 0, countSubscriptions(t, store))
}

// failingStore fails every lookup.
type failingStore struct {
	optin.SubscriptionStore
}

func (failingStore) FindByEmail(context.Context, optin.Email) (*optin.Subscription, error) {
	return nil, errors.New("database is gone")
}

func TestSubscribeReportsStoreFailure(t *testing.T) {
	gateway := new(mock.NotificationGateway)
	s := NewService(failingStore{SubscriptionStore: newTestStore(t)}, gateway, testComposer)

	err := s.Subscribe(context.Background(), testEmail, testName)
	assert.Equal(t, optin.ErrInternal, optin.ErrorCode(err))
	gateway.AssertNotCalled(t, "SendEmail", testifymock.Anything, testifymock.Anything, testifymock.Anything, testifymock.Anything)
}

// vanishingStore deletes the subscriber right after resolving its token, as
// if a concurrent revoke committed between the lookup and the mutation.
type vanishingStore struct {
	optin.SubscriptionStore
}

func (v *vanishingStore) FindSubscriberIDByToken(ctx context.Context, token optin.Token) (uuid.UUID, error) {
	id, err := v.SubscriptionStore.FindSubscriberIDByToken(ctx, token)
	if err != nil || id == uuid.Nil {
		return id, err
	}
	return id, v.SubscriptionStore.DeleteSubscriberAndToken(ctx, id)
}

func TestConfirmAndRevokeAfterConcurrentRevoke(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := new(mock.NotificationGateway)
	expectSend(gateway, testEmail, nil)
	s := NewService(store, gateway, testComposer)
	vanishing := NewService(&vanishingStore{SubscriptionStore: store}, gateway, testComposer)

	for name, op := range map[string]func(context.Context, string) error{
		"confirm": vanishing.Confirm,
		"revoke":  vanishing.Revoke,
	} {
		require.NoError(t, s.Subscribe(ctx, testEmail, testName), name)
		saved, err := store.FindByEmail(ctx, testEmail)
		require.NoError(t, err, name)
		require.NotNil(t, saved, name)

		err = op(ctx, saved.Token.String())
		assert.Equal(t, optin.ErrUnauthorized, optin.ErrorCode(err), name)
		assert.Equal(t, unknownTokenMessage, optin.ErrorMessage(err), name)
		assert.Equal(t, 0, countSubscriptions(t, store), name)
	}
}

func TestSubscribeRetriesOnTokenCollision(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := new(mock.NotificationGateway)
	expectSend(gateway, "other@smail.com", nil)
	sent := expectSend(gateway, testEmail, nil)

	require.NoError(t, NewService(store, gateway, testComposer).Subscribe(ctx, "other@smail.com", "Other"))
	other, err := store.FindByEmail(ctx, "other@smail.com")
	require.NoError(t, err)

	s := NewService(store, gateway, testComposer)
	calls := 0
	s.newToken = func() (optin.Token, error) {
		calls++
		if calls == 1 {
			return other.Token, nil
		}
		return optin.NewToken()
	}

	require.NoError(t, s.Subscribe(ctx, testEmail, testName))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, countSubscriptions(t, store))

	saved, err := store.FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.NotEqual(t, other.Token, saved.Token)
	require.Equal(t, 1, sent.count())
	assert.Contains(t, sent.html[0], testComposer.ConfirmationLink(saved.Token))
}

func TestSubscribeGivesUpAfterRepeatedTokenCollision(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gateway := new(mock.NotificationGateway)
	expectSend(gateway, "other@smail.com", nil)
	sent := expectSend(gateway, testEmail, nil)

	require.NoError(t, NewService(store, gateway, testComposer).Subscribe(ctx, "other@smail.com", "Other"))
	other, err := store.FindByEmail(ctx, "other@smail.com")
	require.NoError(t, err)

	s := NewService(store, gateway, testComposer)
	s.newToken = func() (optin.Token, error) {
		return other.Token, nil
	}

	err = s.Subscribe(ctx, testEmail, testName)
	assert.Equal(t, optin.ErrInternal, optin.ErrorCode(err))
	assert.Equal(t, 1, countSubscriptions(t, store))
	assert.Equal(t, 0, sent.count())
}
