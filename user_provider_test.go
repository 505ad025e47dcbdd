package accounts_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserProviderVerifyIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createAccount(t, "jane@example.com", "correct-password", true)

	provider := accounts.NewUserProvider(f.repo.Users()).WithLogger(f.logger)

	found, err := provider.VerifyIdentity(ctx, "jane@example.com", "correct-password")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	stored, err := f.repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.NotNil(t, stored.LoggedInAt)
	assert.Zero(t, stored.LoginAttempts)
}

func TestUserProviderRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createAccount(t, "jane@example.com", "correct-password", true)

	provider := accounts.NewUserProvider(f.repo.Users())

	_, err := provider.VerifyIdentity(ctx, "nobody@example.com", "correct-password")
	require.ErrorIs(t, err, accounts.ErrMismatchedHashAndPassword)

	_, err = provider.VerifyIdentity(ctx, "jane@example.com", "wrong-password")
	require.ErrorIs(t, err, accounts.ErrMismatchedHashAndPassword)

	stored, err := f.repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, stored.LoginAttempts)
	assert.NotNil(t, stored.LoginAttemptAt)
}

func TestUserProviderPendingAccount(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "pending@example.com", "correct-password", false)

	provider := accounts.NewUserProvider(f.repo.Users())

	_, err := provider.VerifyIdentity(context.Background(), "pending@example.com", "correct-password")
	require.ErrorIs(t, err, accounts.ErrInactiveAccount)

	_, err = provider.VerifyIdentity(context.Background(), "pending@example.com", "wrong-password")
	require.ErrorIs(t, err, accounts.ErrMismatchedHashAndPassword)
}

func TestUserProviderLockoutAndCoolDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createAccount(t, "jane@example.com", "correct-password", true)

	provider := accounts.NewUserProvider(f.repo.Users())

	for range accounts.MaxLoginAttempts {
		_, err := provider.VerifyIdentity(ctx, "jane@example.com", "wrong-password")
		require.ErrorIs(t, err, accounts.ErrMismatchedHashAndPassword)
	}

	_, err := provider.VerifyIdentity(ctx, "jane@example.com", "correct-password")
	require.ErrorIs(t, err, accounts.ErrTooManyLoginAttempts)

	later := accounts.NewUserProvider(f.repo.Users()).
		WithClock(func() time.Time { return time.Now().Add(25 * time.Hour) })

	_, err = later.VerifyIdentity(ctx, "jane@example.com", "correct-password")
	require.NoError(t, err)
}

func TestUserProviderFindByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	active := f.createAccount(t, "jane@example.com", "correct-password", true)
	pending := f.createAccount(t, "pending@example.com", "correct-password", false)

	provider := accounts.NewUserProvider(f.repo.Users())

	found, err := provider.FindByID(ctx, active.ID.String())
	require.NoError(t, err)
	assert.Equal(t, active.ID, found.ID)

	_, err = provider.FindByID(ctx, pending.ID.String())
	require.ErrorIs(t, err, accounts.ErrInactiveAccount)

	_, err = provider.FindByID(ctx, "00000000-0000-4000-8000-000000000000")
	require.ErrorIs(t, err, accounts.ErrUnableToFindSession)
}

func TestUserProviderLoggerProvider(t *testing.T) {
	f := newFixture(t)
	named := &captureLogger{}
	spy := &loggerProviderSpy{
		logger: &captureLogger{},
		byName: map[string]accounts.Logger{"accounts.user_provider": named},
	}

	accounts.NewUserProvider(f.repo.Users()).WithLoggerProvider(spy)

	assert.Equal(t, []string{"accounts.user_provider"}, spy.names)
}
