package accounts_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := f.createAccount(t, "owner@example.com", "some-long-password", true)
	other := f.createAccount(t, "other@example.com", "some-long-password", true)
	admin := f.createAccount(t, "admin@example.com", "some-long-password", true)
	admin.IsSuperuser = true

	handler := accounts.NewUpdateProfileHandler(f.repo).
		WithActivitySink(f.sink).
		WithLogger(f.logger)

	t.Run("owner", func(t *testing.T) {
		var updated *accounts.User
		err := handler.Execute(ctx, accounts.UpdateProfileMessage{
			Actor:      owner,
			UserID:     owner.ID.String(),
			FirstName:  "Janet",
			LastName:   "Roe",
			OnResponse: func(u *accounts.User) { updated = u },
		})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, "Janet Roe", updated.FullName())
	})

	t.Run("other user is forbidden", func(t *testing.T) {
		err := handler.Execute(ctx, accounts.UpdateProfileMessage{
			Actor:     other,
			UserID:    owner.ID.String(),
			FirstName: "Mallory",
		})
		require.ErrorIs(t, err, accounts.ErrForbidden)
	})

	t.Run("superuser", func(t *testing.T) {
		err := handler.Execute(ctx, accounts.UpdateProfileMessage{
			Actor:     admin,
			UserID:    owner.ID.String(),
			FirstName: "Jane",
			LastName:  "Admin-Edited",
		})
		require.NoError(t, err)
	})

	t.Run("no session", func(t *testing.T) {
		err := handler.Execute(ctx, accounts.UpdateProfileMessage{UserID: owner.ID.String()})
		require.ErrorIs(t, err, accounts.ErrUnableToFindSession)
	})

	stored, err := f.repo.Users().GetByID(ctx, owner.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "Jane", stored.FirstName)
	assert.Equal(t, "Admin-Edited", stored.LastName)

	assert.Equal(t, []accounts.ActivityEventType{
		accounts.ActivityEventProfileUpdated,
		accounts.ActivityEventProfileUpdated,
	}, f.sink.types())
}
