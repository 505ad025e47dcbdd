package accounts_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionKey = []byte("session-test-signing-key")

func newSessionService(clock *fakeClock) *accounts.SessionTokenService {
	return accounts.NewSessionTokenService(sessionKey, time.Hour, "go-accounts", []string{"accounts"}).
		WithClock(clock.Now).
		WithLogger(&captureLogger{})
}

func TestSessionTokenRoundTrip(t *testing.T) {
	clock := newFakeClock(t0)
	svc := newSessionService(clock)

	user := &accounts.User{ID: uuid.New(), IsSuperuser: true}

	token, err := svc.Generate(user, 0)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID())
	assert.True(t, claims.Superuser)
	assert.True(t, t0.Add(time.Hour).Equal(claims.Expires()))
}

func TestSessionTokenExpires(t *testing.T) {
	clock := newFakeClock(t0)
	svc := newSessionService(clock)

	token, err := svc.Generate(&accounts.User{ID: uuid.New()}, 10*time.Minute)
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)

	_, err = svc.Validate(token)
	require.ErrorIs(t, err, accounts.ErrUnableToDecodeSession)
}

func TestSessionTokenRejects(t *testing.T) {
	clock := newFakeClock(t0)
	svc := newSessionService(clock)
	user := &accounts.User{ID: uuid.New()}

	_, err := svc.Validate("")
	require.ErrorIs(t, err, accounts.ErrUnableToFindSession)

	_, err = svc.Generate(&accounts.User{}, 0)
	require.Error(t, err)

	otherAudience, err := accounts.NewSessionTokenService(sessionKey, time.Hour, "go-accounts", []string{"billing"}).
		WithClock(clock.Now).
		Generate(user, 0)
	require.NoError(t, err)
	_, err = svc.Validate(otherAudience)
	require.ErrorIs(t, err, accounts.ErrUnableToDecodeSession)

	otherKey, err := accounts.NewSessionTokenService([]byte("another-key"), time.Hour, "go-accounts", []string{"accounts"}).
		WithClock(clock.Now).
		Generate(user, 0)
	require.NoError(t, err)
	_, err = svc.Validate(otherKey)
	require.ErrorIs(t, err, accounts.ErrUnableToDecodeSession)

	// activation tokens carry no expiry and never pass as a session
	activation, err := accounts.NewActivationTokenService(sessionKey, accounts.WithActivationClock(clock.Now)).
		Issue(user.ID.String())
	require.NoError(t, err)
	_, err = svc.Validate(activation)
	require.ErrorIs(t, err, accounts.ErrUnableToDecodeSession)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": user.ID.String(),
		"exp": t0.Add(time.Hour).Unix(),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Validate(unsigned)
	require.ErrorIs(t, err, accounts.ErrUnableToDecodeSession)
}
