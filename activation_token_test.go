package accounts_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var activationKey = []byte("activation-test-signing-key")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

func newActivationService(clock *fakeClock) *accounts.ActivationTokenService {
	return accounts.NewActivationTokenService(activationKey, accounts.WithActivationClock(clock.Now))
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestActivationTokenRoundTrip(t *testing.T) {
	clock := newFakeClock(t0)
	svc := newActivationService(clock)

	token, err := svc.Issue("42")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	uid, err := svc.Redeem(token, accounts.DefaultActivationTimeout)
	require.NoError(t, err)
	assert.Equal(t, "42", uid)
}

func TestActivationTokenRedeemIsIdempotent(t *testing.T) {
	clock := newFakeClock(t0)
	svc := newActivationService(clock)

	token, err := svc.Issue("42")
	require.NoError(t, err)

	first, err := svc.Redeem(token, time.Hour)
	require.NoError(t, err)

	second, err := svc.Redeem(token, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestActivationTokenIsDeterministicWithinASecond(t *testing.T) {
	clock := newFakeClock(t0)
	svc := newActivationService(clock)

	a, err := svc.Issue("42")
	require.NoError(t, err)

	clock.Advance(300 * time.Millisecond)

	b, err := svc.Issue("42")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestActivationTokenTamperDetected(t *testing.T) {
	clock := newFakeClock(t0)
	svc := newActivationService(clock)

	token, err := svc.Issue("42")
	require.NoError(t, err)

	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			continue
		}

		replacement := byte('A')
		if token[i] == 'A' {
			replacement = 'B'
		}

		tampered := token[:i] + string(replacement) + token[i+1:]

		_, err := svc.Redeem(tampered, time.Hour)
		require.ErrorIsf(t, err, accounts.ErrInvalidToken, "position %d was not detected", i)
	}
}

func TestActivationTokenExpiryBoundary(t *testing.T) {
	maxAge := 86400 * time.Second

	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{name: "fresh", elapsed: 0},
		{name: "one second", elapsed: time.Second},
		{name: "exactly max age", elapsed: maxAge},
		{name: "sub second past max age", elapsed: maxAge + 500*time.Millisecond, wantErr: accounts.ErrExpiredToken},
		{name: "one millisecond past max age", elapsed: maxAge + time.Millisecond, wantErr: accounts.ErrExpiredToken},
		{name: "just under max age", elapsed: maxAge - time.Millisecond},
		{name: "one second past max age", elapsed: maxAge + time.Second, wantErr: accounts.ErrExpiredToken},
		{name: "long past max age", elapsed: 30 * maxAge, wantErr: accounts.ErrExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock(t0)
			svc := newActivationService(clock)

			token, err := svc.Issue("7")
			require.NoError(t, err)

			clock.Advance(tt.elapsed)

			uid, err := svc.Redeem(token, maxAge)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, uid)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "7", uid)
		})
	}
}

func TestActivationScenarioRedeemWithinAndAfterWindow(t *testing.T) {
	clock := newFakeClock(t0)
	svc := newActivationService(clock)

	token, err := svc.Issue("42")
	require.NoError(t, err)

	clock.Set(t0.Add(time.Second))
	uid, err := svc.Redeem(token, 86400*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "42", uid)

	clock.Set(t0.Add(86401 * time.Second))
	_, err = svc.Redeem(token, 86400*time.Second)
	require.ErrorIs(t, err, accounts.ErrExpiredToken)
}

func TestActivationTokenSplicedSignatureRejected(t *testing.T) {
	clock := newFakeClock(t0)
	svc := newActivationService(clock)

	token42, err := svc.Issue("42")
	require.NoError(t, err)
	token43, err := svc.Issue("43")
	require.NoError(t, err)

	parts42 := strings.Split(token42, ".")
	parts43 := strings.Split(token43, ".")
	require.Len(t, parts42, 3)
	require.Len(t, parts43, 3)

	spliced := strings.Join([]string{parts43[0], parts43[1], parts42[2]}, ".")

	_, err = svc.Redeem(spliced, time.Hour)
	require.ErrorIs(t, err, accounts.ErrInvalidToken)
}

func TestActivationTokenRejectsForeignTokens(t *testing.T) {
	clock := newFakeClock(t0)
	svc := newActivationService(clock)

	other := accounts.NewActivationTokenService([]byte("another-key"), accounts.WithActivationClock(clock.Now))
	foreign, err := other.Issue("42")
	require.NoError(t, err)

	wrongPurpose := jwt.NewWithClaims(jwt.SigningMethodHS256, &accounts.ActivationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "42",
			IssuedAt: jwt.NewNumericDate(t0),
		},
		Purpose: "session",
	})
	wrongPurposeToken, err := wrongPurpose.SignedString(activationKey)
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, &accounts.ActivationClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42", IssuedAt: jwt.NewNumericDate(t0)},
		Purpose:          accounts.ActivationPurpose,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":         "",
		"garbage":       "not-a-token",
		"two segments":  "abc.def",
		"other key":     foreign,
		"wrong purpose": wrongPurposeToken,
		"alg none":      noneToken,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Redeem(token, time.Hour)
			require.ErrorIs(t, err, accounts.ErrInvalidToken)
			assert.True(t, accounts.IsActivationError(err))
		})
	}
}

func TestActivationTokenIssueRequiresUserID(t *testing.T) {
	svc := newActivationService(newFakeClock(t0))

	_, err := svc.Issue("  ")
	require.Error(t, err)
}

func TestActivationTokenConcurrentUse(t *testing.T) {
	svc := newActivationService(newFakeClock(t0))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := svc.Issue("42")
			assert.NoError(t, err)
			uid, err := svc.Redeem(token, time.Minute)
			assert.NoError(t, err)
			assert.Equal(t, "42", uid)
		}()
	}
	wg.Wait()
}
