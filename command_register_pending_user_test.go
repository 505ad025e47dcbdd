package accounts_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingHandler(f *fixture) *accounts.RegisterPendingUserHandler {
	return accounts.NewRegisterPendingUserHandler(f.repo, f.tokens, f.renderer, f.mailer).
		WithActivitySink(f.sink).
		WithLogger(f.logger)
}

func pendingMessage(email string) accounts.RegisterPendingUserMessage {
	return accounts.RegisterPendingUserMessage{
		Email:     email,
		Password:  "correct-horse-battery",
		FirstName: "Jane",
		LastName:  "Doe",
		Protocol:  "https",
		Domain:    "accounts.example.com",
	}
}

// activationToken pulls the token out of the link in an activation mail
func activationToken(t *testing.T, msg accounts.MailMessage) string {
	t.Helper()

	const marker = "/activate/"
	idx := strings.Index(msg.Body, marker)
	require.GreaterOrEqual(t, idx, 0, "mail body has no activation link: %s", msg.Body)

	rest := msg.Body[idx+len(marker):]
	if end := strings.IndexAny(rest, " \n\r\t"); end >= 0 {
		rest = rest[:end]
	}
	require.NotEmpty(t, rest)
	return rest
}

func TestRegisterPendingUserCreatesInactiveUserAndMailsLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var resp *accounts.RegisterPendingUserResponse
	msg := pendingMessage("  Jane@Example.com ")
	msg.OnResponse = func(r *accounts.RegisterPendingUserResponse) { resp = r }

	require.NoError(t, newPendingHandler(f).Execute(ctx, msg))

	require.NotNil(t, resp)
	assert.True(t, resp.ActivationSent)
	assert.Zero(t, resp.ReplacedUsers)
	assert.Equal(t, "jane@example.com", resp.User.Email)
	assert.False(t, resp.User.IsActive)

	stored, err := f.repo.Users().GetByID(ctx, resp.User.ID.String())
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.NotEqual(t, "correct-horse-battery", stored.PasswordHash)
	require.NoError(t, accounts.ComparePasswordAndHash("correct-horse-battery", stored.PasswordHash))

	sent := f.mailer.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "jane@example.com", sent[0].To)
	assert.Contains(t, sent[0].Body, "https://accounts.example.com/activate/")

	uid, err := f.tokens.Redeem(activationToken(t, sent[0]), accounts.DefaultActivationTimeout)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID.String(), uid)

	assert.Equal(t, []accounts.ActivityEventType{accounts.ActivityEventUserPendingRegistered}, f.sink.types())
}

func TestRegisterPendingUserReplacesEarlierPendingRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	handler := newPendingHandler(f)

	var first, second *accounts.RegisterPendingUserResponse

	msg := pendingMessage("jane@example.com")
	msg.OnResponse = func(r *accounts.RegisterPendingUserResponse) { first = r }
	require.NoError(t, handler.Execute(ctx, msg))

	msg.OnResponse = func(r *accounts.RegisterPendingUserResponse) { second = r }
	require.NoError(t, handler.Execute(ctx, msg))

	assert.Equal(t, int64(1), second.ReplacedUsers)
	assert.NotEqual(t, first.User.ID, second.User.ID)

	_, err := f.repo.Users().GetByID(ctx, first.User.ID.String())
	require.Error(t, err)

	// the first link now points at a removed user
	sent := f.mailer.messages()
	require.Len(t, sent, 2)

	activate := accounts.NewActivateAccountHandler(f.repo, f.tokens)
	err = activate.Execute(ctx, accounts.ActivateAccountMessage{Token: activationToken(t, sent[0])})
	require.ErrorIs(t, err, accounts.ErrUserNotFound)

	require.NoError(t, activate.Execute(ctx, accounts.ActivateAccountMessage{Token: activationToken(t, sent[1])}))
}

func TestRegisterPendingUserRejectsTakenEmail(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "taken@example.com", "some-long-password", true)

	err := newPendingHandler(f).Execute(context.Background(), pendingMessage("TAKEN@example.com"))
	require.ErrorIs(t, err, accounts.ErrEmailTaken)
	assert.Empty(t, f.mailer.messages())
}

func TestRegisterPendingUserValidation(t *testing.T) {
	f := newFixture(t)

	msg := pendingMessage("not-an-email")
	msg.Password = "short"

	err := newPendingHandler(f).Execute(context.Background(), msg)
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryValidation, richErr.Category)

	fields := richErr.ValidationMap()
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
	assert.Empty(t, f.mailer.messages())
}

func TestRegisterPendingUserThrottled(t *testing.T) {
	f := newFixture(t)

	err := newPendingHandler(f).
		WithMailThrottle(denyAllThrottle{}).
		Execute(context.Background(), pendingMessage("jane@example.com"))

	require.ErrorIs(t, err, accounts.ErrTooManyActivationEmails)
	assert.Empty(t, f.mailer.messages())
}

func TestRegisterPendingUserMailFailure(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("smtp down")

	err := newPendingHandler(f).Execute(context.Background(), pendingMessage("jane@example.com"))
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryOperation, richErr.Category)
	assert.NotEmpty(t, f.logger.messages("error"))
	assert.Empty(t, f.sink.types())
}

func TestRegisterPendingUserCancelledContext(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newPendingHandler(f).Execute(ctx, pendingMessage("jane@example.com"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegisterPendingUserTakenEmailKeepsMailBudget(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "taken@example.com", "some-long-password", true)

	throttle := &budgetThrottle{budget: 1}
	handler := newPendingHandler(f).WithMailThrottle(throttle)

	for range 3 {
		err := handler.Execute(context.Background(), pendingMessage("taken@example.com"))
		require.ErrorIs(t, err, accounts.ErrEmailTaken)
	}
	assert.Empty(t, throttle.seen)

	require.NoError(t, handler.Execute(context.Background(), pendingMessage("fresh@example.com")))
	assert.Equal(t, []string{"fresh@example.com"}, throttle.seen)
}

func TestRegisterPendingUserThrottledKeepsEarlierLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	throttle := &budgetThrottle{budget: 1}
	handler := newPendingHandler(f).WithMailThrottle(throttle)

	var first *accounts.RegisterPendingUserResponse
	msg := pendingMessage("jane@example.com")
	msg.OnResponse = func(r *accounts.RegisterPendingUserResponse) { first = r }
	require.NoError(t, handler.Execute(ctx, msg))

	msg.OnResponse = nil
	require.ErrorIs(t, handler.Execute(ctx, msg), accounts.ErrTooManyActivationEmails)

	_, err := f.repo.Users().GetByID(ctx, first.User.ID.String())
	require.NoError(t, err)

	sent := f.mailer.messages()
	require.Len(t, sent, 1)
	require.NoError(t, newActivateHandler(f).Execute(ctx, accounts.ActivateAccountMessage{Token: activationToken(t, sent[0])}))
}
