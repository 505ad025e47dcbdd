package accounts

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// UserTracker is a store we can use to retrieve users and track logins
type UserTracker interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackSucccessfulLogin(ctx context.Context, user *User) error
}

// UserProvider verifies credentials
type UserProvider struct {
	store    UserTracker
	hasher   PasswordHasher
	now      Clock
	logger   Logger
	provider LoggerProvider
}

// MaxLoginAttempts is the maximun number of attempts a user gets
// in a period
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "24h"

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserTracker) *UserProvider {
	loggerProvider, logger := ResolveLogger("accounts.user_provider", nil, nil)
	return &UserProvider{
		store:    store,
		hasher:   BcryptHasher{},
		now:      defaultClock,
		logger:   logger,
		provider: loggerProvider,
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	u.provider, u.logger = ResolveLogger("accounts.user_provider", nil, l)
	return u
}

// WithLoggerProvider overrides the logger provider used by the user provider.
func (u *UserProvider) WithLoggerProvider(provider LoggerProvider) *UserProvider {
	u.provider, u.logger = ResolveLogger("accounts.user_provider", provider, u.logger)
	return u
}

// WithPasswordHasher overrides the password hasher
func (u *UserProvider) WithPasswordHasher(hasher PasswordHasher) *UserProvider {
	if hasher != nil {
		u.hasher = hasher
	}
	return u
}

// WithClock overrides the time source used for the login cool down
func (u *UserProvider) WithClock(clock Clock) *UserProvider {
	if clock != nil {
		u.now = clock
	}
	return u
}

// VerifyIdentity will find the user and compare the password. Pending
// accounts with a matching password get ErrInactiveAccount.
func (u UserProvider) VerifyIdentity(ctx context.Context, email, password string) (*User, error) {
	user, err := u.store.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}

	if user.LoginAttemptAt != nil {
		expired, err := IsOutsideThresholdPeriod(u.now(), *user.LoginAttemptAt, CoolDownPeriod)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to calculate login attempt cooldown")
		}

		if expired {
			user.LoginAttempts = 0
		}
	}

	//if we have too many attempts in the given window, cool off!
	if user.LoginAttempts >= MaxLoginAttempts {
		return nil, ErrTooManyLoginAttempts
	}

	if err := u.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if err2 := u.store.TrackAttemptedLogin(ctx, user); err2 != nil {
			return nil, errors.Wrap(err2, errors.CategoryInternal, "failed to track login attempt")
		}

		return nil, ErrMismatchedHashAndPassword
	}

	if !user.IsActive {
		return nil, ErrInactiveAccount
	}

	if err := u.store.TrackSucccessfulLogin(ctx, user); err != nil {
		u.logger.Error("failed to track successful login", "error", err)
	}

	return user, nil
}

// FindByID returns the active user for a session subject
func (u UserProvider) FindByID(ctx context.Context, id string) (*User, error) {
	user, err := u.store.GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUnableToFindSession
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve session user")
	}

	if !user.IsActive {
		return nil, ErrInactiveAccount
	}

	return user, nil
}
