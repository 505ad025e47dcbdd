package accounts

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeActivationTokenInvalid  = "ACTIVATION_TOKEN_INVALID"
	TextCodeActivationTokenExpired  = "ACTIVATION_TOKEN_EXPIRED"
	TextCodeActivationUserNotFound  = "ACTIVATION_USER_NOT_FOUND"
	TextCodeAccountAlreadyActive    = "ACCOUNT_ALREADY_ACTIVE"
	TextCodeActivationSuperseded    = "ACTIVATION_SUPERSEDED"
	TextCodeEmailTaken              = "EMAIL_TAKEN"
	TextCodeTooManyActivationEmails = "TOO_MANY_ACTIVATION_EMAILS"
	TextCodeInactiveAccount         = "ACCOUNT_INACTIVE"
	TextCodeTooManyLoginAttempts    = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	TextCodeSessionInvalid          = "SESSION_INVALID"
	TextCodeForbidden               = "FORBIDDEN"
	TextCodeTokenExpired            = "TOKEN_EXPIRED"
	TextCodeTokenAlreadyUsed        = "TOKEN_ALREADY_USED"
	TextCodeSignupDisabled          = "SIGNUP_DISABLED"
	TextCodePasswordResetDisabled   = "PASSWORD_RESET_DISABLED"
)

// ErrInvalidToken is returned for activation tokens that are malformed,
// tampered with or signed with another key.
var ErrInvalidToken = errors.New("activation token is invalid", errors.CategoryBadInput).
	WithTextCode(TextCodeActivationTokenInvalid).
	WithCode(errors.CodeBadRequest)

// ErrExpiredToken is returned for activation tokens older than the allowed age.
var ErrExpiredToken = errors.New("activation token has expired", errors.CategoryBadInput).
	WithTextCode(TextCodeActivationTokenExpired).
	WithCode(errors.CodeBadRequest)

// ErrUserNotFound is returned when a valid activation token names a user
// that no longer exists.
var ErrUserNotFound = errors.New("activation user not found", errors.CategoryBadInput).
	WithTextCode(TextCodeActivationUserNotFound).
	WithCode(errors.CodeBadRequest)

// ErrAccountAlreadyActive is returned when a token is redeemed for an account
// that is already active and the repeat policy rejects it.
var ErrAccountAlreadyActive = errors.New("account is already active", errors.CategoryBadInput).
	WithTextCode(TextCodeAccountAlreadyActive).
	WithCode(errors.CodeBadRequest)

// ErrActivationSuperseded is returned when a pending record is redeemed after
// another account became the active owner of its email.
var ErrActivationSuperseded = errors.New("activation superseded by an active account", errors.CategoryBadInput).
	WithTextCode(TextCodeActivationSuperseded).
	WithCode(errors.CodeBadRequest)

// ErrEmailTaken is returned when an active account already owns the email
var ErrEmailTaken = errors.New("email address is already registered", errors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(errors.CodeConflict)

// ErrTooManyActivationEmails is returned when activation mails for an
// address are requested faster than the configured rate.
var ErrTooManyActivationEmails = errors.New("too many activation emails requested", errors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyActivationEmails).
	WithCode(errors.CodeTooManyRequests)

// ErrInactiveAccount is returned on login for accounts pending activation
var ErrInactiveAccount = errors.New("account has not been activated", errors.CategoryAuth).
	WithTextCode(TextCodeInactiveAccount).
	WithCode(errors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned when an account is cooling down
var ErrTooManyLoginAttempts = errors.New("too many login attempts", errors.CategoryAuth).
	WithTextCode(TextCodeTooManyLoginAttempts).
	WithCode(errors.CodeUnauthorized)

// ErrMismatchedHashAndPassword is returned for wrong credentials
var ErrMismatchedHashAndPassword = errors.New("invalid email or password", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryValidation).
	WithCode(errors.CodeBadRequest)

// ErrUnableToFindSession is returned when the request carries no session
var ErrUnableToFindSession = errors.New("unable to find session", errors.CategoryAuth).
	WithTextCode(TextCodeSessionInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrUnableToDecodeSession is returned when the session token does not verify
var ErrUnableToDecodeSession = errors.New("unable to decode session", errors.CategoryAuth).
	WithTextCode(TextCodeSessionInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrForbidden is returned when a user tries to reach another user's profile
var ErrForbidden = errors.New("you are not allowed to access this resource", errors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(errors.CodeForbidden)

// ErrSignupDisabled is returned when the signup feature is turned off
var ErrSignupDisabled = errors.New("signup is disabled", errors.CategoryAuthz).
	WithTextCode(TextCodeSignupDisabled).
	WithCode(errors.CodeForbidden)

// ErrPasswordResetDisabled is returned when password reset is turned off
var ErrPasswordResetDisabled = errors.New("password reset is disabled", errors.CategoryAuthz).
	WithTextCode(TextCodePasswordResetDisabled).
	WithCode(errors.CodeForbidden)

// IsActivationError reports whether err is one of the activation failures.
// Callers answer all of them with the same response.
func IsActivationError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrAccountAlreadyActive) ||
		errors.Is(err, ErrActivationSuperseded)
}
