package accounts

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionClaims are carried by the session cookie
type SessionClaims struct {
	jwt.RegisteredClaims
	UID       string `json:"uid,omitempty"`
	Superuser bool   `json:"su,omitempty"`
}

// UserID returns the id of the signed in user
func (c *SessionClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// SessionTokenService signs and validates session tokens
type SessionTokenService struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        Clock
	logger     Logger
}

// NewSessionTokenService creates a new SessionTokenService
func NewSessionTokenService(signingKey []byte, ttl time.Duration, issuer string, audience []string) *SessionTokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionTokenService{
		signingKey: signingKey,
		ttl:        ttl,
		issuer:     issuer,
		audience:   audience,
		now:        defaultClock,
		logger:     defaultLogger(),
	}
}

// WithLogger overrides the logger
func (ts *SessionTokenService) WithLogger(logger Logger) *SessionTokenService {
	if logger != nil {
		ts.logger = logger
	}
	return ts
}

// WithClock overrides the time source
func (ts *SessionTokenService) WithClock(now Clock) *SessionTokenService {
	if now != nil {
		ts.now = now
	}
	return ts
}

// Generate creates a session token for user valid for ttl. A zero ttl uses
// the service default.
func (ts *SessionTokenService) Generate(user *User, ttl time.Duration) (string, error) {
	if user == nil || user.ID == uuid.Nil {
		return "", errors.New("session user must not be empty", errors.CategoryInternal)
	}

	if ttl <= 0 {
		ttl = ts.ttl
	}

	now := ts.now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   user.ID.String(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:       user.ID.String(),
		Superuser: user.IsSuperuser,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign session token")
	}

	return signed, nil
}

// Validate parses and validates a session token
func (ts *SessionTokenService) Validate(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, ErrUnableToFindSession
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("session validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		return nil, ErrUnableToDecodeSession
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	ts.logger.Error("session validate could not decode claims")
	return nil, ErrUnableToDecodeSession
}
