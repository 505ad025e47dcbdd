package accounts

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// ActivationPurpose is stored in every activation token so tokens minted
// for other uses with the same key never redeem as activation tokens.
const ActivationPurpose = "account-activation"

// DefaultActivationTimeout is the default maximum token age
const DefaultActivationTimeout = 24 * time.Hour

// ActivationClaims is the payload sealed into an activation token.
// Subject carries the user id and IssuedAt the issuance second.
type ActivationClaims struct {
	jwt.RegisteredClaims
	Purpose string `json:"pur"`
}

// ActivationTokenService issues and redeems stateless activation tokens.
// It holds no mutable state and is safe for concurrent use.
type ActivationTokenService struct {
	signingKey []byte
	now        Clock
}

// ActivationTokenOption configures an ActivationTokenService
type ActivationTokenOption func(*ActivationTokenService)

// WithActivationClock overrides the clock used to stamp and age tokens
func WithActivationClock(clock Clock) ActivationTokenOption {
	return func(s *ActivationTokenService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewActivationTokenService creates a service that signs tokens with key
func NewActivationTokenService(signingKey []byte, opts ...ActivationTokenOption) *ActivationTokenService {
	s := &ActivationTokenService{
		signingKey: signingKey,
		now:        defaultClock,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Issue returns a signed token binding userID to the current second
func (s *ActivationTokenService) Issue(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required to issue an activation token", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}

	if len(s.signingKey) == 0 {
		return "", errors.New("activation signing key is not configured", errors.CategoryInternal)
	}

	claims := &ActivationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
		Purpose: ActivationPurpose,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign activation token")
	}

	return signed, nil
}

// Redeem verifies token and returns the user id it carries.
// A token older than maxAge, measured from its whole-second issue stamp, is
// rejected with ErrExpiredToken; an age equal to maxAge is still accepted. Any malformed
// or tampered token yields ErrInvalidToken. Redeem does not consume the
// token, redeeming it again gives the same result.
func (s *ActivationTokenService) Redeem(token string, maxAge time.Duration) (string, error) {
	if token == "" || len(s.signingKey) == 0 {
		return "", ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(s.now),
	)

	claims := &ActivationClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	if claims.Purpose != ActivationPurpose || claims.Subject == "" || claims.IssuedAt == nil {
		return "", ErrInvalidToken
	}

	elapsed := s.now().Sub(claims.IssuedAt.Time)
	if elapsed > maxAge {
		return "", ErrExpiredToken
	}

	return claims.Subject, nil
}
