package accounts

import (
	"context"
	"time"
)

// Auther signs users in and resolves sessions back to users
type Auther struct {
	provider     *UserProvider
	tokenService *SessionTokenService
	activitySink ActivitySink
	logger       Logger
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider *UserProvider, tokens *SessionTokenService) *Auther {
	return &Auther{
		provider:     provider,
		tokenService: tokens,
		activitySink: noopActivitySink{},
		logger:       defaultLogger(),
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
		s.tokenService.WithLogger(logger)
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// TokenService returns the SessionTokenService used by this Authenticator
func (s *Auther) TokenService() *SessionTokenService {
	return s.tokenService
}

// Login verifies credentials and returns a session token valid for ttl
func (s *Auther) Login(ctx context.Context, email, password string, ttl time.Duration) (string, *User, error) {
	user, err := s.provider.VerifyIdentity(ctx, email, password)
	if err != nil {
		s.logger.Info("login rejected", "error", err)
		recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{Type: "unknown"},
			Metadata: map[string]any{
				"identifier": normalizeEmail(email),
				"error":      err.Error(),
			},
		})
		return "", nil, err
	}

	token, err := s.Issue(ctx, user, ttl)
	if err != nil {
		return "", nil, err
	}

	return token, user, nil
}

// Issue creates a session for a user that is already verified, e.g. right
// after registration
func (s *Auther) Issue(ctx context.Context, user *User, ttl time.Duration) (string, error) {
	token, err := s.tokenService.Generate(user, ttl)
	if err != nil {
		s.logger.Error("failed to generate session token", "error", err)
		return "", err
	}

	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID: user.ID.String(),
	})

	return token, nil
}

// SessionUser validates a session token and loads its user
func (s *Auther) SessionUser(ctx context.Context, raw string) (*User, error) {
	claims, err := s.tokenService.Validate(raw)
	if err != nil {
		return nil, err
	}

	return s.provider.FindByID(ctx, claims.UserID())
}

// Logout records the logout of user. Sessions are stateless, the cookie is
// what gets dropped.
func (s *Auther) Logout(ctx context.Context, user *User) {
	if user == nil {
		return
	}

	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: ActivityEventLogout,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID: user.ID.String(),
	})
}
