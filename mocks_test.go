package accounts_test

import (
	"context"
	"sync"
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Trace(message string, args ...any) { l.record("trace", message, args...) }
func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }
func (l *captureLogger) Fatal(message string, args ...any) { l.record("fatal", message, args...) }
func (l *captureLogger) WithContext(context.Context) accounts.Logger {
	return l
}

func (l *captureLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string
	for _, call := range l.calls {
		if call.level == level {
			out = append(out, call.message)
		}
	}
	return out
}

type loggerProviderSpy struct {
	logger accounts.Logger
	byName map[string]accounts.Logger
	names  []string
}

func (p *loggerProviderSpy) GetLogger(name string) accounts.Logger {
	p.names = append(p.names, name)
	if p.byName != nil {
		if lgr, ok := p.byName[name]; ok {
			return lgr
		}
	}
	return p.logger
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []accounts.MailMessage
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg accounts.MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) messages() []accounts.MailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]accounts.MailMessage(nil), m.sent...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event accounts.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []accounts.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]accounts.ActivityEventType, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.EventType)
	}
	return out
}

type stubFeatureGate struct {
	enabled map[string]bool
	calls   []string
}

func (s *stubFeatureGate) Enabled(_ context.Context, key string, _ ...gate.ResolveOption) (bool, error) {
	s.calls = append(s.calls, key)
	if s.enabled == nil {
		return true, nil
	}
	enabled, ok := s.enabled[key]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

type denyAllThrottle struct{}

func (denyAllThrottle) Allow(string) bool { return false }

// budgetThrottle allows the first budget calls and records every address
type budgetThrottle struct {
	budget int
	seen   []string
}

func (b *budgetThrottle) Allow(email string) bool {
	b.seen = append(b.seen, email)
	if b.budget <= 0 {
		return false
	}
	b.budget--
	return true
}

// fixture bundles an in-memory store with the collaborators the account
// flows need
type fixture struct {
	repo     accounts.RepositoryManager
	db       *bun.DB
	tokens   *accounts.ActivationTokenService
	clock    *fakeClock
	renderer *accounts.MailRenderer
	mailer   *recordingMailer
	sink     *recordingSink
	logger   *captureLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, db := setupRepositoryManager(t)

	renderer, err := accounts.NewDefaultMailRenderer()
	require.NoError(t, err)

	clock := newFakeClock(t0)

	return &fixture{
		repo:     repo,
		db:       db,
		tokens:   newActivationService(clock),
		clock:    clock,
		renderer: renderer,
		mailer:   &recordingMailer{},
		sink:     &recordingSink{},
		logger:   &captureLogger{},
	}
}

// createAccount stores a user whose password is password
func (f *fixture) createAccount(t *testing.T, email, password string, active bool) *accounts.User {
	t.Helper()

	hash, err := accounts.HashPassword(password)
	require.NoError(t, err)

	user, err := f.repo.Users().CreateTx(context.Background(), f.db, &accounts.User{
		Email:        email,
		FirstName:    "Jane",
		LastName:     "Doe",
		PasswordHash: hash,
		IsActive:     active,
	})
	require.NoError(t, err)
	return user
}
