package accounts

import (
	"context"
	"time"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// Clock returns the current time. Tests swap it for a fixed clock.
type Clock func() time.Time

// Mailer delivers a rendered message to a single recipient
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

// PasswordHasher hashes and verifies passwords
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

func defaultLogger() Logger {
	return glog.NewLogger(
		glog.WithName("accounts"),
		glog.WithLevel(glog.Info),
		glog.WithAddSource(false),
	).GetLogger("accounts")
}

// ResolveLogger picks the logger for a component. A provider wins over an
// explicit logger unless it returns nil for the name; the default logger is
// the last resort.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if lgr := provider.GetLogger(name); lgr != nil {
			return provider, lgr
		}
	}

	if logger == nil {
		logger = defaultLogger()
	}

	return staticLoggerProvider{logger: logger}, logger
}

type staticLoggerProvider struct {
	logger Logger
}

func (p staticLoggerProvider) GetLogger(string) Logger {
	return p.logger
}

func defaultClock() time.Time {
	return time.Now()
}
