package accounts

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// DefaultPasswordResetTimeout is how long a reset link stays valid
const DefaultPasswordResetTimeout = 24 * time.Hour

type InitializePasswordResetMessage struct {
	Stage    string `json:"stage" example:"show-reset" doc:"Reset stage"`
	Email    string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	Protocol string `json:"-"`
	Domain   string `json:"-"`

	OnResponse func(resp *InitializePasswordResetResponse) `json:"-"`
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

// Validate will run validation rules
func (p InitializePasswordResetMessage) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&p,
			validation.Field(&p.Stage, validation.Required, validation.In(ResetInit)),
			validation.Field(&p.Email, validation.Required, is.Email),
		)
	}, "Invalid password reset request")
}

// InitializePasswordResetResponse is the same whether or not the email
// belongs to an account
type InitializePasswordResetResponse struct {
	Reset   *PasswordReset
	Stage   string
	Success bool
}

type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	renderer *MailRenderer
	mailer   Mailer
	throttle MailThrottle
	timeout  time.Duration
	activity ActivitySink
	logger   Logger
}

// NewInitializePasswordResetHandler creates a handler with sane defaults.
func NewInitializePasswordResetHandler(repo RepositoryManager, renderer *MailRenderer, mailer Mailer) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:     repo,
		renderer: renderer,
		mailer:   mailer,
		throttle: noopMailThrottle{},
		timeout:  DefaultPasswordResetTimeout,
		activity: noopActivitySink{},
		logger:   defaultLogger(),
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithMailThrottle limits reset mails per address
func (h *InitializePasswordResetHandler) WithMailThrottle(throttle MailThrottle) *InitializePasswordResetHandler {
	if throttle != nil {
		h.throttle = throttle
	}
	return h
}

// WithTimeout sets the validity advertised in the mail
func (h *InitializePasswordResetHandler) WithTimeout(timeout time.Duration) *InitializePasswordResetHandler {
	if timeout > 0 {
		h.timeout = timeout
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	event.Email = normalizeEmail(event.Email)
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &InitializePasswordResetResponse{Stage: AccountVerification}
	var user *User

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = h.repo.Users().GetActiveByEmailTx(ctx, tx, event.Email)
		if err != nil {
			// unknown addresses get the same answer as known ones
			if repository.IsRecordNotFound(err) {
				user = nil
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}

		reset := &PasswordReset{
			UserID: &user.ID,
			Email:  user.Email,
			Status: ResetRequestedStatus,
		}

		if resp.Reset, err = h.repo.PasswordResets().CreateTx(ctx, tx, reset); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create password reset record")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	if user != nil && resp.Reset != nil {
		h.notify(ctx, event, user, resp.Reset)
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// notify mails the reset link. Failures are logged, never surfaced, so the
// response does not reveal whether the address has an account.
func (h *InitializePasswordResetHandler) notify(ctx context.Context, event InitializePasswordResetMessage, user *User, reset *PasswordReset) {
	if !h.throttle.Allow(user.Email) {
		h.logger.Warn("password reset mail throttled", "user_id", user.ID.String())
		return
	}

	protocol := event.Protocol
	if protocol == "" {
		protocol = "https"
	}

	msg, err := h.renderer.Render(MailPasswordReset, user.Email, MailContext{
		Protocol:     protocol,
		Domain:       event.Domain,
		Token:        reset.ID.String(),
		User:         user,
		TimeoutHours: int(h.timeout / time.Hour),
	})
	if err != nil {
		h.logger.Error("failed to render password reset mail", "error", err)
		return
	}

	if err := h.mailer.Send(ctx, msg); err != nil {
		h.logger.Error("password reset mail delivery failed", "user_id", user.ID.String(), "error", err)
		return
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID: user.ID.String(),
		Metadata: map[string]any{
			"password_reset_id": reset.ID.String(),
		},
	})
}
