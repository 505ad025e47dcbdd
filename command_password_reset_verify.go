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

// VerifyPasswordResetMessage checks the id from a reset link before the
// new password form is shown
type VerifyPasswordResetMessage struct {
	Session    string                                   `json:"session" example:"350399bc-c095-4bdc-a59c-3352d44848e4" doc:"Reset password session token"`
	OnResponse func(resp *VerifyPasswordResetResponse) `json:"-"`
}

func (e VerifyPasswordResetMessage) Type() string { return "user.password_reset.verify" }

// Validate will run validation rules
func (e VerifyPasswordResetMessage) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&e,
			validation.Field(&e.Session, validation.Required, is.UUID),
		)
	}, "Invalid password reset link")
}

type VerifyPasswordResetResponse struct {
	Reset   *PasswordReset
	Stage   PasswordResetStep
	Found   bool
	Expired bool
}

type VerifyPasswordResetHandler struct {
	repo    RepositoryManager
	timeout time.Duration
	now     Clock
	logger  Logger
}

// NewVerifyPasswordResetHandler creates a handler with sane defaults.
func NewVerifyPasswordResetHandler(repo RepositoryManager) *VerifyPasswordResetHandler {
	return &VerifyPasswordResetHandler{
		repo:    repo,
		timeout: DefaultPasswordResetTimeout,
		now:     defaultClock,
		logger:  defaultLogger(),
	}
}

// WithTimeout sets how long a reset link stays valid
func (h *VerifyPasswordResetHandler) WithTimeout(timeout time.Duration) *VerifyPasswordResetHandler {
	if timeout > 0 {
		h.timeout = timeout
	}
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *VerifyPasswordResetHandler) WithLogger(logger Logger) *VerifyPasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock overrides the time source used for expiration checks
func (h *VerifyPasswordResetHandler) WithClock(clock Clock) *VerifyPasswordResetHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *VerifyPasswordResetHandler) Execute(ctx context.Context, event VerifyPasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyPasswordResetHandler) execute(ctx context.Context, event VerifyPasswordResetMessage) error {
	resp := &VerifyPasswordResetResponse{Stage: ResetUnknown}

	if err := event.Validate(); err != nil {
		h.respond(event, resp)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var reset *PasswordReset
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		reset, err = h.repo.PasswordResets().GetByIDTx(ctx, tx, event.Session)
		return err
	})
	if err != nil {
		if repository.IsRecordNotFound(err) {
			h.respond(event, resp)
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
	}

	resp.Found = true
	resp.Reset = reset

	if reset.Status != ResetRequestedStatus || reset.CreatedAt == nil {
		resp.Expired = true
		h.respond(event, resp)
		return nil
	}

	expired, err := IsOutsideThresholdPeriod(h.now(), *reset.CreatedAt, h.timeout.String())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token expiration period")
	}

	resp.Expired = expired
	if !expired {
		resp.Stage = ChangingPassword
	}

	h.respond(event, resp)
	return nil
}

func (h *VerifyPasswordResetHandler) respond(event VerifyPasswordResetMessage, resp *VerifyPasswordResetResponse) {
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
}
