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

// FinalizePasswordResetMessage sets a new password using a reset session
type FinalizePasswordResetMessage struct {
	Session         string `json:"session" example:"350399bc-c095-4bdc-a59c-3352d44848e4" doc:"Reset password session token"`
	Password        string `json:"password" example:"some_secret_word" doc:"Password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (e FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

// Validate will run validation rules
func (e FinalizePasswordResetMessage) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&e,
			validation.Field(&e.Session, validation.Required, is.UUID),
			validation.Field(&e.Password, validation.Required, validation.Length(10, 100)),
			validation.Field(&e.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(e.Password))),
		)
	}, "Invalid password reset request")
}

type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	hasher   PasswordHasher
	timeout  time.Duration
	now      Clock
	activity ActivitySink
	logger   Logger
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		hasher:   BcryptHasher{},
		timeout:  DefaultPasswordResetTimeout,
		now:      defaultClock,
		activity: noopActivitySink{},
		logger:   defaultLogger(),
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithPasswordHasher overrides the password hasher
func (h *FinalizePasswordResetHandler) WithPasswordHasher(hasher PasswordHasher) *FinalizePasswordResetHandler {
	if hasher != nil {
		h.hasher = hasher
	}
	return h
}

// WithTimeout sets how long a reset link stays valid
func (h *FinalizePasswordResetHandler) WithTimeout(timeout time.Duration) *FinalizePasswordResetHandler {
	if timeout > 0 {
		h.timeout = timeout
	}
	return h
}

// WithClock overrides the time source used for expiration checks
func (h *FinalizePasswordResetHandler) WithClock(clock Clock) *FinalizePasswordResetHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var reset *PasswordReset

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		reset, err = h.repo.PasswordResets().GetByIDTx(ctx, tx, event.Session)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return goerrors.New("invalid or expired password reset token", goerrors.CategoryNotFound).
					WithCode(goerrors.CodeNotFound)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
		}

		if reset.Status != ResetRequestedStatus {
			return goerrors.New("password reset token has already been used", goerrors.CategoryConflict).
				WithTextCode(TextCodeTokenAlreadyUsed).
				WithCode(goerrors.CodeConflict)
		}

		if reset.CreatedAt == nil {
			return goerrors.New("password reset record is missing creation date", goerrors.CategoryInternal)
		}

		now := h.now()
		expired, err := IsOutsideThresholdPeriod(now, *reset.CreatedAt, h.timeout.String())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token expiration period")
		}

		if expired {
			return goerrors.New("password reset token has expired", goerrors.CategoryValidation).
				WithTextCode(TextCodeTokenExpired).
				WithCode(goerrors.CodeBadRequest)
		}

		if reset.UserID == nil {
			return goerrors.New("password reset record is not associated with a user", goerrors.CategoryInternal)
		}

		hash, err := h.hasher.HashPassword(event.Password)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		if err := h.repo.Users().ResetPasswordTx(ctx, tx, *reset.UserID, hash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
		}

		if err := h.repo.PasswordResets().MarkResetTx(ctx, tx, MarkPasswordAsReseted(reset.ID, now)); err != nil {
			if repository.IsRecordNotFound(err) {
				return goerrors.New("password reset token has already been used", goerrors.CategoryConflict).
					WithTextCode(TextCodeTokenAlreadyUsed).
					WithCode(goerrors.CodeConflict)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password reset status")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor: ActorRef{
			ID:   reset.UserID.String(),
			Type: "user",
		},
		UserID: reset.UserID.String(),
		Metadata: map[string]any{
			"password_reset_id": reset.ID.String(),
		},
	})

	return nil
}
