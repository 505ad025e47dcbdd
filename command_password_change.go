package accounts

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// ChangePasswordMessage changes the password of a signed in user
type ChangePasswordMessage struct {
	UserID          string `json:"user_id"`
	OldPassword     string `json:"old_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (e ChangePasswordMessage) Type() string { return "user.password_change" }

// Validate will run validation rules
func (e ChangePasswordMessage) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&e,
			validation.Field(&e.UserID, validation.Required),
			validation.Field(&e.OldPassword, validation.Required),
			validation.Field(&e.NewPassword, validation.Required, validation.Length(10, 100)),
			validation.Field(&e.ConfirmPassword, validation.Required, validation.By(ValidateStringEquals(e.NewPassword))),
		)
	}, "Invalid password change request")
}

// ChangePasswordHandler verifies the current password before storing a new one
type ChangePasswordHandler struct {
	repo     RepositoryManager
	hasher   PasswordHasher
	activity ActivitySink
	logger   Logger
}

// NewChangePasswordHandler creates a handler with sane defaults.
func NewChangePasswordHandler(repo RepositoryManager) *ChangePasswordHandler {
	return &ChangePasswordHandler{
		repo:     repo,
		hasher:   BcryptHasher{},
		activity: noopActivitySink{},
		logger:   defaultLogger(),
	}
}

// WithActivitySink sets the sink used to emit password events.
func (h *ChangePasswordHandler) WithActivitySink(sink ActivitySink) *ChangePasswordHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ChangePasswordHandler) WithLogger(logger Logger) *ChangePasswordHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithPasswordHasher overrides the password hasher
func (h *ChangePasswordHandler) WithPasswordHasher(hasher PasswordHasher) *ChangePasswordHandler {
	if hasher != nil {
		h.hasher = hasher
	}
	return h
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByIDTx(ctx, tx, event.UserID)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return goerrors.New("user not found", goerrors.CategoryNotFound).
					WithCode(goerrors.CodeNotFound)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve user")
		}

		if err := h.hasher.ComparePasswordAndHash(event.OldPassword, user.PasswordHash); err != nil {
			return goerrors.New("current password is incorrect", goerrors.CategoryValidation).
				WithTextCode(TextCodeInvalidCredentials).
				WithCode(goerrors.CodeBadRequest).
				WithMetadata(map[string]any{"field": "old_password"})
		}

		hash, err := h.hasher.HashPassword(event.NewPassword)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		if err := h.repo.Users().ResetPasswordTx(ctx, tx, user.ID, hash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to change password")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor: ActorRef{
			ID:   event.UserID,
			Type: "user",
		},
		UserID: event.UserID,
	})

	return nil
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return validation.NewError("validation_values_mismatch", "values must match")
		}
		return nil
	}
}
