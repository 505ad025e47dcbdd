package accounts

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RegisterPendingUserMessage requests an inactive account and an activation mail
type RegisterPendingUserMessage struct {
	Email     string `json:"email" example:"pepe.rone@example.com" doc:"Account email"`
	Password  string `json:"password" example:"some_secret_word" doc:"Password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Protocol  string `json:"-"`
	Domain    string `json:"-"`

	OnResponse func(resp *RegisterPendingUserResponse) `json:"-"`
}

func (e RegisterPendingUserMessage) Type() string { return "user.register_pending" }

// Validate will run validation rules
func (e RegisterPendingUserMessage) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&e,
			validation.Field(&e.Email, validation.Required, validation.Length(3, 254), is.Email),
			validation.Field(&e.Password, validation.Required, validation.Length(10, 100)),
			validation.Field(&e.Domain, validation.Required),
		)
	}, "Invalid signup request")
}

// RegisterPendingUserResponse is handed to OnResponse after the mail is sent
type RegisterPendingUserResponse struct {
	User           *User
	ReplacedUsers  int64
	ActivationSent bool
}

// RegisterPendingUserHandler creates inactive users and mails their
// activation link. Earlier pending records for the same email are removed
// in the same transaction.
type RegisterPendingUserHandler struct {
	repo              RepositoryManager
	tokens            *ActivationTokenService
	renderer          *MailRenderer
	mailer            Mailer
	hasher            PasswordHasher
	throttle          MailThrottle
	activationTimeout time.Duration
	activity          ActivitySink
	logger            Logger
}

// NewRegisterPendingUserHandler creates a handler with sane defaults.
func NewRegisterPendingUserHandler(repo RepositoryManager, tokens *ActivationTokenService, renderer *MailRenderer, mailer Mailer) *RegisterPendingUserHandler {
	return &RegisterPendingUserHandler{
		repo:              repo,
		tokens:            tokens,
		renderer:          renderer,
		mailer:            mailer,
		hasher:            BcryptHasher{},
		throttle:          noopMailThrottle{},
		activationTimeout: DefaultActivationTimeout,
		activity:          noopActivitySink{},
		logger:            defaultLogger(),
	}
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterPendingUserHandler) WithActivitySink(sink ActivitySink) *RegisterPendingUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterPendingUserHandler) WithLogger(logger Logger) *RegisterPendingUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithPasswordHasher overrides the password hasher
func (h *RegisterPendingUserHandler) WithPasswordHasher(hasher PasswordHasher) *RegisterPendingUserHandler {
	if hasher != nil {
		h.hasher = hasher
	}
	return h
}

// WithMailThrottle limits activation mails per address
func (h *RegisterPendingUserHandler) WithMailThrottle(throttle MailThrottle) *RegisterPendingUserHandler {
	if throttle != nil {
		h.throttle = throttle
	}
	return h
}

// WithActivationTimeout sets the validity advertised in the mail
func (h *RegisterPendingUserHandler) WithActivationTimeout(timeout time.Duration) *RegisterPendingUserHandler {
	if timeout > 0 {
		h.activationTimeout = timeout
	}
	return h
}

func (h *RegisterPendingUserHandler) Execute(ctx context.Context, event RegisterPendingUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during pending user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterPendingUserHandler) execute(ctx context.Context, event RegisterPendingUserMessage) error {
	event.Email = normalizeEmail(event.Email)
	if err := event.Validate(); err != nil {
		return err
	}

	email := event.Email

	hash, err := h.hasher.HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &RegisterPendingUserResponse{}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		taken, err := h.repo.Users().ExistsActiveByEmailTx(ctx, tx, email)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
		}

		if taken {
			return ErrEmailTaken
		}

		// checked before the previous pending record is replaced so a
		// throttled request leaves the mailed link valid
		if !h.throttle.Allow(email) {
			return ErrTooManyActivationEmails
		}

		resp.ReplacedUsers, err = h.repo.Users().DeleteInactiveByEmailTx(ctx, tx, email)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove previous pending registrations")
		}

		user := &User{
			Email:        email,
			FirstName:    event.FirstName,
			LastName:     event.LastName,
			PasswordHash: hash,
			IsActive:     false,
		}

		if resp.User, err = h.repo.Users().CreateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create pending user")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "pending user registration transaction failed")
	}

	if err := h.sendActivation(ctx, event, resp.User); err != nil {
		return err
	}
	resp.ActivationSent = true

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventUserPendingRegistered,
		Actor: ActorRef{
			ID:   resp.User.ID.String(),
			Type: "user",
		},
		UserID: resp.User.ID.String(),
		Metadata: map[string]any{
			"replaced_pending": resp.ReplacedUsers,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *RegisterPendingUserHandler) sendActivation(ctx context.Context, event RegisterPendingUserMessage, user *User) error {
	token, err := h.tokens.Issue(user.ID.String())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue activation token")
	}

	protocol := event.Protocol
	if protocol == "" {
		protocol = "https"
	}

	msg, err := h.renderer.Render(MailActivation, user.Email, MailContext{
		Protocol:     protocol,
		Domain:       event.Domain,
		Token:        token,
		User:         user,
		TimeoutHours: int(h.activationTimeout / time.Hour),
	})
	if err != nil {
		return err
	}

	if err := h.mailer.Send(ctx, msg); err != nil {
		h.logger.Error("activation mail delivery failed", "user_id", user.ID.String(), "error", err)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to send activation mail")
	}

	return nil
}
