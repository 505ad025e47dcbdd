package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepeatActivationPolicy decides what redeeming a token for an already
// active account does
type RepeatActivationPolicy string

const (
	// RepeatActivationReject answers a repeated activation like any other
	// failed activation
	RepeatActivationReject RepeatActivationPolicy = "reject"
	// RepeatActivationAccept answers a repeated activation with success
	// without touching the account
	RepeatActivationAccept RepeatActivationPolicy = "accept"
)

// ActivateAccountMessage carries the token from the activation link
type ActivateAccountMessage struct {
	Token      string `json:"token"`
	OnResponse func(resp *ActivateAccountResponse) `json:"-"`
}

func (e ActivateAccountMessage) Type() string { return "user.activate" }

// ActivateAccountResponse describes a successful activation
type ActivateAccountResponse struct {
	User             *User
	AlreadyActivated bool
}

// ActivateAccountHandler redeems activation tokens and flips the account
// to active exactly once
type ActivateAccountHandler struct {
	repo     RepositoryManager
	tokens   *ActivationTokenService
	maxAge   time.Duration
	policy   RepeatActivationPolicy
	activity ActivitySink
	logger   Logger
}

// NewActivateAccountHandler creates a handler with sane defaults.
func NewActivateAccountHandler(repo RepositoryManager, tokens *ActivationTokenService) *ActivateAccountHandler {
	return &ActivateAccountHandler{
		repo:     repo,
		tokens:   tokens,
		maxAge:   DefaultActivationTimeout,
		policy:   RepeatActivationReject,
		activity: noopActivitySink{},
		logger:   defaultLogger(),
	}
}

// WithMaxAge sets the maximum accepted token age
func (h *ActivateAccountHandler) WithMaxAge(maxAge time.Duration) *ActivateAccountHandler {
	if maxAge > 0 {
		h.maxAge = maxAge
	}
	return h
}

// WithRepeatPolicy sets what happens when the account is already active
func (h *ActivateAccountHandler) WithRepeatPolicy(policy RepeatActivationPolicy) *ActivateAccountHandler {
	if policy == RepeatActivationAccept || policy == RepeatActivationReject {
		h.policy = policy
	}
	return h
}

// WithActivitySink sets the sink used to emit activation events.
func (h *ActivateAccountHandler) WithActivitySink(sink ActivitySink) *ActivateAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ActivateAccountHandler) WithLogger(logger Logger) *ActivateAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ActivateAccountHandler) Execute(ctx context.Context, event ActivateAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account activation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ActivateAccountHandler) execute(ctx context.Context, event ActivateAccountMessage) error {
	uid, err := h.tokens.Redeem(event.Token, h.maxAge)
	if err != nil {
		h.rejected(ctx, "")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &ActivateAccountResponse{}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByIDTx(ctx, tx, uid)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrUserNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve user for activation")
		}

		if user.IsActive {
			return h.alreadyActive(resp, user)
		}

		owned, err := h.repo.Users().ExistsActiveByEmailTx(ctx, tx, user.Email)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email ownership")
		}

		if owned {
			return ErrActivationSuperseded
		}

		flipped, err := h.repo.Users().ActivateTx(ctx, tx, user.ID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to activate account")
		}

		// lost the race against a concurrent activation
		if !flipped {
			return h.alreadyActive(resp, user)
		}

		user.IsActive = true
		resp.User = user
		return nil
	})

	if err != nil {
		h.rejected(ctx, uid)

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "account activation transaction failed")
	}

	if !resp.AlreadyActivated {
		recordActivity(ctx, h.activity, h.logger, ActivityEvent{
			EventType: ActivityEventUserActivated,
			Actor: ActorRef{
				ID:   resp.User.ID.String(),
				Type: "user",
			},
			UserID: resp.User.ID.String(),
		})
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *ActivateAccountHandler) alreadyActive(resp *ActivateAccountResponse, user *User) error {
	if h.policy != RepeatActivationAccept {
		return ErrAccountAlreadyActive
	}
	user.IsActive = true
	resp.User = user
	resp.AlreadyActivated = true
	return nil
}

// rejected logs a failed activation without saying why it failed
func (h *ActivateAccountHandler) rejected(ctx context.Context, uid string) {
	h.logger.Info("account activation rejected")

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventUserActivationRejected,
		Actor: ActorRef{
			ID:   uid,
			Type: "anonymous",
		},
		UserID: uid,
	})
}
