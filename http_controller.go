package accounts

import (
	"fmt"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// ActivationFailedMessage is shown for every failed activation
const ActivationFailedMessage = "The activation link is invalid or has expired."

// RegisterRoutes mounts the account routes on app. Routes that need a
// session are wrapped with the session middleware of auther.
func RegisterRoutes[T any](app router.Router[T], opts ...AccountControllerOption) *AccountController {
	controller := NewAccountController(opts...)

	public := controller.Auther.SessionMiddleware(true)
	protected := controller.Auther.SessionMiddleware(false)

	app.Get(controller.Routes.Signup, public(controller.SignupShow)).
		SetName("signup.get")
	app.Post(controller.Routes.Signup, public(controller.SignupCreate)).
		SetName("signup.post")
	app.Get(controller.Routes.SignupDone, public(controller.SignupDone)).
		SetName("signup-done.get")

	app.Get(fmt.Sprintf("%s/:token", controller.Routes.Activate), public(controller.Activate)).
		SetName("activate.get")

	app.Get(controller.Routes.Register, public(controller.RegistrationShow)).
		SetName("register.get")
	app.Post(controller.Routes.Register, public(controller.RegistrationCreate)).
		SetName("register.post")

	app.Get(controller.Routes.Login, public(controller.LoginShow)).
		SetName("sign-in.get")
	app.Post(controller.Routes.Login, public(controller.LoginPost)).
		SetName("sign-in.post")
	app.Get(controller.Routes.Logout, public(controller.LogOut)).
		SetName("sign-out.get")

	app.Get(controller.Routes.Dashboard, protected(controller.Dashboard)).
		SetName("dashboard.get")

	app.Get(fmt.Sprintf("%s/:id", controller.Routes.Users), protected(controller.UserDetail)).
		SetName("user-detail.get")
	app.Post(fmt.Sprintf("%s/:id", controller.Routes.Users), protected(controller.UserUpdate)).
		SetName("user-update.post")

	app.Get(controller.Routes.Password, protected(controller.PasswordShow)).
		SetName("password.get")
	app.Post(controller.Routes.Password, protected(controller.PasswordUpdate)).
		SetName("password.post")

	app.Get(controller.Routes.PasswordReset, public(controller.PasswordResetGet)).
		SetName("pwd-reset.get")
	app.Post(controller.Routes.PasswordReset, public(controller.PasswordResetPost)).
		SetName("pwd-reset.post")

	app.Get(fmt.Sprintf("%s/:uuid", controller.Routes.PasswordReset), public(controller.PasswordResetForm)).
		SetName("pwd-reset-do.get")
	app.Post(fmt.Sprintf("%s/:uuid", controller.Routes.PasswordReset), public(controller.PasswordResetExecute)).
		SetName("pwd-reset-do.post")

	return controller
}

type AccountControllerRoutes struct {
	Signup        string
	SignupDone    string
	Activate      string
	Register      string
	Login         string
	Logout        string
	Dashboard     string
	Users         string
	Password      string
	PasswordReset string
}

type AccountControllerViews struct {
	Signup             string
	SignupDone         string
	ActivationComplete string
	ActivationFailed   string
	Register           string
	Login              string
	Dashboard          string
	UserDetail         string
	Password           string
	PasswordReset      string
}

// SiteConfig is used to build absolute links in mails
type SiteConfig struct {
	Protocol string
	Domain   string
}

type AccountController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Routes       *AccountControllerRoutes
	Views        *AccountControllerViews
	Auther       *RouteAuthenticator
	ErrorHandler router.ErrorHandler
	Site         SiteConfig

	featureGate        gate.FeatureGate
	activity           ActivitySink
	hasher             PasswordHasher
	tokens             *ActivationTokenService
	activationTimeout  time.Duration
	repeatPolicy       RepeatActivationPolicy
	passwordResetTTL   time.Duration
	renderer           *MailRenderer
	mailer             Mailer
	throttle           MailThrottle
	registerPending    *RegisterPendingUserHandler
	activateAccount    *ActivateAccountHandler
	registerUser       *RegisterUserHandler
	changePassword     *ChangePasswordHandler
	updateProfile      *UpdateProfileHandler
	initPasswordReset  *InitializePasswordResetHandler
	verifyPasswordRest *VerifyPasswordResetHandler
	finalizePwdReset   *FinalizePasswordResetHandler
}

type AccountControllerOption func(*AccountController) *AccountController

// WithRepositoryManager sets the stores
func WithRepositoryManager(repo RepositoryManager) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Repo = repo
		return c
	}
}

// WithHTTPAuthenticator sets the session handling
func WithHTTPAuthenticator(auther *RouteAuthenticator) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Auther = auther
		return c
	}
}

// WithActivation sets the token service, the token max age and the repeat
// activation policy
func WithActivation(tokens *ActivationTokenService, timeout time.Duration, policy RepeatActivationPolicy) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.tokens = tokens
		if timeout > 0 {
			c.activationTimeout = timeout
		}
		if policy != "" {
			c.repeatPolicy = policy
		}
		return c
	}
}

// WithMail sets the mail renderer, the mailer and an optional throttle
func WithMail(renderer *MailRenderer, mailer Mailer, throttle MailThrottle) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.renderer = renderer
		c.mailer = mailer
		c.throttle = throttle
		return c
	}
}

// WithPasswordResetTimeout sets how long reset links stay valid
func WithPasswordResetTimeout(timeout time.Duration) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		if timeout > 0 {
			c.passwordResetTTL = timeout
		}
		return c
	}
}

// WithSite sets the protocol and domain used in mailed links
func WithSite(protocol, domain string) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Site = SiteConfig{Protocol: protocol, Domain: domain}
		return c
	}
}

// WithFeatureGate sets the gate checked by signup and password reset routes
func WithFeatureGate(featureGate gate.FeatureGate) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.featureGate = featureGate
		return c
	}
}

// WithControllerActivitySink sets the sink shared by the command handlers
func WithControllerActivitySink(sink ActivitySink) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.activity = normalizeActivitySink(sink)
		return c
	}
}

// WithControllerLogger sets the logger
func WithControllerLogger(logger Logger) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerPasswordHasher sets the hasher shared by the command handlers
func WithControllerPasswordHasher(hasher PasswordHasher) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		if hasher != nil {
			c.hasher = hasher
		}
		return c
	}
}

// WithDebug dumps payloads and responses to the debug log
func WithDebug(debug bool) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Debug = debug
		return c
	}
}

func NewAccountController(opts ...AccountControllerOption) *AccountController {
	c := &AccountController{
		Logger:            defaultLogger(),
		Site:              SiteConfig{Protocol: "https", Domain: "localhost"},
		activity:          noopActivitySink{},
		hasher:            BcryptHasher{},
		activationTimeout: DefaultActivationTimeout,
		repeatPolicy:      RepeatActivationReject,
		passwordResetTTL:  DefaultPasswordResetTimeout,
		throttle:          noopMailThrottle{},
		Routes: &AccountControllerRoutes{
			Signup:        "/signup",
			SignupDone:    "/signup/done",
			Activate:      "/activate",
			Register:      "/register",
			Login:         "/login",
			Logout:        "/logout",
			Dashboard:     "/dashboard",
			Users:         "/users",
			Password:      "/password",
			PasswordReset: "/password-reset",
		},
		Views: &AccountControllerViews{
			Signup:             "signup",
			SignupDone:         "signup_done",
			ActivationComplete: "activate_complete",
			ActivationFailed:   "errors/400",
			Register:           "register",
			Login:              "login",
			Dashboard:          "dashboard",
			UserDetail:         "user_detail",
			Password:           "password_change",
			PasswordReset:      "password_reset",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in account controller...")
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in account controller...")
	}

	if c.tokens == nil {
		panic("Missing ActivationTokenService in account controller...")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = func(ctx router.Context, err error) error {
			return c.Auther.ErrorHandler(ctx, err)
		}
	}

	if c.renderer == nil {
		renderer, err := NewDefaultMailRenderer()
		if err != nil {
			panic(err)
		}
		c.renderer = renderer
	}

	if c.mailer == nil {
		c.mailer = NewLogMailer(c.Logger)
	}

	if c.throttle == nil {
		c.throttle = noopMailThrottle{}
	}

	c.registerPending = NewRegisterPendingUserHandler(c.Repo, c.tokens, c.renderer, c.mailer).
		WithActivitySink(c.activity).
		WithLogger(c.Logger).
		WithPasswordHasher(c.hasher).
		WithMailThrottle(c.throttle).
		WithActivationTimeout(c.activationTimeout)

	c.activateAccount = NewActivateAccountHandler(c.Repo, c.tokens).
		WithMaxAge(c.activationTimeout).
		WithRepeatPolicy(c.repeatPolicy).
		WithActivitySink(c.activity).
		WithLogger(c.Logger)

	c.registerUser = NewRegisterUserHandler(c.Repo).
		WithActivitySink(c.activity).
		WithLogger(c.Logger).
		WithPasswordHasher(c.hasher)

	c.changePassword = NewChangePasswordHandler(c.Repo).
		WithActivitySink(c.activity).
		WithLogger(c.Logger).
		WithPasswordHasher(c.hasher)

	c.updateProfile = NewUpdateProfileHandler(c.Repo).
		WithActivitySink(c.activity).
		WithLogger(c.Logger)

	c.initPasswordReset = NewInitializePasswordResetHandler(c.Repo, c.renderer, c.mailer).
		WithActivitySink(c.activity).
		WithLogger(c.Logger).
		WithMailThrottle(c.throttle).
		WithTimeout(c.passwordResetTTL)

	c.verifyPasswordRest = NewVerifyPasswordResetHandler(c.Repo).
		WithTimeout(c.passwordResetTTL).
		WithLogger(c.Logger)

	c.finalizePwdReset = NewFinalizePasswordResetHandler(c.Repo).
		WithActivitySink(c.activity).
		WithLogger(c.Logger).
		WithPasswordHasher(c.hasher).
		WithTimeout(c.passwordResetTTL)

	return c
}

func (a *AccountController) render(ctx router.Context, view string, data router.ViewContext) error {
	return ctx.Render(view, MergeTemplateData(ctx, data))
}

func (a *AccountController) debug(label string, v any) {
	if a.Debug {
		a.Logger.Debug(label, "payload", print.MaybePrettyJSON(v))
	}
}

// SignupPayload is the pending registration form
type SignupPayload struct {
	FirstName       string `form:"first_name" json:"first_name"`
	LastName        string `form:"last_name" json:"last_name"`
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r SignupPayload) Validate() error {
	r.Email = normalizeEmail(r.Email)
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Length(0, 150)),
		validation.Field(&r.LastName, validation.Length(0, 150)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AccountController) SignupShow(ctx router.Context) error {
	if err := requireSignupGate(ctx.Context(), a.featureGate); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return a.render(ctx, a.Views.Signup, router.ViewContext{
		"title":  "Sign up",
		"errors": map[string]string{},
		"record": SignupPayload{},
	})
}

func (a *AccountController) SignupCreate(ctx router.Context) error {
	if err := requireSignupGate(ctx.Context(), a.featureGate); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(SignupPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("signup parse payload", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Signup, MergeTemplateData(ctx, router.ViewContext{
			"title":  "Sign up",
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		}))
	}

	// the password is never sent back to the form
	record := SignupPayload{FirstName: payload.FirstName, LastName: payload.LastName, Email: payload.Email}

	if err := payload.Validate(); err != nil {
		return a.render(ctx, a.Views.Signup, router.ViewContext{
			"title":      "Sign up",
			"record":     record,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	req := RegisterPendingUserMessage{
		Email:     payload.Email,
		Password:  payload.Password,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Protocol:  a.Site.Protocol,
		Domain:    a.Site.Domain,
	}

	if err := a.registerPending.Execute(ctx.Context(), req); err != nil {
		richErr := toRichError(err)
		a.Logger.Info("signup rejected", "text_code", richErr.TextCode)

		status := statusCode(richErr)
		if status >= http.StatusInternalServerError {
			return a.ErrorHandler(ctx, err)
		}

		return ctx.Status(status).Render(a.Views.Signup, MergeTemplateData(ctx, router.ViewContext{
			"title":      "Sign up",
			"record":     record,
			"errors":     map[string]string{"form": richErr.Message},
			"validation": richErr.ValidationMap(),
		}))
	}

	return ctx.Redirect(a.Routes.SignupDone, router.StatusSeeOther)
}

func (a *AccountController) SignupDone(ctx router.Context) error {
	return a.render(ctx, a.Views.SignupDone, router.ViewContext{
		"title": "Check your inbox",
	})
}

// Activate redeems the token from the activation link. Every activation
// failure gets the same 400 page.
func (a *AccountController) Activate(ctx router.Context) error {
	var res *ActivateAccountResponse

	req := ActivateAccountMessage{
		Token: ctx.Param("token", ""),
		OnResponse: func(resp *ActivateAccountResponse) {
			res = resp
		},
	}

	if err := a.activateAccount.Execute(ctx.Context(), req); err != nil {
		if !IsActivationError(err) {
			return a.ErrorHandler(ctx, err)
		}

		return ctx.Status(fiber.StatusBadRequest).Render(a.Views.ActivationFailed, MergeTemplateData(ctx, router.ViewContext{
			"title":   "Activation failed",
			"code":    fiber.StatusBadRequest,
			"message": ActivationFailedMessage,
		}))
	}

	a.debug("account activated", res)

	return a.render(ctx, a.Views.ActivationComplete, router.ViewContext{
		"title":             "Account activated",
		"user":              res.User,
		"already_activated": res.AlreadyActivated,
	})
}

func (a *AccountController) LoginShow(ctx router.Context) error {
	return a.render(ctx, a.Views.Login, router.ViewContext{
		"title":  "Log in",
		"errors": nil,
		"record": nil,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return r.Identifier
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// GetExtendedSession reports whether the long lived cookie was requested
func (r LoginRequest) GetExtendedSession() bool {
	return r.RememberMe
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	r.Identifier = normalizeEmail(r.Identifier)
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AccountController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse login form").
			WithCode(goerrors.CodeBadRequest))
	}

	record := LoginRequest{Identifier: payload.Identifier, RememberMe: payload.RememberMe}

	if err := payload.Validate(); err != nil {
		return a.render(ctx, a.Views.Login, router.ViewContext{
			"title":      "Log in",
			"record":     record,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if _, err := a.Auther.Login(ctx, payload); err != nil {
		richErr := toRichError(err)
		if richErr.Category != goerrors.CategoryAuth {
			return a.ErrorHandler(ctx, err)
		}

		return ctx.Status(fiber.StatusUnauthorized).Render(a.Views.Login, MergeTemplateData(ctx, router.ViewContext{
			"title":  "Log in",
			"record": record,
			"errors": map[string]string{"authentication": richErr.Message},
		}))
	}

	redirect := a.Auther.GetRedirect(ctx, a.Routes.Dashboard)

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "You are logged in",
	}).Redirect(redirect, fiber.StatusSeeOther)
}

func (a *AccountController) LogOut(ctx router.Context) error {
	a.Auther.Logout(ctx)
	return ctx.Redirect(a.Routes.Login, router.StatusSeeOther)
}

func (a *AccountController) RegistrationShow(ctx router.Context) error {
	if err := requireSignupGate(ctx.Context(), a.featureGate); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return a.render(ctx, a.Views.Register, router.ViewContext{
		"title":  "Create account",
		"errors": map[string]string{},
		"record": RegistrationCreatePayload{},
	})
}

// RegistrationCreatePayload is the form paylaod
type RegistrationCreatePayload struct {
	FirstName       string `form:"first_name" json:"first_name"`
	LastName        string `form:"last_name" json:"last_name"`
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	r.Email = normalizeEmail(r.Email)
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 150)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 150)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AccountController) RegistrationCreate(ctx router.Context) error {
	if err := requireSignupGate(ctx.Context(), a.featureGate); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register user parse payload", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Register, MergeTemplateData(ctx, router.ViewContext{
			"title":  "Create account",
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		}))
	}

	record := RegistrationCreatePayload{FirstName: payload.FirstName, LastName: payload.LastName, Email: payload.Email}

	if err := payload.Validate(); err != nil {
		return a.render(ctx, a.Views.Register, router.ViewContext{
			"title":      "Create account",
			"record":     record,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	var user *User
	req := RegisterUserMessage{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Email:     payload.Email,
		Password:  payload.Password,
		OnResponse: func(u *User) {
			user = u
		},
	}

	if err := a.registerUser.Execute(ctx.Context(), req); err != nil {
		richErr := toRichError(err)
		status := statusCode(richErr)
		if status >= http.StatusInternalServerError {
			return a.ErrorHandler(ctx, err)
		}

		return ctx.Status(status).Render(a.Views.Register, MergeTemplateData(ctx, router.ViewContext{
			"title":      "Create account",
			"record":     record,
			"errors":     map[string]string{"form": richErr.Message},
			"validation": richErr.ValidationMap(),
		}))
	}

	if err := a.Auther.SignIn(ctx, user); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Your account has been created",
	}).Redirect(a.Routes.Dashboard, fiber.StatusSeeOther)
}

func (a *AccountController) Dashboard(ctx router.Context) error {
	user, ok := CurrentUser(ctx)
	if !ok {
		return a.ErrorHandler(ctx, ErrUnableToFindSession)
	}

	return a.render(ctx, a.Views.Dashboard, router.ViewContext{
		"title": "Dashboard",
		"user":  user,
	})
}

// UserDetail shows a profile to its owner or a superuser
func (a *AccountController) UserDetail(ctx router.Context) error {
	actor, ok := CurrentUser(ctx)
	if !ok {
		return a.ErrorHandler(ctx, ErrUnableToFindSession)
	}

	record, err := a.Repo.Users().GetByID(ctx.Context(), ctx.Param("id", ""))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return a.ErrorHandler(ctx, goerrors.New("user not found", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound))
		}
		return a.ErrorHandler(ctx, err)
	}

	if !actor.CanAccess(record.ID) {
		return a.ErrorHandler(ctx, ErrForbidden)
	}

	return a.render(ctx, a.Views.UserDetail, router.ViewContext{
		"title":  "Profile",
		"record": record,
		"errors": map[string]string{},
	})
}

// ProfilePayload is the profile form
type ProfilePayload struct {
	FirstName string `form:"first_name" json:"first_name"`
	LastName  string `form:"last_name" json:"last_name"`
}

func (a *AccountController) UserUpdate(ctx router.Context) error {
	actor, ok := CurrentUser(ctx)
	if !ok {
		return a.ErrorHandler(ctx, ErrUnableToFindSession)
	}

	id := ctx.Param("id", "")
	payload := new(ProfilePayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse profile form").
			WithCode(goerrors.CodeBadRequest))
	}

	var updated *User
	req := UpdateProfileMessage{
		Actor:     actor,
		UserID:    id,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		OnResponse: func(u *User) {
			updated = u
		},
	}

	if err := a.updateProfile.Execute(ctx.Context(), req); err != nil {
		richErr := toRichError(err)
		if richErr.Category != goerrors.CategoryValidation {
			return a.ErrorHandler(ctx, err)
		}

		return ctx.Status(fiber.StatusBadRequest).Render(a.Views.UserDetail, MergeTemplateData(ctx, router.ViewContext{
			"title":      "Profile",
			"record":     payload,
			"validation": richErr.ValidationMap(),
		}))
	}

	a.debug("profile updated", updated)

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Your profile has been updated",
	}).Redirect(fmt.Sprintf("%s/%s", a.Routes.Users, id), fiber.StatusSeeOther)
}

func (a *AccountController) PasswordShow(ctx router.Context) error {
	return a.render(ctx, a.Views.Password, router.ViewContext{
		"title":  "Change password",
		"errors": map[string]string{},
	})
}

// PasswordChangePayload is the change password form
type PasswordChangePayload struct {
	OldPassword     string `form:"old_password" json:"old_password"`
	NewPassword     string `form:"new_password" json:"new_password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (a *AccountController) PasswordUpdate(ctx router.Context) error {
	actor, ok := CurrentUser(ctx)
	if !ok {
		return a.ErrorHandler(ctx, ErrUnableToFindSession)
	}

	payload := new(PasswordChangePayload)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse password form").
			WithCode(goerrors.CodeBadRequest))
	}

	req := ChangePasswordMessage{
		UserID:          actor.ID.String(),
		OldPassword:     payload.OldPassword,
		NewPassword:     payload.NewPassword,
		ConfirmPassword: payload.ConfirmPassword,
	}

	if err := a.changePassword.Execute(ctx.Context(), req); err != nil {
		richErr := toRichError(err)
		if richErr.Category != goerrors.CategoryValidation {
			return a.ErrorHandler(ctx, err)
		}

		errors := richErr.ValidationMap()
		if field, ok := richErr.Metadata["field"].(string); ok {
			errors[field] = richErr.Message
		}

		return ctx.Status(fiber.StatusBadRequest).Render(a.Views.Password, MergeTemplateData(ctx, router.ViewContext{
			"title":      "Change password",
			"validation": errors,
		}))
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Your password has been updated",
	}).Redirect(a.Routes.Dashboard, fiber.StatusSeeOther)
}

const (
	stageKey   = "stage"
	sessionKey = "session"
	emailKey   = "email"
)

func (a *AccountController) PasswordResetGet(ctx router.Context) error {
	if err := requirePasswordResetGate(ctx.Context(), a.featureGate, false); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return a.render(ctx, a.Views.PasswordReset, router.ViewContext{
		"title":  "Reset password",
		"errors": nil,
		"reset": map[string]string{
			stageKey: ResetInit,
		},
	})
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
	Stage string `form:"stage" json:"stage"`
}

func (a *AccountController) PasswordResetPost(ctx router.Context) error {
	if err := requirePasswordResetGate(ctx.Context(), a.featureGate, false); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(PasswordResetRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("password reset parse payload", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.PasswordReset, MergeTemplateData(ctx, router.ViewContext{
			"title":  "Reset password",
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
			"reset":  map[string]string{stageKey: ResetInit},
		}))
	}

	var res *InitializePasswordResetResponse

	req := InitializePasswordResetMessage{
		Stage:    payload.Stage,
		Email:    payload.Email,
		Protocol: a.Site.Protocol,
		Domain:   a.Site.Domain,
		OnResponse: func(resp *InitializePasswordResetResponse) {
			res = resp
		},
	}

	if err := a.initPasswordReset.Execute(ctx.Context(), req); err != nil {
		richErr := toRichError(err)
		if richErr.Category != goerrors.CategoryValidation {
			return a.ErrorHandler(ctx, err)
		}

		return a.render(ctx, a.Views.PasswordReset, router.ViewContext{
			"title":      "Reset password",
			"record":     payload,
			"validation": richErr.ValidationMap(),
			"reset":      map[string]string{stageKey: ResetInit},
		})
	}

	a.debug("password reset requested", res)

	return a.render(ctx, a.Views.PasswordReset, router.ViewContext{
		"title":  "Reset password",
		"errors": map[string]string{},
		"reset": map[string]string{
			stageKey: res.Stage,
			emailKey: req.Email,
		},
	})
}

func (a *AccountController) PasswordResetForm(ctx router.Context) error {
	if err := requirePasswordResetGate(ctx.Context(), a.featureGate, true); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	sessionID := ctx.Param("uuid", "")

	var resp *VerifyPasswordResetResponse
	input := VerifyPasswordResetMessage{
		Session: sessionID,
		OnResponse: func(r *VerifyPasswordResetResponse) {
			resp = r
		},
	}

	if err := a.verifyPasswordRest.Execute(ctx.Context(), input); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	a.debug("password reset verified", resp)

	return a.render(ctx, a.Views.PasswordReset, router.ViewContext{
		"title":  "Reset password",
		"errors": map[string]string{},
		"reset": map[string]string{
			sessionKey: sessionID,
			stageKey:   resp.Stage,
		},
	})
}

// PasswordResetVerifyPayload holds values for password reset
type PasswordResetVerifyPayload struct {
	Stage           string `form:"stage" json:"stage"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (a *AccountController) PasswordResetExecute(ctx router.Context) error {
	if err := requirePasswordResetGate(ctx.Context(), a.featureGate, true); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	sessionID := ctx.Param("uuid", "")
	payload := new(PasswordResetVerifyPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse password reset form").
			WithCode(goerrors.CodeBadRequest))
	}

	input := FinalizePasswordResetMessage{
		Session:         sessionID,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
	}

	if err := a.finalizePwdReset.Execute(ctx.Context(), input); err != nil {
		richErr := toRichError(err)
		status := statusCode(richErr)
		if status >= http.StatusInternalServerError {
			return a.ErrorHandler(ctx, err)
		}

		return ctx.Status(status).Render(a.Views.PasswordReset, MergeTemplateData(ctx, router.ViewContext{
			"title":      "Reset password",
			"errors":     map[string]string{"validation": richErr.Message},
			"validation": richErr.ValidationMap(),
			"reset": map[string]string{
				stageKey:   ChangingPassword,
				sessionKey: sessionID,
			},
		}))
	}

	return a.render(ctx, a.Views.PasswordReset, router.ViewContext{
		"title":  "Reset password",
		"errors": map[string]string{},
		"reset": map[string]string{
			stageKey:   ChangeFinalized,
			sessionKey: sessionID,
		},
	})
}

// FormatValidationErrorToMap flattens validation errors into field messages
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.ValidationMap()
	}

	var verrs validation.Errors
	if goerrors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["form"] = err.Error()
	return out
}
