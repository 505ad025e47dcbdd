package accounts

import (
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// SessionConfig holds the cookie settings for the session
type SessionConfig struct {
	CookieName            string
	RedirectCookieName    string
	LoginRoute            string
	TokenExpiration       time.Duration
	ExtendedTokenDuration time.Duration
	Secure                bool
}

// DefaultSessionConfig returns the cookie settings used when none are given
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		CookieName:            "accounts_session",
		RedirectCookieName:    "accounts_redirect",
		LoginRoute:            "/login",
		TokenExpiration:       24 * time.Hour,
		ExtendedTokenDuration: 14 * 24 * time.Hour,
		Secure:                true,
	}
}

// LoginPayload is what a login form provides
type LoginPayload interface {
	GetIdentifier() string
	GetPassword() string
	GetExtendedSession() bool
}

type RouteAuthenticator struct {
	auth             *Auther
	cfg              SessionConfig
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

func NewHTTPAuthenticator(auther *Auther, cfg SessionConfig) *RouteAuthenticator {
	def := DefaultSessionConfig()
	if cfg.CookieName == "" {
		cfg.CookieName = def.CookieName
	}
	if cfg.RedirectCookieName == "" {
		cfg.RedirectCookieName = def.RedirectCookieName
	}
	if cfg.LoginRoute == "" {
		cfg.LoginRoute = def.LoginRoute
	}
	if cfg.TokenExpiration <= 0 {
		cfg.TokenExpiration = def.TokenExpiration
	}
	if cfg.ExtendedTokenDuration <= 0 {
		cfg.ExtendedTokenDuration = cfg.TokenExpiration
	}

	a := &RouteAuthenticator{
		cfg:    cfg,
		auth:   auther,
		Logger: defaultLogger(),
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a
}

// WithLogger overrides the logger
func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	if logger != nil {
		a.Logger = logger
	}
	return a
}

func (a RouteAuthenticator) GetCookieDuration() time.Duration {
	return a.cfg.TokenExpiration
}

func (a RouteAuthenticator) GetExtendedCookieDuration() time.Duration {
	return a.cfg.ExtendedTokenDuration
}

// Login verifies the payload and sets the session cookie
func (a *RouteAuthenticator) Login(ctx router.Context, payload LoginPayload) (*User, error) {
	duration := a.cfg.TokenExpiration
	if payload.GetExtendedSession() {
		duration = a.cfg.ExtendedTokenDuration
	}

	token, user, err := a.auth.Login(ctx.Context(), payload.GetIdentifier(), payload.GetPassword(), duration)
	if err != nil {
		return nil, err
	}

	a.setCookieToken(ctx, token, duration)
	return user, nil
}

// SignIn starts a session for a user that is already verified
func (a *RouteAuthenticator) SignIn(ctx router.Context, user *User) error {
	token, err := a.auth.Issue(ctx.Context(), user, a.cfg.TokenExpiration)
	if err != nil {
		return err
	}

	a.setCookieToken(ctx, token, a.cfg.TokenExpiration)
	return nil
}

// Logout drops the session cookie
func (a *RouteAuthenticator) Logout(ctx router.Context) {
	if user, ok := CurrentUser(ctx); ok {
		a.auth.Logout(ctx.Context(), user)
	}
	a.cookieDel(ctx, a.cfg.CookieName)
}

// SessionMiddleware loads the user behind the session cookie. Without a
// valid session the request goes to AuthErrorHandler, unless optional is set.
func (a *RouteAuthenticator) SessionMiddleware(optional bool) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			user, err := a.auth.SessionUser(ctx.Context(), ctx.Cookies(a.cfg.CookieName))
			if err != nil {
				if optional {
					return hf(ctx)
				}
				return a.AuthErrorHandler(ctx, err)
			}

			ctx.Locals(TemplateUserKey, user)
			ctx.SetContext(WithContext(ctx.Context(), user))

			return hf(ctx)
		}
	}
}

func (a *RouteAuthenticator) GetRedirect(ctx router.Context, def ...string) string {
	r := ctx.Cookies(a.cfg.RedirectCookieName)
	if r == "" {
		if len(def) > 0 {
			return def[0]
		}
		return "/"
	}
	a.cookieDel(ctx, a.cfg.RedirectCookieName)
	return r
}

func (a *RouteAuthenticator) SetRedirect(ctx router.Context) {
	a.Logger.Info("Setting redirect cookie", "key", a.cfg.RedirectCookieName, "path", ctx.OriginalURL())

	ctx.Cookie(&router.Cookie{
		Name:     a.cfg.RedirectCookieName,
		Value:    ctx.OriginalURL(),
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   a.cfg.Secure,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) setCookieToken(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     a.cfg.CookieName,
		Value:    val,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   a.cfg.Secure,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.cfg.Secure,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info(
		"Authentication error, redirecting to login",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
		"path", c.OriginalURL(),
	)

	a.SetRedirect(c)

	statusCode := http.StatusSeeOther
	if c.Method() == string(router.GET) {
		statusCode = http.StatusFound
	}
	return c.Redirect(a.cfg.LoginRoute, statusCode)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	richErr := toRichError(err)

	a.Logger.Info(
		"Middleware error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth:
		return a.AuthErrorHandler(c, richErr)
	default:
		return renderError(c, richErr)
	}
}

func toRichError(err error) *errors.Error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}
	return richErr
}

// statusCode returns the error code, or a status derived from the category
// when no code was set
func statusCode(richErr *errors.Error) int {
	if richErr.Code != 0 {
		return richErr.Code
	}

	switch richErr.Category {
	case errors.CategoryValidation, errors.CategoryBadInput:
		return errors.CodeBadRequest
	case errors.CategoryAuth:
		return errors.CodeUnauthorized
	case errors.CategoryAuthz:
		return errors.CodeForbidden
	case errors.CategoryNotFound:
		return errors.CodeNotFound
	case errors.CategoryConflict:
		return errors.CodeConflict
	case errors.CategoryRateLimit:
		return errors.CodeTooManyRequests
	default:
		return errors.CodeInternal
	}
}

// renderError renders errors/400 for client errors and errors/500 otherwise
func renderError(c router.Context, richErr *errors.Error) error {
	code := statusCode(richErr)

	view := "errors/500"
	if code < http.StatusInternalServerError {
		view = "errors/400"
	}

	return c.Status(code).Render(view, router.ViewContext{
		"code":    code,
		"message": richErr.Message,
	})
}
