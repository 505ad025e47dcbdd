package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

const (
	TextCodeTokenMissing  = "CSRF_TOKEN_MISSING"
	TextCodeTokenMismatch = "CSRF_TOKEN_MISMATCH"
	TextCodeTokenExpired  = "CSRF_TOKEN_EXPIRED"
)

var (
	ErrTokenMissing = errors.New("CSRF token missing", errors.CategoryBadInput).
			WithTextCode(TextCodeTokenMissing).
			WithCode(errors.CodeBadRequest)

	ErrTokenMismatch = errors.New("CSRF token mismatch", errors.CategoryAuthz).
				WithTextCode(TextCodeTokenMismatch).
				WithCode(errors.CodeForbidden)

	ErrTokenExpired = errors.New("CSRF token expired", errors.CategoryAuthz).
			WithTextCode(TextCodeTokenExpired).
			WithCode(errors.CodeForbidden)
)

// DefaultNonceLength is the number of random bytes in a token
const DefaultNonceLength = 16

// DefaultContextKey is the locals key holding the request token
const DefaultContextKey = "csrf_token"

// DefaultFieldKey is the locals key holding the form field name
const DefaultFieldKey = "csrf_field_name"

// DefaultFormFieldName is the form field carrying the token
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the header carrying the token
const DefaultHeaderName = "X-CSRF-Token"

// Config defines the configuration for CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// SecureKey signs the tokens, at least 32 bytes
	SecureKey []byte

	// SessionKey binds a token to the requester. Defaults to the client IP.
	SessionKey func(router.Context) string

	ContextKey    string
	FieldKey      string
	FormFieldName string
	HeaderName    string
	SafeMethods   []string
	Expiration    time.Duration
	ErrorHandler  router.ErrorHandler
	Now           func() time.Time
}

// New creates a middleware that hands a signed token to every request and
// checks it on unsafe methods
func New(config Config) router.MiddlewareFunc {
	cfg := configDefault(config)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return hf(ctx)
			}

			session := cfg.SessionKey(ctx)

			token, err := cfg.issue(session)
			if err != nil {
				return cfg.ErrorHandler(ctx, errors.Wrap(err, errors.CategoryInternal, "failed to generate CSRF token"))
			}

			ctx.Locals(cfg.ContextKey, token)
			ctx.Locals(cfg.FieldKey, cfg.FormFieldName)

			if slices.Contains(cfg.SafeMethods, strings.ToUpper(ctx.Method())) {
				return hf(ctx)
			}

			received := ctx.FormValue(cfg.FormFieldName)
			if received == "" {
				received = ctx.GetString(cfg.HeaderName, "")
			}

			if err := cfg.verify(received, session); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			return hf(ctx)
		}
	}
}

// token layout is base64(timestamp:nonce:signature), the signature covers
// timestamp, nonce and the session key
func (cfg Config) issue(session string) (string, error) {
	nonce := make([]byte, DefaultNonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	payload := fmt.Sprintf("%d:%s", cfg.Now().UTC().Unix(), hex.EncodeToString(nonce))
	signature := cfg.sign(payload, session)

	return base64.RawURLEncoding.EncodeToString([]byte(payload + ":" + signature)), nil
}

func (cfg Config) verify(token, session string) error {
	if token == "" {
		return ErrTokenMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return ErrTokenMismatch
	}

	expected := cfg.sign(parts[0]+":"+parts[1], session)
	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(expected)) != 1 {
		return ErrTokenMismatch
	}

	issued, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	if cfg.Now().UTC().After(time.Unix(issued, 0).Add(cfg.Expiration)) {
		return ErrTokenExpired
	}

	return nil
}

func (cfg Config) sign(payload, session string) string {
	mac := hmac.New(sha256.New, cfg.SecureKey)
	mac.Write([]byte(payload))
	mac.Write([]byte{0})
	mac.Write([]byte(session))
	return hex.EncodeToString(mac.Sum(nil))
}

func configDefault(cfg Config) Config {
	if len(cfg.SecureKey) < 32 {
		panic(fmt.Errorf("csrf: secure key must be at least 32 bytes, got %d", len(cfg.SecureKey)))
	}

	if cfg.SessionKey == nil {
		cfg.SessionKey = func(ctx router.Context) string {
			return "ip:" + ctx.IP()
		}
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FieldKey == "" {
		cfg.FieldKey = DefaultFieldKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}

	if cfg.Expiration <= 0 {
		cfg.Expiration = 2 * time.Hour
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) || richErr.Code == 0 {
		return ctx.Status(router.StatusInternalServerError).SendString("CSRF validation error")
	}
	return ctx.Status(richErr.Code).SendString(richErr.Message)
}
