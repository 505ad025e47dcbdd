package config

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment overrides. Nested keys are
// separated by a double underscore, ACCOUNTS_AUTH__SIGNING_KEY sets
// auth.signing_key.
const EnvPrefix = "ACCOUNTS_"

const delim = "."

type Config struct {
	Debug       bool        `koanf:"debug" json:"debug"`
	Server      Server      `koanf:"server" json:"server"`
	Auth        Auth        `koanf:"auth" json:"auth"`
	Persistence Persistence `koanf:"persistence" json:"persistence"`
	Mail        Mail        `koanf:"mail" json:"mail"`
	Features    Features    `koanf:"features" json:"features"`
}

type Server struct {
	Address  string `koanf:"address" json:"address"`
	Protocol string `koanf:"protocol" json:"protocol"`
	Domain   string `koanf:"domain" json:"domain"`
}

type Auth struct {
	SigningKey               string        `koanf:"signing_key" json:"signing_key"`
	Issuer                   string        `koanf:"issuer" json:"issuer"`
	Audience                 []string      `koanf:"audience" json:"audience"`
	TokenExpiration          time.Duration `koanf:"token_expiration" json:"token_expiration"`
	ExtendedTokenDuration    time.Duration `koanf:"extended_token_duration" json:"extended_token_duration"`
	CookieName               string        `koanf:"cookie_name" json:"cookie_name"`
	CookieSecure             bool          `koanf:"cookie_secure" json:"cookie_secure"`
	ActivationTimeoutSeconds int           `koanf:"activation_timeout_seconds" json:"activation_timeout_seconds"`
	ActivationRepeatPolicy   string        `koanf:"activation_repeat_policy" json:"activation_repeat_policy"`
	PasswordResetTimeout     time.Duration `koanf:"password_reset_timeout" json:"password_reset_timeout"`
}

// ActivationTimeout returns the activation token max age
func (a Auth) ActivationTimeout() time.Duration {
	return time.Duration(a.ActivationTimeoutSeconds) * time.Second
}

type Persistence struct {
	Driver string `koanf:"driver" json:"driver"`
	DSN    string `koanf:"dsn" json:"dsn"`
	Debug  bool   `koanf:"debug" json:"debug"`
}

type Mail struct {
	Driver      string  `koanf:"driver" json:"driver"`
	Host        string  `koanf:"host" json:"host"`
	Port        int     `koanf:"port" json:"port"`
	Username    string  `koanf:"username" json:"username"`
	Password    string  `koanf:"password" json:"password"`
	From        string  `koanf:"from" json:"from"`
	RatePerHour float64 `koanf:"rate_per_hour" json:"rate_per_hour"`
	Burst       int     `koanf:"burst" json:"burst"`
}

type Features struct {
	Signup        bool `koanf:"signup" json:"signup"`
	PasswordReset bool `koanf:"password_reset" json:"password_reset"`
}

// Defaults returns the configuration used when nothing overrides a key
func Defaults() Config {
	return Config{
		Server: Server{
			Address:  ":8978",
			Protocol: "http",
			Domain:   "localhost:8978",
		},
		Auth: Auth{
			Issuer:                   "go-accounts",
			Audience:                 []string{"accounts"},
			TokenExpiration:          24 * time.Hour,
			ExtendedTokenDuration:    14 * 24 * time.Hour,
			CookieName:               "accounts_session",
			CookieSecure:             true,
			ActivationTimeoutSeconds: 86400,
			ActivationRepeatPolicy:   "reject",
			PasswordResetTimeout:     24 * time.Hour,
		},
		Persistence: Persistence{
			Driver: "sqlite",
			DSN:    "file:accounts.db?cache=shared",
		},
		Mail: Mail{
			Driver:      "log",
			Port:        587,
			From:        "no-reply@example.com",
			RatePerHour: 5,
			Burst:       3,
		},
		Features: Features{
			Signup:        true,
			PasswordReset: true,
		},
	}
}

// Validate will run validation rules
func (c Config) Validate() error {
	if err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&c,
			validation.Field(&c.Server),
			validation.Field(&c.Auth),
			validation.Field(&c.Persistence),
			validation.Field(&c.Mail),
		)
	}, "invalid configuration"); err != nil {
		return err
	}
	return nil
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required),
		validation.Field(&s.Protocol, validation.Required, validation.In("http", "https")),
		validation.Field(&s.Domain, validation.Required),
	)
}

func (a Auth) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.SigningKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&a.TokenExpiration, validation.Required, validation.Min(time.Minute)),
		validation.Field(&a.ExtendedTokenDuration, validation.Min(a.TokenExpiration)),
		validation.Field(&a.CookieName, validation.Required),
		validation.Field(&a.ActivationTimeoutSeconds, validation.Required, validation.Min(1)),
		validation.Field(&a.ActivationRepeatPolicy, validation.Required, validation.In("reject", "accept")),
		validation.Field(&a.PasswordResetTimeout, validation.Required, validation.Min(time.Minute)),
	)
}

func (p Persistence) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Driver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&p.DSN, validation.Required),
	)
}

func (m Mail) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Driver, validation.Required, validation.In("log", "smtp")),
		validation.Field(&m.Host, validation.When(m.Driver == "smtp", validation.Required, is.Host)),
		validation.Field(&m.Port, validation.When(m.Driver == "smtp", validation.Required, validation.Min(1), validation.Max(65535))),
		validation.Field(&m.From, validation.Required, is.Email),
		validation.Field(&m.RatePerHour, validation.Min(0.0)),
		validation.Field(&m.Burst, validation.Min(0)),
	)
}

// FlagSet returns the command line flags understood by Load
func FlagSet(name string) *pflag.FlagSet {
	def := Defaults()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to a YAML configuration file")
	fs.Bool("debug", def.Debug, "enable debug output")
	fs.String("server.address", def.Server.Address, "HTTP listen address")
	fs.String("server.domain", def.Server.Domain, "domain used in mailed links")
	fs.String("persistence.driver", def.Persistence.Driver, "database driver, sqlite or postgres")
	fs.String("persistence.dsn", def.Persistence.DSN, "database connection string")
	fs.String("mail.driver", def.Mail.Driver, "mail delivery, log or smtp")
	return fs
}

// Load builds the configuration from defaults, an optional YAML file,
// ACCOUNTS_ environment variables and command line flags, in that order.
func Load(args []string) (*Config, error) {
	fs := FlagSet("accounts")
	if err := fs.Parse(args); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse flags")
	}
	return LoadWithFlags(fs)
}

// LoadWithFlags is Load with an already parsed flag set
func LoadWithFlags(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(delim)

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load defaults")
	}

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, delim, envKey), nil); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load environment")
	}

	if err := k.Load(posflag.Provider(fs, delim, k), nil); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load flags")
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", delim)

	if strings.HasSuffix(key, "audience") {
		return key, strings.Split(value, ",")
	}
	return key, value
}
