package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-accounts/config"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoad_DefaultsWithSigningKeyFromEnv(t *testing.T) {
	t.Setenv("ACCOUNTS_AUTH__SIGNING_KEY", testKey)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, testKey, cfg.Auth.SigningKey)
	assert.Equal(t, ":8978", cfg.Server.Address)
	assert.Equal(t, "sqlite", cfg.Persistence.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenExpiration)
	assert.Equal(t, 24*time.Hour, cfg.Auth.ActivationTimeout())
	assert.Equal(t, "reject", cfg.Auth.ActivationRepeatPolicy)
	assert.True(t, cfg.Features.Signup)
	assert.True(t, cfg.Features.PasswordReset)
}

func TestLoad_MissingSigningKey(t *testing.T) {
	_, err := config.Load(nil)
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryValidation, richErr.Category)
	assert.Contains(t, richErr.ValidationMap(), "auth.signing_key")
}

func TestLoad_FileThenEnvThenFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.yml")

	content := `
server:
  address: ":9000"
  domain: accounts.example.com
auth:
  signing_key: ` + testKey + `
  activation_timeout_seconds: 3600
  activation_repeat_policy: accept
  password_reset_timeout: 2h
persistence:
  driver: postgres
  dsn: postgres://localhost/accounts
features:
  signup: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("ACCOUNTS_SERVER__DOMAIN", "env.example.com")
	t.Setenv("ACCOUNTS_AUTH__AUDIENCE", "web,admin")

	cfg, err := config.Load([]string{"--config", path, "--server.address", ":9100"})
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Address)
	assert.Equal(t, "env.example.com", cfg.Server.Domain)
	assert.Equal(t, "postgres", cfg.Persistence.Driver)
	assert.Equal(t, time.Hour, cfg.Auth.ActivationTimeout())
	assert.Equal(t, 2*time.Hour, cfg.Auth.PasswordResetTimeout)
	assert.Equal(t, "accept", cfg.Auth.ActivationRepeatPolicy)
	assert.Equal(t, []string{"web", "admin"}, cfg.Auth.Audience)
	assert.False(t, cfg.Features.Signup)
	assert.True(t, cfg.Features.PasswordReset)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("ACCOUNTS_AUTH__SIGNING_KEY", testKey)

	_, err := config.Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yml")})
	require.Error(t, err)
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{
			name:   "unknown driver",
			mutate: func(c *config.Config) { c.Persistence.Driver = "mysql" },
			field:  "persistence.driver",
		},
		{
			name:   "unknown repeat policy",
			mutate: func(c *config.Config) { c.Auth.ActivationRepeatPolicy = "maybe" },
			field:  "auth.activation_repeat_policy",
		},
		{
			name:   "zero activation timeout",
			mutate: func(c *config.Config) { c.Auth.ActivationTimeoutSeconds = 0 },
			field:  "auth.activation_timeout_seconds",
		},
		{
			name: "smtp without host",
			mutate: func(c *config.Config) {
				c.Mail.Driver = "smtp"
				c.Mail.Host = ""
			},
			field: "mail.host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Auth.SigningKey = testKey
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			assert.Contains(t, richErr.ValidationMap(), tt.field)
		})
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := config.Defaults()
	cfg.Auth.SigningKey = testKey
	assert.NoError(t, cfg.Validate())
}
