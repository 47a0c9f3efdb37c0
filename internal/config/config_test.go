package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, map[string]string{"DATABASE_URL": "memory://"})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.HTTPAddress())
	assert.Equal(t, "solace", cfg.MongoDatabase)
	assert.Equal(t, "http://localhost:3000", cfg.FrontendURL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, time.Hour, cfg.ResetTokenTTL)
	assert.Equal(t, 587, cfg.Mail.Port)
	assert.Equal(t, "starttls", cfg.Mail.Encryption)
	assert.Equal(t, 5*time.Second, cfg.Mail.Timeout)
	assert.Equal(t, "Solace", cfg.Mail.FromName)
	assert.EqualValues(t, 5, cfg.Mail.BreakerFailures)
	assert.Equal(t, 30*time.Second, cfg.Mail.BreakerCooldown)
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.ExposeErrorDetails())
}

func TestLoadOverrides(t *testing.T) {
	setEnv(t, map[string]string{
		"APP_ENV":              "production",
		"PORT":                 "9090",
		"DATABASE_URL":         " postgres://u:p@db/solace ",
		"FRONTEND_URL":         "https://solace.example.com/",
		"CORS_ALLOWED_ORIGINS": "https://solace.example.com/, ,https://admin.example.com",
		"BCRYPT_COST":          "13",
		"HASH_WORKERS":         "3",
		"RESET_TOKEN_TTL":      "30m",
		"SMTP_HOST":            "smtp.example.com",
		"SMTP_PORT":            "465",
		"SMTP_USERNAME":        "mailer@example.com",
		"SMTP_ENCRYPTION":      "SSL",
		"SMTP_TIMEOUT":         "3s",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddress())
	assert.Equal(t, "postgres://u:p@db/solace", cfg.DatabaseURL)
	assert.Equal(t, "https://solace.example.com", cfg.FrontendURL)
	assert.Equal(t, []string{"https://solace.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, 13, cfg.BcryptCost)
	assert.Equal(t, 3, cfg.HashWorkers)
	assert.Equal(t, 30*time.Minute, cfg.ResetTokenTTL)
	assert.Equal(t, "ssl", cfg.Mail.Encryption)
	assert.Equal(t, 465, cfg.Mail.Port)
	assert.Equal(t, "mailer@example.com", cfg.Mail.From)
	assert.Equal(t, 3*time.Second, cfg.Mail.Timeout)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.ExposeErrorDetails())
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"DATABASE_URL is required": {},
		"FRONTEND_URL": {
			"DATABASE_URL": "memory://",
			"FRONTEND_URL": "not a url",
		},
		"BCRYPT_COST must be between 4 and 31": {
			"DATABASE_URL": "memory://",
			"BCRYPT_COST":  "3",
		},
		"BCRYPT_COST must be between 10 and 31": {
			"DATABASE_URL": "memory://",
			"APP_ENV":      "production",
			"SMTP_HOST":    "smtp.example.com",
			"SMTP_FROM":    "noreply@example.com",
			"BCRYPT_COST":  "8",
		},
		"SMTP_ENCRYPTION": {
			"DATABASE_URL":    "memory://",
			"SMTP_ENCRYPTION": "tls13",
		},
		"SMTP_HOST is required in production": {
			"DATABASE_URL": "memory://",
			"APP_ENV":      "production",
		},
		"SMTP_FROM or SMTP_USERNAME": {
			"DATABASE_URL": "memory://",
			"SMTP_HOST":    "smtp.example.com",
		},
		"RESET_TOKEN_TTL must be positive": {
			"DATABASE_URL":    "memory://",
			"RESET_TOKEN_TTL": "-1m",
		},
		"SMTP_BREAKER_COOLDOWN must be positive": {
			"DATABASE_URL":          "memory://",
			"SMTP_BREAKER_COOLDOWN": "0s",
		},
	}
	for want, env := range cases {
		t.Run(want, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			setEnv(t, env)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), want)
		})
	}
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	setEnv(t, map[string]string{"DATABASE_URL": "memory://", "BCRYPT_COST": "twelve"})
	_, err := Load()
	assert.ErrorContains(t, err, "parse env")
}
