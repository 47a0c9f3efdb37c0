package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Env           string        `env:"APP_ENV" envDefault:"development"`
	Port          string        `env:"PORT" envDefault:"8080"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	MongoDatabase string        `env:"MONGODB_DATABASE" envDefault:"solace"`
	FrontendURL   string        `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	CORSOrigins   []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	BcryptCost    int           `env:"BCRYPT_COST" envDefault:"12"`
	HashWorkers   int           `env:"HASH_WORKERS"`
	ResetTokenTTL time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string        `env:"LOG_FORMAT" envDefault:"text"`
	Mail          MailConfig    `envPrefix:"SMTP_"`
}

// MailConfig describes the outbound SMTP relay. An empty Host means mail is
// only logged, which Load refuses in production.
type MailConfig struct {
	Host       string        `env:"HOST"`
	Port       int           `env:"PORT" envDefault:"587"`
	Username   string        `env:"USERNAME"`
	Password   string        `env:"PASSWORD"`
	From       string        `env:"FROM"`
	FromName   string        `env:"FROM_NAME" envDefault:"Solace"`
	Encryption string        `env:"ENCRYPTION" envDefault:"starttls"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"5s"`

	// BreakerFailures consecutive send failures open the circuit; 0 disables it.
	BreakerFailures uint32        `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerCooldown time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`
}

// Load reads configuration from the environment and performs minimal validation.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.FrontendURL = strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/")
	cfg.CORSOrigins = cleanOrigins(cfg.CORSOrigins)
	cfg.Mail.Encryption = strings.ToLower(strings.TrimSpace(cfg.Mail.Encryption))
	if cfg.Mail.From == "" {
		cfg.Mail.From = cfg.Mail.Username
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if u, err := url.Parse(c.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("FRONTEND_URL %q must be an absolute URL", c.FrontendURL)
	}
	minCost := 4
	if c.IsProduction() {
		minCost = 10
	}
	if c.BcryptCost < minCost || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between %d and 31", minCost)
	}
	if c.ResetTokenTTL <= 0 {
		return errors.New("RESET_TOKEN_TTL must be positive")
	}
	if c.Mail.Timeout <= 0 {
		return errors.New("SMTP_TIMEOUT must be positive")
	}
	if c.Mail.BreakerFailures > 0 && c.Mail.BreakerCooldown <= 0 {
		return errors.New("SMTP_BREAKER_COOLDOWN must be positive")
	}
	switch c.Mail.Encryption {
	case "starttls", "ssl", "none":
	default:
		return fmt.Errorf("SMTP_ENCRYPTION %q must be starttls, ssl or none", c.Mail.Encryption)
	}
	if c.IsProduction() && c.Mail.Host == "" {
		return errors.New("SMTP_HOST is required in production")
	}
	if c.Mail.Host != "" && c.Mail.From == "" {
		return errors.New("SMTP_FROM or SMTP_USERNAME is required when SMTP_HOST is set")
	}
	return nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

// IsProduction reports whether the server runs with production safeguards.
func (c Config) IsProduction() bool {
	switch strings.ToLower(c.Env) {
	case "production", "prod":
		return true
	}
	return false
}

// ExposeErrorDetails reports whether error responses may carry internals.
func (c Config) ExposeErrorDetails() bool {
	return !c.IsProduction()
}

func cleanOrigins(origins []string) []string {
	var out []string
	for _, origin := range origins {
		trimmed := strings.TrimRight(strings.TrimSpace(origin), "/")
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
