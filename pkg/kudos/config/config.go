// Package config loads the process configuration from environment
// variables. A .env file, when present, is loaded first; real environment
// variables always win. Configuration is read once at startup and treated
// as immutable afterwards.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full process configuration. Field names map to the
// normative environment variable names via envconfig tags.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	JWTSecretKey string `envconfig:"JWT_SECRET_KEY" required:"true"`
	JWTAlgorithm string `envconfig:"JWT_ALGORITHM" default:"HS256"`
	JWTIssuer    string `envconfig:"JWT_ISSUER" default:"kudos"`
	JWTAudience  string `envconfig:"JWT_AUDIENCE" default:"kudos"`

	AccessTokenExpireMinutes        int `envconfig:"ACCESS_TOKEN_EXPIRE_MINUTES" default:"15"`
	RefreshTokenExpireDays          int `envconfig:"REFRESH_TOKEN_EXPIRE_DAYS" default:"30"`
	EmailVerificationTokenExpireHrs int `envconfig:"EMAIL_VERIFICATION_TOKEN_EXPIRE_HOURS" default:"24"`
	PasswordResetTokenExpireMin     int `envconfig:"PASSWORD_RESET_TOKEN_EXPIRE_MINUTES" default:"30"`

	SuperuserEmail    string `envconfig:"SUPERUSER_EMAIL"`
	SuperuserPassword string `envconfig:"SUPERUSER_PASSWORD"`

	ListenAddr            string `envconfig:"LISTEN_ADDR" default:":8080"`
	RequestTimeoutSeconds int    `envconfig:"REQUEST_TIMEOUT_SECONDS" default:"30"`

	RedisURL string `envconfig:"REDIS_URL"`

	SchedulerTickSeconds int  `envconfig:"SCHEDULER_TICK_SECONDS" default:"60"`
	SchedulerEnabled     bool `envconfig:"SCHEDULER_ENABLED" default:"true"`

	BcryptCost int `envconfig:"BCRYPT_COST" default:"12"`

	ReportDir string `envconfig:"REPORT_DIR" default:"./reports"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads .env (if any) and the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// AccessTokenTTL returns the access token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpireDays) * 24 * time.Hour
}

// EmailVerificationTTL returns the email-verification token lifetime.
func (c *Config) EmailVerificationTTL() time.Duration {
	return time.Duration(c.EmailVerificationTokenExpireHrs) * time.Hour
}

// PasswordResetTTL returns the password-reset token lifetime.
func (c *Config) PasswordResetTTL() time.Duration {
	return time.Duration(c.PasswordResetTokenExpireMin) * time.Minute
}

// RequestTimeout returns the per-request handler deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// SchedulerTick returns the scheduler tick period.
func (c *Config) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickSeconds) * time.Second
}
