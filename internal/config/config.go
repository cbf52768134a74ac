// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads the authcore configuration from defaults, an
// optional YAML file, the environment and command-line flags, in that
// order of increasing precedence.
package config

import (
	"time"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/notify"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Mail providers.
const (
	MailLog    = "log"
	MailResend = "resend"
)

// Config is the complete process configuration.
type Config struct {
	App         AppConfig         `yaml:"app"`
	HTTP        HTTPConfig        `yaml:"http"`
	Store       StoreConfig       `yaml:"store"`
	Auth        AuthConfig        `yaml:"auth"`
	Cookie      CookieConfig      `yaml:"cookie"`
	Mail        MailConfig        `yaml:"mail"`
	Relay       RelayConfig       `yaml:"relay"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Log         LogConfig         `yaml:"log"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// AppConfig identifies the application in links and emails.
type AppConfig struct {
	Name    string `yaml:"name" env:"APP_NAME" validate:"required" jsonschema:"description=Application name shown in emails"`
	BaseURL string `yaml:"base_url" env:"BASE_URL" validate:"required,url" jsonschema:"description=Public URL used to build reset links"`
}

// HTTPConfig controls the listeners.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" validate:"required"`
	MetricsAddr     string        `yaml:"metrics_addr" env:"METRICS_ADDR" jsonschema:"description=Metrics and health listener; empty disables it"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// StoreConfig selects and tunes persistence.
type StoreConfig struct {
	Backend     string `yaml:"backend" env:"STORE_BACKEND" validate:"oneof=postgres memory" jsonschema:"enum=postgres,enum=memory"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL" validate:"required_if=Backend postgres"`
	MaxConns    int32  `yaml:"max_conns" env:"DB_MAX_CONNS" validate:"gte=1"`
	MinConns    int32  `yaml:"min_conns" env:"DB_MIN_CONNS" validate:"gte=0,ltefield=MaxConns"`
}

// AuthConfig tunes hashing and session lifetime.
type AuthConfig struct {
	HashAlgorithm         string        `yaml:"hash_algorithm" env:"HASH_ALGORITHM" validate:"oneof=bcrypt argon2id" jsonschema:"enum=bcrypt,enum=argon2id"`
	BcryptCost            int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" validate:"gte=4,lte=31"`
	SessionTTL            time.Duration `yaml:"session_ttl" env:"SESSION_TTL" validate:"gte=0"`
	SlidingSessions       bool          `yaml:"sliding_sessions" env:"SLIDING_SESSIONS"`
	RevokeSessionsOnReset bool          `yaml:"revoke_sessions_on_reset" env:"REVOKE_SESSIONS_ON_RESET"`
	ResetRetention        time.Duration `yaml:"reset_retention" env:"RESET_RETENTION" validate:"gte=0"`
}

// CookieConfig sets the session cookie attributes.
type CookieConfig struct {
	Name     string `yaml:"name" env:"COOKIE_NAME" validate:"required"`
	Domain   string `yaml:"domain" env:"COOKIE_DOMAIN"`
	Secure   bool   `yaml:"secure" env:"COOKIE_SECURE"`
	SameSite string `yaml:"same_site" env:"COOKIE_SAMESITE" validate:"oneof=lax strict none" jsonschema:"enum=lax,enum=strict,enum=none"`
}

// MailConfig selects the notification sender.
type MailConfig struct {
	Provider     string `yaml:"provider" env:"MAIL_PROVIDER" validate:"oneof=log resend" jsonschema:"enum=log,enum=resend"`
	ResendAPIKey string `yaml:"resend_api_key" env:"RESEND_API_KEY" validate:"required_if=Provider resend"`
	FromEmail    string `yaml:"from_email" env:"MAIL_FROM_EMAIL" validate:"omitempty,email"`
	FromName     string `yaml:"from_name" env:"MAIL_FROM_NAME"`
	AdminEmail   string `yaml:"admin_email" env:"MAIL_ADMIN_EMAIL" validate:"omitempty,email"`
}

// RelayConfig tunes outbox delivery.
type RelayConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"RELAY_POLL_INTERVAL" validate:"gt=0"`
	BatchSize    int           `yaml:"batch_size" env:"RELAY_BATCH_SIZE" validate:"gte=1,lte=1000"`
	MaxAttempts  int           `yaml:"max_attempts" env:"RELAY_MAX_ATTEMPTS" validate:"gte=1"`
	Backoff      time.Duration `yaml:"backoff" env:"RELAY_BACKOFF" validate:"gt=0"`
}

// MaintenanceConfig schedules the janitor.
type MaintenanceConfig struct {
	Enabled         bool          `yaml:"enabled" env:"MAINTENANCE_ENABLED"`
	Schedule        string        `yaml:"schedule" env:"MAINTENANCE_SCHEDULE" validate:"required_if=Enabled true"`
	OutboxRetention time.Duration `yaml:"outbox_retention" env:"OUTBOX_RETENTION" validate:"gte=0"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Format string `yaml:"format" env:"LOG_FORMAT" validate:"oneof=json text pretty" jsonschema:"enum=json,enum=text,enum=pretty"`
	Level  string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
	SampleRatio float64 `yaml:"sample_ratio" env:"OTEL_SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// Default returns the built-in configuration.
func Default() *Config {
	session := auth.DefaultSessionConfig()
	return &Config{
		App: AppConfig{
			Name:    "authcore",
			BaseURL: auth.DefaultBaseURL,
		},
		HTTP: HTTPConfig{
			Addr:            ":8000",
			MetricsAddr:     "127.0.0.1:9100",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend:  StorePostgres,
			MaxConns: 10,
			MinConns: 1,
		},
		Auth: AuthConfig{
			HashAlgorithm:  auth.AlgorithmBcrypt,
			BcryptCost:     auth.DefaultBcryptCost,
			SessionTTL:     session.TTL,
			ResetRetention: auth.DefaultResetRetention,
		},
		Cookie: CookieConfig{
			Name:     session.CookieName,
			Secure:   session.CookieSecure,
			SameSite: string(session.CookieSameSite),
		},
		Mail: MailConfig{
			Provider: MailLog,
			FromName: "authcore",
		},
		Relay: RelayConfig{
			PollInterval: notify.DefaultPollInterval,
			BatchSize:    notify.DefaultBatchSize,
			MaxAttempts:  notify.DefaultMaxAttempts,
			Backoff:      notify.DefaultBackoff,
		},
		Maintenance: MaintenanceConfig{
			Enabled:         true,
			Schedule:        "@every 15m",
			OutboxRetention: 7 * 24 * time.Hour,
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Telemetry: TelemetryConfig{
			SampleRatio: 1,
		},
	}
}

// SessionConfig maps the auth and cookie sections onto auth.SessionConfig.
func (c *Config) SessionConfig() auth.SessionConfig {
	return auth.SessionConfig{
		TTL:            c.Auth.SessionTTL,
		Sliding:        c.Auth.SlidingSessions,
		CookieName:     c.Cookie.Name,
		CookieSecure:   c.Cookie.Secure,
		CookieSameSite: auth.SameSite(c.Cookie.SameSite),
		CookieDomain:   c.Cookie.Domain,
	}
}

// RelayConfig maps the relay section onto notify.RelayConfig.
func (c *Config) RelayConfig() notify.RelayConfig {
	return notify.RelayConfig{
		PollInterval: c.Relay.PollInterval,
		BatchSize:    c.Relay.BatchSize,
		MaxAttempts:  c.Relay.MaxAttempts,
		Backoff:      c.Relay.Backoff,
	}
}

// ResendConfig maps the mail section onto notify.ResendConfig.
func (c *Config) ResendConfig() notify.ResendConfig {
	return notify.ResendConfig{
		APIKey:    c.Mail.ResendAPIKey,
		FromEmail: c.Mail.FromEmail,
		FromName:  c.Mail.FromName,
		AdminBCC:  c.Mail.AdminEmail,
	}
}
