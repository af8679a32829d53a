// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultRoot           = "homescreen_apps"
	DefaultBaseURL        = "http://127.0.0.1:8080"
	DefaultJWTExpiresIn   = "24h"
	DefaultPGHost         = "127.0.0.1"
	DefaultPGPort         = 5432
	DefaultPGUser         = "postgres"
	DefaultPGDatabase     = "homescreen"
	DefaultPGSSLMode      = "disable"
	DefaultExchange       = "homescreen"
	DefaultSMTPPort       = 587
	DefaultDigestSpec     = "0 7 * * *"
	DefaultStaleAfterDays = 3
	DefaultRatePerSecond  = 10
	DefaultRateBurst      = 30
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	MagicLink MagicLinkConfig `toml:"magic_link"`
	RabbitMQ  RabbitMQConfig  `toml:"rabbitmq"`
	SMTP      SMTPConfig      `toml:"smtp"`
	Schedule  ScheduleConfig  `toml:"schedule"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h) for logged-in sessions.
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// MagicLinkConfig holds the URL root namespace and the public base URL magic links are built on.
type MagicLinkConfig struct {
	Root    string `toml:"root"`
	BaseURL string `toml:"base_url"`
}

// RabbitMQConfig enables the notification publisher when URL is set.
type RabbitMQConfig struct {
	URL           string `toml:"url"`
	Exchange      string `toml:"exchange"`
	RetryAttempts int    `toml:"retry_attempts"`
}

// SMTPConfig enables assignment emails when Host is set.
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

// ScheduleConfig drives the stale unassigned contact digest.
type ScheduleConfig struct {
	DigestSpec     string `toml:"digest_spec"`
	StaleAfterDays int    `toml:"stale_after_days"`
	Disabled       bool   `toml:"disabled"`
}

// RateLimitConfig bounds magic-link requests per client IP.
type RateLimitConfig struct {
	PerSecond float64 `toml:"per_second"`
	Burst     int     `toml:"burst"`
}

// Enabled reports whether a RabbitMQ URL was configured.
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

// Enabled reports whether an SMTP host was configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		MagicLink: MagicLinkConfig{
			Root:    DefaultRoot,
			BaseURL: DefaultBaseURL,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange:      DefaultExchange,
			RetryAttempts: 5,
		},
		SMTP: SMTPConfig{
			Port: DefaultSMTPPort,
		},
		Schedule: ScheduleConfig{
			DigestSpec:     DefaultDigestSpec,
			StaleAfterDays: DefaultStaleAfterDays,
		},
		RateLimit: RateLimitConfig{
			PerSecond: DefaultRatePerSecond,
			Burst:     DefaultRateBurst,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
