// Package config loads fredbank settings from defaults, an optional TOML file and the
// environment, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/mcclellann/fredBank/pkg/models"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`

	// Storage
	DBDriver    string `toml:"db_driver"` // sqlite or postgres
	DatabaseDSN string `toml:"database_dsn"`

	// Auth
	JWTSecret string        `toml:"jwt_secret"`
	TokenTTL  time.Duration `toml:"token_ttl"`

	// Observability
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`

	// Notifications
	NotifyWebhookURL  string        `toml:"notify_webhook_url"`
	NotifyTimeout     time.Duration `toml:"notify_timeout"`
	NotifyMaxInFlight int           `toml:"notify_max_in_flight"`

	// Concurrency
	MaxConflictRetries  int           `toml:"max_conflict_retries"`
	RetryInitialBackoff time.Duration `toml:"retry_initial_backoff"`

	// Lending
	DefaultLoanRate  decimal.Decimal `toml:"default_loan_rate"`
	LatePenaltyRate  decimal.Decimal `toml:"late_penalty_rate"`
	LoanDisbursement bool            `toml:"loan_disbursement"`

	Currency string `toml:"currency"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                8080,
		LogLevel:            "info",
		DBDriver:            "sqlite",
		DatabaseDSN:         "fredbank.db",
		JWTSecret:           "fredbank-dev-secret-change-me",
		TokenTTL:            time.Hour,
		ServiceName:         "fredbank",
		NotifyTimeout:       5 * time.Second,
		NotifyMaxInFlight:   64,
		MaxConflictRetries:  5,
		RetryInitialBackoff: 10 * time.Millisecond,
		DefaultLoanRate:     decimal.RequireFromString("8.5"),
		LatePenaltyRate:     decimal.Zero,
		Currency:            "USD",
	}
}

// Load builds the configuration. A missing .env or TOML file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnvInt("FREDBANK_PORT", c.Port)
	c.LogLevel = getEnv("FREDBANK_LOG_LEVEL", c.LogLevel)
	c.DBDriver = getEnv("FREDBANK_DB_DRIVER", c.DBDriver)
	c.DatabaseDSN = getEnv("FREDBANK_DATABASE_DSN", c.DatabaseDSN)
	c.JWTSecret = getEnv("FREDBANK_JWT_SECRET", c.JWTSecret)
	c.TokenTTL = getEnvDuration("FREDBANK_TOKEN_TTL", c.TokenTTL)
	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.ServiceName = getEnv("FREDBANK_SERVICE_NAME", c.ServiceName)
	c.NotifyWebhookURL = getEnv("FREDBANK_NOTIFY_WEBHOOK_URL", c.NotifyWebhookURL)
	c.NotifyTimeout = getEnvDuration("FREDBANK_NOTIFY_TIMEOUT", c.NotifyTimeout)
	c.NotifyMaxInFlight = getEnvInt("FREDBANK_NOTIFY_MAX_IN_FLIGHT", c.NotifyMaxInFlight)
	c.MaxConflictRetries = getEnvInt("FREDBANK_MAX_CONFLICT_RETRIES", c.MaxConflictRetries)
	c.RetryInitialBackoff = getEnvDuration("FREDBANK_RETRY_INITIAL_BACKOFF", c.RetryInitialBackoff)
	c.LoanDisbursement = getEnvBool("FREDBANK_LOAN_DISBURSEMENT", c.LoanDisbursement)
	c.Currency = getEnv("FREDBANK_CURRENCY", c.Currency)

	var err error
	if c.DefaultLoanRate, err = getEnvDecimal("FREDBANK_DEFAULT_LOAN_RATE", c.DefaultLoanRate); err != nil {
		return err
	}
	if c.LatePenaltyRate, err = getEnvDecimal("FREDBANK_LATE_PENALTY_RATE", c.LatePenaltyRate); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db_driver %q", c.DBDriver)
	}
	if c.DatabaseDSN == "" {
		return errors.New("database_dsn is required")
	}
	if c.MaxConflictRetries < 0 {
		return errors.New("max_conflict_retries must not be negative")
	}
	if c.DefaultLoanRate.IsNegative() || c.DefaultLoanRate.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("default_loan_rate %s out of range", c.DefaultLoanRate)
	}
	if !c.DefaultLoanRate.Equal(c.DefaultLoanRate.Round(2)) {
		return errors.New("default_loan_rate must have at most two decimal places")
	}
	if c.LatePenaltyRate.IsNegative() {
		return errors.New("late_penalty_rate must not be negative")
	}
	currency, err := models.NormalizeCurrency(c.Currency)
	if err != nil {
		return err
	}
	c.Currency = currency
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
