package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want %d", cfg.Port, 8080)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want %q", cfg.DBDriver, "sqlite")
	}
	if !cfg.DefaultLoanRate.Equal(decimal.RequireFromString("8.5")) {
		t.Errorf("DefaultLoanRate = %s, want 8.5", cfg.DefaultLoanRate)
	}
	if !cfg.LatePenaltyRate.IsZero() {
		t.Errorf("LatePenaltyRate = %s, want 0", cfg.LatePenaltyRate)
	}
	if cfg.LoanDisbursement {
		t.Error("LoanDisbursement should be false by default")
	}
	if cfg.Currency != "USD" {
		t.Errorf("Currency = %q, want %q", cfg.Currency, "USD")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fredbank.toml")
	content := `
port = 9090
db_driver = "sqlite"
database_dsn = "bank.db"
max_conflict_retries = 2
retry_initial_backoff = "25ms"
default_loan_rate = "10.25"
loan_disbursement = true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("FREDBANK_PORT", "7070")
	t.Setenv("FREDBANK_LATE_PENALTY_RATE", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want env override 7070", cfg.Port)
	}
	if cfg.DatabaseDSN != "bank.db" {
		t.Errorf("DatabaseDSN = %q, want %q", cfg.DatabaseDSN, "bank.db")
	}
	if cfg.MaxConflictRetries != 2 {
		t.Errorf("MaxConflictRetries = %d, want 2", cfg.MaxConflictRetries)
	}
	if cfg.RetryInitialBackoff != 25*time.Millisecond {
		t.Errorf("RetryInitialBackoff = %s, want 25ms", cfg.RetryInitialBackoff)
	}
	if !cfg.DefaultLoanRate.Equal(decimal.RequireFromString("10.25")) {
		t.Errorf("DefaultLoanRate = %s, want 10.25", cfg.DefaultLoanRate)
	}
	if !cfg.LatePenaltyRate.Equal(decimal.NewFromInt(2)) {
		t.Errorf("LatePenaltyRate = %s, want 2", cfg.LatePenaltyRate)
	}
	if !cfg.LoanDisbursement {
		t.Error("LoanDisbursement should be enabled by the file")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"postgres", func(c *Config) { c.DBDriver = "postgres" }, false},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"empty dsn", func(c *Config) { c.DatabaseDSN = "" }, true},
		{"negative retries", func(c *Config) { c.MaxConflictRetries = -1 }, true},
		{"rate too high", func(c *Config) { c.DefaultLoanRate = decimal.NewFromInt(100) }, true},
		{"rate too precise", func(c *Config) { c.DefaultLoanRate = decimal.RequireFromString("7.125") }, true},
		{"negative penalty", func(c *Config) { c.LatePenaltyRate = decimal.NewFromInt(-1) }, true},
		{"lower-case currency", func(c *Config) { c.Currency = "eur" }, false},
		{"unknown currency", func(c *Config) { c.Currency = "ABC" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
