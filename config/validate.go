package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FeeRate parses FeePercent.
func (e EscrowConfig) FeeRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(e.FeePercent))
	if err != nil {
		return decimal.Zero, fmt.Errorf("escrow: invalid fee_percent %q", e.FeePercent)
	}
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("escrow: fee_percent %s out of range [0, 100]", rate)
	}
	return rate, nil
}

// SlogLevel maps Level onto a slog.Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging: invalid level %q", l.Level)
	}
	return level, nil
}

// Validate reports the first configuration problem found.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Server.ListenAddress) == "" {
		return fmt.Errorf("server: listen address must be configured")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "postgres", "postgresql", "pgx", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database: unsupported driver %q", cfg.Database.Driver)
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		return fmt.Errorf("database: url must be configured")
	}
	if _, err := cfg.Escrow.FeeRate(); err != nil {
		return err
	}
	if len(cfg.Escrow.Currency) != 3 {
		return fmt.Errorf("escrow: currency must be an ISO 4217 code, got %q", cfg.Escrow.Currency)
	}
	if cfg.Escrow.BoletoDueDays < 1 {
		return fmt.Errorf("escrow: boleto_due_days must be at least 1")
	}
	if cfg.PSP.Enabled() {
		parsed, err := url.Parse(strings.TrimSpace(cfg.PSP.BaseURL))
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("psp: invalid base_url %q", cfg.PSP.BaseURL)
		}
	}
	if cfg.PSP.RatePerMinute < 0 {
		return fmt.Errorf("psp: rate_per_minute must not be negative")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if _, err := cfg.Logging.SlogLevel(); err != nil {
		return err
	}
	for i, hook := range cfg.Webhooks {
		parsed, err := url.Parse(strings.TrimSpace(hook.URL))
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("webhooks[%d]: invalid url %q", i, hook.URL)
		}
		if strings.TrimSpace(hook.Secret) == "" {
			return fmt.Errorf("webhooks[%d]: secret must be configured", i)
		}
	}
	return nil
}
