package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "30s" in YAML and TOML
// files.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config captures the runtime configuration for escrowd.
type Config struct {
	Environment string          `yaml:"environment" toml:"Environment"`
	Server      ServerConfig    `yaml:"server" toml:"Server"`
	Database    DatabaseConfig  `yaml:"database" toml:"Database"`
	Escrow      EscrowConfig    `yaml:"escrow" toml:"Escrow"`
	PSP         PSPConfig       `yaml:"psp" toml:"PSP"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" toml:"RateLimit"`
	Logging     LoggingConfig   `yaml:"logging" toml:"Logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry" toml:"Telemetry"`
	Webhooks    []WebhookConfig `yaml:"webhooks" toml:"Webhooks"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddress   string   `yaml:"listen" toml:"ListenAddress"`
	ReadTimeout     Duration `yaml:"read_timeout" toml:"ReadTimeout"`
	WriteTimeout    Duration `yaml:"write_timeout" toml:"WriteTimeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"ShutdownTimeout"`
}

// DatabaseConfig selects the gorm driver and pool limits.
type DatabaseConfig struct {
	Driver          string   `yaml:"driver" toml:"Driver"`
	URL             string   `yaml:"url" toml:"URL"`
	MaxOpenConns    int      `yaml:"max_open_conns" toml:"MaxOpenConns"`
	MaxIdleConns    int      `yaml:"max_idle_conns" toml:"MaxIdleConns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime" toml:"ConnMaxLifetime"`
}

// EscrowConfig holds the economic parameters of the engine. FeePercent is a
// decimal string so no binary float ever touches the rate.
type EscrowConfig struct {
	FeePercent    string `yaml:"fee_percent" toml:"FeePercent"`
	Currency      string `yaml:"currency" toml:"Currency"`
	BoletoDueDays int    `yaml:"boleto_due_days" toml:"BoletoDueDays"`
}

// PSPConfig configures the payment service provider client.
type PSPConfig struct {
	BaseURL       string   `yaml:"base_url" toml:"BaseURL"`
	APIKey        string   `yaml:"api_key" toml:"APIKey"`
	PixKey        string   `yaml:"pix_key" toml:"PixKey"`
	Timeout       Duration `yaml:"timeout" toml:"Timeout"`
	RatePerMinute int      `yaml:"rate_per_minute" toml:"RatePerMinute"`
	ChargeTTL     Duration `yaml:"charge_ttl" toml:"ChargeTTL"`
}

// Enabled reports whether a provider endpoint is configured.
func (p PSPConfig) Enabled() bool { return strings.TrimSpace(p.BaseURL) != "" }

// RateLimitConfig throttles API clients. Zero RequestsPerSecond disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps" toml:"RequestsPerSecond"`
	Burst             int     `yaml:"burst" toml:"Burst"`
}

// LoggingConfig controls the slog handler and optional rotated log file.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"Level"`
	File       string `yaml:"file" toml:"File"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"MaxSizeMB"`
	MaxBackups int    `yaml:"max_backups" toml:"MaxBackups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"MaxAgeDays"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint" toml:"Endpoint"`
	Insecure bool              `yaml:"insecure" toml:"Insecure"`
	Headers  map[string]string `yaml:"headers" toml:"Headers"`
	Metrics  bool              `yaml:"metrics" toml:"Metrics"`
	Traces   bool              `yaml:"traces" toml:"Traces"`
}

// WebhookConfig registers an endpoint that receives signed escrow events.
// An empty Events list subscribes to every event type.
type WebhookConfig struct {
	URL    string   `yaml:"url" toml:"URL"`
	Secret string   `yaml:"secret" toml:"Secret"`
	Events []string `yaml:"events" toml:"Events"`
}
