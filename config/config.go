// Package config loads escrowd settings from an optional YAML or TOML file
// and ESCROW_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			ListenAddress:   ":8080",
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{15 * time.Second},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			URL:    "file:escrow.db?_pragma=busy_timeout(5000)",
		},
		Escrow: EscrowConfig{
			FeePercent:    "1.5",
			Currency:      "BRL",
			BoletoDueDays: 3,
		},
		PSP: PSPConfig{
			Timeout:       Duration{10 * time.Second},
			RatePerMinute: 120,
			ChargeTTL:     Duration{time.Hour},
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path (when non-empty), applies environment overrides, fills
// defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
		}
		return nil
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("config file %s: unsupported extension", path)
	}
}

func applyEnv(cfg *Config) error {
	cfg.Environment = getEnvDefault("ESCROW_ENV", cfg.Environment)
	cfg.Server.ListenAddress = getEnvDefault("ESCROW_LISTEN", cfg.Server.ListenAddress)

	cfg.Database.Driver = getEnvDefault("ESCROW_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.URL = getEnvDefault("ESCROW_DB_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = parseIntEnv("ESCROW_DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)

	cfg.Escrow.FeePercent = getEnvDefault("ESCROW_FEE_PERCENT", cfg.Escrow.FeePercent)
	cfg.Escrow.Currency = getEnvDefault("ESCROW_CURRENCY", cfg.Escrow.Currency)
	cfg.Escrow.BoletoDueDays = parseIntEnv("ESCROW_BOLETO_DUE_DAYS", cfg.Escrow.BoletoDueDays)

	cfg.PSP.BaseURL = getEnvDefault("ESCROW_PSP_BASE_URL", cfg.PSP.BaseURL)
	cfg.PSP.APIKey = strings.TrimSpace(getEnvDefault("ESCROW_PSP_API_KEY", cfg.PSP.APIKey))
	cfg.PSP.PixKey = getEnvDefault("ESCROW_PSP_PIX_KEY", cfg.PSP.PixKey)
	if raw := os.Getenv("ESCROW_PSP_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return fmt.Errorf("invalid ESCROW_PSP_TIMEOUT_SECONDS %q", raw)
		}
		cfg.PSP.Timeout = Duration{time.Duration(seconds) * time.Second}
	}
	cfg.PSP.RatePerMinute = parseIntEnv("ESCROW_PSP_RATE_LIMIT_PER_MINUTE", cfg.PSP.RatePerMinute)

	if raw := os.Getenv("ESCROW_API_RATE_LIMIT_RPS"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid ESCROW_API_RATE_LIMIT_RPS %q", raw)
		}
		cfg.RateLimit.RequestsPerSecond = rps
	}
	cfg.RateLimit.Burst = parseIntEnv("ESCROW_API_RATE_LIMIT_BURST", cfg.RateLimit.Burst)

	cfg.Logging.Level = getEnvDefault("ESCROW_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.File = getEnvDefault("ESCROW_LOG_FILE", cfg.Logging.File)

	cfg.Telemetry.Endpoint = getEnvDefault("ESCROW_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.Insecure = parseBoolEnv("ESCROW_OTLP_INSECURE", cfg.Telemetry.Insecure)
	cfg.Telemetry.Metrics = parseBoolEnv("ESCROW_OTLP_METRICS", cfg.Telemetry.Metrics)
	cfg.Telemetry.Traces = parseBoolEnv("ESCROW_OTLP_TRACES", cfg.Telemetry.Traces)
	if headers := parseKeyValueMapEnv("ESCROW_OTLP_HEADERS"); len(headers) > 0 {
		cfg.Telemetry.Headers = headers
	}

	if hook := strings.TrimSpace(os.Getenv("ESCROW_WEBHOOK_URL")); hook != "" {
		cfg.Webhooks = append(cfg.Webhooks, WebhookConfig{
			URL:    hook,
			Secret: os.Getenv("ESCROW_WEBHOOK_SECRET"),
		})
	}
	return nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if strings.TrimSpace(cfg.Server.ListenAddress) == "" {
		cfg.Server.ListenAddress = def.Server.ListenAddress
	}
	if cfg.Server.ReadTimeout.Duration <= 0 {
		cfg.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout.Duration <= 0 {
		cfg.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if cfg.Server.ShutdownTimeout.Duration <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if strings.TrimSpace(cfg.Escrow.FeePercent) == "" {
		cfg.Escrow.FeePercent = def.Escrow.FeePercent
	}
	cfg.Escrow.Currency = strings.ToUpper(strings.TrimSpace(cfg.Escrow.Currency))
	if cfg.Escrow.Currency == "" {
		cfg.Escrow.Currency = def.Escrow.Currency
	}
	if cfg.Escrow.BoletoDueDays == 0 {
		cfg.Escrow.BoletoDueDays = def.Escrow.BoletoDueDays
	}
	if cfg.PSP.Timeout.Duration <= 0 {
		cfg.PSP.Timeout = def.PSP.Timeout
	}
	if cfg.PSP.ChargeTTL.Duration <= 0 {
		cfg.PSP.ChargeTTL = def.PSP.ChargeTTL
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Telemetry.Headers == nil {
		cfg.Telemetry.Headers = map[string]string{}
	}
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseKeyValueMapEnv(key string) map[string]string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	pairs := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';'
	})
	result := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			result[k] = strings.TrimSpace(v)
		}
	}
	return result
}
