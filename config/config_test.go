package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddress != ":8080" {
		t.Fatalf("unexpected listen address %q", cfg.Server.ListenAddress)
	}
	rate, err := cfg.Escrow.FeeRate()
	if err != nil {
		t.Fatalf("fee rate: %v", err)
	}
	if rate.String() != "1.5" {
		t.Fatalf("expected default fee 1.5, got %s", rate)
	}
	if cfg.Escrow.Currency != "BRL" || cfg.Escrow.BoletoDueDays != 3 {
		t.Fatalf("unexpected escrow defaults: %+v", cfg.Escrow)
	}
	if cfg.PSP.Enabled() {
		t.Fatalf("psp should be disabled without a base url")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "escrowd.yaml", `
environment: staging
server:
  listen: ":9090"
  shutdown_timeout: 3s
database:
  driver: postgres
  url: postgres://escrow@db/escrow
escrow:
  fee_percent: "2.25"
  currency: brl
  boleto_due_days: 5
psp:
  base_url: https://psp.example.com
  api_key: key
  timeout: 4s
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "staging" || cfg.Server.ListenAddress != ":9090" {
		t.Fatalf("unexpected server config: %+v", cfg)
	}
	if cfg.Server.ShutdownTimeout.Duration != 3*time.Second {
		t.Fatalf("unexpected shutdown timeout %s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.ReadTimeout.Duration != 15*time.Second {
		t.Fatalf("default read timeout not kept: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("unexpected driver %q", cfg.Database.Driver)
	}
	if cfg.Escrow.Currency != "BRL" || cfg.Escrow.BoletoDueDays != 5 {
		t.Fatalf("unexpected escrow config: %+v", cfg.Escrow)
	}
	if rate, _ := cfg.Escrow.FeeRate(); rate.String() != "2.25" {
		t.Fatalf("unexpected fee %s", rate)
	}
	if !cfg.PSP.Enabled() || cfg.PSP.Timeout.Duration != 4*time.Second {
		t.Fatalf("unexpected psp config: %+v", cfg.PSP)
	}
}

func TestLoadYAMLRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "escrowd.yml", "escrow:\n  fee: 2\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "escrowd.toml", `
Environment = "production"

[Server]
ListenAddress = "0.0.0.0:7000"
WriteTimeout = "20s"

[Escrow]
FeePercent = "1.0"

[RateLimit]
RequestsPerSecond = 5.5
Burst = 10

[Telemetry]
Endpoint = "otel:4318"
Insecure = true
Traces = true

[Telemetry.Headers]
authorization = "Bearer abc"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:7000" || cfg.Server.WriteTimeout.Duration != 20*time.Second {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.RateLimit.RequestsPerSecond != 5.5 || cfg.RateLimit.Burst != 10 {
		t.Fatalf("unexpected rate limit: %+v", cfg.RateLimit)
	}
	if !cfg.Telemetry.Insecure || !cfg.Telemetry.Traces || cfg.Telemetry.Headers["authorization"] != "Bearer abc" {
		t.Fatalf("unexpected telemetry: %+v", cfg.Telemetry)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "escrowd.yaml", "escrow:\n  fee_percent: \"2\"\n")
	t.Setenv("ESCROW_FEE_PERCENT", "0.75")
	t.Setenv("ESCROW_DB_DRIVER", "postgres")
	t.Setenv("ESCROW_DB_URL", "postgres://localhost/escrow")
	t.Setenv("ESCROW_PSP_BASE_URL", "https://psp.test")
	t.Setenv("ESCROW_PSP_TIMEOUT_SECONDS", "7")
	t.Setenv("ESCROW_OTLP_HEADERS", "x-api-key=abc; tenant = pactum")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rate, _ := cfg.Escrow.FeeRate(); rate.String() != "0.75" {
		t.Fatalf("env fee not applied: %s", rate)
	}
	if cfg.Database.URL != "postgres://localhost/escrow" {
		t.Fatalf("env db url not applied: %q", cfg.Database.URL)
	}
	if cfg.PSP.Timeout.Duration != 7*time.Second {
		t.Fatalf("env psp timeout not applied: %s", cfg.PSP.Timeout)
	}
	if cfg.Telemetry.Headers["x-api-key"] != "abc" || cfg.Telemetry.Headers["tenant"] != "pactum" {
		t.Fatalf("unexpected headers: %v", cfg.Telemetry.Headers)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"fee above 100":   func(c *Config) { c.Escrow.FeePercent = "100.01" },
		"fee negative":    func(c *Config) { c.Escrow.FeePercent = "-1" },
		"fee garbage":     func(c *Config) { c.Escrow.FeePercent = "abc" },
		"currency length": func(c *Config) { c.Escrow.Currency = "REAL" },
		"driver":          func(c *Config) { c.Database.Driver = "mysql" },
		"empty db url":    func(c *Config) { c.Database.URL = " " },
		"psp url":         func(c *Config) { c.PSP.BaseURL = "not a url" },
		"log level":       func(c *Config) { c.Logging.Level = "loud" },
		"due days":        func(c *Config) { c.Escrow.BoletoDueDays = -1 },
		"webhook url":     func(c *Config) { c.Webhooks = []WebhookConfig{{URL: "mailto:x", Secret: "s"}} },
		"webhook secret":  func(c *Config) { c.Webhooks = []WebhookConfig{{URL: "https://hooks.test/x"}} },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "escrowd.json", "{}")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unsupported extension") {
		t.Fatalf("expected extension error, got %v", err)
	}
}

func TestInvalidTimeoutEnv(t *testing.T) {
	t.Setenv("ESCROW_PSP_TIMEOUT_SECONDS", "soon")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for invalid timeout")
	}
}

func TestWebhooksFromFileAndEnv(t *testing.T) {
	path := writeFile(t, "escrowd.yaml", `webhooks:
  - url: https://hooks.test/escrow
    secret: file-secret
    events: [escrow.frozen, escrow.refunded]
`)
	t.Setenv("ESCROW_WEBHOOK_URL", "https://ops.test/hook")
	t.Setenv("ESCROW_WEBHOOK_SECRET", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Webhooks) != 2 {
		t.Fatalf("expected 2 webhooks got %d", len(cfg.Webhooks))
	}
	if cfg.Webhooks[0].Secret != "file-secret" || len(cfg.Webhooks[0].Events) != 2 {
		t.Fatalf("unexpected file webhook %+v", cfg.Webhooks[0])
	}
	if cfg.Webhooks[1].URL != "https://ops.test/hook" || cfg.Webhooks[1].Secret != "env-secret" {
		t.Fatalf("unexpected env webhook %+v", cfg.Webhooks[1])
	}
}
