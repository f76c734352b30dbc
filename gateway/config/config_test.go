package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsSecureByDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true")
	}
	if !errors.Is(cfg.RequireSecret(), ErrAuthSecretMissing) {
		t.Fatalf("expected missing secret to be reported")
	}
	if cfg.BaseURL() != "http://localhost:8090" {
		t.Fatalf("unexpected base url: %s", cfg.BaseURL())
	}
	if len(cfg.RateLimits) != 3 {
		t.Fatalf("expected default rate limits, got %d", len(cfg.RateLimits))
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
publicBaseURL: "https://settle.example.com/"
auth:
  enabled: true
  hmacSecret: s3cret
stream:
  maxSessions: 4
rateLimits:
  - id: invoices
    ratePerSecond: 2
    burst: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("unexpected listen address %s", cfg.ListenAddress)
	}
	if cfg.BaseURL() != "https://settle.example.com" {
		t.Fatalf("unexpected base url %s", cfg.BaseURL())
	}
	if err := cfg.RequireSecret(); err != nil {
		t.Fatalf("secret configured: %v", err)
	}
	if cfg.Stream.MaxSessions != 4 || cfg.Stream.WriteTimeout != 5*time.Second {
		t.Fatalf("unexpected stream config %+v", cfg.Stream)
	}
	if len(cfg.RateLimits) != 1 || cfg.RateLimits[0].RatePerSecond != 2 {
		t.Fatalf("rate limits not replaced: %+v", cfg.RateLimits)
	}
}

func TestLoadAuthDisabledExplicitly(t *testing.T) {
	path := writeConfig(t, "auth:\n  enabled: false\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.Enabled {
		t.Fatalf("expected auth disabled")
	}
	if err := cfg.RequireSecret(); err != nil {
		t.Fatalf("no secret needed when disabled: %v", err)
	}
}

func TestLoadRequiresExplicitAuthWithTLS(t *testing.T) {
	path := writeConfig(t, "security:\n  tlsCertFile: /etc/settler/cert.pem\n  tlsKeyFile: /etc/settler/key.pem\nauth:\n  hmacSecret: x\n")
	if _, err := Load(path); !errors.Is(err, ErrAuthEnabledNotConfigured) {
		t.Fatalf("expected ErrAuthEnabledNotConfigured, got %v", err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown field":  "listenAddr: \":1\"\n",
		"relative base":  "publicBaseURL: /pay\n",
		"duplicate rate": "rateLimits:\n  - id: a\n  - id: a\n",
		"empty rate id":  "rateLimits:\n  - burst: 1\n",
		"tls half":       "security:\n  tlsCertFile: /c.pem\nauth:\n  enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected %s to fail", name)
			}
		})
	}
}
