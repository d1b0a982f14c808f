package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pantrysync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadDefaultsWithSecretFromEnv(t *testing.T) {
	t.Setenv("PANTRYSYNC_AUTH_SECRET", "s3cret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.Auth.Secret != "s3cret" {
		t.Errorf("Auth.Secret = %q, want %q", cfg.Auth.Secret, "s3cret")
	}
	if cfg.Capture.Delay != 2*time.Second {
		t.Errorf("Capture.Delay = %v, want 2s", cfg.Capture.Delay)
	}
	if cfg.Bootstrap.SlowAfter != 4*time.Second {
		t.Errorf("Bootstrap.SlowAfter = %v, want 4s", cfg.Bootstrap.SlowAfter)
	}
	if cfg.EmailEnabled() {
		t.Error("EmailEnabled() = true with no postmark token")
	}
	if cfg.PushEnabled() {
		t.Error("PushEnabled() = true with no VAPID keys")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
port: "9090"
db_path: /var/lib/pantrysync/data.db
log_level: debug
base_url: https://pantry.example.com
auth:
  secret: from-file
  token_ttl: 12h
capture:
  delay: 0s
email:
  postmark_token: pm-token
  from: PantrySync <noreply@example.com>
push:
  vapid_public_key: pub
  vapid_private_key: priv
  interval: 5m
images:
  bucket: photos
  access_key: ak
  secret_key: sk
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != ":9090" {
		t.Errorf("Addr() = %q, want %q", cfg.Addr(), ":9090")
	}
	if cfg.DBPath != "/var/lib/pantrysync/data.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 12h", cfg.Auth.TokenTTL)
	}
	if cfg.Capture.Delay != 0 {
		t.Errorf("Capture.Delay = %v, want 0", cfg.Capture.Delay)
	}
	if cfg.Push.Interval != 5*time.Minute {
		t.Errorf("Push.Interval = %v, want 5m", cfg.Push.Interval)
	}
	if !cfg.EmailEnabled() || !cfg.PushEnabled() || !cfg.Images.Enabled() {
		t.Errorf("enabled = email %v push %v images %v, want all true",
			cfg.EmailEnabled(), cfg.PushEnabled(), cfg.Images.Enabled())
	}
	// Untouched keys keep their defaults.
	if cfg.Images.Region != "auto" {
		t.Errorf("Images.Region = %q, want %q", cfg.Images.Region, "auto")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "port: \"9090\"\nauth:\n  secret: from-file\n")
	t.Setenv("PANTRYSYNC_PORT", "7070")
	t.Setenv("PANTRYSYNC_PUSH_INTERVAL", "1h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "7070" {
		t.Errorf("Port = %q, want %q", cfg.Port, "7070")
	}
	if cfg.Push.Interval != time.Hour {
		t.Errorf("Push.Interval = %v, want 1h", cfg.Push.Interval)
	}
	if cfg.Auth.Secret != "from-file" {
		t.Errorf("Auth.Secret = %q, want %q", cfg.Auth.Secret, "from-file")
	}
}

func TestEmptyEnvValueIgnored(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{"PANTRYSYNC_PORT": ""}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
}

func TestBadDurationEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{"PANTRYSYNC_CAPTURE_DELAY": "soon"}))
	if err == nil {
		t.Fatal("expected error for unparseable duration")
	}
	if !strings.Contains(err.Error(), "PANTRYSYNC_CAPTURE_DELAY") {
		t.Errorf("error %q does not name the variable", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeFile(t, "port: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Auth.Secret = "s"
		return c
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port not numeric", func(c *Config) { c.Port = "http" }, "port"},
		{"port out of range", func(c *Config) { c.Port = "70000" }, "port"},
		{"missing db path", func(c *Config) { c.DBPath = "" }, "db_path"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"relative base url", func(c *Config) { c.BaseURL = "/pantry" }, "base_url"},
		{"missing secret", func(c *Config) { c.Auth.Secret = "" }, "auth.secret"},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "auth.token_ttl"},
		{"zero slow after", func(c *Config) { c.Bootstrap.SlowAfter = 0 }, "bootstrap.slow_after"},
		{"negative delay", func(c *Config) { c.Capture.Delay = -time.Second }, "capture.delay"},
		{"zero push interval", func(c *Config) { c.Push.Interval = 0 }, "push.interval"},
		{"bad sender", func(c *Config) { c.Email.From = "not an address" }, "email.from"},
		{"half vapid pair", func(c *Config) { c.Push.VAPIDPublicKey = "pub" }, "vapid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	c := Default()
	c.Port = "abc"
	c.LogLevel = "loud"

	err := c.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"port", "log_level", "auth.secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
