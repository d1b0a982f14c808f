// Package config loads server configuration.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file, and PANTRYSYNC_* environment variables. The result is
// validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dukerupert/pantrysync/internal/bootstrap"
	"github.com/dukerupert/pantrysync/internal/capture"
	"github.com/dukerupert/pantrysync/internal/images"
	"github.com/dukerupert/pantrysync/internal/push"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PANTRYSYNC_"

type Config struct {
	Port      string `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// BaseURL is the public origin used in invite links.
	BaseURL string `yaml:"base_url"`

	Auth      AuthConfig      `yaml:"auth"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Capture   CaptureConfig   `yaml:"capture"`
	Email     EmailConfig     `yaml:"email"`
	Push      PushConfig      `yaml:"push"`
	Images    images.Config   `yaml:"images"`
}

type AuthConfig struct {
	// Secret signs bearer tokens. Required.
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type BootstrapConfig struct {
	SlowAfter time.Duration `yaml:"slow_after"`
}

type CaptureConfig struct {
	Delay time.Duration `yaml:"delay"`
}

type EmailConfig struct {
	PostmarkToken string `yaml:"postmark_token"`
	From          string `yaml:"from"`
}

type PushConfig struct {
	VAPIDPublicKey  string        `yaml:"vapid_public_key"`
	VAPIDPrivateKey string        `yaml:"vapid_private_key"`
	Interval        time.Duration `yaml:"interval"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Port:      "8080",
		DBPath:    "pantrysync.db",
		LogLevel:  "info",
		LogFormat: "text",
		BaseURL:   "http://localhost:8080",
		Auth: AuthConfig{
			TokenTTL: 30 * 24 * time.Hour,
		},
		Bootstrap: BootstrapConfig{SlowAfter: bootstrap.DefaultSlowAfter},
		Capture:   CaptureConfig{Delay: capture.DefaultDelay},
		Push:      PushConfig{Interval: push.DefaultInterval},
		Images:    images.Config{Region: "auto"},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"PORT":              &c.Port,
		"DB_PATH":           &c.DBPath,
		"LOG_LEVEL":         &c.LogLevel,
		"LOG_FORMAT":        &c.LogFormat,
		"BASE_URL":          &c.BaseURL,
		"AUTH_SECRET":       &c.Auth.Secret,
		"POSTMARK_TOKEN":    &c.Email.PostmarkToken,
		"EMAIL_FROM":        &c.Email.From,
		"VAPID_PUBLIC_KEY":  &c.Push.VAPIDPublicKey,
		"VAPID_PRIVATE_KEY": &c.Push.VAPIDPrivateKey,
		"IMAGES_ENDPOINT":   &c.Images.Endpoint,
		"IMAGES_BUCKET":     &c.Images.Bucket,
		"IMAGES_REGION":     &c.Images.Region,
		"IMAGES_ACCESS_KEY": &c.Images.AccessKey,
		"IMAGES_SECRET_KEY": &c.Images.SecretKey,
		"IMAGES_PUBLIC_URL": &c.Images.PublicURL,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"TOKEN_TTL":            &c.Auth.TokenTTL,
		"BOOTSTRAP_SLOW_AFTER": &c.Bootstrap.SlowAfter,
		"CAPTURE_DELAY":        &c.Capture.Delay,
		"PUSH_INTERVAL":        &c.Push.Interval,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}
	return nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if n, err := strconv.Atoi(c.Port); err != nil || n < 1 || n > 65535 {
		errs = append(errs, fmt.Errorf("port must be a number between 1 and 65535, got %q", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url must be an absolute URL, got %q", c.BaseURL))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Bootstrap.SlowAfter <= 0 {
		errs = append(errs, errors.New("bootstrap.slow_after must be positive"))
	}
	if c.Capture.Delay < 0 {
		errs = append(errs, errors.New("capture.delay must not be negative"))
	}
	if c.Push.Interval <= 0 {
		errs = append(errs, errors.New("push.interval must be positive"))
	}
	if c.Email.From != "" {
		if _, err := mail.ParseAddress(c.Email.From); err != nil {
			errs = append(errs, fmt.Errorf("email.from: %w", err))
		}
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("push.vapid_public_key and push.vapid_private_key must be set together"))
	}

	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// EmailEnabled reports whether invite emails can be sent.
func (c *Config) EmailEnabled() bool {
	return c.Email.PostmarkToken != "" && c.Email.From != ""
}

// PushEnabled reports whether VAPID keys are configured.
func (c *Config) PushEnabled() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
}
