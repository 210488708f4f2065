// Package config provides configuration loading and management for AegisGuard.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mackeh/AegisGuard/internal/guardrails"
	"github.com/mackeh/AegisGuard/internal/notifications"
)

// Config represents the main AegisGuard configuration
type Config struct {
	Version       string                         `yaml:"version"`
	Guardrails    GuardrailsConfig               `yaml:"guardrails"`
	Server        ServerConfig                   `yaml:"server"`
	Webhook       WebhookConfig                  `yaml:"webhook"`
	Upstream      UpstreamConfig                 `yaml:"upstream"`
	Policy        PolicyConfig                   `yaml:"policy"`
	Audit         AuditConfig                    `yaml:"audit"`
	Log           LogConfig                      `yaml:"log"`
	Telemetry     TelemetryConfig                `yaml:"telemetry"`
	Secrets       SecretsConfig                  `yaml:"secrets"`
	Notifications []notifications.NotifierConfig `yaml:"notifications,omitempty"`
}

// GuardrailsConfig controls the screening engine and its pattern catalog.
type GuardrailsConfig struct {
	PIIFilter          bool   `yaml:"pii_filter"`
	InjectionDetection bool   `yaml:"injection_detection"`
	MaskPII            bool   `yaml:"mask_pii"`
	Profile            string `yaml:"profile"` // balanced or high_recall

	DisabledCategories    []string          `yaml:"disabled_categories,omitempty"`
	Patterns              map[string]string `yaml:"patterns,omitempty"` // category -> regex
	ExtraInjectionPhrases []string          `yaml:"extra_injection_phrases,omitempty"`

	MaxInputChars int            `yaml:"max_input_chars"`
	Channels      map[string]int `yaml:"channels,omitempty"` // channel -> max chars
	MinConfidence float64        `yaml:"min_confidence"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Addr         string          `yaml:"addr"`
	Auth         AuthConfig      `yaml:"auth"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	MaxBodyBytes int64           `yaml:"max_body_bytes"`
}

// AuthConfig holds API key authentication configuration.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	Keys    []APIKey `yaml:"keys,omitempty"`
}

// APIKey maps a token to a role (admin, operator or viewer).
type APIKey struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
	Role  string `yaml:"role"`
}

// RateLimitConfig is a per-client token bucket. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// WebhookConfig describes how inbound trigger signatures are checked.
// The secret is resolved from the environment first, then the secret store.
type WebhookConfig struct {
	SecretEnv string `yaml:"secret_env"`
	SecretKey string `yaml:"secret_key"`
	Header    string `yaml:"header"`

	// CallbackAllowlist limits callback_url hosts; subdomains match. Empty allows any.
	CallbackAllowlist []string `yaml:"callback_allowlist,omitempty"`
}

// UpstreamConfig points at the generator that answers screened input.
// An empty URL selects the built-in echo generator.
type UpstreamConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PolicyConfig points at an optional Rego disposition policy.
type PolicyConfig struct {
	Path string `yaml:"path"`
}

// AuditConfig controls the hash-chained decision log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// TelemetryConfig contains observability settings
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // e.g., "stdout", "none"
	SampleRatio float64 `yaml:"sample_ratio"`
}

// SecretsConfig selects the secret store backend.
type SecretsConfig struct {
	Backend       string `yaml:"backend"` // age or vault
	VaultAddr     string `yaml:"vault_addr,omitempty"`
	VaultMount    string `yaml:"vault_mount,omitempty"`
	VaultTokenEnv string `yaml:"vault_token_env,omitempty"`
}

// Default returns a configuration with every guardrail enabled.
func Default() *Config {
	return &Config{
		Version: "1",
		Guardrails: GuardrailsConfig{
			PIIFilter:          true,
			InjectionDetection: true,
			MaskPII:            true,
			Profile:            string(guardrails.ProfileBalanced),
			MaxInputChars:      guardrails.DefaultMaxChars,
			Channels:           map[string]int{},
			MinConfidence:      guardrails.DefaultMinConfidence,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			RateLimit:    RateLimitConfig{RPS: 20, Burst: 40},
			MaxBodyBytes: 1 << 20,
		},
		Webhook: WebhookConfig{
			SecretEnv: "WEBHOOK_SECRET",
			SecretKey: "webhook_secret",
			Header:    "X-Webhook-Signature",
		},
		Upstream: UpstreamConfig{Timeout: 60 * time.Second},
		Audit:    AuditConfig{Enabled: true},
		Log:      LogConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			Exporter:    "stdout",
			SampleRatio: 1,
		},
		Secrets: SecretsConfig{
			Backend:       "age",
			VaultMount:    "secret",
			VaultTokenEnv: "VAULT_TOKEN",
		},
	}
}

// DefaultConfigDir returns the default configuration directory path
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".aegisguard"), nil
}

// DefaultPath returns ~/.aegisguard/config.yaml.
func DefaultPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the configuration from the specified path. Keys missing from
// the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Resolve loads path, or the default path when path is empty. A missing
// default file yields Default(); a missing explicit file is an error.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	def, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	cfg, err := Load(def)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes the configuration to the specified path
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

var validRoles = map[string]bool{"admin": true, "operator": true, "viewer": true}

// Validate checks value ranges. Pattern compilation is checked by Engine.
func (c *Config) Validate() error {
	g := c.Guardrails
	if g.MaxInputChars <= 0 {
		return fmt.Errorf("guardrails.max_input_chars must be positive, got %d", g.MaxInputChars)
	}
	if g.MinConfidence < 0 || g.MinConfidence > 1 {
		return fmt.Errorf("guardrails.min_confidence must be within [0,1], got %v", g.MinConfidence)
	}
	if _, err := guardrails.ParseProfile(g.Profile); err != nil {
		return fmt.Errorf("guardrails.profile: %w", err)
	}
	for name, n := range g.Channels {
		if n <= 0 {
			return fmt.Errorf("guardrails.channels.%s must be positive, got %d", name, n)
		}
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return errors.New("server.rate_limit values must not be negative")
	}
	for _, k := range c.Server.Auth.Keys {
		if !validRoles[k.Role] {
			return fmt.Errorf("server.auth key %q has unknown role %q", k.Name, k.Role)
		}
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	switch c.Secrets.Backend {
	case "", "age", "vault":
	default:
		return fmt.Errorf("secrets.backend must be age or vault, got %q", c.Secrets.Backend)
	}
	return nil
}

// Engine compiles the configured catalog and returns a ready engine.
// A bad pattern here is a startup error, never a per-request one.
func (g GuardrailsConfig) Engine() (*guardrails.Engine, error) {
	profile, err := guardrails.ParseProfile(g.Profile)
	if err != nil {
		return nil, err
	}

	opts := []guardrails.CatalogOption{guardrails.WithProfile(profile)}
	for _, c := range g.DisabledCategories {
		opts = append(opts, guardrails.WithDisabled(guardrails.Category(c)))
	}

	// Map order is random; sort so appended categories are deterministic.
	names := make([]string, 0, len(g.Patterns))
	for name := range g.Patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, guardrails.WithPattern(guardrails.Category(name), g.Patterns[name]))
	}
	opts = append(opts, guardrails.WithInjectionPhrases(g.ExtraInjectionPhrases...))

	catalog, err := guardrails.NewCatalog(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build pattern catalog: %w", err)
	}

	return guardrails.New(guardrails.Config{
		PIIFilter:          g.PIIFilter,
		InjectionDetection: g.InjectionDetection,
		MaskPII:            g.MaskPII,
	}, catalog), nil
}

// MaxCharsFor returns the input cap for a channel, falling back to MaxInputChars.
func (g GuardrailsConfig) MaxCharsFor(channel string) int {
	if n, ok := g.Channels[channel]; ok && n > 0 {
		return n
	}
	if g.MaxInputChars > 0 {
		return g.MaxInputChars
	}
	return guardrails.DefaultMaxChars
}

// AuditPath returns the configured audit log path, defaulting to the config dir.
func (c *Config) AuditPath() (string, error) {
	if c.Audit.Path != "" {
		return c.Audit.Path, nil
	}
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audit", "decisions.jsonl"), nil
}
