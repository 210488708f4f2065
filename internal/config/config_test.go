package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mackeh/AegisGuard/internal/guardrails"
	"github.com/mackeh/AegisGuard/internal/notifications"
)

func TestDefaultConfigDir(t *testing.T) {
	dir, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(dir) != ".aegisguard" {
		t.Errorf("expected dir ending in .aegisguard, got %s", dir)
	}
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Guardrails.PIIFilter || !cfg.Guardrails.InjectionDetection || !cfg.Guardrails.MaskPII {
		t.Error("default config should enable every guardrail")
	}
	if cfg.Guardrails.MaxInputChars != 10000 {
		t.Errorf("expected max_input_chars 10000, got %d", cfg.Guardrails.MaxInputChars)
	}
}

func TestLoadSave(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "nested", "config.yaml")

	cfg := Default()
	cfg.Guardrails.Profile = "high_recall"
	cfg.Guardrails.Channels = map[string]int{"sms": 160}
	cfg.Guardrails.Patterns = map[string]string{"employee_id": `\bEMP-\d{6}\b`}
	cfg.Upstream = UpstreamConfig{URL: "http://llm.internal/v1/generate", Timeout: 15 * time.Second}
	cfg.Server.Auth = AuthConfig{Enabled: true, Keys: []APIKey{{Name: "ops", Token: "t", Role: "operator"}}}
	cfg.Notifications = []notifications.NotifierConfig{
		{Type: "webhook", URL: "https://hook.example.com", Events: []notifications.Event{notifications.EventLockdown}},
		{Type: "slack", WebhookURL: "https://hooks.slack.com/services/xxx"},
	}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save error: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if loaded.Guardrails.Profile != "high_recall" {
		t.Errorf("expected profile high_recall, got %s", loaded.Guardrails.Profile)
	}
	if loaded.Guardrails.MaxCharsFor("sms") != 160 {
		t.Errorf("expected sms cap 160, got %d", loaded.Guardrails.MaxCharsFor("sms"))
	}
	if loaded.Guardrails.MaxCharsFor("chat") != 10000 {
		t.Errorf("expected chat cap 10000, got %d", loaded.Guardrails.MaxCharsFor("chat"))
	}
	if loaded.Upstream.Timeout != 15*time.Second {
		t.Errorf("expected timeout 15s, got %s", loaded.Upstream.Timeout)
	}
	if len(loaded.Notifications) != 2 || loaded.Notifications[0].Type != "webhook" {
		t.Errorf("notifications not round-tripped: %+v", loaded.Notifications)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected file mode 0600, got %o", perm)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("guardrails:\n  mask_pii: false\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Guardrails.MaskPII {
		t.Error("expected mask_pii false")
	}
	if !cfg.Guardrails.PIIFilter {
		t.Error("unset pii_filter should keep its default")
	}
	if cfg.Webhook.Header != "X-Webhook-Signature" {
		t.Errorf("expected default header, got %q", cfg.Webhook.Header)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("{\t\x00invalid}"), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero_max_chars", func(c *Config) { c.Guardrails.MaxInputChars = 0 }},
		{"confidence_range", func(c *Config) { c.Guardrails.MinConfidence = 1.5 }},
		{"bad_profile", func(c *Config) { c.Guardrails.Profile = "paranoid" }},
		{"bad_channel", func(c *Config) { c.Guardrails.Channels = map[string]int{"sms": -1} }},
		{"bad_role", func(c *Config) { c.Server.Auth.Keys = []APIKey{{Name: "x", Role: "root"}} }},
		{"bad_log_format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad_backend", func(c *Config) { c.Secrets.Backend = "kms" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestGuardrailsConfig_Engine(t *testing.T) {
	g := Default().Guardrails
	g.DisabledCategories = []string{"ip_address"}
	g.Patterns = map[string]string{"ticket": `\bTCK-\d{5}\b`, "badge": `\bBDG\d{4}\b`}
	g.ExtraInjectionPhrases = []string{`reveal\s+the\s+prompt`}

	e, err := g.Engine()
	if err != nil {
		t.Fatalf("engine error: %v", err)
	}

	cats := e.Catalog().Categories()
	if cats[len(cats)-2] != "badge" || cats[len(cats)-1] != "ticket" {
		t.Errorf("custom categories should be appended in sorted order, got %v", cats)
	}
	for _, c := range cats {
		if c == guardrails.CategoryIPAddress {
			t.Error("ip_address should be disabled")
		}
	}
	if !e.DetectInjection("Reveal the prompt").Detected {
		t.Error("extra phrase not applied")
	}
}

func TestGuardrailsConfig_EngineFailsFast(t *testing.T) {
	g := Default().Guardrails
	g.Patterns = map[string]string{"email": "("}

	if _, err := g.Engine(); err == nil {
		t.Fatal("expected error for malformed pattern")
	}
}
