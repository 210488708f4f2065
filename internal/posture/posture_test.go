package posture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mackeh/AegisGuard/internal/audit"
	"github.com/mackeh/AegisGuard/internal/config"
	"github.com/mackeh/AegisGuard/internal/secrets"
)

func TestGradeFromPct(t *testing.T) {
	tests := []struct {
		pct      int
		expected Grade
	}{
		{100, GradeA},
		{90, GradeA},
		{89, GradeB},
		{75, GradeB},
		{74, GradeC},
		{60, GradeC},
		{59, GradeD},
		{40, GradeD},
		{39, GradeF},
		{0, GradeF},
	}

	for _, tt := range tests {
		got := gradeFromPct(tt.pct)
		if got != tt.expected {
			t.Errorf("gradeFromPct(%d) = %s, want %s", tt.pct, got, tt.expected)
		}
	}
}

func TestScoreGuardrails(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.GuardrailsConfig
		expected int
	}{
		{"all on", config.GuardrailsConfig{InjectionDetection: true, PIIFilter: true}, 30},
		{"category off", config.GuardrailsConfig{InjectionDetection: true, PIIFilter: true, DisabledCategories: []string{"phone"}}, 25},
		{"no injection", config.GuardrailsConfig{PIIFilter: true}, 15},
		{"nothing", config.GuardrailsConfig{DisabledCategories: []string{"email"}}, 0},
	}

	for _, tt := range tests {
		cat := scoreGuardrails(tt.cfg)
		if cat.Points != tt.expected {
			t.Errorf("scoreGuardrails(%s) = %d points, want %d", tt.name, cat.Points, tt.expected)
		}
	}
}

func TestScoreAccess(t *testing.T) {
	open := scoreAccess(config.ServerConfig{})
	if open.Points != 0 {
		t.Errorf("expected 0 points for open API, got %d", open.Points)
	}

	locked := scoreAccess(config.ServerConfig{
		Auth:      config.AuthConfig{Enabled: true, Keys: []config.APIKey{{Name: "a", Token: "t", Role: "admin"}}},
		RateLimit: config.RateLimitConfig{RPS: 5},
	})
	if locked.Points != 20 {
		t.Errorf("expected 20 points, got %d", locked.Points)
	}

	// Auth with no keys rejects every request and earns nothing.
	noKeys := scoreAccess(config.ServerConfig{Auth: config.AuthConfig{Enabled: true}})
	if noKeys.Points != 0 {
		t.Errorf("expected 0 points for auth without keys, got %d", noKeys.Points)
	}
}

func TestScoreWebhook(t *testing.T) {
	w := config.WebhookConfig{SecretEnv: "POSTURE_TEST_SECRET"}

	t.Setenv("POSTURE_TEST_SECRET", "")
	if cat := scoreWebhook(w, nil); cat.Points != 0 {
		t.Errorf("expected 0 points without a secret, got %d", cat.Points)
	}

	t.Setenv("POSTURE_TEST_SECRET", "s3cret")
	w.CallbackAllowlist = []string{"hooks.example.com"}
	if cat := scoreWebhook(w, nil); cat.Points != 20 {
		t.Errorf("expected 20 points, got %d", cat.Points)
	}
}

func TestScoreWebhook_FromStore(t *testing.T) {
	dir := t.TempDir()
	store := secrets.NewAgeStore(dir)
	if _, err := store.Init(); err != nil {
		t.Fatal(err)
	}
	if err := store.Set("webhook_secret", "s3cret"); err != nil {
		t.Fatal(err)
	}

	cat := scoreWebhook(config.WebhookConfig{SecretKey: "webhook_secret"}, store)
	if cat.Points != 15 {
		t.Errorf("expected 15 points, got %d (%s)", cat.Points, cat.Detail)
	}
}

func TestScorePolicy(t *testing.T) {
	ctx := context.Background()
	if cat := scorePolicy(ctx, config.PolicyConfig{}); cat.Points != 0 {
		t.Errorf("expected 0 points without a policy, got %d", cat.Points)
	}
	if cat := scorePolicy(ctx, config.PolicyConfig{Path: "/nonexistent/policy.rego"}); cat.Points != 0 {
		t.Errorf("expected 0 points for a missing policy, got %d", cat.Points)
	}

	path := filepath.Join(t.TempDir(), "policy.rego")
	src := "package aegisguard.policy\n\nimport rego.v1\n\ndefault decision = \"allow\"\n"
	if err := os.WriteFile(path, []byte(src), 0600); err != nil {
		t.Fatal(err)
	}
	if cat := scorePolicy(ctx, config.PolicyConfig{Path: path}); cat.Points != 15 {
		t.Errorf("expected 15 points, got %d (%s)", cat.Points, cat.Detail)
	}
}

func TestScoreAudit(t *testing.T) {
	cfg := config.Default()
	cfg.Audit.Enabled = false
	if cat := scoreAudit(cfg); cat.Points != 0 {
		t.Errorf("expected 0 points for disabled audit, got %d", cat.Points)
	}

	cfg.Audit.Enabled = true
	cfg.Audit.Path = filepath.Join(t.TempDir(), "decisions.jsonl")
	l, err := audit.NewLogger(cfg.Audit.Path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Log(audit.Entry{Action: "check.input", Decision: "allow"}); err != nil {
		t.Fatal(err)
	}
	l.Close()

	if cat := scoreAudit(cfg); cat.Points != 15 {
		t.Errorf("expected 15 points for a verified chain, got %d", cat.Points)
	}
}

func TestCalculate_Defaults(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "")
	cfg := config.Default()
	cfg.Audit.Enabled = false

	score := Calculate(context.Background(), cfg, nil)
	if score.Max != 100 {
		t.Fatalf("expected max 100, got %d", score.Max)
	}
	// Guardrails 30 + rate limit 5.
	if score.Total != 35 {
		t.Errorf("expected 35 points, got %d", score.Total)
	}
	if score.Grade != GradeF {
		t.Errorf("expected grade F, got %s", score.Grade)
	}
}
