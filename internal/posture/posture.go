// Package posture grades how well an AegisGuard deployment is hardened.
package posture

import (
	"context"

	"github.com/mackeh/AegisGuard/internal/audit"
	"github.com/mackeh/AegisGuard/internal/config"
	"github.com/mackeh/AegisGuard/internal/policy"
	"github.com/mackeh/AegisGuard/internal/secrets"
)

// Grade represents the overall security grade.
type Grade string

const (
	GradeA Grade = "A" // 90-100
	GradeB Grade = "B" // 75-89
	GradeC Grade = "C" // 60-74
	GradeD Grade = "D" // 40-59
	GradeF Grade = "F" // 0-39
)

// Score holds the posture assessment result.
type Score struct {
	Total      int             `json:"total"`
	Max        int             `json:"max"`
	Percentage int             `json:"percentage"`
	Grade      Grade           `json:"grade"`
	Categories []CategoryScore `json:"categories"`
}

// CategoryScore holds the score for a single category.
type CategoryScore struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Max    int    `json:"max"`
	Detail string `json:"detail"`
}

// Calculate scores cfg. store is where the webhook secret is looked up
// after the environment; it may be nil.
func Calculate(ctx context.Context, cfg *config.Config, store secrets.Store) *Score {
	categories := []CategoryScore{
		scoreGuardrails(cfg.Guardrails),
		scoreAccess(cfg.Server),
		scoreWebhook(cfg.Webhook, store),
		scorePolicy(ctx, cfg.Policy),
		scoreAudit(cfg),
	}

	total, max := 0, 0
	for _, c := range categories {
		total += c.Points
		max += c.Max
	}

	pct := 0
	if max > 0 {
		pct = total * 100 / max
	}

	return &Score{
		Total:      total,
		Max:        max,
		Percentage: pct,
		Grade:      gradeFromPct(pct),
		Categories: categories,
	}
}

func scoreGuardrails(g config.GuardrailsConfig) CategoryScore {
	cat := CategoryScore{Name: "Guardrails", Max: 30}

	if g.InjectionDetection {
		cat.Points += 15
	}
	if g.PIIFilter {
		cat.Points += 10
	}
	if len(g.DisabledCategories) == 0 {
		cat.Points += 5
	}

	switch {
	case cat.Points == cat.Max:
		cat.Detail = "all checks on, full PII catalog"
	case !g.InjectionDetection:
		cat.Detail = "prompt injection detection disabled"
	case !g.PIIFilter:
		cat.Detail = "PII filter disabled"
	default:
		cat.Detail = "some PII categories disabled"
	}
	return cat
}

func scoreAccess(s config.ServerConfig) CategoryScore {
	cat := CategoryScore{Name: "Access", Max: 20}

	if s.Auth.Enabled && len(s.Auth.Keys) > 0 {
		cat.Points = 15
		cat.Detail = "API keys required"
	} else {
		cat.Detail = "API open to anyone who can reach it"
	}
	if s.RateLimit.RPS > 0 {
		cat.Points += 5
		cat.Detail += ", rate limited"
	}
	return cat
}

func scoreWebhook(w config.WebhookConfig, store secrets.Store) CategoryScore {
	cat := CategoryScore{Name: "Webhook", Max: 20}

	secret, source, err := secrets.Resolve(w.SecretEnv, w.SecretKey, store)
	if err != nil || secret == "" {
		cat.Detail = "unsigned webhooks accepted"
	} else {
		cat.Points = 15
		cat.Detail = "signatures enforced (secret from " + string(source) + ")"
	}
	if len(w.CallbackAllowlist) > 0 {
		cat.Points += 5
		cat.Detail += ", callbacks allowlisted"
	}
	return cat
}

func scorePolicy(ctx context.Context, p config.PolicyConfig) CategoryScore {
	cat := CategoryScore{Name: "Policy", Max: 15}

	if p.Path == "" {
		cat.Detail = "no disposition policy"
		return cat
	}
	if _, err := policy.LoadPolicy(ctx, p.Path); err != nil {
		cat.Detail = "policy does not load"
		return cat
	}
	cat.Points = 15
	cat.Detail = "disposition policy loaded"
	return cat
}

func scoreAudit(cfg *config.Config) CategoryScore {
	cat := CategoryScore{Name: "Audit", Max: 15}

	if !cfg.Audit.Enabled {
		cat.Detail = "audit logging disabled"
		return cat
	}

	cat.Points = 10
	cat.Detail = "audit logging enabled"

	path, err := cfg.AuditPath()
	if err != nil {
		return cat
	}
	if valid, err := audit.Verify(path); err == nil && valid {
		cat.Points = 15
		cat.Detail = "audit logging enabled, chain verified"
	}
	return cat
}

func gradeFromPct(pct int) Grade {
	switch {
	case pct >= 90:
		return GradeA
	case pct >= 75:
		return GradeB
	case pct >= 60:
		return GradeC
	case pct >= 40:
		return GradeD
	default:
		return GradeF
	}
}
