// Package doctor checks that an AegisGuard deployment is ready to serve:
// config, pattern catalog, webhook secret, policy and audit chain.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/mackeh/AegisGuard/internal/audit"
	"github.com/mackeh/AegisGuard/internal/config"
	"github.com/mackeh/AegisGuard/internal/policy"
	"github.com/mackeh/AegisGuard/internal/secrets"
)

// Status represents the result of a health check.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	default:
		return "fail"
	}
}

// Result holds the outcome of a single health check.
type Result struct {
	Name   string
	Status Status
	Detail string
	Fix    string // suggested remediation
}

// Options locates what the checks inspect.
type Options struct {
	ConfigDir  string
	ConfigPath string // empty means ConfigDir/config.yaml
}

// RunAll executes all health checks and returns the results. Checks after
// the config load use the loaded config, or defaults when it failed.
func RunAll(ctx context.Context, opts Options) []Result {
	if opts.ConfigDir == "" {
		dir, err := config.DefaultConfigDir()
		if err != nil {
			return []Result{{
				Name:   "Config directory",
				Status: StatusFail,
				Detail: err.Error(),
				Fix:    "Run: aegisguard init",
			}}
		}
		opts.ConfigDir = dir
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = filepath.Join(opts.ConfigDir, "config.yaml")
	}

	cfgResult, cfg := checkConfig(opts.ConfigPath)
	if cfg == nil {
		cfg = config.Default()
	}

	results := []Result{
		checkConfigDir(opts.ConfigDir),
		cfgResult,
		checkCatalog(cfg),
		checkWebhookSecret(cfg, opts.ConfigDir),
		checkPolicy(ctx, cfg),
		checkUpstream(cfg),
		checkSecrets(cfg, opts.ConfigDir),
		checkAuditLog(cfg),
		checkDiskSpace(opts.ConfigDir),
	}
	return results
}

// Failed reports whether any result failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

func checkConfigDir(cfgDir string) Result {
	info, err := os.Stat(cfgDir)
	if err != nil {
		return Result{
			Name:   "Config directory",
			Status: StatusWarn,
			Detail: cfgDir + " not found",
			Fix:    "Run: aegisguard init",
		}
	}
	if !info.IsDir() {
		return Result{
			Name:   "Config directory",
			Status: StatusFail,
			Detail: cfgDir + " exists but is not a directory",
			Fix:    "Remove the file and run: aegisguard init",
		}
	}
	return Result{Name: "Config directory", Status: StatusPass, Detail: cfgDir}
}

func checkConfig(path string) (Result, *config.Config) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Result{
			Name:   "Configuration",
			Status: StatusWarn,
			Detail: "no config file, using defaults",
			Fix:    "Run: aegisguard init",
		}, nil
	}
	if err != nil {
		return Result{
			Name:   "Configuration",
			Status: StatusFail,
			Detail: err.Error(),
			Fix:    "Fix " + path + " or regenerate it with: aegisguard init",
		}, nil
	}
	return Result{Name: "Configuration", Status: StatusPass, Detail: path}, cfg
}

func checkCatalog(cfg *config.Config) Result {
	engine, err := cfg.Guardrails.Engine()
	if err != nil {
		return Result{
			Name:   "Pattern catalog",
			Status: StatusFail,
			Detail: err.Error(),
			Fix:    "Fix guardrails.patterns or guardrails.extra_injection_phrases",
		}
	}

	c := engine.Catalog()
	detail := fmt.Sprintf("%d PII categories, %d injection phrases (profile %s)",
		len(c.PII()), len(c.Injection()), profileName(cfg.Guardrails.Profile))

	gc := engine.Config()
	if !gc.PIIFilter || !gc.InjectionDetection {
		return Result{
			Name:   "Pattern catalog",
			Status: StatusWarn,
			Detail: detail + ", some checks disabled",
			Fix:    "Enable guardrails.pii_filter and guardrails.injection_detection",
		}
	}
	return Result{Name: "Pattern catalog", Status: StatusPass, Detail: detail}
}

func profileName(p string) string {
	if p == "" {
		return "balanced"
	}
	return p
}

func checkWebhookSecret(cfg *config.Config, cfgDir string) Result {
	store, err := secrets.Open(cfg.Secrets, secrets.Dir(cfgDir))
	if err != nil {
		return Result{Name: "Webhook secret", Status: StatusFail, Detail: err.Error()}
	}
	secret, source, err := secrets.Resolve(cfg.Webhook.SecretEnv, cfg.Webhook.SecretKey, store)
	if err != nil {
		return Result{Name: "Webhook secret", Status: StatusFail, Detail: err.Error()}
	}
	if secret == "" {
		return Result{
			Name:   "Webhook secret",
			Status: StatusWarn,
			Detail: "not configured, inbound webhooks are accepted unsigned",
			Fix:    fmt.Sprintf("Export %s or run: aegisguard secrets set %s <VALUE>", cfg.Webhook.SecretEnv, cfg.Webhook.SecretKey),
		}
	}
	if len(secret) < 16 {
		return Result{
			Name:   "Webhook secret",
			Status: StatusWarn,
			Detail: fmt.Sprintf("loaded from %s but only %d characters", source, len(secret)),
			Fix:    "Use a random secret of at least 32 characters",
		}
	}
	return Result{Name: "Webhook secret", Status: StatusPass, Detail: "loaded from " + string(source)}
}

func checkPolicy(ctx context.Context, cfg *config.Config) Result {
	if cfg.Policy.Path == "" {
		return Result{Name: "Disposition policy", Status: StatusPass, Detail: "built-in allow policy"}
	}
	if _, err := policy.LoadPolicy(ctx, cfg.Policy.Path); err != nil {
		return Result{
			Name:   "Disposition policy",
			Status: StatusFail,
			Detail: err.Error(),
			Fix:    "Fix the Rego in " + cfg.Policy.Path,
		}
	}
	return Result{Name: "Disposition policy", Status: StatusPass, Detail: "compiled " + cfg.Policy.Path}
}

func checkUpstream(cfg *config.Config) Result {
	if cfg.Upstream.URL == "" {
		return Result{
			Name:   "Upstream generator",
			Status: StatusWarn,
			Detail: "not configured, /v1/agent echoes input",
			Fix:    "Set upstream.url to your model endpoint",
		}
	}
	u, err := url.Parse(cfg.Upstream.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{
			Name:   "Upstream generator",
			Status: StatusFail,
			Detail: fmt.Sprintf("invalid URL %q", cfg.Upstream.URL),
			Fix:    "Set upstream.url to an http(s) URL",
		}
	}
	return Result{Name: "Upstream generator", Status: StatusPass, Detail: u.Redacted()}
}

func checkSecrets(cfg *config.Config, cfgDir string) Result {
	if cfg.Secrets.Backend == "vault" {
		if _, err := secrets.Open(cfg.Secrets, ""); err != nil {
			return Result{Name: "Secret store", Status: StatusFail, Detail: err.Error(), Fix: "Set secrets.vault_addr and export the Vault token"}
		}
		return Result{Name: "Secret store", Status: StatusPass, Detail: "vault at " + cfg.Secrets.VaultAddr}
	}

	dir := secrets.Dir(cfgDir)
	if _, err := os.Stat(filepath.Join(dir, "keys.txt")); err != nil {
		return Result{
			Name:   "Secret store",
			Status: StatusWarn,
			Detail: "not initialized (no keypair)",
			Fix:    "Run: aegisguard secrets init",
		}
	}
	keys, err := secrets.NewManager(dir).List()
	if err != nil {
		return Result{Name: "Secret store", Status: StatusFail, Detail: err.Error()}
	}
	return Result{Name: "Secret store", Status: StatusPass, Detail: fmt.Sprintf("initialized (%d secrets)", len(keys))}
}

func checkAuditLog(cfg *config.Config) Result {
	if !cfg.Audit.Enabled {
		return Result{
			Name:   "Audit log",
			Status: StatusWarn,
			Detail: "disabled",
			Fix:    "Set audit.enabled: true",
		}
	}
	logPath, err := cfg.AuditPath()
	if err != nil {
		return Result{Name: "Audit log", Status: StatusFail, Detail: err.Error()}
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return Result{Name: "Audit log", Status: StatusPass, Detail: "empty (no entries yet)"}
	}

	entries, err := audit.ReadAll(logPath)
	if err != nil {
		return Result{
			Name:   "Audit log",
			Status: StatusFail,
			Detail: fmt.Sprintf("failed to read: %s", err),
			Fix:    "Check file permissions on " + logPath,
		}
	}

	valid, err := audit.Verify(logPath)
	if err != nil || !valid {
		detail := "hash chain broken"
		if err != nil {
			detail = err.Error()
		}
		return Result{
			Name:   "Audit log",
			Status: StatusFail,
			Detail: fmt.Sprintf("%d entries, %s", len(entries), detail),
			Fix:    "Audit log may have been tampered with. Investigate immediately.",
		}
	}

	return Result{
		Name:   "Audit log",
		Status: StatusPass,
		Detail: fmt.Sprintf("valid (%d entries, chain intact)", len(entries)),
	}
}
