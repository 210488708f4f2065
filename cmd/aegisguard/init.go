package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mackeh/AegisGuard/internal/config"
	"github.com/mackeh/AegisGuard/internal/guardrails"
	"github.com/mackeh/AegisGuard/internal/secrets"
)

var policyTemplates = map[string]string{
	"standard": `package aegisguard.policy

import rego.v1

# Standard: the guardrails decide alone.
default decision = "allow"
`,
	"strict": `package aegisguard.policy

import rego.v1

# Strict: refuse input carrying government or payment identifiers, even masked.
default decision = "allow"

sensitive := {"ssn", "credit_card", "aadhaar", "pan"}

decision = "deny" if {
	input.direction == "input"
	some c in input.categories
	c in sensitive
}
`,
	"sms": `package aegisguard.policy

import rego.v1

# SMS: texts leave our control, so refuse any PII on that channel.
default decision = "allow"

decision = "deny" if {
	input.channel == "sms"
	count(input.categories) > 0
}
`,
}

// initChoices are the answers collected by the init form.
type initChoices struct {
	Profile        string
	PIIMode        string // mask or block
	Policy         string // standard, strict, sms or none
	Audit          bool
	WebhookSecret  bool
	UpstreamURL    string
	EnableAuthKeys bool
}

func defaultChoices() initChoices {
	return initChoices{
		Profile:       string(guardrails.ProfileBalanced),
		PIIMode:       "mask",
		Policy:        "standard",
		Audit:         true,
		WebhookSecret: true,
	}
}

func initCmd() *cobra.Command {
	var defaults bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize AegisGuard configuration",
		Long:  "Creates the ~/.aegisguard directory with a config file, a disposition policy and, optionally, a webhook secret.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir, err := config.DefaultConfigDir()
			if err != nil {
				return err
			}

			choices := defaultChoices()
			if !defaults {
				if err := askChoices(&choices); err != nil {
					if !errors.Is(err, huh.ErrUserAborted) {
						return err
					}
					// Aborted forms fall back to the defaults.
					choices = defaultChoices()
				}
			}
			return runInit(cmd.OutOrStdout(), cfgDir, choices)
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, "skip the questions and use the defaults")
	return cmd
}

func askChoices(c *initChoices) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Phone number matching?").
				Options(
					huh.NewOption("Balanced (fewer false positives)", string(guardrails.ProfileBalanced)),
					huh.NewOption("High recall (catch more, flag more)", string(guardrails.ProfileHighRecall)),
				).
				Value(&c.Profile),

			huh.NewSelect[string]().
				Title("PII in user input?").
				Options(
					huh.NewOption("Mask it and continue (recommended)", "mask"),
					huh.NewOption("Block the request", "block"),
				).
				Value(&c.PIIMode),

			huh.NewSelect[string]().
				Title("Disposition policy?").
				Options(
					huh.NewOption("Standard (guardrails decide)", "standard"),
					huh.NewOption("Strict (deny IDs and card numbers)", "strict"),
					huh.NewOption("SMS (deny any PII on the sms channel)", "sms"),
					huh.NewOption("None", "none"),
				).
				Value(&c.Policy),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Upstream generator URL").
				Description("Leave empty to use the echo generator.").
				Value(&c.UpstreamURL),

			huh.NewConfirm().
				Title("Keep a tamper-evident audit log?").
				Affirmative("Yes (recommended)").
				Negative("No").
				Value(&c.Audit),

			huh.NewConfirm().
				Title("Generate a webhook signing secret?").
				Affirmative("Yes (recommended)").
				Negative("No").
				Value(&c.WebhookSecret),

			huh.NewConfirm().
				Title("Require API keys on the HTTP API?").
				Affirmative("Yes").
				Negative("Not yet").
				Value(&c.EnableAuthKeys),
		),
	)
	return form.Run()
}

// buildConfig turns the answers into a config. Generated tokens are returned
// separately so they can be shown once.
func buildConfig(c initChoices, cfgDir string) (*config.Config, map[string]string, error) {
	cfg := config.Default()
	cfg.Guardrails.Profile = c.Profile
	cfg.Guardrails.MaskPII = c.PIIMode != "block"
	cfg.Audit.Enabled = c.Audit
	cfg.Upstream.URL = c.UpstreamURL
	if c.Policy != "none" {
		cfg.Policy.Path = filepath.Join(cfgDir, "policy.rego")
	}

	tokens := map[string]string{}
	if c.EnableAuthKeys {
		cfg.Server.Auth.Enabled = true
		for _, role := range []string{"admin", "operator"} {
			tok, err := randomToken()
			if err != nil {
				return nil, nil, err
			}
			cfg.Server.Auth.Keys = append(cfg.Server.Auth.Keys, config.APIKey{Name: role, Token: tok, Role: role})
			tokens[role] = tok
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, tokens, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func runInit(out io.Writer, cfgDir string, c initChoices) error {
	fmt.Fprintln(out, "🛡️  AegisGuard Setup")
	fmt.Fprintln(out)

	cfg, tokens, err := buildConfig(c, cfgDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfgDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(cfgDir, "config.yaml")
	if err := cfg.Save(configFile); err != nil {
		return err
	}
	fmt.Fprintf(out, "✅ Created %s\n", configFile)

	if cfg.Policy.Path != "" {
		if err := os.WriteFile(cfg.Policy.Path, []byte(policyTemplates[c.Policy]), 0600); err != nil {
			return fmt.Errorf("failed to write policy: %w", err)
		}
		fmt.Fprintf(out, "✅ Created %s (%s policy)\n", cfg.Policy.Path, c.Policy)
	}

	if c.WebhookSecret {
		mgr := secrets.NewManager(secrets.Dir(cfgDir))
		if _, err := mgr.Recipient(); err != nil {
			if _, err := mgr.Init(); err != nil {
				return err
			}
			fmt.Fprintln(out, "✅ Initialized secret store")
		}
		secret, err := randomToken()
		if err != nil {
			return err
		}
		if err := mgr.Set(cfg.Webhook.SecretKey, secret); err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ Stored webhook secret as '%s'\n", cfg.Webhook.SecretKey)
	}

	for _, role := range []string{"admin", "operator"} {
		if tok, ok := tokens[role]; ok {
			fmt.Fprintf(out, "🔑 %s API key: %s\n", role, tok)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "🦅 AegisGuard initialized successfully!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Run 'aegisguard doctor' to verify your setup")
	fmt.Fprintln(out, "  2. Run 'aegisguard scan' to self-test the guardrails")
	fmt.Fprintln(out, "  3. Run 'aegisguard serve' to start the API")
	return nil
}
