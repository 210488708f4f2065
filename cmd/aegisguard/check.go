package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mackeh/AegisGuard/internal/guardrails"
	"github.com/mackeh/AegisGuard/internal/webhook"
)

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Screen text through the guardrails",
	}

	var channel string
	var failOnBlock bool
	input := &cobra.Command{
		Use:   "input [TEXT...]",
		Short: "Screen user input (reads stdin when TEXT is omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, engine, err := loadEngine()
			if err != nil {
				return err
			}
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}

			v := engine.CheckInput(guardrails.EnforceLength(text, cfg.Guardrails.MaxCharsFor(channel)))
			if err := printJSON(cmd, v); err != nil {
				return err
			}
			if failOnBlock && v.Blocked {
				return fmt.Errorf("input blocked: %s", v.BlockReason)
			}
			return nil
		},
	}
	input.Flags().StringVar(&channel, "channel", "", "channel whose length cap applies")
	input.Flags().BoolVar(&failOnBlock, "fail-on-block", false, "exit non-zero when the input is blocked")

	var confidence, minConfidence float64
	output := &cobra.Command{
		Use:   "output [TEXT...]",
		Short: "Screen model output (reads stdin when TEXT is omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, engine, err := loadEngine()
			if err != nil {
				return err
			}
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("min-confidence") {
				minConfidence = cfg.Guardrails.MinConfidence
			}
			return printJSON(cmd, engine.CheckOutput(text,
				guardrails.WithConfidence(confidence),
				guardrails.WithMinConfidence(minConfidence),
			))
		},
	}
	output.Flags().Float64Var(&confidence, "confidence", guardrails.DefaultConfidence, "generator confidence for this output")
	output.Flags().Float64Var(&minConfidence, "min-confidence", guardrails.DefaultMinConfidence, "flag output below this confidence")

	cmd.AddCommand(input, output)
	return cmd
}

func redactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redact [TEXT...]",
		Short: "Mask PII in text",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, engine, err := loadEngine()
			if err != nil {
				return err
			}
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), engine.RedactPII(text))
			return nil
		},
	}
}

func detectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run a single detector",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "pii [TEXT...]",
		Short: "Report PII categories present in text",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, engine, err := loadEngine()
			if err != nil {
				return err
			}
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			return printJSON(cmd, engine.DetectPII(text))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "injection [TEXT...]",
		Short: "Report the first prompt-injection phrase in text",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, engine, err := loadEngine()
			if err != nil {
				return err
			}
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			return printJSON(cmd, engine.DetectInjection(text))
		},
	})

	return cmd
}

// signingSecret prefers --secret, then the environment variable --secret-env names.
func signingSecret(secret, secretEnv string) (string, error) {
	if secret != "" {
		return secret, nil
	}
	if v := os.Getenv(secretEnv); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no secret: pass --secret or set %s", secretEnv)
}

func signCmd() *cobra.Command {
	var secret, secretEnv string
	cmd := &cobra.Command{
		Use:   "sign [BODY]",
		Short: "Print the sha256= signature of a webhook body (reads stdin when BODY is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := signingSecret(secret, secretEnv)
			if err != nil {
				return err
			}
			body, err := readBody(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), webhook.Sign([]byte(body), key))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret")
	cmd.Flags().StringVar(&secretEnv, "secret-env", "WEBHOOK_SECRET", "environment variable holding the secret")
	return cmd
}

func verifyCmd() *cobra.Command {
	var secret, secretEnv string
	cmd := &cobra.Command{
		Use:   "verify SIGNATURE [BODY]",
		Short: "Check a webhook signature against a body (reads stdin when BODY is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := signingSecret(secret, secretEnv)
			if err != nil {
				return err
			}
			body, err := readBody(cmd, args[1:])
			if err != nil {
				return err
			}
			if !webhook.Verify([]byte(body), args[0], key) {
				return webhook.ErrInvalidSignature
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Signature valid.")
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret")
	cmd.Flags().StringVar(&secretEnv, "secret-env", "WEBHOOK_SECRET", "environment variable holding the secret")
	return cmd
}
