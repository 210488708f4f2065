package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mackeh/AegisGuard/internal/config"
	"github.com/mackeh/AegisGuard/internal/console"
	"github.com/mackeh/AegisGuard/internal/doctor"
	"github.com/mackeh/AegisGuard/internal/mcp"
	"github.com/mackeh/AegisGuard/internal/policy"
	"github.com/mackeh/AegisGuard/internal/posture"
	"github.com/mackeh/AegisGuard/internal/simulate"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose AegisGuard setup and environment",
		Long:  "Runs health checks on the config, pattern catalog, webhook secret, policy, upstream, secrets, audit log and disk space.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir, err := config.DefaultConfigDir()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "🩺  AegisGuard Health Check")
			fmt.Fprintln(out)

			results := doctor.RunAll(cmd.Context(), doctor.Options{ConfigDir: cfgDir, ConfigPath: configPath})

			passed, warned, failed := 0, 0, 0
			for _, r := range results {
				var icon string
				switch r.Status {
				case doctor.StatusPass:
					icon = "✅"
					passed++
				case doctor.StatusWarn:
					icon = "⚠️ "
					warned++
				case doctor.StatusFail:
					icon = "❌"
					failed++
				}

				dots := strings.Repeat(".", max(25-len(r.Name), 2))
				fmt.Fprintf(out, "%s %s %s %s\n", icon, r.Name, dots, r.Detail)
				if r.Fix != "" && r.Status != doctor.StatusPass {
					fmt.Fprintf(out, "   → %s\n", r.Fix)
				}
			}

			fmt.Fprintf(out, "\n%d/%d checks passed", passed, len(results))
			if warned > 0 {
				fmt.Fprintf(out, " (%d warning%s)", warned, plural(warned))
			}
			if failed > 0 {
				fmt.Fprintf(out, " (%d failure%s)", failed, plural(failed))
			}
			fmt.Fprintln(out)

			if doctor.Failed(results) {
				return fmt.Errorf("%d health check%s failed", failed, plural(failed))
			}
			return nil
		},
	}
}

func postureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "posture",
		Short: "Show security posture score",
		Long:  "Grades the configuration: guardrails, API access, webhook signing, policy and audit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(configPath)
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			score := posture.Calculate(cmd.Context(), cfg, store)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "🛡️  AegisGuard Security Posture")
			fmt.Fprintln(out)
			for _, c := range score.Categories {
				fmt.Fprintf(out, "  %-12s %s %d/%d  %s\n", c.Name, renderBar(c.Points, c.Max), c.Points, c.Max, c.Detail)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Total: %d/%d (%d%%), Grade: %s\n", score.Total, score.Max, score.Percentage, score.Grade)
			return nil
		},
	}
}

func renderBar(points, max int) string {
	width := 20
	filled := 0
	if max > 0 {
		filled = points * width / max
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func simulateCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "simulate [CORPUS_PATH]",
		Short: "Replay a labelled corpus through the guardrails",
		Long: `Loads a YAML corpus of cases (expect: block, sanitize, flag or pass),
screens each one with the configured engine and policy, and reports
every case whose outcome differs from its label.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			corpus, err := simulate.Load(args[0])
			if err != nil {
				return err
			}
			return runCorpus(cmd, corpus, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func scanCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Self-test the configured guardrails against the built-in corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorpus(cmd, simulate.BuiltinCorpus(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func runCorpus(cmd *cobra.Command, corpus *simulate.Corpus, asJSON bool) error {
	cfg, engine, err := loadEngine()
	if err != nil {
		return err
	}
	runner := simulate.Runner{Engine: engine, MinConfidence: cfg.Guardrails.MinConfidence}
	if cfg.Policy.Path != "" {
		runner.Policy, err = policy.LoadPolicy(cmd.Context(), cfg.Policy.Path)
		if err != nil {
			return err
		}
	}

	report := runner.Run(cmd.Context(), corpus)
	if asJSON {
		if err := printJSON(cmd, report); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "🔮 Simulation Report: %d cases\n\n", report.Total)
		for _, r := range report.Results {
			icon := "✅"
			if !r.OK {
				icon = "❌"
			}
			fmt.Fprintf(out, "  %s %-32s expect %-8s got %s", icon, r.Name, r.Expect, r.Got)
			if r.Reason != "" {
				fmt.Fprintf(out, " (%s)", r.Reason)
			}
			fmt.Fprintln(out)
			if !r.OK && r.Detail != "" {
				fmt.Fprintf(out, "     → %s\n", r.Detail)
			}
		}
		fmt.Fprintf(out, "\n%d/%d cases passed\n", report.Passed, report.Total)
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d case%s did not match", report.Failed, plural(report.Failed))
	}
	return nil
}

func playgroundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "playground",
		Short: "Try the guardrails interactively in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, engine, err := loadEngine()
			if err != nil {
				return err
			}
			return console.Run(engine, cfg.Guardrails.MinConfidence)
		},
	}
}

func mcpServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Start the MCP server for AI assistant integration",
		Long: `Start a Model Context Protocol server on stdio.

This lets an AI assistant screen text with AegisGuard before using it.

Configure in your MCP settings:
  {
    "mcpServers": {
      "aegisguard": {
        "command": "aegisguard",
        "args": ["mcp-server"]
      }
    }
  }`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, engine, err := loadEngine()
			if err != nil {
				return err
			}
			path, err := cfg.AuditPath()
			if err != nil {
				return err
			}
			return mcp.NewServer(engine, path, version).Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
