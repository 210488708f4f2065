package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mackeh/AegisGuard/internal/config"
	"github.com/mackeh/AegisGuard/internal/guardrails"
	"github.com/mackeh/AegisGuard/internal/updater"
)

var version = "0.1.0"

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aegisguard",
		Short: "Safety screening for LLM input and output",
		Long: `AegisGuard screens text on both sides of an LLM call.
It blocks prompt injection, masks PII, flags low-confidence output,
and verifies HMAC signatures on inbound webhook triggers.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.aegisguard/config.yaml)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(redactCmd())
	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(secretsCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(lockdownCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(postureCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(playgroundCmd())
	rootCmd.AddCommand(mcpServerCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(completionCmd())

	return rootCmd
}

// loadEngine resolves the config and compiles its catalog.
func loadEngine() (*config.Config, *guardrails.Engine, error) {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return nil, nil, err
	}
	engine, err := cfg.Guardrails.Engine()
	if err != nil {
		return nil, nil, err
	}
	return cfg, engine, nil
}

// readText returns the positional arguments joined by spaces, or stdin when
// there are none or the only one is "-". A trailing newline from stdin is dropped.
func readText(cmd *cobra.Command, args []string) (string, error) {
	body, err := readBody(cmd, args)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(body, "\n"), nil
}

// readBody is readText without trimming, for signatures over exact bytes.
func readBody(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func versionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version, optionally checking for a newer release",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "aegisguard %s\n", version)
			if !check {
				return nil
			}
			rel, err := updater.Checker{}.Check(cmd.Context(), version)
			if err != nil {
				return err
			}
			if rel == nil {
				fmt.Fprintln(out, "✅ Up to date.")
				return nil
			}
			fmt.Fprintf(out, "⬆️  %s is available: %s\n", rel.TagName, rel.HTMLURL)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "check GitHub for a newer release")
	return cmd
}

func completionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for AegisGuard.

To load completions:

Bash:
  $ source <(aegisguard completion bash)

Zsh:
  $ aegisguard completion zsh > "${fpath[1]}/_aegisguard"

Fish:
  $ aegisguard completion fish | source

PowerShell:
  PS> aegisguard completion powershell | Out-String | Invoke-Expression
`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
