package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mackeh/AegisGuard/internal/audit"
	"github.com/mackeh/AegisGuard/internal/config"
	"github.com/mackeh/AegisGuard/internal/secrets"
	"github.com/mackeh/AegisGuard/internal/system"
)

func openStore() (secrets.Store, error) {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return nil, err
	}
	cfgDir, err := config.DefaultConfigDir()
	if err != nil {
		return nil, err
	}
	return secrets.Open(cfg.Secrets, secrets.Dir(cfgDir))
}

func secretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage encrypted secrets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Generate the age key for the local secret store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir, err := config.DefaultConfigDir()
			if err != nil {
				return err
			}
			pubKey, err := secrets.NewManager(secrets.Dir(cfgDir)).Init()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "🔐 Secrets initialized!")
			fmt.Fprintf(out, "🔑 Public Key: %s\n", pubKey)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [KEY] [VALUE]",
		Short: "Set an encrypted secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🔐 Secret '%s' saved.\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [KEY]",
		Short: "Print a secret's value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			v, err := store.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [KEY]",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Secret '%s' deleted.\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored secrets (names only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			keys, err := store.List()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "🔐 No secrets stored.")
				return nil
			}
			fmt.Fprintln(out, "🔐 Stored Secrets:")
			for _, k := range keys {
				fmt.Fprintf(out, "  • %s\n", k)
			}
			return nil
		},
	})

	return cmd
}

func auditPath() (string, error) {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return "", err
	}
	return cfg.AuditPath()
}

func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the decision audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := auditPath()
			if err != nil {
				return err
			}
			entries, err := audit.ReadAll(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "📜 Audit Log (empty)")
				return nil
			}
			fmt.Fprintln(out, "📜 Audit Log:")
			for _, e := range entries {
				line := fmt.Sprintf("[%s] %s %s → %s",
					e.Timestamp.Format(time.RFC3339), e.Action, e.Channel, e.Decision)
				if e.Reason != "" {
					line += " (" + e.Reason + ")"
				}
				if len(e.Categories) > 0 {
					line += " [" + strings.Join(e.Categories, ",") + "]"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify audit log integrity (hash chain)",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := auditPath()
			if err != nil {
				return err
			}
			if _, err := audit.Verify(path); err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Log integrity verified. Hash chain is unbroken.")
			return nil
		},
	})

	return cmd
}

func lockdownCmd() *cobra.Command {
	var serverURL, apiKey string
	cmd := &cobra.Command{
		Use:   "lockdown [on|off|status] [REASON]",
		Short: "Toggle the emergency lockdown on a running server",
		Long: `While locked down the server refuses every input with reason "lockdown".
Changing the switch needs an admin API key (--api-key or AEGISGUARD_API_KEY).`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"on", "off", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				cfg, err := config.Resolve(configPath)
				if err != nil {
					return err
				}
				serverURL = localURL(cfg.Server.Addr)
			}
			if apiKey == "" {
				apiKey = os.Getenv("AEGISGUARD_API_KEY")
			}

			var body io.Reader
			method := http.MethodGet
			switch args[0] {
			case "status":
			case "on", "off":
				reason := ""
				if len(args) == 2 {
					reason = args[1]
				}
				data, err := json.Marshal(map[string]any{"enabled": args[0] == "on", "reason": reason})
				if err != nil {
					return err
				}
				method, body = http.MethodPost, bytes.NewReader(data)
			default:
				return fmt.Errorf("unknown lockdown action %q", args[0])
			}

			status, err := callLockdown(cmd, method, strings.TrimRight(serverURL, "/")+"/v1/lockdown", apiKey, body)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if status.LockedDown {
				fmt.Fprintf(out, "🔒 Locked down since %s (%s)\n", status.Since.Format(time.RFC3339), status.Reason)
			} else {
				fmt.Fprintln(out, "🔓 Not locked down.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (default from server.addr)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (default $AEGISGUARD_API_KEY)")
	return cmd
}

func callLockdown(cmd *cobra.Command, method, url, apiKey string, body io.Reader) (system.Status, error) {
	var status system.Status
	req, err := http.NewRequestWithContext(cmd.Context(), method, url, body)
	if err != nil {
		return status, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return status, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return status, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("failed to decode lockdown status: %w", err)
	}
	return status, nil
}

// localURL turns a listen address such as ":8080" into a loopback URL.
func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
