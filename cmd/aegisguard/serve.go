package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mackeh/AegisGuard/internal/audit"
	"github.com/mackeh/AegisGuard/internal/config"
	"github.com/mackeh/AegisGuard/internal/egress"
	"github.com/mackeh/AegisGuard/internal/guardrails"
	"github.com/mackeh/AegisGuard/internal/logging"
	"github.com/mackeh/AegisGuard/internal/notifications"
	"github.com/mackeh/AegisGuard/internal/pipeline"
	"github.com/mackeh/AegisGuard/internal/policy"
	"github.com/mackeh/AegisGuard/internal/secrets"
	"github.com/mackeh/AegisGuard/internal/security/redactor"
	"github.com/mackeh/AegisGuard/internal/server"
	"github.com/mackeh/AegisGuard/internal/system"
	"github.com/mackeh/AegisGuard/internal/telemetry"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AegisGuard API server",
		Long: `Serves the screening API, the guarded agent endpoint, the signed
inbound webhook and the live event stream until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, addr)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, addr string) error {
	cfg, engine, err := loadEngine()
	if err != nil {
		return err
	}
	cfgDir, err := config.DefaultConfigDir()
	if err != nil {
		return err
	}

	red := redactor.New().WithScrubber(guardrails.NewPIIDetector(engine.Catalog()))
	for _, k := range cfg.Server.Auth.Keys {
		red.Add(k.Token)
	}
	logger := logging.New(cfg.Log, os.Stderr, red)
	defer logger.Sync()

	shutdownTracing, err := setupTracing(ctx, cfg, cfgDir)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	store, err := secrets.Open(cfg.Secrets, secrets.Dir(cfgDir))
	if err != nil {
		return err
	}
	webhookSecret, source, err := secrets.Resolve(cfg.Webhook.SecretEnv, cfg.Webhook.SecretKey, store)
	if err != nil {
		return err
	}
	if webhookSecret == "" {
		logger.Warn("no webhook secret configured; inbound webhooks are accepted unsigned",
			zap.String("secret_env", cfg.Webhook.SecretEnv))
	} else {
		red.Add(webhookSecret)
		logger.Info("webhook signatures enforced", zap.String("secret_source", string(source)))
	}

	var pol *policy.Engine
	if cfg.Policy.Path != "" {
		pol, err = policy.LoadPolicy(ctx, cfg.Policy.Path)
		if err != nil {
			return err
		}
		logger.Info("disposition policy loaded", zap.String("path", cfg.Policy.Path))
	}

	var auditLog *audit.Logger
	if cfg.Audit.Enabled {
		path, err := cfg.AuditPath()
		if err != nil {
			return err
		}
		auditLog, err = audit.NewLogger(path)
		if err != nil {
			return err
		}
		defer auditLog.Close()
	}

	var generator pipeline.Generator = pipeline.EchoGenerator{}
	if cfg.Upstream.URL != "" {
		generator = pipeline.NewHTTPGenerator(cfg.Upstream.URL, cfg.Upstream.Timeout)
	} else {
		logger.Warn("no upstream configured; using the echo generator")
	}

	notifier := notifications.NewDispatcher(cfg.Notifications, logger)
	defer notifier.Wait()

	hub := server.NewHub(logger)
	handler := pipeline.New(pipeline.Options{
		Engine:        engine,
		Generator:     generator,
		Policy:        pol,
		Audit:         auditLog,
		Notifier:      notifier,
		State:         system.NewState(),
		Publisher:     hub,
		Logger:        logger,
		MaxChars:      cfg.Guardrails.MaxCharsFor,
		MinConfidence: cfg.Guardrails.MinConfidence,
	})

	srv := server.New(server.Options{
		Config:        cfg.Server,
		Pipeline:      handler,
		Hub:           hub,
		Notifier:      notifier,
		WebhookSecret: webhookSecret,
		WebhookHeader: cfg.Webhook.Header,
		MaxChars:      cfg.Guardrails.MaxCharsFor,
		MinConfidence: cfg.Guardrails.MinConfidence,
		Callbacks:     egress.NewAllowlist(cfg.Webhook.CallbackAllowlist),
		Logger:        logger,
	})

	if addr == "" {
		addr = cfg.Server.Addr
	}
	if !cfg.Server.Auth.Enabled {
		logger.Warn("API key authentication is disabled")
	}
	return srv.ListenAndServe(ctx, addr)
}

// setupTracing honours telemetry.exporter: stdout, file (traces.json in the
// config dir) or none.
func setupTracing(ctx context.Context, cfg *config.Config, cfgDir string) (func(context.Context) error, error) {
	opts := telemetry.Options{
		ServiceName: "aegisguard",
		Version:     version,
		Enabled:     cfg.Telemetry.Enabled,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}

	var closer io.Closer
	switch cfg.Telemetry.Exporter {
	case "none":
		opts.Enabled = false
	case "file":
		f, err := os.OpenFile(filepath.Join(cfgDir, "traces.json"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace file: %w", err)
		}
		opts.Writer = f
		closer = f
	default:
		opts.Writer = os.Stdout
		opts.PrettyPrint = true
	}

	shutdown, err := telemetry.Setup(ctx, opts)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		err := shutdown(ctx)
		if closer != nil {
			closer.Close()
		}
		return err
	}, nil
}
