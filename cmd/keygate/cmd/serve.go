package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	console "github.com/keygate-dev/keygate/internal/adapter/inbound/http"
	"github.com/keygate-dev/keygate/internal/adapter/outbound/audit"
	"github.com/keygate-dev/keygate/internal/adapter/outbound/devapi"
	"github.com/keygate-dev/keygate/internal/adapter/outbound/memory"
	"github.com/keygate-dev/keygate/internal/adapter/outbound/restapi"
	"github.com/keygate-dev/keygate/internal/adapter/outbound/storage"
	"github.com/keygate-dev/keygate/internal/config"
	"github.com/keygate-dev/keygate/internal/domain/rules"
	"github.com/keygate-dev/keygate/internal/guard"
	"github.com/keygate-dev/keygate/internal/port/outbound"
	"github.com/keygate-dev/keygate/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the console server",
	Long: `Start the Keygate console server.

The console can operate in two modes:

1. Backend mode: talk to a remote licensing backend.
   Configure backend.base_url in your config file.

2. Dev mode: use an embedded in-process backend with built-in accounts
   (admin/admin, viewer/viewer). Enable with --dev or dev.enabled.

Examples:
  # Start with config file settings
  keygate serve

  # Start against the embedded dev backend
  keygate serve --dev

  # Start with a specific config file
  keygate --config /path/to/keygate.yaml serve`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Use the embedded development backend")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration without validation so the CLI flag can override
	// dev mode first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.Dev.Enabled = true
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Signal context for graceful shutdown. stop() restores default signal
	// handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	return run(ctx, cfg, logger)
}

// run wires all components together and serves until the context ends.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	_, tokenTTL, renewalWindow, logoutDelay, _ := cfg.Durations()

	api, err := buildAuthAPI(cfg, logger)
	if err != nil {
		return err
	}

	if cfg.Session.StorePath == "" {
		return fmt.Errorf("session.store_path could not be resolved")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Session.StorePath), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	store := storage.NewFileTokenStore(cfg.Session.StorePath, logger)

	notifier := memory.NewNotifier()
	sessions := service.NewSessionManager(api, store,
		service.SessionConfig{
			TokenTTL:      tokenTTL,
			RenewalWindow: renewalWindow,
			LogoutDelay:   logoutDelay,
		},
		service.WithLogger(logger),
		service.WithNotifier(notifier),
	)
	sessions.Start()
	defer sessions.Close()

	guardOpts := []guard.Option{guard.WithLogger(logger)}

	if len(cfg.Rules) > 0 {
		ruleService, err := service.NewRuleService(rulesFromConfig(cfg.Rules), logger)
		if err != nil {
			return fmt.Errorf("failed to compile access rules: %w", err)
		}
		logger.Info("access rules loaded", "count", len(cfg.Rules))
		guardOpts = append(guardOpts, guard.WithRules(ruleService))
	}

	// The denial hook is bound late: metrics live on the console server,
	// which needs the guard to construct.
	var metrics *console.Metrics
	guardOpts = append(guardOpts, guard.WithDenialHook(func(path, reason string) {
		if metrics == nil {
			return
		}
		label := "forbidden"
		if reason == "unauthenticated" {
			label = "unauthenticated"
		}
		metrics.GuardDenialsTotal.WithLabelValues(label).Inc()
	}))

	g := guard.New(sessions, guardOpts...)

	consoleOpts := []console.Option{
		console.WithAddr(cfg.Server.HTTPAddr),
		console.WithLogger(logger),
		console.WithNotifier(notifier),
	}

	if cfg.Audit.Enabled {
		trail, err := audit.NewFileTrail(audit.FileTrailConfig{
			Dir:           cfg.Audit.Dir,
			RetentionDays: cfg.Audit.RetentionDays,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open audit trail: %w", err)
		}
		defer func() { _ = trail.Close() }()
		logger.Info("audit trail enabled", "dir", cfg.Audit.Dir)
		consoleOpts = append(consoleOpts, console.WithAuditTrail(trail))
	}

	srv := console.NewConsoleServer(sessions, g, consoleOpts...)
	metrics = srv.Metrics()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("console server failed: %w", err)
	}

	logger.Info("keygate stopped")
	return nil
}

// buildAuthAPI selects the dev backend or the remote backend client.
func buildAuthAPI(cfg *config.Config, logger *slog.Logger) (outbound.AuthAPI, error) {
	backendTimeout, _, _, _, devTokenTTL := cfg.Durations()

	if cfg.Dev.Enabled {
		logger.Warn("dev backend enabled, do not use in production")
		accounts := devapi.DefaultAccounts()
		if cfg.Dev.AccountsFile != "" {
			loaded, err := devapi.LoadAccounts(cfg.Dev.AccountsFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load dev accounts: %w", err)
			}
			accounts = loaded
		}
		return devapi.NewServer(accounts, devapi.WithTokenTTL(devTokenTTL), devapi.WithLogger(logger)), nil
	}

	return restapi.NewClient(cfg.Backend.BaseURL,
		restapi.WithTimeout(backendTimeout),
		restapi.WithLogger(logger),
	), nil
}

// rulesFromConfig converts config rules to domain rules.
func rulesFromConfig(ruleCfgs []config.RuleConfig) []rules.Rule {
	out := make([]rules.Rule, 0, len(ruleCfgs))
	for _, rc := range ruleCfgs {
		action := rules.ActionAllow
		if rc.Action == "deny" {
			action = rules.ActionDeny
		}
		out = append(out, rules.Rule{
			Name:        rc.Name,
			RoutePrefix: rc.RoutePrefix,
			Condition:   rc.Condition,
			Action:      action,
		})
	}
	return out
}

// parseLogLevel maps the configured level to slog.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
