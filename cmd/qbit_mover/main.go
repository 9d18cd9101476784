package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/italolelis/qbit_mover/internal/cleanup"
	"github.com/italolelis/qbit_mover/internal/config"
	"github.com/italolelis/qbit_mover/internal/http/rest"
	"github.com/italolelis/qbit_mover/internal/logctx"
	"github.com/italolelis/qbit_mover/internal/notifier"
	"github.com/italolelis/qbit_mover/internal/reconcile"
	"github.com/italolelis/qbit_mover/internal/scheduler"
	"github.com/italolelis/qbit_mover/internal/storage"
	"github.com/italolelis/qbit_mover/internal/storage/sqlite"
	"github.com/italolelis/qbit_mover/internal/telemetry"
	"github.com/italolelis/qbit_mover/internal/torrent"
	"github.com/italolelis/qbit_mover/internal/torrent/qbittorrent"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "qbit_mover",
		Short:        "Moves completed qBittorrent downloads into their category directories",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(configFile, false)
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "settings file (overrides CONFIG_FILE)")

	root.AddCommand(&cobra.Command{
		Use:   "plan",
		Short: "Run one cycle that only logs what would be relocated",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(configFile, true)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return root
}

func execute(configFile string, dryRun bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)

		return err
	}

	if configFile != "" {
		cfg.ConfigFile = configFile
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Until the settings name the log file, log to stdout only.
	bootLogger := slog.New(logctx.NewContextHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logctx.ParseLevel(cfg.LogLevel)})))

	provider, err := config.NewProvider(logctx.WithLogger(ctx, bootLogger), cfg.ConfigFile)
	if err != nil {
		bootLogger.Error("failed to load settings", "path", cfg.ConfigFile, "err", err)

		return err
	}

	settings := provider.Settings()

	logger, sink, err := logctx.NewLogger(logctx.SinkConfig{
		Level:   logctx.ParseLevel(cfg.LogLevel),
		File:    settings.LogFile,
		MaxSize: settings.MaxLogFileSize,
		Stdout:  os.Stdout,
	})
	if err != nil {
		bootLogger.Error("failed to open log file", "path", settings.LogFile, "err", err)

		return err
	}
	defer sink.Close()

	slog.SetDefault(logger)

	ctx = logctx.WithLogger(ctx, logger)

	logger.Info("qbit_mover starting...",
		"version", version,
		"config_file", cfg.ConfigFile,
		"servers", len(settings.Servers),
		"rate_limit_delay", settings.Delay().String(),
		"log_level", cfg.LogLevel,
		"dry_run", dryRun,
	)

	if dryRun {
		err = plan(ctx, cfg, provider)
	} else {
		err = run(ctx, cfg, provider)
	}

	if err != nil {
		logger.Error("fatal error", "err", err)
	}

	return err
}

func run(ctx context.Context, cfg *config.Config, provider *config.Provider) error {
	logger := logctx.LoggerFromContext(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	ledger := sqlite.NewInstrumentedRelocationRepository(database, tel)

	// =========================================================================
	// Start Reconciliation
	reconciler := reconcile.NewReconciler(
		clientFactory(cfg),
		reconcile.WithLedger(ledger),
		reconcile.WithNotifier(buildNotifier(cfg)),
		reconcile.WithTelemetry(tel),
		reconcile.WithMaxParallel(cfg.MaxParallel),
	)

	fleet := reconcile.NewFleet(reconciler, tel)
	status := &rest.CycleStatus{}

	loop := scheduler.NewLoop(fleet, provider,
		status.Record,
		pruneHistory(ledger, cfg.KeepHistoryFor),
	)

	// =========================================================================
	// Start Settings Watcher
	go func() {
		if err := provider.Watch(ctx); err != nil {
			logger.Error("settings watcher stopped", "err", err)
		}
	}()

	// =========================================================================
	// Start Status Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	// It stays nil, and never fires, when the status server is disabled.
	var serverErrors chan error

	var server *http.Server

	if cfg.Web.Enabled {
		serverErrors = make(chan error, 1)
		server = setupServer(ctx, cfg, rest.NewStatusHandler(status, func() string { return loop.State().String() }, ledger, tel))

		go func() {
			logger.Info("Initializing status server", "host", cfg.Web.BindAddress)
			serverErrors <- server.ListenAndServe()
		}()
	}

	// =========================================================================
	// Start Main Loop
	loopDone := make(chan error, 1)

	go func() {
		loopDone <- loop.Run(ctx)
	}()

	select {
	case err := <-serverErrors:
		cancel()
		<-loopDone

		return fmt.Errorf("server error: %w", err)
	case err := <-loopDone:
		if server != nil {
			logger.Info("stopping status server")

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}
		}

		logger.Info("qbit_mover stopped")

		return err
	}
}

// plan runs a single dry-run cycle. It fails when the cycle collected errors
// so misconfigured path prefixes show up in the exit status.
func plan(ctx context.Context, cfg *config.Config, provider *config.Provider) error {
	reconciler := reconcile.NewReconciler(
		clientFactory(cfg),
		reconcile.WithDryRun(true),
		reconcile.WithMaxParallel(cfg.MaxParallel),
	)

	result := reconcile.NewFleet(reconciler, nil).RunCycle(ctx, provider.Servers())

	if n := result.ErrorCount(); n > 0 {
		for _, msg := range result.ErrorMessages() {
			logctx.LoggerFromContext(ctx).Warn("planning error", "err", msg)
		}

		return fmt.Errorf("plan finished with %d error(s)", n)
	}

	return nil
}

// This is the factory for per-server clients. Each reconciliation gets its own.
func clientFactory(cfg *config.Config) reconcile.ClientFactory {
	return func(s config.Server) torrent.Client {
		return qbittorrent.NewClient(qbittorrent.Config{
			URL:      s.URL,
			Username: s.Username,
			Password: s.Password,
			Timeout:  cfg.HTTPTimeout,
		})
	}
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.DiscordWebhookURL == "" {
		return notifier.Nop{}
	}

	return notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
}

func pruneHistory(ledger storage.RelocationWriteRepository, keep time.Duration) scheduler.CycleHook {
	return func(ctx context.Context, _ reconcile.CycleResult) {
		// Failures are logged by PruneHistory and never stop the loop.
		_ = cleanup.PruneHistory(ctx, ledger, keep)
	}
}

// setupServer prepares the handlers and services to create the http status server.
func setupServer(ctx context.Context, cfg *config.Config, h *rest.StatusHandler) *http.Server {
	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(h.Routes(), "status"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
