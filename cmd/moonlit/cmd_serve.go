package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/moonlit/internal/app"
	"github.com/MrWong99/moonlit/internal/config"
	"github.com/MrWong99/moonlit/internal/observe"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the tribunal HTTP API on server.listen_addr.

The config file and the events file are watched; log level, tribunal
tunables, portraits and event definitions are reloaded without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must run before anything calls observe.DefaultMetrics.
	tel, err := observe.Setup(ctx, cfg.Observability.ServiceName, observe.WithServiceVersion(version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	slog.Info("moonlit starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"llm", cfg.Providers.LLM.Name,
		"fallbacks", len(cfg.Providers.LLMFallbacks),
		"discovery", cfg.Discovery.Backend,
		"characters", cfg.Characters.Backend,
	)

	p, err := buildProvider(ctx, cfg)
	if err != nil {
		return err
	}
	application, err := app.New(ctx, cfg, p,
		app.WithLevelVar(logLevel),
		app.WithMetricsHandler(tel.MetricsHandler()),
	)
	if err != nil {
		return err
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	w, err := config.NewWatcher(configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		w.Track("events", cfg.Casebook.EventsFile, application.ReloadEvents)
		defer w.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	} else {
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	slog.Info("goodbye")
	return runErr
}
