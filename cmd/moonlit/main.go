// Command moonlit runs the Moonlit Tribunal dialogue server and its
// maintenance subcommands.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/moonlit/internal/app"
	"github.com/MrWong99/moonlit/internal/config"
	"github.com/MrWong99/moonlit/internal/observe"
	"github.com/MrWong99/moonlit/pkg/provider/llm"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	configPath string

	// logLevel is shared with the App so config reloads can change it.
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "moonlit",
	Short: "Moonlit Tribunal - trial dialogue orchestration server",
	Long: `Moonlit Tribunal runs courtroom scenes between mythical beasts.

Each turn picks the next speaker (moderator, player or a forced choice),
builds the speaker's prompt from the event, its clues and the transcript,
and returns the generated line.

Run "moonlit serve" to start the HTTP API.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "moonlit", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "moonlit.yaml", "path to the YAML configuration file")

	rootCmd.AddCommand(serveCmd, migrateCmd, actCmd, versionCmd)
	rootCmd.AddCommand(cluesCmd, eventsCmd, charactersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config and installs the configured logger. A missing
// file yields the defaults plus environment overrides.
func loadConfig(stderr io.Writer) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("config file not found, using defaults", "path", configPath)
		cfg, err = config.LoadFromReader(eofReader{})
	}
	if err != nil {
		return nil, err
	}
	setupLogger(stderr, cfg.Server)
	return cfg, nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func setupLogger(w io.Writer, sc config.ServerConfig) {
	logLevel.Set(app.SlogLevel(sc.LogLevel))
	opts := &slog.HandlerOptions{Level: logLevel}

	var h slog.Handler
	if sc.LogFormat == config.LogFormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// buildProvider creates the configured LLM chain. Tests replace it to avoid
// live backends.
var buildProvider = func(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	chain, err := app.BuildLLM(ctx, cfg.Providers, reg, observe.DefaultMetrics())
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// openApp loads the config and wires an App for a one-shot command. The LLM
// chain is only built when withLLM is set, so data commands work without
// credentials.
func openApp(cmd *cobra.Command, withLLM bool) (*app.App, *config.Config, error) {
	cfg, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	var p llm.Provider
	if withLLM {
		if p, err = buildProvider(cmd.Context(), cfg); err != nil {
			return nil, nil, err
		}
	}
	a, err := app.New(cmd.Context(), cfg, p, app.WithLevelVar(logLevel))
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}
