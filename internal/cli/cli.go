// ============================================================================
// jobwatch CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the server and the terminal client
//
// Command Structure:
//   jobwatch                          # Root command
//   ├── serve                         # Poll qBittorrent and push snapshots
//   │   └── --simulated               # Use the built-in simulated source
//   ├── watch                         # Live terminal dashboard
//   │   ├── --transport ws|grpc       # Push channel transport
//   │   └── --filter all|movies|...   # Initial category filter
//   ├── status                        # Print the current snapshot once
//   ├── ctl                           # Job commands
//   │   ├── pause <id>
//   │   ├── resume <id>
//   │   ├── delete <id> [--files]
//   │   ├── files <id>
//   │   └── priority <id> <priority> <file-id>...
//   ├── --config, -c                  # Config file (default configs/jobwatch.yaml)
//   ├── --log-level                   # debug | info | warn | error
//   └── --log-format                  # text | json
//
// Configuration:
//   YAML file plus environment overrides, see internal/config. Client
//   commands take the init assertion from JOBWATCH_INIT_DATA or
//   --init-data, never from the YAML file in production.
//
// Logging:
//   The persistent pre-run installs a slog handler on stderr. The watch
//   command moves logging to --log-file (or discards it) while the
//   dashboard owns the terminal.
//
// ============================================================================

package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/jobwatch/internal/config"
)

var (
	configFile string
	logLevel   string
	logFormat  string
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jobwatch",
		Short: "jobwatch: live dashboard for qBittorrent downloads",
		Long: `jobwatch polls a qBittorrent instance and pushes job snapshots to
authenticated clients over WebSocket or gRPC:
- Telegram Web App assertions for every channel and command
- TMDB enrichment cached in Pebble
- Prometheus metrics and an optional MQTT feed
- A terminal dashboard that reconciles snapshots in place`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := setupLogging(cmd.ErrOrStderr(), logLevel, logFormat)
			return err
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text, json")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildWatchCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildCtlCommand())

	return rootCmd
}

// setupLogging installs the default slog logger.
func setupLogging(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "text", "":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(lvl)
	return logger, nil
}

// loadConfig reads path. A missing default config file is not an error:
// defaults and the environment are used instead.
func loadConfig(path string) (*config.Config, error) {
	if path == config.DefaultPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
