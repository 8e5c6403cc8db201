package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/tablesync/internal/config"
	"github.com/vango-dev/tablesync/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╔╦╗┌─┐┌┐ ┬  ┌─┐┌─┐┬ ┬┌┐┌┌─┐
   ║ ├─┤├┴┐│  ├┤ └─┐└┬┘││││
   ╩ ┴ ┴└─┘┴─┘└─┘└─┘ ┴ ┘└┘└─┘
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

// configDir is the directory holding tablesync.json, set by --config.
var configDir string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tablesync",
		Short: "Shared tabletop state, synchronized in real time",
		Long: `tablesync keeps one authoritative tabletop state on a server and
synchronizes it with every connected client over WebSocket.

Clients apply their edits immediately and reconcile them with the
state the server broadcasts, so edits never jump back or vanish.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", ".", "Directory containing tablesync.json")

	rootCmd.AddCommand(
		serveCmd(),
		watchCmd(),
		inspectCmd(),
		versionCmd(),
	)

	return rootCmd
}

// loadConfig loads tablesync.json from --config, falling back to the
// defaults, and applies environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// printBanner prints the tablesync ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
