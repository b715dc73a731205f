// Package cmd implements the CLI commands for codecconf.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/codecconf/internal/config"
	"github.com/jmylchreest/codecconf/internal/observability"
	"github.com/jmylchreest/codecconf/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// cfg and logger are set by the root command before any subcommand runs.
var (
	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "codecconf",
	Short:   "Codec conformance test driver",
	Version: version.Short(),
	Long: `codecconf drives buffered codec devices through their lifecycle and
checks that their output is invariant under flush, reset, reconfiguration,
end-of-stream signalling and async or sync buffer exchange.

It runs the conformance cases over software reference devices, synthetic
streams and MPEG-TS test vectors, stores the results and serves them over
an HTTP API.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initConfig(cmd.ErrOrStderr())
	}

	// Global flags
	// Note: These flags are NOT bound to viper. Instead, we check if they were
	// explicitly set using Changed() and only then override the config/env values.
	// This preserves the correct priority: CLI flag > env var > config > default
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./codecconf.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initConfig loads the configuration and configures the slog logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (CODECCONF_LOGGING_LEVEL, CODECCONF_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults
func initConfig(logOutput io.Writer) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		loaded.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		loaded.Logging.Format, _ = flags.GetString("log-format")
	}
	loaded.Logging.Level = strings.ToLower(loaded.Logging.Level)
	loaded.Logging.Format = strings.ToLower(loaded.Logging.Format)

	// Handle "warning" as an alias for "warn"
	if loaded.Logging.Level == "warning" {
		loaded.Logging.Level = "warn"
	}

	cfg = loaded
	logger = observability.WithApp(
		observability.NewLoggerWithWriter(cfg.Logging, logOutput),
		version.ApplicationName, version.Short(),
	)
	slog.SetDefault(logger)
	return nil
}
