// Package cmd implements the CLI commands for audex.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/audex/internal/config"
	"github.com/jmylchreest/audex/internal/observability"
	"github.com/jmylchreest/audex/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "audex",
	Short:   "Audio extraction from large media files",
	Version: version.Short(),
	Long: `audex turns large media files into small audio files.

It first tries to copy the existing audio stream into an M4A container and
falls back to re-encoding a low-bitrate mono MP3. The codec engine is
downloaded on first use from a list of mirrors.

Run a single extraction with "audex extract", or start the HTTP API with
"audex serve".`,
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
	cobra.OnInitialize(initConfig)

	// initLogging reads rootCmd.PersistentFlags, so it cannot be set in the literal.
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Log flags are not bound to viper; they override config only when Changed().
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.config/audex/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	used, err := config.Prepare(viper.GetViper(), cfgFile)
	switch {
	case err != nil:
		fmt.Fprintln(os.Stderr, "Error reading config file:", err)
	case used != "":
		fmt.Fprintln(os.Stderr, "Using config file:", used)
	}
}

// loadConfig decodes and validates the configuration gathered by initConfig.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Decode(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// initLogging configures the slog logger based on configuration.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (AUDEX_LOGGING_LEVEL, AUDEX_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging() error {
	logCfg := config.LoggingConfig{
		Level:      viper.GetString("logging.level"),
		Format:     viper.GetString("logging.format"),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
		Redact:     viper.GetStringSlice("logging.redact"),
	}

	if rootCmd.PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if logCfg.Level == "" {
		logCfg.Level = "info"
	}
	if logCfg.Format == "" {
		logCfg.Format = "json"
	}
	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}
	// Keep Decode's validation in step with the effective flags.
	viper.Set("logging.level", logCfg.Level)
	viper.Set("logging.format", logCfg.Format)

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName)
	observability.SetDefault(logger)

	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
