package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudsentry/cloudsentry/pkg/config"
	"github.com/cloudsentry/cloudsentry/pkg/ui"
)

var (
	flagConfig   string
	flagLogLevel string
	flagLogJSON  bool
	flagNoColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "cloudsentry",
	Short: "Multi-cloud security and compliance scanner",
	Long: `CloudSentry runs security checks against cloud provider accounts,
tracks which findings are new since the last scan, applies mute rules,
and rolls findings up into compliance framework requirements.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "config file path")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flagLogJSON, "log-json", false, "emit logs as JSON")
	pf.BoolVar(&flagNoColor, "no-color", false, "disable colored output")
}

// loadConfig merges the config file, environment, and global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogJSON {
		cfg.LogJSON = true
	}
	if flagNoColor {
		cfg.NoColor = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildLogger constructs the process logger and installs it as the slog
// default.
func buildLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
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
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func setupUI(cfg *config.Config) {
	if cfg.NoColor {
		ui.DisableColor()
		return
	}
	ui.AutoColor()
}
