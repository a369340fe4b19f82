package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/stash"
	"github.com/aretw0/stash/internal/cli"
	"github.com/aretw0/stash/internal/config"
	"github.com/aretw0/stash/pkg/observability"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stash",
	Short: "Stash is a pluggable session store",
	Long: `Stash persists sessions behind one store contract, with memory, file,
SQLite, Redis and Ristretto backends and an optional cache tier.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "Path to the configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")
}

// loadConfig reads --config and applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	logger, err := cli.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStash loads the configuration and composes the stores it names.
// metrics may be nil.
func openStash(ctx context.Context, cmd *cobra.Command, metrics *observability.Metrics) (*stash.Stash, *config.Config, *slog.Logger, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	s, err := cli.NewStash(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, nil, nil, err
	}
	return s, cfg, logger, nil
}
