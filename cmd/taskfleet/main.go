package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"taskfleet/internal/config"
	"taskfleet/internal/lease"
	"taskfleet/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskfleet",
	Short: "Run background tasks at most once per interval across a fleet",
	Long: `taskfleet runs periodic background tasks on every node of a fleet and
uses a shared lease table so each task runs on only one node per interval.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TASKFLEET_CONFIG"), "path to YAML or JSON config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(leasesCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads config, installs the logger and opens the lease store.
func bootstrap(ctx context.Context) (config.Config, zerolog.Logger, lease.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), nil, err
	}
	logger := logging.Setup(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	store, err := lease.Open(ctx, cfg.LeaseConfig(), logger)
	if err != nil {
		return config.Config{}, logger, nil, fmt.Errorf("open lease store: %w", err)
	}
	return cfg, logger, store, nil
}
