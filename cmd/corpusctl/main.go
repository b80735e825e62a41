package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"corpus-pipeline/internal/config"
	"corpus-pipeline/internal/logging"
)

var (
	configPath string
	cfg        config.Config
	log        *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "corpusctl",
	Short: "Operate the translation corpus cleaning pipeline",
	Long: `corpusctl runs and inspects the incremental corpus cleaning pipeline.

Examples:
  corpusctl migrate                  # Apply database migrations
  corpusctl run --sample-size 100    # Run one cleaning pass now
  corpusctl status <run-id>          # Show a run
  corpusctl cursor                   # Show the current watermark`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if log, err = logging.New(cfg.Env, cfg.LogLevel); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (yaml, toml or json)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cursorCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
