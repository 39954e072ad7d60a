package main

import (
	"fmt"
	"os"

	"github.com/sifan077/PowerTrack/config"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "powertrack",
	Short:         "Affiliate click tracking, attribution and commission engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		log = logger.MustInit(logger.Config{
			Development: !cfg.App.IsProduction(),
			Level:       cfg.App.LogLevel,
			Service:     "powertrack",
			Env:         cfg.App.Env,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if log != nil {
			log.Error("command failed", zap.Error(err))
			_ = logger.Sync()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
