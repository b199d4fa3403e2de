package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baybio/biodex/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "biodex",
	Short: "Regional biotech directory curation pipeline",
	Long:  "Ingests company lists from multiple sources, deduplicates by domain and name, geofences to the target region, enriches via place lookup and guided discovery, and promotes validated records to the production directory.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
