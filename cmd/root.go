package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "envintel",
	Short: "Environmental anomaly-to-incident pipeline",
	Long:  "Polls Environment Agency flood and hydrology feeds, clusters anomalous readings, enriches them with nearby permits and records deduplicated incidents.",
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
