package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/mtzanidakis/maistro/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "maistro",
		Short:        "Run multi-step goose prompt configurations",
		Long:         "Maistro runs ordered prompt configurations through the goose CLI, on demand, on a schedule or chained by triggers.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newModelsCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newRestoreCommand())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "maistro %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Debug)
	return cfg, nil
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
