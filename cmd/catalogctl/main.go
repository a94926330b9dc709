// Command catalogctl ingests vendor spreadsheet catalogs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kurai777/Alda-oficial-sub004/internal/config"
	"github.com/Kurai777/Alda-oficial-sub004/internal/logger"
)

var (
	envFile    string
	jsonOutput bool
)

func main() {
	root := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Ingest vendor spreadsheet catalogs into a product database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load when present")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(newIngestCmd(), newInspectCmd(), newRepairCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the environment file, configuration and logger shared by
// every command.
func setup() (config.Config, *zap.Logger, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return config.Config{}, nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}
	cfg := config.Load()
	if err := cfg.LoadHeuristics(cfg.HeuristicsFile); err != nil {
		return cfg, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return cfg, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
