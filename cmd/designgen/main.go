// Command designgen generates design systems from the terminal, either
// in-process or through a running designgen service over NATS.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aigoflow/designgen-service/internal/config"
)

var (
	envFile string
	verbose bool
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "designgen",
	Short: "Generate design systems from a short description",
	Long: `designgen turns a description of a product into a design system
(colors, typography, spacing, components) using a language model.

Commands:
  generate - run a generation in-process and print the result
  submit   - send a generation to a running service over NATS
  watch    - follow progress and backpressure reports published by services
  health   - ask a running service for its health status`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Optional .env file to load")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(healthCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
