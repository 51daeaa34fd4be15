package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/aigoflow/designgen-service/internal/services"
)

var healthCmd = &cobra.Command{
	Use:   "health [service]",
	Short: "Ask a running service for its health status",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHealth,
}

var healthOutput string

func init() {
	healthCmd.Flags().StringVarP(&healthOutput, "output", "o", "json", "Output format: json or yaml")
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	name := cfg.ServiceName
	if len(args) == 1 {
		name = args[0]
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), min(timeout, 10*time.Second))
	defer cancel()

	nc, err := nats.Connect(cfg.NatsURL, nats.Name("designgen-health"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	resp, err := nc.RequestWithContext(ctx, fmt.Sprintf("services.%s.health", name), []byte("{}"))
	if err != nil {
		return fmt.Errorf("health check for %s failed: %w", name, err)
	}

	var status services.HealthStatus
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return fmt.Errorf("decode health status: %w", err)
	}
	return writeOutput(cmd.OutOrStdout(), healthOutput, status)
}
