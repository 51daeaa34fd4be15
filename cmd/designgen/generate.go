package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aigoflow/designgen-service/internal/completion"
	"github.com/aigoflow/designgen-service/internal/config"
	"github.com/aigoflow/designgen-service/internal/generr"
	"github.com/aigoflow/designgen-service/internal/models"
	"github.com/aigoflow/designgen-service/internal/prompt"
	"github.com/aigoflow/designgen-service/internal/queue"
	"github.com/aigoflow/designgen-service/internal/resilience"
	"github.com/aigoflow/designgen-service/internal/services"
)

var (
	generateInput  inputFlags
	generateOutput string
	generateFull   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a design system in-process",
	Long: `Run one generation in this process against the configured completion
backend (COMPLETION_BACKEND) and print the design system.

Progress is written to stderr, the result to stdout.`,
	Example: `  designgen generate -d "Calm meditation app for busy parents" --mood calm,warm
  designgen generate -f brief.yaml --output yaml`,
	RunE: runGenerate,
}

func init() {
	generateInput.register(generateCmd)
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "json", "Output format: json or yaml")
	generateCmd.Flags().BoolVar(&generateFull, "full", false, "Print the whole request record instead of only the design system")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	input, err := generateInput.build(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := completion.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create completion client: %w", err)
	}
	if c, ok := client.(completion.Closer); ok {
		defer c.Close()
	}

	svc, err := newLocalService(cfg, client)
	if err != nil {
		return err
	}
	defer svc.Close()

	req, err := generateOnce(ctx, svc, input, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if generateFull {
		return writeOutput(cmd.OutOrStdout(), generateOutput, req)
	}
	for _, w := range req.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	return writeOutput(cmd.OutOrStdout(), generateOutput, req.Result)
}

func newLocalService(cfg *config.Config, client completion.Client) (*services.GenerationService, error) {
	builder := prompt.NewBuilder()
	if cfg.PromptTemplatePath != "" {
		if err := builder.LoadTemplate(cfg.PromptTemplatePath); err != nil {
			return nil, fmt.Errorf("load prompt template: %w", err)
		}
	}

	policy := resilience.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.BaseDelay = cfg.RetryBaseDelay
	policy.MaxDelay = cfg.RetryMaxDelay
	policy.BackoffFactor = cfg.RetryBackoffFactor

	return services.NewGenerationService(client, nil,
		queue.WithMaxConcurrent(1),
		queue.WithPromptBuilder(builder),
		queue.WithRetrier(resilience.NewRetrier(policy)),
		queue.WithDefaultOptions(completion.Options{
			Temperature: cfg.CompletionTemperature,
			MaxTokens:   cfg.CompletionMaxTokens,
		})), nil
}

// generateOnce submits input and blocks until it is terminal. A failed
// generation is returned as an error carrying its kind.
func generateOnce(ctx context.Context, svc *services.GenerationService, input models.DesignInput, progress io.Writer) (models.GenerationRequest, error) {
	done := make(chan struct{})
	id, err := svc.Submit(input, "cli", queue.WithProgress(func(ev models.GenerationProgress) {
		printProgress(progress, ev)
		if ev.Stage == models.StageCompleted {
			close(done)
		}
	}))
	if err != nil {
		var ge *generr.Error
		if errors.As(err, &ge) {
			for _, d := range ge.Details {
				fmt.Fprintf(progress, "  - %s\n", d)
			}
		}
		return models.GenerationRequest{}, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		if cerr := svc.Cancel(id); cerr != nil {
			slog.Debug("Cancel after timeout", "req_id", id, "error", cerr)
		}
		<-done
	}

	req, _, err := svc.Get(ctx, id)
	if err != nil {
		return req, err
	}
	if req.Status == models.StatusFailed {
		return req, fmt.Errorf("generation %s failed (%s): %s", id, req.ErrorKind, req.Error)
	}
	return req, nil
}

func printProgress(w io.Writer, ev models.GenerationProgress) {
	if ev.Detail != "" {
		fmt.Fprintf(w, "[%3d%%] %s: %s\n", ev.Progress, ev.Message, ev.Detail)
		return
	}
	fmt.Fprintf(w, "[%3d%%] %s\n", ev.Progress, ev.Message)
}
