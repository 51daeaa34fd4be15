package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/aigoflow/designgen-service/internal/completion"
	"github.com/aigoflow/designgen-service/internal/config"
	"github.com/aigoflow/designgen-service/internal/metrics"
	"github.com/aigoflow/designgen-service/internal/prompt"
	"github.com/aigoflow/designgen-service/internal/queue"
	"github.com/aigoflow/designgen-service/internal/repository"
	"github.com/aigoflow/designgen-service/internal/resilience"
	"github.com/aigoflow/designgen-service/internal/response"
	"github.com/aigoflow/designgen-service/internal/services"
	"github.com/aigoflow/designgen-service/internal/store"
	"github.com/aigoflow/designgen-service/pkg/server"
)

func main() {
	var envFile = flag.String("env", "", "Optional .env file to load")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Initialize database
	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	db.Event("info", "startup", "Server starting", map[string]any{
		"service":   cfg.ServiceName,
		"http_addr": cfg.HTTPAddr,
		"db_path":   cfg.DBPath,
		"backend":   cfg.CompletionBackend,
	})

	repo := repository.NewSQLiteRepository(db)

	builder := prompt.NewBuilder()
	if cfg.PromptTemplatePath != "" {
		if err := builder.LoadTemplate(cfg.PromptTemplatePath); err != nil {
			slog.Error("Failed to load prompt template", "path", cfg.PromptTemplatePath, "error", err)
			os.Exit(1)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(registry)

	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
	},
		resilience.WithBreakerLogger(logger),
		resilience.WithStateChange(func(from, to resilience.State) {
			collector.ObserveBreaker(from, to)
			db.Event("warn", "circuit."+to.String(), "Circuit breaker state changed", map[string]any{
				"from": from.String(),
				"to":   to.String(),
			})
		}))

	policy := resilience.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.BaseDelay = cfg.RetryBaseDelay
	policy.MaxDelay = cfg.RetryMaxDelay
	policy.BackoffFactor = cfg.RetryBackoffFactor
	retrier := resilience.NewRetrier(policy,
		resilience.WithRetryLogger(logger),
		resilience.WithAttemptHook(func(info resilience.AttemptInfo) {
			if info.Retrying {
				db.Event("warn", "completion.retry", "Retrying completion call", map[string]any{
					"attempt":    info.Attempt,
					"next_delay": info.NextDelay.String(),
					"error":      info.Err.Error(),
				})
			}
		}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := completion.New(ctx, cfg)
	if err != nil {
		db.Event("error", "completion.failed", "Completion client initialization failed", map[string]any{
			"backend": cfg.CompletionBackend,
			"error":   err.Error(),
		})
		slog.Error("Failed to create completion client", "backend", cfg.CompletionBackend, "error", err)
		os.Exit(1)
	}
	if c, ok := client.(completion.Closer); ok {
		defer c.Close()
	}

	generationService := services.NewGenerationService(client, repo,
		queue.WithMaxConcurrent(cfg.MaxConcurrent),
		queue.WithPromptBuilder(builder),
		queue.WithPipeline(response.NewPipeline(logger)),
		queue.WithBreaker(breaker),
		queue.WithRetrier(retrier),
		queue.WithMetrics(collector),
		queue.WithLogger(logger),
		queue.WithDefaultOptions(completion.Options{
			Temperature: cfg.CompletionTemperature,
			MaxTokens:   cfg.CompletionMaxTokens,
		}))

	g, ctx := errgroup.WithContext(ctx)

	var healthService *services.HealthService
	if cfg.NatsEnabled {
		natsService, err := services.NewNATSService(cfg, generationService)
		if err != nil {
			db.Event("error", "nats.failed", "NATS service initialization failed", map[string]any{
				"nats_url": cfg.NatsURL,
				"error":    err.Error(),
			})
			slog.Error("Failed to create NATS service", "error", err)
			os.Exit(1)
		}
		healthService = services.NewHealthService(natsService.GetConnection(), cfg, generationService)

		g.Go(func() error { return natsService.Start(ctx) })
		g.Go(func() error { return healthService.Start(ctx) })
	} else {
		healthService = services.NewHealthService(nil, cfg, generationService)
	}

	httpServer := server.NewServer(cfg.HTTPAddr, cfg.ServiceName, generationService, healthService, registry)
	g.Go(func() error { return httpServer.Start(ctx) })

	// Closing the queue fails pending work, which also ends open event streams.
	g.Go(func() error {
		<-ctx.Done()
		generationService.Close()
		return nil
	})

	db.Event("info", "server.ready", "Server ready to accept requests", map[string]any{
		"http_addr":      cfg.HTTPAddr,
		"nats_enabled":   cfg.NatsEnabled,
		"max_concurrent": cfg.MaxConcurrent,
	})

	if err := g.Wait(); err != nil {
		db.Event("error", "server.failed", "Server stopped with error", map[string]any{
			"error": err.Error(),
		})
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutting down server")
	db.Event("info", "shutdown", "Server stopped", nil)
}
