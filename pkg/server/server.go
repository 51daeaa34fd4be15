package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aigoflow/designgen-service/internal/handlers"
	"github.com/aigoflow/designgen-service/internal/metrics"
	"github.com/aigoflow/designgen-service/internal/services"
)

type Server struct {
	httpAddr          string
	generationService *services.GenerationService
	health            handlers.HealthReporter
	registry          *prometheus.Registry
	serviceName       string
}

func NewServer(httpAddr, serviceName string, generationService *services.GenerationService, health handlers.HealthReporter, registry *prometheus.Registry) *Server {
	return &Server{
		httpAddr:          httpAddr,
		generationService: generationService,
		health:            health,
		registry:          registry,
		serviceName:       serviceName,
	}
}

// Handler builds the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	generationHandler := handlers.NewGenerationHandler(s.generationService, s.health)
	generationHandler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	slog.Info("Registered HTTP endpoints", "endpoints", []string{
		"/v1/generations", "/v1/generations/{id}", "/v1/generations/{id}/events",
		"/v1/generations/{id}/cancel", "/v1/queue", "/logs", "/healthz", "/metrics",
	})

	return metrics.NewMiddleware(s.registry, s.serviceName).Handler(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", s.httpAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
