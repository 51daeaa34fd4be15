package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/designgen-service/internal/config"
	"github.com/aigoflow/designgen-service/internal/models"
)

const serviceVersion = "1.0.0"

type HealthService struct {
	nats    *nats.Conn
	config  *config.Config
	queue   QueueReporter
	started time.Time
}

type HealthStatus struct {
	ServiceName  string             `json:"service_name"`
	Status       string             `json:"status"` // online, degraded
	LastActivity time.Time          `json:"last_activity"`
	Uptime       string             `json:"uptime"`
	Capabilities []string           `json:"capabilities"`
	Endpoint     string             `json:"endpoint"`
	NATSTopic    string             `json:"nats_topic"`
	Version      string             `json:"version"`
	Queue        models.QueueStatus `json:"queue"`
	CircuitState string             `json:"circuit_state"`
}

// NewHealthService reports on q. natsConn may be nil when only the HTTP
// health endpoint is served.
func NewHealthService(natsConn *nats.Conn, cfg *config.Config, q QueueReporter) *HealthService {
	return &HealthService{
		nats:    natsConn,
		config:  cfg,
		queue:   q,
		started: time.Now(),
	}
}

func (h *HealthService) Start(ctx context.Context) error {
	if h.nats == nil {
		return fmt.Errorf("health service requires a NATS connection")
	}

	healthTopic := fmt.Sprintf("services.%s.health", h.config.ServiceName)
	sub, err := h.nats.Subscribe(healthTopic, func(msg *nats.Msg) {
		statusData, err := json.Marshal(h.Status())
		if err != nil {
			slog.Error("Failed to marshal health status", "error", err)
			return
		}
		if err := msg.Respond(statusData); err != nil {
			slog.Error("Failed to respond to health check", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to health topic: %w", err)
	}

	slog.Info("Health service started", "topic", healthTopic)

	go func() {
		h.publishHeartbeats(ctx)
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (h *HealthService) publishHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	heartbeatTopic := fmt.Sprintf("services.%s.heartbeat", h.config.ServiceName)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statusData, err := json.Marshal(h.Status())
			if err != nil {
				continue
			}
			if err := h.nats.Publish(heartbeatTopic, statusData); err != nil {
				slog.Warn("Failed to publish heartbeat", "error", err)
			}
		}
	}
}

// Status is served on NATS and on /healthz. An open circuit means the
// service is up but cannot generate right now.
func (h *HealthService) Status() HealthStatus {
	circuit := h.queue.CircuitState()
	status := "online"
	if circuit == "open" {
		status = "degraded"
	}
	return HealthStatus{
		ServiceName:  h.config.ServiceName,
		Status:       status,
		LastActivity: time.Now(),
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		Capabilities: []string{"design-system-generation"},
		Endpoint:     fmt.Sprintf("http://localhost%s", h.config.HTTPAddr),
		NATSTopic:    h.config.Subject,
		Version:      serviceVersion,
		Queue:        h.queue.Status(),
		CircuitState: circuit,
	}
}
