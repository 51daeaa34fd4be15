package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/designgen-service/internal/config"
	"github.com/aigoflow/designgen-service/internal/models"
)

// QueueReporter is what monitoring and health need from the generation service.
type QueueReporter interface {
	Status() models.QueueStatus
	CircuitState() string
}

type MonitoringService struct {
	nats          *nats.Conn
	config        *config.Config
	queue         QueueReporter
	inFlightCount int64 // atomic counter of NATS messages being handled
}

type BackpressureReport struct {
	ServiceName      string    `json:"service_name"`
	PendingRequests  int       `json:"pending_requests"`
	ActiveProcessing int       `json:"active_processing"`
	InFlightMessages int64     `json:"in_flight_messages"`
	Timestamp        time.Time `json:"timestamp"`
	WorkerCount      int       `json:"worker_count"`
	MaxConcurrent    int       `json:"max_concurrent"`
	QueueCapacity    int       `json:"queue_capacity"`
	CircuitState     string    `json:"circuit_state"`
	Status           string    `json:"status"` // healthy, warning, critical
}

func NewMonitoringService(natsConn *nats.Conn, cfg *config.Config, q QueueReporter) *MonitoringService {
	return &MonitoringService{
		nats:   natsConn,
		config: cfg,
		queue:  q,
	}
}

func (m *MonitoringService) Start(ctx context.Context) error {
	slog.Info("Starting monitoring service",
		"topic", m.Topic(),
		"threshold", m.config.BackpressureThreshold)

	go m.monitorBackpressure(ctx)
	return nil
}

// Topic is the subject backpressure reports are published on.
func (m *MonitoringService) Topic() string {
	return fmt.Sprintf("%s.%s", m.config.MonitoringTopic, m.config.ServiceName)
}

func (m *MonitoringService) monitorBackpressure(ctx context.Context) {
	// Different intervals based on load
	highLoadTicker := time.NewTicker(1 * time.Second)
	lowLoadTicker := time.NewTicker(10 * time.Second)
	defer highLoadTicker.Stop()
	defer lowLoadTicker.Stop()

	currentTicker := lowLoadTicker

	for {
		select {
		case <-ctx.Done():
			return
		case <-currentTicker.C:
			report := m.Report()
			busy := report.PendingRequests+report.ActiveProcessing > 0

			if busy && currentTicker == lowLoadTicker {
				currentTicker = highLoadTicker
				slog.Debug("Switched to high-frequency monitoring", "pending", report.PendingRequests)
			} else if !busy && currentTicker == highLoadTicker {
				currentTicker = lowLoadTicker
				slog.Debug("Switched to low-frequency monitoring")
			}

			m.publish(report)
		}
	}
}

// Report snapshots the current load.
func (m *MonitoringService) Report() BackpressureReport {
	st := m.queue.Status()
	circuit := m.queue.CircuitState()
	return BackpressureReport{
		ServiceName:      m.config.ServiceName,
		PendingRequests:  st.Pending,
		ActiveProcessing: st.Processing,
		InFlightMessages: atomic.LoadInt64(&m.inFlightCount),
		Timestamp:        time.Now(),
		WorkerCount:      m.config.Concurrency,
		MaxConcurrent:    m.config.MaxConcurrent,
		QueueCapacity:    m.config.MaxMsgs,
		CircuitState:     circuit,
		Status:           m.calculateStatus(st.Pending, st.Processing, circuit),
	}
}

func (m *MonitoringService) publish(report BackpressureReport) {
	reportData, err := json.Marshal(report)
	if err != nil {
		slog.Error("Failed to marshal backpressure report", "error", err)
		return
	}

	if err := m.nats.Publish(m.Topic(), reportData); err != nil {
		slog.Warn("Failed to publish backpressure report", "error", err)
		return
	}

	if report.PendingRequests > 0 || report.Status != "healthy" {
		slog.Info("Backpressure report",
			"pending", report.PendingRequests,
			"active", report.ActiveProcessing,
			"circuit", report.CircuitState,
			"status", report.Status)
	}
}

// calculateStatus: an open circuit or a backlog at the threshold is critical,
// any backlog is a warning.
func (m *MonitoringService) calculateStatus(pending, active int, circuit string) string {
	if circuit == "open" {
		return "critical"
	}
	if pending == 0 {
		if active > 0 || circuit == "half-open" {
			return "warning"
		}
		return "healthy"
	}
	if pending+active < m.config.BackpressureThreshold {
		return "warning"
	}
	return "critical"
}

func (m *MonitoringService) IncrementInFlight() {
	atomic.AddInt64(&m.inFlightCount, 1)
}

func (m *MonitoringService) DecrementInFlight() {
	atomic.AddInt64(&m.inFlightCount, -1)
}
