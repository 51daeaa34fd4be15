package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aigoflow/designgen-service/internal/generr"
	"github.com/aigoflow/designgen-service/internal/models"
	"github.com/aigoflow/designgen-service/internal/resilience"
)

const (
	namespace = "designgen"

	generationsTotal   = "generations_total"
	generationDuration = "generation_duration_seconds"
	attemptsTotal      = "completion_attempts_total"
	circuitState       = "circuit_state"
	queueDepth         = "queue_depth"

	// Labels
	statusLabel  = "status"
	kindLabel    = "kind"
	outcomeLabel = "outcome"
	stateLabel   = "state"
)

// Collector holds the service metrics. It satisfies queue.Metrics.
type Collector struct {
	generations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	attempts    *prometheus.CounterVec
	circuit     prometheus.Gauge
	depth       *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      generationsTotal,
			Help:      "number of finished generation requests by status and error kind",
		}, []string{statusLabel, kindLabel}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      generationDuration,
			Help:      "time from admission to terminal status",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{statusLabel}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      attemptsTotal,
			Help:      "completion calls by outcome (success or error kind)",
		}, []string{outcomeLabel}),
		circuit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      circuitState,
			Help:      "circuit breaker state: 0 closed, 1 open, 2 half-open",
		}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      queueDepth,
			Help:      "requests currently pending or processing",
		}, []string{stateLabel}),
	}
	reg.MustRegister(c.generations, c.duration, c.attempts, c.circuit, c.depth)
	return c
}

func (c *Collector) ObserveGeneration(status models.Status, kind generr.Kind, elapsed time.Duration) {
	c.generations.With(prometheus.Labels{
		statusLabel: string(status),
		kindLabel:   string(kind),
	}).Inc()
	c.duration.With(prometheus.Labels{statusLabel: string(status)}).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveAttempt(outcome string) {
	c.attempts.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func (c *Collector) SetQueueDepth(pending, processing int) {
	c.depth.With(prometheus.Labels{stateLabel: string(models.StatusPending)}).Set(float64(pending))
	c.depth.With(prometheus.Labels{stateLabel: string(models.StatusProcessing)}).Set(float64(processing))
}

// ObserveBreaker is a resilience.WithStateChange hook.
func (c *Collector) ObserveBreaker(_, to resilience.State) {
	c.circuit.Set(float64(to))
}
