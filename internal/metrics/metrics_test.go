package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/aigoflow/designgen-service/internal/generr"
	"github.com/aigoflow/designgen-service/internal/models"
	"github.com/aigoflow/designgen-service/internal/resilience"
)

func TestCollector(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveGeneration(models.StatusCompleted, "", 2*time.Second)
	c.ObserveGeneration(models.StatusFailed, generr.KindParse, time.Second)
	c.ObserveGeneration(models.StatusFailed, generr.KindParse, time.Second)
	c.ObserveAttempt("success")
	c.ObserveAttempt(string(generr.KindNetwork))
	c.SetQueueDepth(4, 3)
	c.ObserveBreaker(resilience.StateClosed, resilience.StateOpen)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.generations.WithLabelValues("completed", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.generations.WithLabelValues("failed", "parse")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attempts.WithLabelValues("network")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.depth.WithLabelValues("pending")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.depth.WithLabelValues("processing")))
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(c.circuit))
}

func TestMiddleware(t *testing.T) {
	m := NewMiddleware(prometheus.NewRegistry(), "designgen")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/queue", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := m.Handler(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("418", "GET", "GET /v1/queue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("404", "GET", "unmatched")))
}
