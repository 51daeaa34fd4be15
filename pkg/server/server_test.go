package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigoflow/designgen-service/internal/completion"
	"github.com/aigoflow/designgen-service/internal/config"
	"github.com/aigoflow/designgen-service/internal/metrics"
	"github.com/aigoflow/designgen-service/internal/queue"
	"github.com/aigoflow/designgen-service/internal/services"
)

type failingClient struct{}

func (failingClient) Complete(context.Context, string, completion.Options) (string, error) {
	return "", io.ErrUnexpectedEOF
}

func TestHandler_ServesRoutesAndMetrics(t *testing.T) {
	svc := services.NewGenerationService(failingClient{}, nil, queue.WithLogger(slog.New(slog.DiscardHandler)))
	t.Cleanup(svc.Close)

	cfg := &config.Config{ServiceName: "designgen", HTTPAddr: ":0"}
	registry := prometheus.NewRegistry()
	metrics.New(registry)
	srv := httptest.NewServer(NewServer(cfg.HTTPAddr, cfg.ServiceName, svc, services.NewHealthService(nil, cfg, svc), registry).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/generations/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "designgen_circuit_state")

	expected := `
# HELP designgen_http_requests_total Number of HTTP requests partitioned by status code, method and route.
# TYPE designgen_http_requests_total counter
designgen_http_requests_total{code="200",method="GET",path="GET /healthz",service="designgen"} 1
designgen_http_requests_total{code="200",method="GET",path="GET /metrics",service="designgen"} 1
designgen_http_requests_total{code="404",method="GET",path="GET /v1/generations/{id}",service="designgen"} 1
`
	require.Eventually(t, func() bool {
		return testutil.GatherAndCompare(registry, strings.NewReader(expected), "designgen_http_requests_total") == nil
	}, time.Second, 10*time.Millisecond)
}
