package prometheus_test

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/common/servicectx"
	metrics "github.com/keboola/shard-requirements/internal/pkg/telemetry/metric/prometheus"
)

func TestServeMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := log.NewDebugLogger()
	proc := servicectx.NewForTest(t, logger)

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total", Help: "Test counter."})
	registry.MustRegister(counter)
	counter.Add(3)

	addr, err := metrics.ServeMetrics(ctx, "reqnode", "localhost:0", registry, logger, proc)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + metrics.Endpoint) // nolint: noctx
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "test_counter_total 3")

	proc.Shutdown(ctx, nil)
	proc.WaitForShutdown()
	assert.Contains(t, logger.InfoMessages(), "metrics server shutdown finished")
}
