package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.WritesTotal.WithLabelValues("integer").Inc()
	m.ActiveWrites.Set(3)
	m.FlushesTotal.Inc()
	m.QueriesTotal.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["siridb_writes_total"])
	assert.True(t, names["siridb_active_writes"])
	assert.True(t, names["siridb_flushes_total"])
	assert.True(t, names["siridb_queries_total"])
}

func TestMetricsWriteCounterLabelsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.WritesTotal.WithLabelValues("integer").Inc()
	m.WritesTotal.WithLabelValues("integer").Inc()
	m.WritesTotal.WithLabelValues("string").Inc()

	var out dto.Metric
	require.NoError(t, m.WritesTotal.WithLabelValues("integer").Write(&out))
	assert.Equal(t, float64(2), out.GetCounter().GetValue())
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.QueriesTotal.Inc()

	h := Handler(reg)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "siridb_queries_total")
}
