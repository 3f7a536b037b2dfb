package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valuerun/valuerun/internal/metrics"
)

func TestRegistry_RegistersCleanly(t *testing.T) {
	registry := NewRegistry()
	prom := prometheus.NewRegistry()
	require.NotPanics(t, func() { registry.MustRegister(prom) })
}

func TestMustRegister_ExposesFamilies(t *testing.T) {
	registry := NewRegistry()
	prom := prometheus.NewRegistry()
	registry.MustRegister(prom)

	registry.CacheHits.Inc()
	registry.FactsStored.WithLabelValues("sec").Add(42)

	families, err := prom.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}

	hits, ok := byName["valuerun_metric_cache_hits_total"]
	require.True(t, ok)
	assert.Equal(t, dto.MetricType_COUNTER, hits.GetType())
	assert.InDelta(t, 1.0, hits.GetMetric()[0].GetCounter().GetValue(), 1e-9)

	stored, ok := byName["valuerun_facts_stored_total"]
	require.True(t, ok)
	require.Len(t, stored.GetMetric(), 1)
	assert.Equal(t, "sec", stored.GetMetric()[0].GetLabel()[0].GetValue())
	assert.InDelta(t, 42.0, stored.GetMetric()[0].GetCounter().GetValue(), 1e-9)
}

func TestObserveComputation_LabelsOutcome(t *testing.T) {
	registry := NewRegistry()

	registry.ObserveComputation(metrics.Result{MetricID: "eps_ttm", Value: 2.5})
	registry.ObserveComputation(metrics.Result{MetricID: "eps_ttm", Gap: metrics.GapInsufficientPeriods})
	registry.ObserveComputation(metrics.Result{MetricID: "market_cap", Gap: metrics.GapMissingInput})

	assert.InDelta(t, 1.0, testutil.ToFloat64(
		registry.MetricComputations.WithLabelValues("eps_ttm", "value")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(
		registry.MetricComputations.WithLabelValues("eps_ttm", "insufficient_periods")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(
		registry.MetricComputations.WithLabelValues("market_cap", "missing_input")), 1e-9)
}
