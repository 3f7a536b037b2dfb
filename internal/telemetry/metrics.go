// Package telemetry holds the Prometheus instrumentation for the engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/valuerun/valuerun/internal/metrics"
)

// Registry holds every collector the engine exposes.
type Registry struct {
	NormalizationRuns *prometheus.CounterVec
	FactsStored       *prometheus.CounterVec

	MetricComputations *prometheus.CounterVec

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	ProviderRequests *prometheus.CounterVec

	SymbolDuration *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	return &Registry{
		NormalizationRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuerun_normalization_runs_total",
				Help: "Normalization runs by provider and outcome",
			},
			[]string{"provider", "status"},
		),

		FactsStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuerun_facts_stored_total",
				Help: "Canonical facts written to the fact store by provider",
			},
			[]string{"provider"},
		),

		MetricComputations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuerun_metric_computations_total",
				Help: "Metric computations by metric id and outcome",
			},
			[]string{"metric", "outcome"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "valuerun_metric_cache_hits_total",
				Help: "Metric cache hits",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "valuerun_metric_cache_misses_total",
				Help: "Metric cache misses",
			},
		),

		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuerun_provider_requests_total",
				Help: "Market data provider requests by provider and outcome",
			},
			[]string{"provider", "status"},
		),

		SymbolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "valuerun_symbol_duration_seconds",
				Help:    "Per-symbol pipeline stage duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"stage"},
		),
	}
}

// MustRegister registers every collector with the given registerer.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		r.NormalizationRuns,
		r.FactsStored,
		r.MetricComputations,
		r.CacheHits,
		r.CacheMisses,
		r.ProviderRequests,
		r.SymbolDuration,
	)
}

// ObserveComputation counts one metric result under its outcome label.
func (r *Registry) ObserveComputation(result metrics.Result) {
	outcome := "value"
	if !result.OK() {
		outcome = string(result.Gap)
	}
	r.MetricComputations.WithLabelValues(result.MetricID, outcome).Inc()
}
