package cache

import (
	"context"
	"fmt"

	"github.com/valuerun/valuerun/internal/metrics"
)

// Memo computes metrics through the cache: a hit is returned as-is, a miss is
// computed against Env and stored, gaps included.
type Memo struct {
	Cache Cache
	Env   metrics.Env
}

// GetOrCompute resolves one metric for one symbol.
func (m Memo) GetOrCompute(ctx context.Context, symbol, metricID string) (metrics.Result, error) {
	if result, ok := m.Cache.Get(ctx, symbol, metricID); ok {
		return result, nil
	}
	metric, ok := metrics.ByID(metricID)
	if !ok {
		return metrics.Result{}, fmt.Errorf("unknown metric %q", metricID)
	}
	result, err := metric.Compute(ctx, symbol, m.Env)
	if err != nil {
		return metrics.Result{}, err
	}
	if err := m.Cache.Set(ctx, result); err != nil {
		return metrics.Result{}, err
	}
	return result, nil
}

// Metric satisfies the screen evaluator's metric source.
func (m Memo) Metric(ctx context.Context, symbol, metricID string) (metrics.Result, error) {
	return m.GetOrCompute(ctx, symbol, metricID)
}
