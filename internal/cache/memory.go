package cache

import (
	"context"
	"strings"
	"sync"

	"github.com/valuerun/valuerun/internal/metrics"
)

// Memory is a process-local metric cache. Safe for concurrent readers and
// writers; per-symbol write serialization is still the caller's contract.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[string]metrics.Result
	stats   Stats
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]map[string]metrics.Result)}
}

func (m *Memory) Get(_ context.Context, symbol, metricID string) (metrics.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySymbol, ok := m.entries[strings.ToUpper(symbol)]
	if !ok {
		m.stats.Misses++
		return metrics.Result{}, false
	}
	result, ok := bySymbol[metricID]
	if !ok {
		m.stats.Misses++
		return metrics.Result{}, false
	}
	m.stats.Hits++
	return result, true
}

func (m *Memory) Set(_ context.Context, result metrics.Result) error {
	symbol := strings.ToUpper(result.Symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	bySymbol, ok := m.entries[symbol]
	if !ok {
		bySymbol = make(map[string]metrics.Result)
		m.entries[symbol] = bySymbol
	}
	bySymbol[result.MetricID] = result
	m.stats.Sets++
	return nil
}

func (m *Memory) Invalidate(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, strings.ToUpper(symbol))
	return nil
}

func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Memory) Close() error { return nil }
