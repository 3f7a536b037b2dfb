package metrics

import (
	"context"
	"strings"

	"github.com/valuerun/valuerun/internal/domain"
	"github.com/valuerun/valuerun/internal/persistence"
)

// ConceptCoverage counts symbols whose latest fact for a concept is absent
// or older than the freshness window.
type ConceptCoverage struct {
	Concept string `json:"concept"`
	Missing int    `json:"missing"`
	Stale   int    `json:"stale"`
}

// MetricCoverage summarizes fact coverage for one metric's required concepts
// across a symbol universe.
type MetricCoverage struct {
	MetricID     string            `json:"metric_id"`
	TotalSymbols int               `json:"total_symbols"`
	FullyCovered int               `json:"fully_covered"`
	Concepts     []ConceptCoverage `json:"concepts"`
}

// CoverageReporter computes advisory freshness reports. It never blocks or
// mutates anything.
type CoverageReporter struct {
	Facts persistence.FactsReader
	// MaxAgeDays defaults to the quarterly freshness window.
	MaxAgeDays int
	// AsOf anchors the staleness cutoff. Zero means wall-clock now.
	Env Env
}

// Report evaluates the given metrics' required concepts for every symbol.
// Latest-fact lookups are cached across metrics so overlapping concept lists
// hit the store once per (symbol, concept).
func (r CoverageReporter) Report(ctx context.Context, symbols []string, catalogue []Metric) ([]MetricCoverage, error) {
	maxAge := r.MaxAgeDays
	if maxAge <= 0 {
		maxAge = maxFactAgeDays
	}
	now := r.Env.now()

	upper := make([]string, len(symbols))
	for i, symbol := range symbols {
		upper[i] = strings.ToUpper(symbol)
	}

	type cacheKey struct{ symbol, concept string }
	cache := make(map[cacheKey]*domain.Fact)
	lookup := func(symbol, concept string) (*domain.Fact, error) {
		key := cacheKey{symbol, concept}
		if fact, ok := cache[key]; ok {
			return fact, nil
		}
		fact, err := r.Facts.LatestFact(ctx, symbol, concept)
		if err != nil {
			return nil, err
		}
		cache[key] = fact
		return fact, nil
	}

	var report []MetricCoverage
	for _, metric := range catalogue {
		concepts := dedupeStrings(metric.RequiredConcepts())
		counts := make(map[string]*ConceptCoverage, len(concepts))
		ordered := make([]*ConceptCoverage, 0, len(concepts))
		for _, concept := range concepts {
			entry := &ConceptCoverage{Concept: concept}
			counts[concept] = entry
			ordered = append(ordered, entry)
		}

		fullyCovered := 0
		if len(concepts) == 0 {
			fullyCovered = len(upper)
		}
		for _, symbol := range upper {
			if len(concepts) == 0 {
				break
			}
			hasAll := true
			for _, concept := range concepts {
				fact, err := lookup(symbol, concept)
				if err != nil {
					return nil, err
				}
				if fact == nil {
					counts[concept].Missing++
					hasAll = false
					continue
				}
				if !isRecent(fact, now, maxAge) {
					counts[concept].Stale++
					hasAll = false
				}
			}
			if hasAll {
				fullyCovered++
			}
		}

		coverage := MetricCoverage{
			MetricID:     metric.ID(),
			TotalSymbols: len(upper),
			FullyCovered: fullyCovered,
			Concepts:     make([]ConceptCoverage, 0, len(ordered)),
		}
		for _, entry := range ordered {
			coverage.Concepts = append(coverage.Concepts, *entry)
		}
		report = append(report, coverage)
	}
	return report, nil
}
