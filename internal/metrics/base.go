// Package metrics implements the fixed catalogue of valuation and quality
// metrics computed from canonical facts and market snapshots. Every metric
// is a pure function of its inputs and an as-of clock; anything it cannot
// compute comes back as a typed gap, never as an error or a zero.
package metrics

import (
	"context"
	"time"

	"github.com/valuerun/valuerun/internal/fx"
	"github.com/valuerun/valuerun/internal/persistence"
)

// GapReason explains why a metric produced no value.
type GapReason string

const (
	// GapMissingInput marks a required concept or snapshot with no usable fact.
	GapMissingInput GapReason = "missing_input"
	// GapInsufficientPeriods marks fewer periods than the metric's strict
	// requirement (e.g. fewer than four consecutive quarters for a TTM sum).
	GapInsufficientPeriods GapReason = "insufficient_periods"
)

// Result is the outcome of one metric computation. Either Value/AsOf are
// populated or Gap carries the reason the metric could not be computed.
type Result struct {
	Symbol   string    `json:"symbol"`
	MetricID string    `json:"metric_id"`
	Value    float64   `json:"value"`
	AsOf     string    `json:"as_of"`
	Currency string    `json:"currency,omitempty"`
	Inputs   []string  `json:"inputs,omitempty"`
	Gap      GapReason `json:"gap,omitempty"`
}

// OK reports whether the result carries a value rather than a gap.
func (r Result) OK() bool { return r.Gap == "" }

// Env bundles the read-side dependencies a metric computes against.
type Env struct {
	Facts  persistence.FactsReader
	Market persistence.MarketDataReader
	FX     *fx.Store
	// AsOf anchors staleness windows. Zero means wall-clock now.
	AsOf time.Time
}

func (e Env) now() time.Time {
	if e.AsOf.IsZero() {
		return time.Now().UTC()
	}
	return e.AsOf
}

// Metric is one named formula in the catalogue.
type Metric interface {
	ID() string
	RequiredConcepts() []string
	Compute(ctx context.Context, symbol string, env Env) (Result, error)
}

// Registry returns the full catalogue in its fixed order.
func Registry() []Metric {
	return []Metric{
		WorkingCapital{},
		CurrentRatio{},
		LongTermDebt{},
		EPSTTM{},
		EPSSixYearAverage{},
		EPSStreak{},
		GrahamEPSCAGR{},
		GrahamMultiplier{},
		EarningsYield{},
		MarketCap{},
		PriceToFCF{},
		InterestCoverage{},
		NetDebtToEBITDA{},
		DebtPaydownYears{},
		ShortTermDebtShare{},
		ROCGreenblatt{},
		ROEGreenblatt{},
		NWCMostRecentQuarter{},
		NWCFiscalYear{},
		DeltaNWCTTM{},
		DeltaNWCFY{},
		DeltaNWCMaint{},
		MCapexFY{},
		MCapexTTM{},
		MCapexFiveYear{},
		OwnerEarningsEquityTTM{},
		OwnerEarningsEquityFiveYearAvg{},
		OwnerEarningsYieldEquity{},
		OwnerEarningsYieldEquityFiveYear{},
		ReturnOnInvestedCapital{},
	}
}

// ByID resolves a catalogue metric by its identifier.
func ByID(id string) (Metric, bool) {
	for _, m := range Registry() {
		if m.ID() == id {
			return m, true
		}
	}
	return nil, false
}

// IDs returns the catalogue identifiers in registry order.
func IDs() []string {
	registry := Registry()
	ids := make([]string, 0, len(registry))
	for _, m := range registry {
		ids = append(ids, m.ID())
	}
	return ids
}

func gapResult(symbol, metricID string, reason GapReason) Result {
	return Result{Symbol: symbol, MetricID: metricID, Gap: reason}
}
