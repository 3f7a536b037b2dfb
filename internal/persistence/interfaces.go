package persistence

import (
	"context"

	"github.com/valuerun/valuerun/internal/domain"
)

// FactQuery narrows FactsForConcept results.
type FactQuery struct {
	// FiscalPeriod filters to one period label ("FY", "Q1".."Q4"). Empty
	// means all periods.
	FiscalPeriod string
	// Limit caps the number of rows returned, 0 means no cap.
	Limit int
}

// FactsReader provides read access to canonical facts. Absence of a fact is
// a nil result, never an error.
type FactsReader interface {
	// LatestFact returns the newest fact for a concept, ordered by period
	// end date then filing date.
	LatestFact(ctx context.Context, symbol, concept string) (*domain.Fact, error)

	// FactsForConcept returns facts newest-first (end date desc, filed desc).
	FactsForConcept(ctx context.Context, symbol, concept string, q FactQuery) ([]domain.Fact, error)
}

// FactsRepo extends FactsReader with wholesale replacement. ReplaceFacts is
// atomic per symbol: the previous fact set is deleted and the new one inserted
// in a single transaction, all-or-nothing.
type FactsRepo interface {
	FactsReader

	// ReplaceFacts swaps a symbol's entire fact set, returning the number
	// of facts inserted.
	ReplaceFacts(ctx context.Context, symbol string, facts []domain.Fact) (int, error)
}

// MarketDataReader provides the latest market snapshot for a symbol.
type MarketDataReader interface {
	LatestSnapshot(ctx context.Context, symbol string) (*domain.MarketSnapshot, error)
}

// MarketDataRepo extends MarketDataReader with latest-only upserts (one row
// per symbol).
type MarketDataRepo interface {
	MarketDataReader

	UpsertSnapshot(ctx context.Context, snap domain.MarketSnapshot) error
}

// MetricsRepo persists computed metric values.
type MetricsRepo interface {
	// Upsert inserts or updates the value for (symbol, metric_id).
	Upsert(ctx context.Context, mv domain.MetricValue) error

	// Fetch returns the stored value, or nil when none exists.
	Fetch(ctx context.Context, symbol, metricID string) (*domain.MetricValue, error)

	// DeleteForSymbol removes all of a symbol's metric values.
	DeleteForSymbol(ctx context.Context, symbol string) error
}
