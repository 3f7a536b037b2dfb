package marketdata

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/valuerun/valuerun/internal/domain"
	"github.com/valuerun/valuerun/internal/persistence"
)

var shareCountConcepts = []string{
	"CommonStockSharesOutstanding",
	"EntityCommonStockSharesOutstanding",
}

// Service refreshes market snapshots through a provider and stores them.
// When the provider omits market cap it is backfilled from the latest
// share-count fact.
type Service struct {
	Provider  Provider
	Facts     persistence.FactsReader
	Snapshots persistence.MarketDataRepo
}

// Refresh fetches and stores one symbol's snapshot. A symbol unknown to the
// provider is skipped without error.
func (s Service) Refresh(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	snapshot, err := s.Provider.Quote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
	}
	if snapshot == nil {
		log.Debug().Str("symbol", symbol).Str("provider", s.Provider.Name()).
			Msg("provider has no quote")
		return nil, nil
	}

	if err := s.backfill(ctx, snapshot); err != nil {
		return nil, err
	}
	if err := s.Snapshots.UpsertSnapshot(ctx, *snapshot); err != nil {
		return nil, err
	}
	log.Debug().Str("symbol", snapshot.Symbol).Str("as_of", snapshot.AsOf).
		Float64("price", snapshot.Price).Msg("market snapshot refreshed")
	return snapshot, nil
}

// backfill derives shares outstanding and market cap from stored facts when
// the provider's quote carries only a price.
func (s Service) backfill(ctx context.Context, snapshot *domain.MarketSnapshot) error {
	if snapshot.MarketCap != nil && *snapshot.MarketCap > 0 {
		return nil
	}
	shares := snapshot.SharesOutstanding
	if shares == nil {
		for _, concept := range shareCountConcepts {
			fact, err := s.Facts.LatestFact(ctx, snapshot.Symbol, concept)
			if err != nil {
				return err
			}
			if fact != nil && fact.Value > 0 {
				value := fact.Value
				shares = &value
				break
			}
		}
	}
	if shares == nil || *shares <= 0 || snapshot.Price <= 0 {
		return nil
	}
	marketCap := *shares * snapshot.Price
	snapshot.SharesOutstanding = shares
	snapshot.MarketCap = &marketCap
	return nil
}
