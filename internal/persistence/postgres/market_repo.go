package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/valuerun/valuerun/internal/domain"
	"github.com/valuerun/valuerun/internal/persistence"
)

// marketRepo implements MarketDataRepo for PostgreSQL
type marketRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMarketDataRepo creates a new PostgreSQL market-data repository
func NewMarketDataRepo(db *sqlx.DB, timeout time.Duration) persistence.MarketDataRepo {
	return &marketRepo{
		db:      db,
		timeout: timeout,
	}
}

// UpsertSnapshot keeps exactly one row per symbol (latest-only semantics).
func (r *marketRepo) UpsertSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO market_snapshots (symbol, as_of, price, volume, shares_outstanding, market_cap, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol) DO UPDATE SET
			as_of = EXCLUDED.as_of,
			price = EXCLUDED.price,
			volume = EXCLUDED.volume,
			shares_outstanding = EXCLUDED.shares_outstanding,
			market_cap = EXCLUDED.market_cap,
			currency = EXCLUDED.currency`

	_, err := r.db.ExecContext(ctx, query,
		snap.Symbol, snap.AsOf, snap.Price, snap.Volume,
		snap.SharesOutstanding, snap.MarketCap, nullable(snap.Currency))
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot for %s: %w", snap.Symbol, err)
	}
	return nil
}

// LatestSnapshot returns the stored snapshot, or nil when none exists.
func (r *marketRepo) LatestSnapshot(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, as_of, price, volume, shares_outstanding, market_cap, currency
		FROM market_snapshots
		WHERE symbol = $1`

	var row struct {
		Symbol            string         `db:"symbol"`
		AsOf              string         `db:"as_of"`
		Price             float64        `db:"price"`
		Volume            *int64         `db:"volume"`
		SharesOutstanding *float64       `db:"shares_outstanding"`
		MarketCap         *float64       `db:"market_cap"`
		Currency          sql.NullString `db:"currency"`
	}
	if err := r.db.GetContext(ctx, &row, query, symbol); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return &domain.MarketSnapshot{
		Symbol:            row.Symbol,
		AsOf:              row.AsOf,
		Price:             row.Price,
		Volume:            row.Volume,
		SharesOutstanding: row.SharesOutstanding,
		MarketCap:         row.MarketCap,
		Currency:          row.Currency.String,
	}, nil
}
