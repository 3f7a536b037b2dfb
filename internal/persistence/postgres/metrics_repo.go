package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/valuerun/valuerun/internal/domain"
	"github.com/valuerun/valuerun/internal/persistence"
)

// metricsRepo implements MetricsRepo for PostgreSQL
type metricsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMetricsRepo creates a new PostgreSQL metrics repository
func NewMetricsRepo(db *sqlx.DB, timeout time.Duration) persistence.MetricsRepo {
	return &metricsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Upsert inserts or updates the value for (symbol, metric_id).
func (r *metricsRepo) Upsert(ctx context.Context, mv domain.MetricValue) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO metric_values (symbol, metric_id, value, as_of, currency, inputs, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, metric_id) DO UPDATE SET
			value = EXCLUDED.value,
			as_of = EXCLUDED.as_of,
			currency = EXCLUDED.currency,
			inputs = EXCLUDED.inputs,
			computed_at = EXCLUDED.computed_at`

	_, err := r.db.ExecContext(ctx, query,
		mv.Symbol, mv.MetricID, mv.Value, mv.AsOf, nullable(mv.Currency),
		pq.Array(mv.Inputs), mv.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert metric %s/%s: %w", mv.Symbol, mv.MetricID, err)
	}
	return nil
}

// Fetch returns the stored value, or nil when none exists.
func (r *metricsRepo) Fetch(ctx context.Context, symbol, metricID string) (*domain.MetricValue, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, metric_id, value, as_of, currency, inputs, computed_at
		FROM metric_values
		WHERE symbol = $1 AND metric_id = $2`

	var row struct {
		Symbol     string         `db:"symbol"`
		MetricID   string         `db:"metric_id"`
		Value      float64        `db:"value"`
		AsOf       string         `db:"as_of"`
		Currency   sql.NullString `db:"currency"`
		Inputs     pq.StringArray `db:"inputs"`
		ComputedAt time.Time      `db:"computed_at"`
	}
	if err := r.db.GetContext(ctx, &row, query, symbol, metricID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch metric: %w", err)
	}

	return &domain.MetricValue{
		Symbol:     row.Symbol,
		MetricID:   row.MetricID,
		Value:      row.Value,
		AsOf:       row.AsOf,
		Currency:   row.Currency.String,
		Inputs:     []string(row.Inputs),
		ComputedAt: row.ComputedAt,
	}, nil
}

// DeleteForSymbol removes all of a symbol's metric values.
func (r *metricsRepo) DeleteForSymbol(ctx context.Context, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM metric_values WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("failed to delete metrics for %s: %w", symbol, err)
	}
	return nil
}
