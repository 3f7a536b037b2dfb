package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens a Postgres connection pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables the engine needs if they do not exist.
// Idempotent, safe to run at every startup.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS facts (
			symbol TEXT NOT NULL,
			concept TEXT NOT NULL,
			period_type TEXT NOT NULL,
			fiscal_year INTEGER NOT NULL,
			fiscal_period TEXT NOT NULL DEFAULT '',
			end_date TEXT NOT NULL,
			start_date TEXT,
			unit TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			currency TEXT,
			provider TEXT NOT NULL,
			cik TEXT,
			accn TEXT,
			filed TEXT,
			frame TEXT,
			accounting_standard TEXT,
			normalized_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (symbol, concept, period_type, fiscal_year, fiscal_period)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_symbol_concept_end
			ON facts (symbol, concept, end_date DESC)`,
		`CREATE TABLE IF NOT EXISTS market_snapshots (
			symbol TEXT PRIMARY KEY,
			as_of TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			volume BIGINT,
			shares_outstanding DOUBLE PRECISION,
			market_cap DOUBLE PRECISION,
			currency TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS metric_values (
			symbol TEXT NOT NULL,
			metric_id TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			as_of TEXT NOT NULL,
			currency TEXT,
			inputs TEXT[],
			computed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (symbol, metric_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
