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

// factsRepo implements FactsRepo for PostgreSQL
type factsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewFactsRepo creates a new PostgreSQL facts repository
func NewFactsRepo(db *sqlx.DB, timeout time.Duration) persistence.FactsRepo {
	return &factsRepo{
		db:      db,
		timeout: timeout,
	}
}

const factColumns = `symbol, concept, period_type, fiscal_year, fiscal_period,
	end_date, start_date, unit, value, currency, provider, cik, accn, filed,
	frame, accounting_standard, normalized_at`

// ReplaceFacts swaps a symbol's entire fact set in one transaction. Either
// every new fact lands or the previous set survives untouched.
func (r *factsRepo) ReplaceFacts(ctx context.Context, symbol string, facts []domain.Fact) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(facts)/500+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE symbol = $1`, symbol); err != nil {
		return 0, fmt.Errorf("failed to delete facts for %s: %w", symbol, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO facts (`+factColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (symbol, concept, period_type, fiscal_year, fiscal_period) DO UPDATE SET
			end_date = EXCLUDED.end_date,
			start_date = EXCLUDED.start_date,
			unit = EXCLUDED.unit,
			value = EXCLUDED.value,
			currency = EXCLUDED.currency,
			provider = EXCLUDED.provider,
			cik = EXCLUDED.cik,
			accn = EXCLUDED.accn,
			filed = EXCLUDED.filed,
			frame = EXCLUDED.frame,
			accounting_standard = EXCLUDED.accounting_standard,
			normalized_at = EXCLUDED.normalized_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		_, err = stmt.ExecContext(ctx,
			symbol, f.Concept, f.PeriodType, f.FiscalYear, f.FiscalPeriod,
			f.EndDate, nullable(f.StartDate), f.Unit, f.Value, nullable(f.Currency),
			f.Provider, nullable(f.CIK), nullable(f.Accession), nullable(f.Filed),
			nullable(f.Frame), nullable(f.AccountingStandard), f.NormalizedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert fact %s/%s: %w", symbol, f.Concept, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit fact replacement: %w", err)
	}
	return len(facts), nil
}

// LatestFact returns the newest fact for a concept, or nil when the symbol
// has none.
func (r *factsRepo) LatestFact(ctx context.Context, symbol, concept string) (*domain.Fact, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + factColumns + `
		FROM facts
		WHERE symbol = $1 AND concept = $2
		ORDER BY end_date DESC, filed DESC NULLS LAST
		LIMIT 1`

	var row factRow
	if err := r.db.GetContext(ctx, &row, query, symbol, concept); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest fact: %w", err)
	}
	f := row.toDomain()
	return &f, nil
}

// FactsForConcept returns facts newest-first (end date desc, filed desc).
func (r *factsRepo) FactsForConcept(ctx context.Context, symbol, concept string, q persistence.FactQuery) ([]domain.Fact, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + factColumns + `
		FROM facts
		WHERE symbol = $1 AND concept = $2`
	args := []interface{}{symbol, concept}

	if q.FiscalPeriod != "" {
		query += fmt.Sprintf(" AND fiscal_period = $%d", len(args)+1)
		args = append(args, q.FiscalPeriod)
	}
	query += " ORDER BY end_date DESC, filed DESC NULLS LAST"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, q.Limit)
	}

	var rows []factRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}

	facts := make([]domain.Fact, 0, len(rows))
	for _, row := range rows {
		facts = append(facts, row.toDomain())
	}
	return facts, nil
}

// factRow mirrors the facts table with NULLable text columns.
type factRow struct {
	Symbol             string         `db:"symbol"`
	Concept            string         `db:"concept"`
	PeriodType         string         `db:"period_type"`
	FiscalYear         int            `db:"fiscal_year"`
	FiscalPeriod       string         `db:"fiscal_period"`
	EndDate            string         `db:"end_date"`
	StartDate          sql.NullString `db:"start_date"`
	Unit               string         `db:"unit"`
	Value              float64        `db:"value"`
	Currency           sql.NullString `db:"currency"`
	Provider           string         `db:"provider"`
	CIK                sql.NullString `db:"cik"`
	Accession          sql.NullString `db:"accn"`
	Filed              sql.NullString `db:"filed"`
	Frame              sql.NullString `db:"frame"`
	AccountingStandard sql.NullString `db:"accounting_standard"`
	NormalizedAt       time.Time      `db:"normalized_at"`
}

func (r factRow) toDomain() domain.Fact {
	return domain.Fact{
		Symbol:             r.Symbol,
		Concept:            r.Concept,
		PeriodType:         r.PeriodType,
		FiscalYear:         r.FiscalYear,
		FiscalPeriod:       r.FiscalPeriod,
		EndDate:            r.EndDate,
		StartDate:          r.StartDate.String,
		Unit:               r.Unit,
		Value:              r.Value,
		Currency:           r.Currency.String,
		Provider:           r.Provider,
		CIK:                r.CIK.String,
		Accession:          r.Accession.String,
		Filed:              r.Filed.String,
		Frame:              r.Frame.String,
		AccountingStandard: r.AccountingStandard.String,
		NormalizedAt:       r.NormalizedAt,
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
