package domain

import "time"

// Period type discriminators for canonical facts.
const (
	PeriodTypeFY      = "FY"
	PeriodTypeQuarter = "Q"
)

// Quarterly fiscal period labels.
var QuarterPeriods = map[string]bool{"Q1": true, "Q2": true, "Q3": true, "Q4": true}

// Fact is one canonical value for one concept at one reporting period.
// Dates are ISO-8601 (yyyy-mm-dd) strings so lexicographic ordering matches
// chronological ordering.
type Fact struct {
	Symbol             string    `json:"symbol" db:"symbol"`
	Concept            string    `json:"concept" db:"concept"`
	PeriodType         string    `json:"period_type" db:"period_type"`
	FiscalYear         int       `json:"fiscal_year" db:"fiscal_year"`
	FiscalPeriod       string    `json:"fiscal_period" db:"fiscal_period"`
	EndDate            string    `json:"end_date" db:"end_date"`
	StartDate          string    `json:"start_date,omitempty" db:"start_date"`
	Unit               string    `json:"unit" db:"unit"`
	Value              float64   `json:"value" db:"value"`
	Currency           string    `json:"currency,omitempty" db:"currency"`
	Provider           string    `json:"provider" db:"provider"`
	CIK                string    `json:"cik,omitempty" db:"cik"`
	Accession          string    `json:"accn,omitempty" db:"accn"`
	Filed              string    `json:"filed,omitempty" db:"filed"`
	Frame              string    `json:"frame,omitempty" db:"frame"`
	AccountingStandard string    `json:"accounting_standard,omitempty" db:"accounting_standard"`
	NormalizedAt       time.Time `json:"normalized_at" db:"normalized_at"`
}

// IsFlow reports whether the fact covers a duration rather than an instant.
func (f Fact) IsFlow() bool { return f.StartDate != "" }

// IsQuarterly reports whether the fact carries a Q1..Q4 fiscal period label.
func (f Fact) IsQuarterly() bool { return QuarterPeriods[f.FiscalPeriod] }

// EndYear returns the calendar year of the period end date, or 0 when the
// date is malformed.
func (f Fact) EndYear() int {
	t, err := time.Parse("2006-01-02", f.EndDate)
	if err != nil {
		return 0
	}
	return t.Year()
}

// MarketSnapshot is the latest price/market-cap observation for a symbol.
type MarketSnapshot struct {
	Symbol            string   `json:"symbol" db:"symbol"`
	AsOf              string   `json:"as_of" db:"as_of"`
	Price             float64  `json:"price" db:"price"`
	Volume            *int64   `json:"volume,omitempty" db:"volume"`
	SharesOutstanding *float64 `json:"shares_outstanding,omitempty" db:"shares_outstanding"`
	MarketCap         *float64 `json:"market_cap,omitempty" db:"market_cap"`
	Currency          string   `json:"currency,omitempty" db:"currency"`
}

// MetricValue is a persisted metric computation for a symbol.
type MetricValue struct {
	Symbol     string    `json:"symbol" db:"symbol"`
	MetricID   string    `json:"metric_id" db:"metric_id"`
	Value      float64   `json:"value" db:"value"`
	AsOf       string    `json:"as_of" db:"as_of"`
	Currency   string    `json:"currency,omitempty" db:"currency"`
	Inputs     []string  `json:"inputs,omitempty" db:"inputs"`
	ComputedAt time.Time `json:"computed_at" db:"computed_at"`
}
