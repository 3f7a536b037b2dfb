package metrics

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/valuerun/valuerun/internal/domain"
)

const defaultTaxRate = 0.21

// ReturnOnInvestedCapital is NOPAT (TTM EBIT after the effective tax rate)
// over average invested capital (debt plus equity minus cash) at the two most
// recent balance-sheet dates where all four components align.
type ReturnOnInvestedCapital struct{}

func (ReturnOnInvestedCapital) ID() string { return "return_on_invested_capital" }

func (ReturnOnInvestedCapital) RequiredConcepts() []string {
	return []string{
		"OperatingIncomeLoss",
		"IncomeTaxExpense",
		"IncomeBeforeIncomeTaxes",
		"ShortTermDebt",
		"LongTermDebt",
		"StockholdersEquity",
		"CashAndShortTermInvestments",
	}
}

func (m ReturnOnInvestedCapital) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	ebit, reason, err := ttmSum(ctx, env, symbol, []string{"OperatingIncomeLoss"}, false)
	if err != nil {
		return Result{}, err
	}
	if ebit == nil {
		return gapResult(symbol, m.ID(), reason), nil
	}

	taxRate, err := m.effectiveTaxRate(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	nopat := ebit.total * (1.0 - taxRate)
	if nopat <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	points, err := m.investedCapitalPoints(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	if len(points) < 2 {
		return gapResult(symbol, m.ID(), GapInsufficientPeriods), nil
	}
	latest, previous := points[0], points[1]
	avgCapital := (latest.total + previous.total) / 2.0
	if avgCapital <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	if !currenciesMatch(ebit.currency, latest.currency) {
		log.Debug().Str("symbol", symbol).Msg("roic: currency mismatch")
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    nopat / avgCapital,
		AsOf:     maxDate(ebit.asOf, latest.asOf),
		Currency: firstNonEmpty(ebit.currency, latest.currency),
		Inputs:   m.RequiredConcepts(),
	}, nil
}

// effectiveTaxRate derives the TTM tax rate, falling back to the statutory
// default when history is thin, pretax income is non-positive, or the rate
// lands outside [0, 1].
func (m ReturnOnInvestedCapital) effectiveTaxRate(ctx context.Context, env Env, symbol string) (float64, error) {
	tax, _, err := ttmSum(ctx, env, symbol, []string{"IncomeTaxExpense"}, false)
	if err != nil {
		return 0, err
	}
	pretax, _, err := ttmSum(ctx, env, symbol, []string{"IncomeBeforeIncomeTaxes"}, false)
	if err != nil {
		return 0, err
	}
	if tax == nil || pretax == nil || pretax.total <= 0 {
		return defaultTaxRate, nil
	}
	if !currenciesMatch(tax.currency, pretax.currency) {
		return defaultTaxRate, nil
	}
	rate := tax.total / pretax.total
	if rate < 0 || rate > 1 {
		return defaultTaxRate, nil
	}
	return rate, nil
}

// investedCapitalPoints prefers quarterly balance-sheet alignment and falls
// back to fiscal years when fewer than two quarterly points line up.
func (m ReturnOnInvestedCapital) investedCapitalPoints(ctx context.Context, env Env, symbol string) ([]amount, error) {
	points, err := m.capitalPointsFor(ctx, env, symbol, domain.QuarterPeriods, maxFactAgeDays)
	if err != nil {
		return nil, err
	}
	if len(points) < 2 {
		points, err = m.capitalPointsFor(ctx, env, symbol, fyPeriodSet, maxFYFactAgeDays)
		if err != nil {
			return nil, err
		}
	}
	return points, nil
}

func (m ReturnOnInvestedCapital) capitalPointsFor(ctx context.Context, env Env, symbol string, periods map[string]bool, maxAgeDays int) ([]amount, error) {
	concepts := []string{"ShortTermDebt", "LongTermDebt", "StockholdersEquity", "CashAndShortTermInvestments"}
	maps := make([]map[string]domain.Fact, len(concepts))
	for i, concept := range concepts {
		records, err := env.Facts.FactsForConcept(ctx, symbol, concept, factQueryAll)
		if err != nil {
			return nil, err
		}
		maps[i] = periodEndMap(records, periods)
	}

	shared := make(map[string]bool)
	for endDate := range maps[0] {
		aligned := true
		for _, mapped := range maps[1:] {
			if _, ok := mapped[endDate]; !ok {
				aligned = false
				break
			}
		}
		if aligned {
			shared[endDate] = true
		}
	}

	var points []amount
	for _, endDate := range sortedDatesDesc(shared) {
		short, long, equity, cash := maps[0][endDate], maps[1][endDate], maps[2][endDate], maps[3][endDate]
		if !isRecentDate(endDate, env.now(), maxAgeDays) {
			continue
		}
		shortValue, shortCurrency := normalizeAmount(short)
		longValue, longCurrency := normalizeAmount(long)
		equityValue, equityCurrency := normalizeAmount(equity)
		cashValue, cashCurrency := normalizeAmount(cash)
		currency, ok := mergeCurrency(shortCurrency, longCurrency, equityCurrency, cashCurrency)
		if !ok {
			continue
		}
		points = append(points, amount{
			total:    shortValue + longValue + equityValue - cashValue,
			asOf:     endDate,
			currency: currency,
		})
	}
	return points, nil
}
