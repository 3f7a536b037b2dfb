package metrics

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/valuerun/valuerun/internal/domain"
)

// InterestCoverage is TTM operating income over TTM interest expense, built
// from four date-aligned consecutive quarters of both series.
type InterestCoverage struct{}

func (InterestCoverage) ID() string { return "interest_coverage" }

func (InterestCoverage) RequiredConcepts() []string {
	return []string{"OperatingIncomeLoss", "InterestExpense"}
}

func (m InterestCoverage) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	ebitRecords, err := env.Facts.FactsForConcept(ctx, symbol, "OperatingIncomeLoss", factQueryAll)
	if err != nil {
		return Result{}, err
	}
	interestRecords, err := env.Facts.FactsForConcept(ctx, symbol, "InterestExpense", factQueryAll)
	if err != nil {
		return Result{}, err
	}
	ebitQuarters := filterQuarterly(ebitRecords)
	interestMap := periodEndMap(interestRecords, domain.QuarterPeriods)
	if len(ebitQuarters) == 0 || len(interestMap) == 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	// Keep EBIT quarter order (newest first) and align on shared end dates.
	var window []domain.Fact
	ebitTTM, interestTTM := 0.0, 0.0
	currency := ""
	for _, record := range ebitQuarters {
		interest, ok := interestMap[record.EndDate]
		if !ok {
			continue
		}
		ebitValue, ebitCurrency := normalizeAmount(record)
		interestValue, interestCurrency := normalizeAmount(interest)
		merged, ok := mergeCurrency(currency, ebitCurrency, interestCurrency)
		if !ok {
			log.Debug().Str("symbol", symbol).Msg("interest_coverage: currency mismatch")
			return gapResult(symbol, m.ID(), GapMissingInput), nil
		}
		currency = merged
		ebitTTM += ebitValue
		interestTTM += interestValue
		window = append(window, record)
		if len(window) == 4 {
			break
		}
	}
	if len(window) < 4 || !consecutiveQuarters(window) {
		return gapResult(symbol, m.ID(), GapInsufficientPeriods), nil
	}
	if !isRecentDate(window[0].EndDate, env.now(), maxFactAgeDays) {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	if ebitTTM <= 0 || interestTTM <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    ebitTTM / interestTTM,
		AsOf:     window[0].EndDate,
		Currency: currency,
		Inputs:   m.RequiredConcepts(),
	}, nil
}

// NetDebtToEBITDA is (short + long debt - cash) over TTM EBITDA.
type NetDebtToEBITDA struct{}

func (NetDebtToEBITDA) ID() string { return "net_debt_to_ebitda" }

func (NetDebtToEBITDA) RequiredConcepts() []string {
	return []string{"EBITDA", "ShortTermDebt", "LongTermDebt", "CashAndShortTermInvestments"}
}

func (m NetDebtToEBITDA) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	ebitda, reason, err := ttmSum(ctx, env, symbol, []string{"EBITDA"}, false)
	if err != nil {
		return Result{}, err
	}
	if ebitda == nil {
		return gapResult(symbol, m.ID(), reason), nil
	}
	if ebitda.total <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	debt, debtReason, err := totalDebt(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	if debt == nil {
		return gapResult(symbol, m.ID(), debtReason), nil
	}
	cash, err := env.Facts.LatestFact(ctx, symbol, "CashAndShortTermInvestments")
	if err != nil {
		return Result{}, err
	}
	if cash == nil || !isRecent(cash, env.now(), maxFactAgeDays) {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	cashValue, cashCurrency := normalizeAmount(*cash)
	currency, ok := mergeCurrency(debt.currency, cashCurrency)
	if !ok || !currenciesMatch(currency, ebitda.currency) {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	netDebt := debt.total - cashValue
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    netDebt / ebitda.total,
		AsOf:     maxDate(ebitda.asOf, debt.asOf, cash.EndDate),
		Currency: firstNonEmpty(currency, ebitda.currency),
		Inputs:   m.RequiredConcepts(),
	}, nil
}

// DebtPaydownYears is total debt over TTM free cash flow. Missing capex
// history degrades to zero capex rather than a gap.
type DebtPaydownYears struct{}

func (DebtPaydownYears) ID() string { return "debt_paydown_years" }

func (DebtPaydownYears) RequiredConcepts() []string {
	return []string{
		"NetCashProvidedByUsedInOperatingActivities",
		"CapitalExpenditures",
		"ShortTermDebt",
		"LongTermDebt",
	}
}

func (m DebtPaydownYears) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	debt, debtReason, err := totalDebt(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	if debt == nil {
		return gapResult(symbol, m.ID(), debtReason), nil
	}

	operating, reason, err := ttmSum(ctx, env, symbol,
		[]string{"NetCashProvidedByUsedInOperatingActivities"}, false)
	if err != nil {
		return Result{}, err
	}
	if operating == nil {
		return gapResult(symbol, m.ID(), reason), nil
	}
	capex, _, err := ttmSum(ctx, env, symbol, []string{"CapitalExpenditures"}, false)
	if err != nil {
		return Result{}, err
	}

	capexTotal, capexAsOf, capexCurrency := 0.0, operating.asOf, ""
	if capex != nil {
		capexTotal, capexAsOf, capexCurrency = capex.total, capex.asOf, capex.currency
	} else {
		log.Debug().Str("symbol", symbol).Msg("debt_paydown_years: no capex history, assuming zero")
	}
	fcf := operating.total - capexTotal
	if fcf <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	fcfCurrency := firstNonEmpty(operating.currency, capexCurrency)
	if !currenciesMatch(debt.currency, fcfCurrency) {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    debt.total / fcf,
		AsOf:     maxDate(debt.asOf, operating.asOf, capexAsOf),
		Currency: firstNonEmpty(debt.currency, fcfCurrency),
		Inputs:   m.RequiredConcepts(),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
