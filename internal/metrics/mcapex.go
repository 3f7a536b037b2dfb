package metrics

import (
	"context"

	"github.com/rs/zerolog/log"
)

const (
	capexConcept      = "CapitalExpenditures"
	daPrimaryConcept  = "DepreciationDepletionAndAmortization"
	daFallbackConcept = "DepreciationFromCashFlow"

	// Capex above this multiple of depreciation is treated as growth
	// spending, not maintenance.
	daMultiplier = 1.1
)

var mcapexConcepts = []string{capexConcept, daPrimaryConcept, daFallbackConcept}

// mcapexValue combines absolute capex and depreciation totals into the
// maintenance-capex proxy min(|capex|, 1.1 x |D&A|). Either side alone is
// usable; a currency mismatch between the two is not.
func mcapexValue(capex, da *amount, symbol, metricID string) *amount {
	if capex == nil && da == nil {
		return nil
	}
	if capex != nil && da != nil {
		if !currenciesMatch(capex.currency, da.currency) {
			log.Debug().Str("symbol", symbol).Str("metric", metricID).
				Msg("mcapex currency mismatch")
			return nil
		}
		total := capex.total
		if capped := daMultiplier * da.total; capped < total {
			total = capped
		}
		return &amount{
			total:    total,
			asOf:     maxDate(capex.asOf, da.asOf),
			currency: firstNonEmpty(capex.currency, da.currency),
		}
	}
	if capex != nil {
		return capex
	}
	return &amount{total: daMultiplier * da.total, asOf: da.asOf, currency: da.currency}
}

// mcapexFYPoints computes one maintenance-capex value per fiscal-year end
// over the union of capex and depreciation dates, newest first.
func mcapexFYPoints(ctx context.Context, env Env, symbol string) ([]amount, error) {
	capexMap, err := fyAmountMap(ctx, env, symbol, capexConcept, true)
	if err != nil {
		return nil, err
	}
	daPrimaryMap, err := fyAmountMap(ctx, env, symbol, daPrimaryConcept, true)
	if err != nil {
		return nil, err
	}
	daFallbackMap, err := fyAmountMap(ctx, env, symbol, daFallbackConcept, true)
	if err != nil {
		return nil, err
	}

	dates := make(map[string]bool)
	for d := range capexMap {
		dates[d] = true
	}
	for d := range daPrimaryMap {
		dates[d] = true
	}
	for d := range daFallbackMap {
		dates[d] = true
	}

	var points []amount
	for _, endDate := range sortedDatesDesc(dates) {
		var capex, da *amount
		if entry, ok := capexMap[endDate]; ok {
			capex = &entry
		}
		if entry, ok := daPrimaryMap[endDate]; ok {
			da = &entry
		} else if entry, ok := daFallbackMap[endDate]; ok {
			da = &entry
		}
		value := mcapexValue(capex, da, symbol, "mcapex_fy")
		if value == nil {
			continue
		}
		points = append(points, amount{total: value.total, asOf: endDate, currency: value.currency})
	}
	return points, nil
}

// fyAmountMap maps fiscal-year end dates to currency-normalized amounts,
// optionally absolute-valued.
func fyAmountMap(ctx context.Context, env Env, symbol, concept string, absolute bool) (map[string]amount, error) {
	records, err := fyRecords(ctx, env, symbol, concept)
	if err != nil {
		return nil, err
	}
	mapped := make(map[string]amount)
	for _, record := range filterFY(records) {
		value, currency := normalizeAmount(record)
		if absolute && value < 0 {
			value = -value
		}
		mapped[record.EndDate] = amount{total: value, asOf: record.EndDate, currency: currency}
	}
	return mapped, nil
}

// MCapexFY is the latest fiscal year's maintenance-capex proxy.
type MCapexFY struct{}

func (MCapexFY) ID() string                 { return "mcapex_fy" }
func (MCapexFY) RequiredConcepts() []string { return mcapexConcepts }

func (m MCapexFY) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	points, err := mcapexFYPoints(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	if len(points) == 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	latest := points[0]
	if !isRecentDate(latest.asOf, env.now(), maxFYFactAgeDays) {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    latest.total,
		AsOf:     latest.asOf,
		Currency: latest.currency,
		Inputs:   mcapexConcepts,
	}, nil
}

// MCapexFiveYear averages the latest five fiscal years of the proxy.
type MCapexFiveYear struct{}

func (MCapexFiveYear) ID() string                 { return "mcapex_5y" }
func (MCapexFiveYear) RequiredConcepts() []string { return mcapexConcepts }

func (m MCapexFiveYear) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	points, err := mcapexFYPoints(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	if len(points) == 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	if len(points) < 5 {
		return gapResult(symbol, m.ID(), GapInsufficientPeriods), nil
	}
	latest := points[0]
	if !isRecentDate(latest.asOf, env.now(), maxFYFactAgeDays) {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	total := 0.0
	for _, point := range points[:5] {
		total += point.total
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    total / 5.0,
		AsOf:     latest.asOf,
		Currency: latest.currency,
		Inputs:   mcapexConcepts,
	}, nil
}

// MCapexTTM is the trailing-twelve-month maintenance-capex proxy.
type MCapexTTM struct{}

func (MCapexTTM) ID() string                 { return "mcapex_ttm" }
func (MCapexTTM) RequiredConcepts() []string { return mcapexConcepts }

func (m MCapexTTM) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	capex, capexReason, err := ttmSum(ctx, env, symbol, []string{capexConcept}, true)
	if err != nil {
		return Result{}, err
	}
	da, _, err := ttmSum(ctx, env, symbol, []string{daPrimaryConcept}, true)
	if err != nil {
		return Result{}, err
	}
	if da == nil {
		da, _, err = ttmSum(ctx, env, symbol, []string{daFallbackConcept}, true)
		if err != nil {
			return Result{}, err
		}
	}
	if capex == nil && da == nil {
		return gapResult(symbol, m.ID(), capexReason), nil
	}
	value := mcapexValue(capex, da, symbol, "mcapex_ttm")
	if value == nil {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    value.total,
		AsOf:     value.asOf,
		Currency: value.currency,
		Inputs:   mcapexConcepts,
	}, nil
}
