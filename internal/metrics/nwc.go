package metrics

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/valuerun/valuerun/internal/domain"
)

var nwcConcepts = []string{
	"AssetsCurrent",
	"LiabilitiesCurrent",
	"CashAndShortTermInvestments",
	"CashAndCashEquivalents",
	"ShortTermInvestments",
	"ShortTermDebt",
}

var fyPeriodSet = map[string]bool{"FY": true}

// nwcPoint is one computed net-working-capital observation:
// (current assets - cash) - max(current liabilities - short-term debt, 0).
type nwcPoint struct {
	value        float64
	asOf         string
	fiscalPeriod string
	currency     string
}

// nwcPointKey keys concept records on (end date, fiscal period).
type nwcPointKey struct {
	endDate string
	period  string
}

func buildNWCPoints(ctx context.Context, env Env, symbol string, periods map[string]bool) ([]nwcPoint, error) {
	maps := make(map[string]map[nwcPointKey]domain.Fact, len(nwcConcepts))
	for _, concept := range nwcConcepts {
		records, err := env.Facts.FactsForConcept(ctx, symbol, concept, factQueryAll)
		if err != nil {
			return nil, err
		}
		maps[concept] = nwcPeriodMap(records, periods)
	}

	assetsMap := maps["AssetsCurrent"]
	liabilitiesMap := maps["LiabilitiesCurrent"]
	var keys []nwcPointKey
	for key := range assetsMap {
		if _, ok := liabilitiesMap[key]; ok {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].endDate != keys[j].endDate {
			return keys[i].endDate > keys[j].endDate
		}
		return keys[i].period > keys[j].period
	})

	var points []nwcPoint
	for _, key := range keys {
		point, ok := computeNWCPoint(symbol, key, maps)
		if ok {
			points = append(points, point)
		}
	}
	return points, nil
}

func computeNWCPoint(symbol string, key nwcPointKey, maps map[string]map[nwcPointKey]domain.Fact) (nwcPoint, bool) {
	assets := maps["AssetsCurrent"][key]
	liabilities := maps["LiabilitiesCurrent"][key]
	assetsValue, assetsCurrency := normalizeAmount(assets)
	liabilitiesValue, liabilitiesCurrency := normalizeAmount(liabilities)

	cashValue, cashCurrency, ok := nwcCashAmount(symbol, key, maps)
	if !ok {
		return nwcPoint{}, false
	}

	shortDebtValue, shortDebtCurrency := 0.0, ""
	if shortDebt, present := maps["ShortTermDebt"][key]; present {
		shortDebtValue, shortDebtCurrency = normalizeAmount(shortDebt)
	}

	currency, merged := mergeCurrency(assetsCurrency, liabilitiesCurrency, cashCurrency, shortDebtCurrency)
	if !merged {
		log.Debug().Str("symbol", symbol).Str("end_date", key.endDate).
			Msg("nwc: currency mismatch")
		return nwcPoint{}, false
	}

	adjustedLiabilities := liabilitiesValue - shortDebtValue
	if adjustedLiabilities < 0 {
		adjustedLiabilities = 0
	}
	return nwcPoint{
		value:        (assetsValue - cashValue) - adjustedLiabilities,
		asOf:         key.endDate,
		fiscalPeriod: key.period,
		currency:     currency,
	}, true
}

// nwcCashAmount prefers the combined cash-and-short-term-investments line and
// falls back to summing the components.
func nwcCashAmount(symbol string, key nwcPointKey, maps map[string]map[nwcPointKey]domain.Fact) (float64, string, bool) {
	if primary, ok := maps["CashAndShortTermInvestments"][key]; ok {
		value, currency := normalizeAmount(primary)
		return value, currency, true
	}
	equivalents, hasEquivalents := maps["CashAndCashEquivalents"][key]
	investments, hasInvestments := maps["ShortTermInvestments"][key]
	if !hasEquivalents && !hasInvestments {
		return 0, "", false
	}
	total, currency := 0.0, ""
	if hasEquivalents {
		value, code := normalizeAmount(equivalents)
		total += value
		currency = code
	}
	if hasInvestments {
		value, code := normalizeAmount(investments)
		merged, ok := mergeCurrency(currency, code)
		if !ok {
			log.Debug().Str("symbol", symbol).Str("end_date", key.endDate).
				Msg("nwc: cash fallback currency mismatch")
			return 0, "", false
		}
		total += value
		currency = merged
	}
	return total, currency, true
}

func nwcPeriodMap(records []domain.Fact, periods map[string]bool) map[nwcPointKey]domain.Fact {
	mapped := make(map[nwcPointKey]domain.Fact)
	for _, record := range records {
		if !periods[record.FiscalPeriod] {
			continue
		}
		key := nwcPointKey{endDate: record.EndDate, period: record.FiscalPeriod}
		if _, ok := mapped[key]; !ok {
			mapped[key] = record
		}
	}
	return mapped
}

func latestNWCPoint(points []nwcPoint, env Env, maxAgeDays int) (nwcPoint, GapReason) {
	if len(points) == 0 {
		return nwcPoint{}, GapMissingInput
	}
	latest := points[0]
	if !isRecentDate(latest.asOf, env.now(), maxAgeDays) {
		return nwcPoint{}, GapMissingInput
	}
	return latest, ""
}

// NWCMostRecentQuarter is net working capital at the latest quarter end.
type NWCMostRecentQuarter struct{}

func (NWCMostRecentQuarter) ID() string                 { return "nwc_mqr" }
func (NWCMostRecentQuarter) RequiredConcepts() []string { return nwcConcepts }

func (m NWCMostRecentQuarter) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	points, err := buildNWCPoints(ctx, env, symbol, domain.QuarterPeriods)
	if err != nil {
		return Result{}, err
	}
	latest, reason := latestNWCPoint(points, env, maxFactAgeDays)
	if reason != "" {
		return gapResult(symbol, m.ID(), reason), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    latest.value,
		AsOf:     latest.asOf,
		Currency: latest.currency,
		Inputs:   nwcConcepts,
	}, nil
}

// NWCFiscalYear is net working capital at the latest fiscal-year end.
type NWCFiscalYear struct{}

func (NWCFiscalYear) ID() string                 { return "nwc_fy" }
func (NWCFiscalYear) RequiredConcepts() []string { return nwcConcepts }

func (m NWCFiscalYear) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	points, err := buildNWCPoints(ctx, env, symbol, fyPeriodSet)
	if err != nil {
		return Result{}, err
	}
	latest, reason := latestNWCPoint(points, env, maxFYFactAgeDays)
	if reason != "" {
		return gapResult(symbol, m.ID(), reason), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    latest.value,
		AsOf:     latest.asOf,
		Currency: latest.currency,
		Inputs:   nwcConcepts,
	}, nil
}

// DeltaNWCTTM is the latest quarter's NWC minus the same fiscal quarter one
// year earlier.
type DeltaNWCTTM struct{}

func (DeltaNWCTTM) ID() string                 { return "delta_nwc_ttm" }
func (DeltaNWCTTM) RequiredConcepts() []string { return nwcConcepts }

func (m DeltaNWCTTM) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	points, err := buildNWCPoints(ctx, env, symbol, domain.QuarterPeriods)
	if err != nil {
		return Result{}, err
	}
	latest, reason := latestNWCPoint(points, env, maxFactAgeDays)
	if reason != "" {
		return gapResult(symbol, m.ID(), reason), nil
	}
	latestYear, ok := yearOf(latest.asOf)
	if !ok {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	for _, point := range points[1:] {
		year, ok := yearOf(point.asOf)
		if ok && point.fiscalPeriod == latest.fiscalPeriod && year == latestYear-1 {
			return Result{
				Symbol:   symbol,
				MetricID: m.ID(),
				Value:    latest.value - point.value,
				AsOf:     latest.asOf,
				Currency: latest.currency,
				Inputs:   nwcConcepts,
			}, nil
		}
	}
	return gapResult(symbol, m.ID(), GapInsufficientPeriods), nil
}

// DeltaNWCFY is the latest fiscal-year NWC minus the strictly prior year's.
type DeltaNWCFY struct{}

func (DeltaNWCFY) ID() string                 { return "delta_nwc_fy" }
func (DeltaNWCFY) RequiredConcepts() []string { return nwcConcepts }

func (m DeltaNWCFY) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	points, err := buildNWCPoints(ctx, env, symbol, fyPeriodSet)
	if err != nil {
		return Result{}, err
	}
	latest, reason := latestNWCPoint(points, env, maxFYFactAgeDays)
	if reason != "" {
		return gapResult(symbol, m.ID(), reason), nil
	}
	latestYear, ok := yearOf(latest.asOf)
	if !ok {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	for _, point := range points[1:] {
		if year, ok := yearOf(point.asOf); ok && year == latestYear-1 {
			return Result{
				Symbol:   symbol,
				MetricID: m.ID(),
				Value:    latest.value - point.value,
				AsOf:     latest.asOf,
				Currency: latest.currency,
				Inputs:   nwcConcepts,
			}, nil
		}
	}
	return gapResult(symbol, m.ID(), GapInsufficientPeriods), nil
}

// DeltaNWCMaint is the maintenance working-capital requirement: the average
// of the last three fiscal-year NWC deltas, floored at zero. Needs four
// consecutive fiscal years.
type DeltaNWCMaint struct{}

func (DeltaNWCMaint) ID() string                 { return "delta_nwc_maint" }
func (DeltaNWCMaint) RequiredConcepts() []string { return nwcConcepts }

func (m DeltaNWCMaint) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	points, err := buildNWCPoints(ctx, env, symbol, fyPeriodSet)
	if err != nil {
		return Result{}, err
	}
	latest, reason := latestNWCPoint(points, env, maxFYFactAgeDays)
	if reason != "" {
		return gapResult(symbol, m.ID(), reason), nil
	}
	latestYear, ok := yearOf(latest.asOf)
	if !ok {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	byYear := make(map[int]nwcPoint)
	for _, point := range points {
		if year, ok := yearOf(point.asOf); ok {
			if _, exists := byYear[year]; !exists {
				byYear[year] = point
			}
		}
	}
	for offset := 0; offset < 4; offset++ {
		if _, exists := byYear[latestYear-offset]; !exists {
			log.Debug().Str("symbol", symbol).Msg("delta_nwc_maint: need 4 consecutive FY points")
			return gapResult(symbol, m.ID(), GapInsufficientPeriods), nil
		}
	}

	deltaLatest := byYear[latestYear].value - byYear[latestYear-1].value
	deltaPrev1 := byYear[latestYear-1].value - byYear[latestYear-2].value
	deltaPrev2 := byYear[latestYear-2].value - byYear[latestYear-3].value
	average := (deltaLatest + deltaPrev1 + deltaPrev2) / 3.0
	if average < 0 {
		average = 0
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    average,
		AsOf:     latest.asOf,
		Currency: latest.currency,
		Inputs:   nwcConcepts,
	}, nil
}
