package metrics

import (
	"context"

	"github.com/rs/zerolog/log"
)

var ownerEarningsNIConcepts = []string{
	"NetIncomeLoss",
	"NetIncomeLossAvailableToCommonStockholdersBasic",
}

var ownerEarningsConcepts = dedupeStrings(append(append([]string{},
	ownerEarningsNIConcepts...),
	daPrimaryConcept, daFallbackConcept, capexConcept,
	"AssetsCurrent", "LiabilitiesCurrent", "CashAndShortTermInvestments",
	"CashAndCashEquivalents", "ShortTermInvestments", "ShortTermDebt"))

// ownerEarningsSnapshot is the owner-earnings numerator: net income plus
// depreciation minus maintenance capex minus the maintenance working-capital
// requirement.
type ownerEarningsSnapshot struct {
	value    float64
	asOf     string
	currency string
}

func ownerEarningsTTM(ctx context.Context, env Env, symbol string) (*ownerEarningsSnapshot, GapReason, error) {
	maint, err := DeltaNWCMaint{}.Compute(ctx, symbol, env)
	if err != nil {
		return nil, "", err
	}
	if !maint.OK() {
		return nil, maint.Gap, nil
	}

	ni, reason, err := ttmSum(ctx, env, symbol, ownerEarningsNIConcepts, false)
	if err != nil {
		return nil, "", err
	}
	if ni == nil {
		return nil, reason, nil
	}

	da, _, err := ttmSum(ctx, env, symbol, []string{daPrimaryConcept}, false)
	if err != nil {
		return nil, "", err
	}
	if da == nil {
		da, _, err = ttmSum(ctx, env, symbol, []string{daFallbackConcept}, false)
		if err != nil {
			return nil, "", err
		}
	}

	mcapex, err := ownerEarningsMCapexTTM(ctx, env, symbol)
	if err != nil {
		return nil, "", err
	}
	if mcapex == nil {
		return nil, GapMissingInput, nil
	}

	daCurrency := ""
	if da != nil {
		daCurrency = da.currency
	}
	currency, ok := mergeCurrency(ni.currency, daCurrency, mcapex.currency)
	if !ok {
		log.Debug().Str("symbol", symbol).Msg("oe_equity_ttm: currency mismatch")
		return nil, GapMissingInput, nil
	}

	daTotal := 0.0
	asOf := maxDate(ni.asOf, mcapex.asOf, maint.AsOf)
	if da != nil {
		daTotal = da.total
		asOf = maxDate(asOf, da.asOf)
	}
	value := ni.total + daTotal - mcapex.total - maint.Value
	return &ownerEarningsSnapshot{value: value, asOf: asOf, currency: currency}, "", nil
}

func ownerEarningsMCapexTTM(ctx context.Context, env Env, symbol string) (*amount, error) {
	capex, _, err := ttmSum(ctx, env, symbol, []string{capexConcept}, true)
	if err != nil {
		return nil, err
	}
	da, _, err := ttmSum(ctx, env, symbol, []string{daPrimaryConcept}, true)
	if err != nil {
		return nil, err
	}
	if da == nil {
		da, _, err = ttmSum(ctx, env, symbol, []string{daFallbackConcept}, true)
		if err != nil {
			return nil, err
		}
	}
	return mcapexValue(capex, da, symbol, "oe_equity_ttm"), nil
}

func ownerEarningsFiveYearAvg(ctx context.Context, env Env, symbol string) (*ownerEarningsSnapshot, GapReason, error) {
	maint, err := DeltaNWCMaint{}.Compute(ctx, symbol, env)
	if err != nil {
		return nil, "", err
	}
	if !maint.OK() {
		return nil, maint.Gap, nil
	}

	niMap, err := mergedFYAmountMap(ctx, env, symbol, ownerEarningsNIConcepts, false)
	if err != nil {
		return nil, "", err
	}
	daMap, err := mergedFYAmountMap(ctx, env, symbol, []string{daPrimaryConcept, daFallbackConcept}, false)
	if err != nil {
		return nil, "", err
	}
	mcapexMap, err := ownerEarningsMCapexFYMap(ctx, env, symbol)
	if err != nil {
		return nil, "", err
	}

	shared := make(map[string]bool)
	for endDate := range niMap {
		if _, ok := mcapexMap[endDate]; ok {
			shared[endDate] = true
		}
	}

	var points []amount
	for _, endDate := range sortedDatesDesc(shared) {
		ni := niMap[endDate]
		mcapex := mcapexMap[endDate]
		daTotal, daCurrency := 0.0, ""
		if da, ok := daMap[endDate]; ok {
			daTotal, daCurrency = da.total, da.currency
		}
		currency, ok := mergeCurrency(ni.currency, daCurrency, mcapex.currency)
		if !ok {
			log.Debug().Str("symbol", symbol).Str("end_date", endDate).
				Msg("oe_equity_5y_avg: currency mismatch")
			continue
		}
		value := ni.total + daTotal - mcapex.total - maint.Value
		points = append(points, amount{total: value, asOf: endDate, currency: currency})
	}
	if len(points) < 5 {
		return nil, GapInsufficientPeriods, nil
	}
	latest := points[0]
	if !isRecentDate(latest.asOf, env.now(), maxFYFactAgeDays) {
		return nil, GapMissingInput, nil
	}

	window := points[:5]
	seriesCurrency := ""
	for _, point := range window {
		merged, ok := mergeCurrency(seriesCurrency, point.currency)
		if !ok {
			log.Debug().Str("symbol", symbol).Msg("oe_equity_5y_avg: series currency mismatch")
			return nil, GapMissingInput, nil
		}
		seriesCurrency = merged
	}
	total := 0.0
	for _, point := range window {
		total += point.total
	}
	return &ownerEarningsSnapshot{
		value:    total / 5.0,
		asOf:     window[0].asOf,
		currency: seriesCurrency,
	}, "", nil
}

// mergedFYAmountMap overlays concept maps in priority order: the first
// concept carrying a date wins.
func mergedFYAmountMap(ctx context.Context, env Env, symbol string, concepts []string, absolute bool) (map[string]amount, error) {
	merged := make(map[string]amount)
	for _, concept := range concepts {
		mapped, err := fyAmountMap(ctx, env, symbol, concept, absolute)
		if err != nil {
			return nil, err
		}
		for endDate, entry := range mapped {
			if _, ok := merged[endDate]; !ok {
				merged[endDate] = entry
			}
		}
	}
	return merged, nil
}

func ownerEarningsMCapexFYMap(ctx context.Context, env Env, symbol string) (map[string]amount, error) {
	points, err := mcapexFYPoints(ctx, env, symbol)
	if err != nil {
		return nil, err
	}
	mapped := make(map[string]amount, len(points))
	for _, point := range points {
		mapped[point.asOf] = point
	}
	return mapped, nil
}

// OwnerEarningsEquityTTM is the trailing-twelve-month owner-earnings
// numerator.
type OwnerEarningsEquityTTM struct{}

func (OwnerEarningsEquityTTM) ID() string                 { return "oe_equity_ttm" }
func (OwnerEarningsEquityTTM) RequiredConcepts() []string { return ownerEarningsConcepts }

func (m OwnerEarningsEquityTTM) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	snapshot, reason, err := ownerEarningsTTM(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	if snapshot == nil {
		return gapResult(symbol, m.ID(), reason), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    snapshot.value,
		AsOf:     snapshot.asOf,
		Currency: snapshot.currency,
		Inputs:   ownerEarningsConcepts,
	}, nil
}

// OwnerEarningsEquityFiveYearAvg averages five fiscal years of the numerator.
type OwnerEarningsEquityFiveYearAvg struct{}

func (OwnerEarningsEquityFiveYearAvg) ID() string                 { return "oe_equity_5y_avg" }
func (OwnerEarningsEquityFiveYearAvg) RequiredConcepts() []string { return ownerEarningsConcepts }

func (m OwnerEarningsEquityFiveYearAvg) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	snapshot, reason, err := ownerEarningsFiveYearAvg(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	if snapshot == nil {
		return gapResult(symbol, m.ID(), reason), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    snapshot.value,
		AsOf:     snapshot.asOf,
		Currency: snapshot.currency,
		Inputs:   ownerEarningsConcepts,
	}, nil
}

// ownerEarningsMarketCap fetches the latest market cap, converting into the
// numerator's currency when the snapshot is quoted in a different one.
func ownerEarningsMarketCap(ctx context.Context, env Env, symbol, targetCurrency, metricID string) (float64, bool, error) {
	snapshot, err := env.Market.LatestSnapshot(ctx, symbol)
	if err != nil {
		return 0, false, err
	}
	if snapshot == nil || snapshot.MarketCap == nil || *snapshot.MarketCap <= 0 {
		return 0, false, nil
	}
	marketCap := *snapshot.MarketCap
	if targetCurrency != "" && snapshot.Currency != "" && snapshot.Currency != targetCurrency {
		if env.FX == nil {
			return 0, false, nil
		}
		converted, ok := env.FX.Convert(marketCap, snapshot.Currency, targetCurrency, snapshot.AsOf)
		if !ok {
			log.Debug().Str("symbol", symbol).Str("metric", metricID).
				Str("from", snapshot.Currency).Str("to", targetCurrency).
				Msg("fx conversion failed for market cap")
			return 0, false, nil
		}
		marketCap = converted
	}
	return marketCap, true, nil
}

// OwnerEarningsYieldEquity is TTM owner earnings over market cap.
type OwnerEarningsYieldEquity struct{}

func (OwnerEarningsYieldEquity) ID() string                 { return "oey_equity" }
func (OwnerEarningsYieldEquity) RequiredConcepts() []string { return ownerEarningsConcepts }

func (m OwnerEarningsYieldEquity) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	snapshot, reason, err := ownerEarningsTTM(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	if snapshot == nil {
		return gapResult(symbol, m.ID(), reason), nil
	}
	marketCap, ok, err := ownerEarningsMarketCap(ctx, env, symbol, snapshot.currency, m.ID())
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    snapshot.value / marketCap,
		AsOf:     snapshot.asOf,
		Currency: snapshot.currency,
		Inputs:   ownerEarningsConcepts,
	}, nil
}

// OwnerEarningsYieldEquityFiveYear is the 5-year average owner earnings over
// market cap.
type OwnerEarningsYieldEquityFiveYear struct{}

func (OwnerEarningsYieldEquityFiveYear) ID() string                 { return "oey_equity_5y" }
func (OwnerEarningsYieldEquityFiveYear) RequiredConcepts() []string { return ownerEarningsConcepts }

func (m OwnerEarningsYieldEquityFiveYear) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	snapshot, reason, err := ownerEarningsFiveYearAvg(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	if snapshot == nil {
		return gapResult(symbol, m.ID(), reason), nil
	}
	marketCap, ok, err := ownerEarningsMarketCap(ctx, env, symbol, snapshot.currency, m.ID())
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    snapshot.value / marketCap,
		AsOf:     snapshot.asOf,
		Currency: snapshot.currency,
		Inputs:   ownerEarningsConcepts,
	}, nil
}
