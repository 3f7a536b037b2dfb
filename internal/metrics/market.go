package metrics

import (
	"context"
)

var (
	equityConcepts = []string{
		"StockholdersEquity",
		"StockholdersEquityIncludingPortionAttributableToNoncontrollingInterest",
	}
	shareConcepts      = []string{"CommonStockSharesOutstanding", "EntityCommonStockSharesOutstanding"}
	goodwillConcepts   = []string{"Goodwill"}
	intangibleConcepts = []string{"IntangibleAssetsNetExcludingGoodwill", "IntangibleAssetsNet"}

	operatingCashFlowConcepts = []string{
		"NetCashProvidedByUsedInOperatingActivities",
		"NetCashProvidedByUsedInOperatingActivitiesContinuingOperations",
	}
	capexFallbackConcepts = []string{
		"CapitalExpenditures",
		"PaymentsToAcquirePropertyPlantAndEquipment",
		"PurchaseOfPropertyPlantAndEquipment",
		"PropertyPlantAndEquipmentAdditions",
		"PaymentsToAcquireProductiveAssets",
	}
)

// GrahamMultiplier is (price / TTM EPS) x (price / tangible book value per
// share). Non-positive earnings or tangible book yield a gap.
type GrahamMultiplier struct{}

func (GrahamMultiplier) ID() string { return "graham_multiplier" }

func (GrahamMultiplier) RequiredConcepts() []string {
	concepts := append([]string{}, epsConcepts...)
	concepts = append(concepts, equityConcepts...)
	concepts = append(concepts, shareConcepts...)
	concepts = append(concepts, goodwillConcepts...)
	concepts = append(concepts, intangibleConcepts...)
	return dedupeStrings(concepts)
}

func (m GrahamMultiplier) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	ttm, reason, err := ttmSum(ctx, env, symbol, epsConcepts, false)
	if err != nil {
		return Result{}, err
	}
	if ttm == nil {
		return gapResult(symbol, m.ID(), reason), nil
	}
	if ttm.total <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	equity, err := latestRecentValue(ctx, env, symbol, equityConcepts)
	if err != nil {
		return Result{}, err
	}
	shares, err := latestRecentValue(ctx, env, symbol, shareConcepts)
	if err != nil {
		return Result{}, err
	}
	if equity == nil || shares == nil || shares.Value <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	goodwill, err := latestRecentValue(ctx, env, symbol, goodwillConcepts)
	if err != nil {
		return Result{}, err
	}
	intangibles, err := latestRecentValue(ctx, env, symbol, intangibleConcepts)
	if err != nil {
		return Result{}, err
	}

	snapshot, err := env.Market.LatestSnapshot(ctx, symbol)
	if err != nil {
		return Result{}, err
	}
	if snapshot == nil || snapshot.Price <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	equityValue, _ := normalizeAmount(*equity)
	goodwillValue := 0.0
	if goodwill != nil {
		goodwillValue, _ = normalizeAmount(*goodwill)
	}
	intangibleValue := 0.0
	if intangibles != nil {
		intangibleValue, _ = normalizeAmount(*intangibles)
	}
	tbvps := (equityValue - goodwillValue - intangibleValue) / shares.Value
	if tbvps <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	value := (snapshot.Price / ttm.total) * (snapshot.Price / tbvps)
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    value,
		AsOf:     ttm.asOf,
		Inputs:   m.RequiredConcepts(),
	}, nil
}

// EarningsYield is TTM EPS over the latest price.
type EarningsYield struct{}

func (EarningsYield) ID() string                 { return "earnings_yield" }
func (EarningsYield) RequiredConcepts() []string { return epsConcepts }

func (m EarningsYield) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	ttm, reason, err := ttmSum(ctx, env, symbol, epsConcepts, false)
	if err != nil {
		return Result{}, err
	}
	if ttm == nil {
		return gapResult(symbol, m.ID(), reason), nil
	}
	snapshot, err := env.Market.LatestSnapshot(ctx, symbol)
	if err != nil {
		return Result{}, err
	}
	if snapshot == nil || snapshot.Price <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    ttm.total / snapshot.Price,
		AsOf:     ttm.asOf,
		Inputs:   epsConcepts,
	}, nil
}

// MarketCap surfaces the latest positive market capitalization snapshot.
type MarketCap struct{}

func (MarketCap) ID() string                 { return "market_cap" }
func (MarketCap) RequiredConcepts() []string { return nil }

func (m MarketCap) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	snapshot, err := env.Market.LatestSnapshot(ctx, symbol)
	if err != nil {
		return Result{}, err
	}
	if snapshot == nil || snapshot.MarketCap == nil || *snapshot.MarketCap <= 0 || snapshot.AsOf == "" {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    *snapshot.MarketCap,
		AsOf:     snapshot.AsOf,
		Currency: snapshot.Currency,
	}, nil
}

// PriceToFCF is market cap over TTM free cash flow (operating cash flow minus
// capital expenditures). Non-positive FCF yields a gap.
type PriceToFCF struct{}

func (PriceToFCF) ID() string { return "price_to_fcf" }

func (PriceToFCF) RequiredConcepts() []string {
	return dedupeStrings(append(append([]string{}, operatingCashFlowConcepts...), capexFallbackConcepts...))
}

func (m PriceToFCF) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	operating, reason, err := ttmSum(ctx, env, symbol, operatingCashFlowConcepts, false)
	if err != nil {
		return Result{}, err
	}
	if operating == nil {
		return gapResult(symbol, m.ID(), reason), nil
	}
	capex, reason, err := ttmSum(ctx, env, symbol, capexFallbackConcepts, false)
	if err != nil {
		return Result{}, err
	}
	if capex == nil {
		return gapResult(symbol, m.ID(), reason), nil
	}

	fcf := operating.total - capex.total
	if fcf <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	snapshot, err := env.Market.LatestSnapshot(ctx, symbol)
	if err != nil {
		return Result{}, err
	}
	if snapshot == nil || snapshot.MarketCap == nil || *snapshot.MarketCap <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    *snapshot.MarketCap / fcf,
		AsOf:     maxDate(operating.asOf, capex.asOf),
		Inputs:   m.RequiredConcepts(),
	}, nil
}
