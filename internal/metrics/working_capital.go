package metrics

import (
	"context"
)

var currentBalanceConcepts = []string{"AssetsCurrent", "LiabilitiesCurrent"}

// WorkingCapital is current assets minus current liabilities at the latest
// common reporting window.
type WorkingCapital struct{}

func (WorkingCapital) ID() string                 { return "working_capital" }
func (WorkingCapital) RequiredConcepts() []string { return currentBalanceConcepts }

func (m WorkingCapital) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	assets, err := env.Facts.LatestFact(ctx, symbol, "AssetsCurrent")
	if err != nil {
		return Result{}, err
	}
	liabilities, err := env.Facts.LatestFact(ctx, symbol, "LiabilitiesCurrent")
	if err != nil {
		return Result{}, err
	}
	if assets == nil || liabilities == nil {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	newest := assets
	if liabilities.EndDate > assets.EndDate {
		newest = liabilities
	}
	if !isRecent(newest, env.now(), maxFactAgeDays) {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	assetsValue, assetsCurrency := normalizeAmount(*assets)
	liabilitiesValue, liabilitiesCurrency := normalizeAmount(*liabilities)
	currency, _ := mergeCurrency(assetsCurrency, liabilitiesCurrency)
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    assetsValue - liabilitiesValue,
		AsOf:     newest.EndDate,
		Currency: currency,
		Inputs:   currentBalanceConcepts,
	}, nil
}

// CurrentRatio is current assets over current liabilities. A non-positive
// denominator is economically undefined and yields a gap.
type CurrentRatio struct{}

func (CurrentRatio) ID() string                 { return "current_ratio" }
func (CurrentRatio) RequiredConcepts() []string { return currentBalanceConcepts }

func (m CurrentRatio) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	assets, err := env.Facts.LatestFact(ctx, symbol, "AssetsCurrent")
	if err != nil {
		return Result{}, err
	}
	liabilities, err := env.Facts.LatestFact(ctx, symbol, "LiabilitiesCurrent")
	if err != nil {
		return Result{}, err
	}
	if assets == nil || liabilities == nil {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	liabilitiesValue, _ := normalizeAmount(*liabilities)
	if liabilitiesValue <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	newest := assets
	if liabilities.EndDate > assets.EndDate {
		newest = liabilities
	}
	if !isRecent(newest, env.now(), maxFactAgeDays) {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	assetsValue, _ := normalizeAmount(*assets)
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    assetsValue / liabilitiesValue,
		AsOf:     newest.EndDate,
		Inputs:   currentBalanceConcepts,
	}, nil
}
