package metrics

import (
	"context"
	"sort"

	"github.com/valuerun/valuerun/internal/domain"
)

var (
	ebitFYConcepts = []string{"OperatingIncomeLoss", "IncomeFromOperations", "OperatingProfitLoss"}
	ppeConcepts    = []string{"PropertyPlantAndEquipmentNet", "NetPropertyPlantAndEquipment"}

	netIncomeToCommonConcepts = []string{
		"NetIncomeLossAvailableToCommonStockholdersBasic",
		"NetIncomeLoss",
	}
	preferredDividendConcepts = []string{
		"PreferredStockDividendsAndOtherAdjustments",
		"PreferredStockDividends",
	}
	commonEquityConcepts = []string{"CommonStockholdersEquity", "StockholdersEquity"}
)

// ROCGreenblatt averages five fiscal years of EBIT over tangible capital
// (net PP&E plus working capital), matched on fiscal-year end dates. Fewer
// than five matched years is a gap.
type ROCGreenblatt struct{}

func (ROCGreenblatt) ID() string { return "roc_greenblatt_5y_avg" }

func (ROCGreenblatt) RequiredConcepts() []string {
	concepts := append([]string{}, ebitFYConcepts...)
	concepts = append(concepts, ppeConcepts...)
	concepts = append(concepts, "AssetsCurrent", "LiabilitiesCurrent")
	return dedupeStrings(concepts)
}

func (m ROCGreenblatt) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	var ebitRecords []domain.Fact
	for _, concept := range ebitFYConcepts {
		var err error
		ebitRecords, err = fyRecords(ctx, env, symbol, concept)
		if err != nil {
			return Result{}, err
		}
		if len(ebitRecords) > 0 {
			break
		}
	}
	if len(ebitRecords) == 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	tangible, err := tangibleCapitalByEnd(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	if len(tangible) == 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	ordered := append([]domain.Fact{}, ebitRecords...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EndDate > ordered[j].EndDate })

	var ratios []float64
	for _, record := range ordered {
		capital, ok := tangible[record.EndDate]
		if !ok || capital <= 0 {
			continue
		}
		ebit, _ := normalizeAmount(record)
		ratios = append(ratios, ebit/capital)
		if len(ratios) == 5 {
			break
		}
	}
	if len(ratios) < 5 {
		return gapResult(symbol, m.ID(), GapInsufficientPeriods), nil
	}
	total := 0.0
	for _, r := range ratios {
		total += r
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    total / float64(len(ratios)),
		AsOf:     ebitRecords[0].EndDate,
		Inputs:   m.RequiredConcepts(),
	}, nil
}

func tangibleCapitalByEnd(ctx context.Context, env Env, symbol string) (map[string]float64, error) {
	var ppeRecords []domain.Fact
	for _, concept := range ppeConcepts {
		var err error
		ppeRecords, err = fyRecords(ctx, env, symbol, concept)
		if err != nil {
			return nil, err
		}
		if len(ppeRecords) > 0 {
			break
		}
	}
	if len(ppeRecords) == 0 {
		return nil, nil
	}
	assetsRecords, err := fyRecords(ctx, env, symbol, "AssetsCurrent")
	if err != nil {
		return nil, err
	}
	liabilitiesRecords, err := fyRecords(ctx, env, symbol, "LiabilitiesCurrent")
	if err != nil {
		return nil, err
	}
	assetsByEnd := factsByEnd(assetsRecords)
	liabilitiesByEnd := factsByEnd(liabilitiesRecords)

	capital := make(map[string]float64)
	for _, ppe := range ppeRecords {
		assets, okA := assetsByEnd[ppe.EndDate]
		liabilities, okL := liabilitiesByEnd[ppe.EndDate]
		if !okA || !okL {
			continue
		}
		ppeValue, _ := normalizeAmount(ppe)
		assetsValue, _ := normalizeAmount(assets)
		liabilitiesValue, _ := normalizeAmount(liabilities)
		capital[ppe.EndDate] = ppeValue + assetsValue - liabilitiesValue
	}
	return capital, nil
}

func factsByEnd(records []domain.Fact) map[string]domain.Fact {
	byEnd := make(map[string]domain.Fact, len(records))
	for _, record := range records {
		if _, ok := byEnd[record.EndDate]; !ok {
			byEnd[record.EndDate] = record
		}
	}
	return byEnd
}

// ROEGreenblatt averages five fiscal years of net income to common over
// average common equity, with preferred adjustments applied from the latest
// reported preferred facts. Fewer than five matched years is a gap.
type ROEGreenblatt struct{}

func (ROEGreenblatt) ID() string { return "roe_greenblatt_5y_avg" }

func (ROEGreenblatt) RequiredConcepts() []string {
	concepts := append([]string{}, netIncomeToCommonConcepts...)
	concepts = append(concepts, preferredDividendConcepts...)
	concepts = append(concepts, commonEquityConcepts...)
	concepts = append(concepts, "PreferredStock")
	return dedupeStrings(concepts)
}

func (m ROEGreenblatt) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	income, err := m.netIncomeHistory(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	if len(income) < 2 {
		return gapResult(symbol, m.ID(), GapInsufficientPeriods), nil
	}
	equity, err := m.equityHistory(ctx, env, symbol)
	if err != nil {
		return Result{}, err
	}
	if len(equity) < 2 {
		return gapResult(symbol, m.ID(), GapInsufficientPeriods), nil
	}

	equityByYear := make(map[int]float64)
	for _, record := range equity {
		if year, ok := yearOf(record.EndDate); ok {
			if _, exists := equityByYear[year]; !exists {
				equityByYear[year] = record.Value
			}
		}
	}
	incomeByYear := make(map[int]float64)
	var years []int
	for _, record := range income {
		year, ok := yearOf(record.EndDate)
		if !ok {
			continue
		}
		if _, exists := incomeByYear[year]; !exists {
			incomeByYear[year] = record.Value
			years = append(years, year)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))

	var ratios []float64
	for _, year := range years {
		equityNow, okNow := equityByYear[year]
		equityPrev, okPrev := equityByYear[year-1]
		if !okNow || !okPrev {
			continue
		}
		avgEquity := (equityNow + equityPrev) / 2
		if avgEquity == 0 {
			continue
		}
		ratios = append(ratios, incomeByYear[year]/avgEquity)
		if len(ratios) == 5 {
			break
		}
	}
	if len(ratios) < 5 {
		return gapResult(symbol, m.ID(), GapInsufficientPeriods), nil
	}
	total := 0.0
	for _, r := range ratios {
		total += r
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    total / float64(len(ratios)),
		AsOf:     income[0].EndDate,
		Inputs:   m.RequiredConcepts(),
	}, nil
}

func (m ROEGreenblatt) netIncomeHistory(ctx context.Context, env Env, symbol string) ([]domain.Fact, error) {
	for _, concept := range netIncomeToCommonConcepts {
		records, err := fyRecords(ctx, env, symbol, concept)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			continue
		}
		if concept == "NetIncomeLoss" {
			preferred, err := m.preferredDividends(ctx, env, symbol)
			if err != nil {
				return nil, err
			}
			if preferred != nil {
				adjusted := make([]domain.Fact, len(records))
				for i, record := range records {
					record.Value -= *preferred
					adjusted[i] = record
				}
				return adjusted, nil
			}
		}
		return records, nil
	}
	return nil, nil
}

func (m ROEGreenblatt) preferredDividends(ctx context.Context, env Env, symbol string) (*float64, error) {
	for _, concept := range preferredDividendConcepts {
		fact, err := env.Facts.LatestFact(ctx, symbol, concept)
		if err != nil {
			return nil, err
		}
		if fact != nil {
			return &fact.Value, nil
		}
	}
	return nil, nil
}

func (m ROEGreenblatt) equityHistory(ctx context.Context, env Env, symbol string) ([]domain.Fact, error) {
	var records []domain.Fact
	for _, concept := range commonEquityConcepts {
		var err error
		records, err = fyRecords(ctx, env, symbol, concept)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			break
		}
	}
	if len(records) == 0 {
		return nil, nil
	}
	preferred, err := env.Facts.LatestFact(ctx, symbol, "PreferredStock")
	if err != nil {
		return nil, err
	}
	if preferred != nil {
		adjusted := make([]domain.Fact, len(records))
		for i, record := range records {
			record.Value -= preferred.Value
			adjusted[i] = record
		}
		return adjusted, nil
	}
	return records, nil
}
