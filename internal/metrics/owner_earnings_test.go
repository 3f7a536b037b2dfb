package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valuerun/valuerun/internal/domain"
	"github.com/valuerun/valuerun/internal/fx"
)

func writeFXPair(t *testing.T, dir, pair, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, pair+".csv"), []byte(content), 0o644))
}

func addMaintBase(facts *fakeFacts) {
	// Four consecutive FY NWC points with zero maintenance delta.
	for _, end := range []string{"2023-12-31", "2022-12-31", "2021-12-31", "2020-12-31"} {
		addFYBalance(facts, "ACME", end, 400, 250, 100, 50)
	}
}

func TestMCapexTTM_MinOfCapexAndScaledDepreciation(t *testing.T) {
	facts := &fakeFacts{}
	// Capex reported negative (cash outflow); proxy uses absolute values.
	addQuarterSeries(facts, "ACME", "CapitalExpenditures", [4]float64{-30, -30, -30, -30})
	addQuarterSeries(facts, "ACME", "DepreciationDepletionAndAmortization", [4]float64{25, 25, 25, 25})
	env := testEnv(facts, nil, "2024-06-30")

	result, err := MCapexTTM{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	// min(120, 1.1 * 100) = 110.
	assert.InDelta(t, 110.0, result.Value, 1e-9)
}

func TestMCapexTTM_CapexAloneUsable(t *testing.T) {
	facts := &fakeFacts{}
	addQuarterSeries(facts, "ACME", "CapitalExpenditures", [4]float64{-30, -30, -30, -30})
	env := testEnv(facts, nil, "2024-06-30")

	result, err := MCapexTTM{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.InDelta(t, 120.0, result.Value, 1e-9)
}

func TestMCapexTTM_DepreciationAloneScaled(t *testing.T) {
	facts := &fakeFacts{}
	addQuarterSeries(facts, "ACME", "DepreciationFromCashFlow", [4]float64{25, 25, 25, 25})
	env := testEnv(facts, nil, "2024-06-30")

	result, err := MCapexTTM{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.InDelta(t, 110.0, result.Value, 1e-9)
}

func TestMCapexFiveYear_NeedsFivePoints(t *testing.T) {
	facts := &fakeFacts{}
	for _, end := range []string{"2023-12-31", "2022-12-31", "2021-12-31", "2020-12-31"} {
		facts.add(fyFact("ACME", "CapitalExpenditures", end, -100))
	}
	env := testEnv(facts, nil, "2024-06-30")

	result, err := MCapexFiveYear{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	assert.Equal(t, GapInsufficientPeriods, result.Gap)
}

func TestMCapexFY_LatestPoint(t *testing.T) {
	facts := &fakeFacts{}
	facts.add(
		fyFact("ACME", "CapitalExpenditures", "2023-12-31", -120),
		fyFact("ACME", "DepreciationDepletionAndAmortization", "2023-12-31", 100),
	)
	env := testEnv(facts, nil, "2024-06-30")

	result, err := MCapexFY{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.InDelta(t, 110.0, result.Value, 1e-9)
}

func TestOwnerEarningsTTM_Formula(t *testing.T) {
	facts := &fakeFacts{}
	addMaintBase(facts)
	addQuarterSeries(facts, "ACME", "NetIncomeLoss", [4]float64{100, 100, 100, 100})
	addQuarterSeries(facts, "ACME", "DepreciationDepletionAndAmortization", [4]float64{25, 25, 25, 25})
	addQuarterSeries(facts, "ACME", "CapitalExpenditures", [4]float64{-20, -20, -20, -20})
	env := testEnv(facts, nil, "2024-06-30")

	result, err := OwnerEarningsEquityTTM{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	// NI 400 + D&A 100 - mcapex min(80, 110) - maint 0 = 420.
	assert.InDelta(t, 420.0, result.Value, 1e-9)
}

func TestOwnerEarningsTTM_MaintGapPropagates(t *testing.T) {
	facts := &fakeFacts{}
	// Only three FY balance years: delta_nwc_maint is insufficient and the
	// composite must carry the same reason.
	for _, end := range []string{"2023-12-31", "2022-12-31", "2021-12-31"} {
		addFYBalance(facts, "ACME", end, 400, 250, 100, 50)
	}
	addQuarterSeries(facts, "ACME", "NetIncomeLoss", [4]float64{100, 100, 100, 100})
	addQuarterSeries(facts, "ACME", "CapitalExpenditures", [4]float64{-20, -20, -20, -20})
	env := testEnv(facts, nil, "2024-06-30")

	result, err := OwnerEarningsEquityTTM{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	assert.Equal(t, GapInsufficientPeriods, result.Gap)
}

func TestOwnerEarningsFiveYearAvg_NeedsFivePoints(t *testing.T) {
	facts := &fakeFacts{}
	addMaintBase(facts)
	for _, end := range []string{"2023-12-31", "2022-12-31", "2021-12-31", "2020-12-31"} {
		facts.add(
			fyFact("ACME", "NetIncomeLoss", end, 400),
			fyFact("ACME", "CapitalExpenditures", end, -80),
		)
	}
	env := testEnv(facts, nil, "2024-06-30")

	result, err := OwnerEarningsEquityFiveYearAvg{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	assert.Equal(t, GapInsufficientPeriods, result.Gap)
}

func TestOwnerEarningsFiveYearAvg_Computes(t *testing.T) {
	facts := &fakeFacts{}
	addMaintBase(facts)
	for _, end := range []string{"2023-12-31", "2022-12-31", "2021-12-31", "2020-12-31", "2019-12-31"} {
		facts.add(
			fyFact("ACME", "NetIncomeLoss", end, 400),
			fyFact("ACME", "CapitalExpenditures", end, -80),
		)
	}
	env := testEnv(facts, nil, "2024-06-30")

	result, err := OwnerEarningsEquityFiveYearAvg{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	// Each FY point: 400 + 0 - 80 - 0 = 320.
	assert.InDelta(t, 320.0, result.Value, 1e-9)
}

func TestOwnerEarningsYield_DividesByMarketCap(t *testing.T) {
	facts := &fakeFacts{}
	addMaintBase(facts)
	addQuarterSeries(facts, "ACME", "NetIncomeLoss", [4]float64{100, 100, 100, 100})
	addQuarterSeries(facts, "ACME", "CapitalExpenditures", [4]float64{-20, -20, -20, -20})
	market := &fakeMarket{snapshot: &domain.MarketSnapshot{
		Symbol: "ACME", AsOf: "2024-06-28", Price: 100,
		MarketCap: floatPtr(6400), Currency: "USD",
	}}
	env := testEnv(facts, market, "2024-06-30")

	result, err := OwnerEarningsYieldEquity{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	// Numerator 400 - 80 = 320; 320 / 6400 = 0.05.
	assert.InDelta(t, 0.05, result.Value, 1e-9)
}

func TestOwnerEarningsYield_FXConvertsMarketCap(t *testing.T) {
	dir := t.TempDir()
	writeFXPair(t, dir, "USDGBP", "date,rate\n2024-06-28,0.80\n")

	facts := &fakeFacts{}
	addMaintBase(facts)
	gbpSeries := func(concept string, values [4]float64) {
		ends := []string{"2024-03-31", "2023-12-31", "2023-09-30", "2023-06-30"}
		periods := []string{"Q1", "Q4", "Q3", "Q2"}
		for i, end := range ends {
			fact := qFact("ACME", concept, periods[i], end, values[i])
			fact.Currency = "GBP"
			facts.add(fact)
		}
	}
	gbpSeries("NetIncomeLoss", [4]float64{100, 100, 100, 100})
	gbpSeries("CapitalExpenditures", [4]float64{-20, -20, -20, -20})

	market := &fakeMarket{snapshot: &domain.MarketSnapshot{
		Symbol: "ACME", AsOf: "2024-06-28", Price: 100,
		MarketCap: floatPtr(8000), Currency: "USD",
	}}
	env := testEnv(facts, market, "2024-06-30")
	env.FX = fx.NewStore(dir)

	result, err := OwnerEarningsYieldEquity{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	// The balance facts only feed delta_nwc_maint, which is zero here, so the
	// numerator currency is GBP and market cap converts 8000 USD -> 6400 GBP.
	assert.InDelta(t, 320.0/6400.0, result.Value, 1e-9)
}

func TestOwnerEarningsYield_FXMissIsGap(t *testing.T) {
	facts := &fakeFacts{}
	addMaintBase(facts)
	gbp := func(concept string, values [4]float64) {
		ends := []string{"2024-03-31", "2023-12-31", "2023-09-30", "2023-06-30"}
		periods := []string{"Q1", "Q4", "Q3", "Q2"}
		for i, end := range ends {
			fact := qFact("ACME", concept, periods[i], end, values[i])
			fact.Currency = "GBP"
			facts.add(fact)
		}
	}
	gbp("NetIncomeLoss", [4]float64{100, 100, 100, 100})
	gbp("CapitalExpenditures", [4]float64{-20, -20, -20, -20})

	market := &fakeMarket{snapshot: &domain.MarketSnapshot{
		Symbol: "ACME", AsOf: "2024-06-28", Price: 100,
		MarketCap: floatPtr(8000), Currency: "USD",
	}}
	env := testEnv(facts, market, "2024-06-30")
	env.FX = fx.NewStore(t.TempDir())

	result, err := OwnerEarningsYieldEquity{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	assert.Equal(t, GapMissingInput, result.Gap)
}
