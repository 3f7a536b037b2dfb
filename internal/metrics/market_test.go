package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valuerun/valuerun/internal/domain"
)

func addQuarterSeries(facts *fakeFacts, symbol, concept string, values [4]float64) {
	ends := []string{"2024-03-31", "2023-12-31", "2023-09-30", "2023-06-30"}
	periods := []string{"Q1", "Q4", "Q3", "Q2"}
	for i, end := range ends {
		facts.add(qFact(symbol, concept, periods[i], end, values[i]))
	}
}

func TestMarketCap_SnapshotValue(t *testing.T) {
	market := &fakeMarket{snapshot: &domain.MarketSnapshot{
		Symbol:    "ACME",
		AsOf:      "2024-06-28",
		Price:     100,
		MarketCap: floatPtr(5e9),
		Currency:  "USD",
	}}
	env := testEnv(&fakeFacts{}, market, "2024-06-30")

	result, err := MarketCap{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.InDelta(t, 5e9, result.Value, 1)
	assert.Equal(t, "2024-06-28", result.AsOf)
}

func TestMarketCap_MissingSnapshotIsGap(t *testing.T) {
	env := testEnv(&fakeFacts{}, &fakeMarket{}, "2024-06-30")
	result, err := MarketCap{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	assert.Equal(t, GapMissingInput, result.Gap)
}

func TestEarningsYield_TTMOverPrice(t *testing.T) {
	facts := &fakeFacts{}
	addQuarterSeries(facts, "ACME", "EarningsPerShareDiluted", [4]float64{1, 2, 3, 4})
	market := &fakeMarket{snapshot: &domain.MarketSnapshot{Symbol: "ACME", AsOf: "2024-06-28", Price: 100}}
	env := testEnv(facts, market, "2024-06-30")

	result, err := EarningsYield{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.InDelta(t, 0.10, result.Value, 1e-9)
}

func TestPriceToFCF_PositiveFCFOnly(t *testing.T) {
	facts := &fakeFacts{}
	addQuarterSeries(facts, "ACME", "NetCashProvidedByUsedInOperatingActivities", [4]float64{100, 100, 100, 100})
	addQuarterSeries(facts, "ACME", "CapitalExpenditures", [4]float64{50, 50, 50, 50})
	market := &fakeMarket{snapshot: &domain.MarketSnapshot{Symbol: "ACME", AsOf: "2024-06-28", Price: 100, MarketCap: floatPtr(4000)}}
	env := testEnv(facts, market, "2024-06-30")

	result, err := PriceToFCF{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.InDelta(t, 20.0, result.Value, 1e-9)
}

func TestPriceToFCF_NegativeFCFIsGap(t *testing.T) {
	facts := &fakeFacts{}
	addQuarterSeries(facts, "ACME", "NetCashProvidedByUsedInOperatingActivities", [4]float64{10, 10, 10, 10})
	addQuarterSeries(facts, "ACME", "CapitalExpenditures", [4]float64{50, 50, 50, 50})
	market := &fakeMarket{snapshot: &domain.MarketSnapshot{Symbol: "ACME", AsOf: "2024-06-28", Price: 100, MarketCap: floatPtr(4000)}}
	env := testEnv(facts, market, "2024-06-30")

	result, err := PriceToFCF{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	assert.Equal(t, GapMissingInput, result.Gap)
}

func TestGrahamMultiplier_Computes(t *testing.T) {
	facts := &fakeFacts{}
	addQuarterSeries(facts, "ACME", "EarningsPerShareDiluted", [4]float64{1, 1, 1, 1})
	facts.add(
		qFact("ACME", "StockholdersEquity", "Q1", "2024-03-31", 1000),
		qFact("ACME", "CommonStockSharesOutstanding", "Q1", "2024-03-31", 100),
		qFact("ACME", "Goodwill", "Q1", "2024-03-31", 100),
		qFact("ACME", "IntangibleAssetsNetExcludingGoodwill", "Q1", "2024-03-31", 100),
	)
	market := &fakeMarket{snapshot: &domain.MarketSnapshot{Symbol: "ACME", AsOf: "2024-06-28", Price: 40}}
	env := testEnv(facts, market, "2024-06-30")

	result, err := GrahamMultiplier{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	// price/ttmEPS = 40/4 = 10; tbvps = (1000-100-100)/100 = 8; 10 * 40/8 = 50.
	assert.InDelta(t, 50.0, result.Value, 1e-9)
}

func TestGrahamMultiplier_NegativeTangibleBookIsGap(t *testing.T) {
	facts := &fakeFacts{}
	addQuarterSeries(facts, "ACME", "EarningsPerShareDiluted", [4]float64{1, 1, 1, 1})
	facts.add(
		qFact("ACME", "StockholdersEquity", "Q1", "2024-03-31", 100),
		qFact("ACME", "CommonStockSharesOutstanding", "Q1", "2024-03-31", 100),
		qFact("ACME", "Goodwill", "Q1", "2024-03-31", 200),
	)
	market := &fakeMarket{snapshot: &domain.MarketSnapshot{Symbol: "ACME", AsOf: "2024-06-28", Price: 40}}
	env := testEnv(facts, market, "2024-06-30")

	result, err := GrahamMultiplier{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	assert.Equal(t, GapMissingInput, result.Gap)
}
