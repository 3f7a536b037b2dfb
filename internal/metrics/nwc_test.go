package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addFYBalance(facts *fakeFacts, symbol, end string, assets, liabilities, cash, shortDebt float64) {
	facts.add(
		fyFact(symbol, "AssetsCurrent", end, assets),
		fyFact(symbol, "LiabilitiesCurrent", end, liabilities),
		fyFact(symbol, "CashAndShortTermInvestments", end, cash),
		fyFact(symbol, "ShortTermDebt", end, shortDebt),
	)
}

func TestNWCFiscalYear_FormulaAndShortDebtFloor(t *testing.T) {
	facts := &fakeFacts{}
	// NWC = (400 - 100) - max(250 - 50, 0) = 100.
	addFYBalance(facts, "ACME", "2023-12-31", 400, 250, 100, 50)
	env := testEnv(facts, nil, "2024-06-30")

	result, err := NWCFiscalYear{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.InDelta(t, 100.0, result.Value, 1e-9)
	assert.Equal(t, "2023-12-31", result.AsOf)
}

func TestNWCFiscalYear_ShortDebtAboveLiabilitiesClampsToZero(t *testing.T) {
	facts := &fakeFacts{}
	// Adjusted liabilities clamp at zero: (400 - 100) - max(50 - 80, 0) = 300.
	addFYBalance(facts, "ACME", "2023-12-31", 400, 50, 100, 80)
	env := testEnv(facts, nil, "2024-06-30")

	result, err := NWCFiscalYear{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.InDelta(t, 300.0, result.Value, 1e-9)
}

func TestNWC_CashFallbackSumsComponents(t *testing.T) {
	facts := &fakeFacts{}
	facts.add(
		fyFact("ACME", "AssetsCurrent", "2023-12-31", 400),
		fyFact("ACME", "LiabilitiesCurrent", "2023-12-31", 250),
		fyFact("ACME", "CashAndCashEquivalents", "2023-12-31", 60),
		fyFact("ACME", "ShortTermInvestments", "2023-12-31", 40),
	)
	env := testEnv(facts, nil, "2024-06-30")

	result, err := NWCFiscalYear{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	// (400 - 100) - 250 = 50, no short-term debt fact.
	assert.InDelta(t, 50.0, result.Value, 1e-9)
}

func TestNWC_MissingCashIsGap(t *testing.T) {
	facts := &fakeFacts{}
	facts.add(
		fyFact("ACME", "AssetsCurrent", "2023-12-31", 400),
		fyFact("ACME", "LiabilitiesCurrent", "2023-12-31", 250),
	)
	env := testEnv(facts, nil, "2024-06-30")

	result, err := NWCFiscalYear{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	assert.Equal(t, GapMissingInput, result.Gap)
}

func TestDeltaNWCFY_StrictPriorYear(t *testing.T) {
	facts := &fakeFacts{}
	addFYBalance(facts, "ACME", "2023-12-31", 400, 250, 100, 50) // NWC 100
	addFYBalance(facts, "ACME", "2022-12-31", 350, 230, 90, 40)  // NWC 70
	env := testEnv(facts, nil, "2024-06-30")

	result, err := DeltaNWCFY{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.InDelta(t, 30.0, result.Value, 1e-9)
}

func TestDeltaNWCFY_GappedPriorYearIsInsufficient(t *testing.T) {
	facts := &fakeFacts{}
	addFYBalance(facts, "ACME", "2023-12-31", 400, 250, 100, 50)
	addFYBalance(facts, "ACME", "2021-12-31", 350, 230, 90, 40)
	env := testEnv(facts, nil, "2024-06-30")

	result, err := DeltaNWCFY{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	assert.Equal(t, GapInsufficientPeriods, result.Gap)
}

func TestDeltaNWCTTM_SameFiscalQuarterPriorYear(t *testing.T) {
	facts := &fakeFacts{}
	for _, entry := range []struct {
		period, end                       string
		assets, liabilities, cash, stDebt float64
	}{
		{"Q1", "2024-03-31", 400, 250, 100, 50}, // NWC 100
		{"Q4", "2023-12-31", 380, 240, 95, 45},  // skipped: different quarter
		{"Q1", "2023-03-31", 360, 240, 95, 45},  // NWC 70
	} {
		facts.add(
			qFact("ACME", "AssetsCurrent", entry.period, entry.end, entry.assets),
			qFact("ACME", "LiabilitiesCurrent", entry.period, entry.end, entry.liabilities),
			qFact("ACME", "CashAndShortTermInvestments", entry.period, entry.end, entry.cash),
			qFact("ACME", "ShortTermDebt", entry.period, entry.end, entry.stDebt),
		)
	}
	env := testEnv(facts, nil, "2024-06-30")

	result, err := DeltaNWCTTM{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.InDelta(t, 30.0, result.Value, 1e-9)
	assert.Equal(t, "2024-03-31", result.AsOf)
}

func TestDeltaNWCMaint_AverageFlooredAtZero(t *testing.T) {
	facts := &fakeFacts{}
	// NWC by year: 2023=100, 2022=150, 2021=130, 2020=120.
	// Deltas: -50, +20, +10 -> average -20/3 -> floored to 0.
	addFYBalance(facts, "ACME", "2023-12-31", 400, 250, 100, 50)
	addFYBalance(facts, "ACME", "2022-12-31", 450, 250, 100, 50)
	addFYBalance(facts, "ACME", "2021-12-31", 430, 250, 100, 50)
	addFYBalance(facts, "ACME", "2020-12-31", 420, 250, 100, 50)
	env := testEnv(facts, nil, "2024-06-30")

	result, err := DeltaNWCMaint{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.Zero(t, result.Value)
}

func TestDeltaNWCMaint_PositiveAverage(t *testing.T) {
	facts := &fakeFacts{}
	// NWC by year: 2023=130, 2022=100, 2021=85, 2020=70.
	// Deltas: +30, +15, +15 -> average 20.
	addFYBalance(facts, "ACME", "2023-12-31", 430, 250, 100, 50)
	addFYBalance(facts, "ACME", "2022-12-31", 400, 250, 100, 50)
	addFYBalance(facts, "ACME", "2021-12-31", 385, 250, 100, 50)
	addFYBalance(facts, "ACME", "2020-12-31", 370, 250, 100, 50)
	env := testEnv(facts, nil, "2024-06-30")

	result, err := DeltaNWCMaint{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.InDelta(t, 20.0, result.Value, 1e-9)
}

func TestDeltaNWCMaint_MissingYearIsInsufficient(t *testing.T) {
	facts := &fakeFacts{}
	addFYBalance(facts, "ACME", "2023-12-31", 430, 250, 100, 50)
	addFYBalance(facts, "ACME", "2022-12-31", 400, 250, 100, 50)
	addFYBalance(facts, "ACME", "2020-12-31", 370, 250, 100, 50)
	env := testEnv(facts, nil, "2024-06-30")

	result, err := DeltaNWCMaint{}.Compute(context.Background(), "ACME", env)
	require.NoError(t, err)
	assert.Equal(t, GapInsufficientPeriods, result.Gap)
}
