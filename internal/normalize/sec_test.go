package normalize

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valuerun/valuerun/internal/domain"
)

type secUnitEntry map[string]interface{}

func secPayload(t *testing.T, concepts map[string][]secUnitEntry) []byte {
	t.Helper()
	conceptMap := make(map[string]interface{})
	for concept, entries := range concepts {
		items := make([]interface{}, 0, len(entries))
		for _, e := range entries {
			items = append(items, map[string]interface{}(e))
		}
		conceptMap[concept] = map[string]interface{}{
			"units": map[string]interface{}{"USD": items},
		}
	}
	doc := map[string]interface{}{
		"cik": "320193",
		"facts": map[string]interface{}{
			"us-gaap": conceptMap,
		},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func factsByPeriod(facts []domain.Fact, concept string) map[string]domain.Fact {
	out := make(map[string]domain.Fact)
	for _, f := range facts {
		if f.Concept == concept {
			out[f.FiscalPeriod+"/"+f.EndDate] = f
		}
	}
	return out
}

func TestSECNormalize_MalformedPayload(t *testing.T) {
	n := NewSECNormalizer()
	_, err := n.Normalize([]byte("{not json"), "AAPL")
	require.Error(t, err)
	var malformed *MalformedPayloadError
	assert.True(t, errors.As(err, &malformed))
	assert.Equal(t, "SEC", malformed.Provider)
}

func TestSECNormalize_EmptyPayload(t *testing.T) {
	n := NewSECNormalizer()
	facts, err := n.Normalize(nil, "AAPL")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestSECNormalize_FlowDecumulation(t *testing.T) {
	payload := secPayload(t, map[string][]secUnitEntry{
		"NetIncomeLoss": {
			{"val": 25.0, "start": "2023-01-01", "end": "2023-04-01", "fp": "Q1", "form": "10-Q", "filed": "2023-05-01"},
			{"val": 55.0, "start": "2023-01-01", "end": "2023-07-01", "fp": "Q2", "form": "10-Q", "filed": "2023-08-01"},
			{"val": 90.0, "start": "2023-01-01", "end": "2023-09-30", "fp": "Q3", "form": "10-Q", "filed": "2023-11-01"},
			{"val": 130.0, "start": "2023-01-01", "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15", "frame": "CY2023"},
		},
	})

	n := NewSECNormalizer().WithAsOf(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	facts, err := n.Normalize(payload, "acme")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "NetIncomeLoss")
	require.Contains(t, byPeriod, "FY/2023-12-31")
	assert.InDelta(t, 130.0, byPeriod["FY/2023-12-31"].Value, 1e-9)

	// Cumulative flows become single-quarter deltas; Q4 closes the year.
	assert.InDelta(t, 25.0, byPeriod["Q1/2023-04-01"].Value, 1e-9)
	assert.InDelta(t, 30.0, byPeriod["Q2/2023-07-01"].Value, 1e-9)
	assert.InDelta(t, 35.0, byPeriod["Q3/2023-09-30"].Value, 1e-9)
	assert.InDelta(t, 40.0, byPeriod["Q4/2023-12-31"].Value, 1e-9)

	q4 := byPeriod["Q4/2023-12-31"]
	assert.Equal(t, domain.PeriodTypeQuarter, q4.PeriodType)
	assert.Equal(t, "ACME", q4.Symbol)
	assert.Equal(t, "USD", q4.Currency)
	assert.Equal(t, "CIK0000320193", q4.CIK)
}

func TestSECNormalize_MissingPriorCumulativeSkipsQuarter(t *testing.T) {
	payload := secPayload(t, map[string][]secUnitEntry{
		"NetIncomeLoss": {
			{"val": 25.0, "start": "2023-01-01", "end": "2023-04-01", "fp": "Q1", "form": "10-Q", "filed": "2023-05-01"},
			// Q2 never filed; the Q3 cumulative cannot be decomposed.
			{"val": 90.0, "start": "2023-01-01", "end": "2023-09-30", "fp": "Q3", "form": "10-Q", "filed": "2023-11-01"},
		},
	})

	n := NewSECNormalizer()
	facts, err := n.Normalize(payload, "ACME")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "NetIncomeLoss")
	assert.Contains(t, byPeriod, "Q1/2023-04-01")
	assert.NotContains(t, byPeriod, "Q3/2023-09-30")
}

func TestSECNormalize_StockConceptQ4EqualsFY(t *testing.T) {
	payload := secPayload(t, map[string][]secUnitEntry{
		"Assets": {
			{"val": 100.0, "end": "2023-04-01", "fp": "Q1", "form": "10-Q", "filed": "2023-05-01"},
			{"val": 110.0, "end": "2023-07-01", "fp": "Q2", "form": "10-Q", "filed": "2023-08-01"},
			{"val": 120.0, "end": "2023-09-30", "fp": "Q3", "form": "10-Q", "filed": "2023-11-01"},
			{"val": 140.0, "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15"},
		},
	})

	n := NewSECNormalizer()
	facts, err := n.Normalize(payload, "ACME")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "Assets")
	assert.InDelta(t, 110.0, byPeriod["Q2/2023-07-01"].Value, 1e-9)
	require.Contains(t, byPeriod, "Q4/2023-12-31")
	assert.InDelta(t, 140.0, byPeriod["Q4/2023-12-31"].Value, 1e-9)
	assert.Equal(t, "", byPeriod["Q4/2023-12-31"].StartDate)
}

func TestSECNormalize_RestatementPrefersLatestFiled(t *testing.T) {
	payload := secPayload(t, map[string][]secUnitEntry{
		"Assets": {
			{"val": 100.0, "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15"},
			{"val": 105.0, "end": "2023-12-31", "fp": "FY", "form": "10-K/A", "filed": "2024-06-01"},
		},
	})

	n := NewSECNormalizer()
	facts, err := n.Normalize(payload, "ACME")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "Assets")
	require.Contains(t, byPeriod, "FY/2023-12-31")
	assert.InDelta(t, 105.0, byPeriod["FY/2023-12-31"].Value, 1e-9)
	assert.Equal(t, "2024-06-01", byPeriod["FY/2023-12-31"].Filed)
}

func TestSECNormalize_LongTermDebtCascade(t *testing.T) {
	payload := secPayload(t, map[string][]secUnitEntry{
		// Reported totals are dropped and rebuilt from components.
		"LongTermDebt": {
			{"val": 999.0, "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15"},
		},
		"LongTermDebtNoncurrent": {
			{"val": 800.0, "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15"},
		},
		"LongTermDebtCurrent": {
			{"val": 50.0, "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15"},
		},
	})

	n := NewSECNormalizer().WithAsOf(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	facts, err := n.Normalize(payload, "ACME")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "LongTermDebt")
	require.Contains(t, byPeriod, "FY/2023-12-31")
	derived := byPeriod["FY/2023-12-31"]
	assert.InDelta(t, 850.0, derived.Value, 1e-9)
	assert.Equal(t, "", derived.Filed)
	assert.Equal(t, "", derived.Accession)
}

func TestSECNormalize_LongTermDebtStaleComponentsSkipped(t *testing.T) {
	payload := secPayload(t, map[string][]secUnitEntry{
		"LongTermDebtNoncurrent": {
			{"val": 800.0, "end": "2018-12-31", "fp": "FY", "form": "10-K", "filed": "2019-02-15"},
		},
	})

	n := NewSECNormalizer().WithAsOf(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	facts, err := n.Normalize(payload, "ACME")
	require.NoError(t, err)
	assert.Empty(t, factsByPeriod(facts, "LongTermDebt"))
}

func TestSECNormalize_EPSAlias(t *testing.T) {
	payload := secPayload(t, map[string][]secUnitEntry{
		"EarningsPerShareDiluted": {
			{"val": 6.13, "start": "2022-09-25", "end": "2023-09-30", "fp": "FY", "form": "10-K", "filed": "2023-11-03"},
		},
	})

	n := NewSECNormalizer()
	facts, err := n.Normalize(payload, "AAPL")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "EarningsPerShare")
	require.Contains(t, byPeriod, "FY/2023-09-30")
	assert.InDelta(t, 6.13, byPeriod["FY/2023-09-30"].Value, 1e-9)
}

func TestSECNormalize_CurrentTotalsFromComponents(t *testing.T) {
	payload := secPayload(t, map[string][]secUnitEntry{
		"CashAndCashEquivalentsAtCarryingValue": {
			{"val": 30.0, "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15"},
		},
		"AccountsReceivableNetCurrent": {
			{"val": 20.0, "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15"},
		},
		"InventoryNet": {
			{"val": 10.0, "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15"},
		},
	})

	n := NewSECNormalizer()
	facts, err := n.Normalize(payload, "ACME")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "AssetsCurrent")
	require.Contains(t, byPeriod, "FY/2023-12-31")
	assert.InDelta(t, 60.0, byPeriod["FY/2023-12-31"].Value, 1e-9)
}

func TestSECNormalize_NetIncomeToCommonSubtractsPreferred(t *testing.T) {
	payload := secPayload(t, map[string][]secUnitEntry{
		"NetIncomeLoss": {
			{"val": 100.0, "start": "2023-01-01", "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15"},
		},
		"PreferredStockDividends": {
			{"val": 8.0, "start": "2023-01-01", "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15"},
		},
	})

	n := NewSECNormalizer()
	facts, err := n.Normalize(payload, "ACME")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "NetIncomeLossAvailableToCommonStockholdersBasic")
	require.Contains(t, byPeriod, "FY/2023-12-31")
	assert.InDelta(t, 92.0, byPeriod["FY/2023-12-31"].Value, 1e-9)
}

func TestSECNormalize_Idempotent(t *testing.T) {
	payload := secPayload(t, map[string][]secUnitEntry{
		"Assets": {
			{"val": 140.0, "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15"},
		},
		"Liabilities": {
			{"val": 90.0, "end": "2023-12-31", "fp": "FY", "form": "10-K", "filed": "2024-02-15"},
		},
	})

	asOf := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	first, err := NewSECNormalizer().WithAsOf(asOf).Normalize(payload, "ACME")
	require.NoError(t, err)
	second, err := NewSECNormalizer().WithAsOf(asOf).Normalize(payload, "ACME")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDedupe_LastWins(t *testing.T) {
	a := domain.Fact{Symbol: "ACME", Concept: "Assets", PeriodType: "FY", FiscalYear: 2023, FiscalPeriod: "FY", Value: 1}
	b := a
	b.Value = 2
	c := domain.Fact{Symbol: "ACME", Concept: "Liabilities", PeriodType: "FY", FiscalYear: 2023, FiscalPeriod: "FY", Value: 3}

	out := Dedupe([]domain.Fact{a, c, b})
	require.Len(t, out, 2)
	assert.InDelta(t, 2.0, out[0].Value, 1e-9)
	assert.Equal(t, "Liabilities", out[1].Concept)
}
