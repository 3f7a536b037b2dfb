package normalize

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valuerun/valuerun/internal/domain"
)

func marshalPayload(t *testing.T, doc map[string]interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func TestEODHDNormalize_MalformedPayload(t *testing.T) {
	n := NewEODHDNormalizer()
	_, err := n.Normalize([]byte("<html>"), "ACME")
	require.Error(t, err)
	var malformed *MalformedPayloadError
	assert.True(t, errors.As(err, &malformed))
	assert.Equal(t, "EODHD", malformed.Provider)
}

func TestEODHDNormalize_BalanceSheetMapping(t *testing.T) {
	payload := marshalPayload(t, map[string]interface{}{
		"General": map[string]interface{}{
			"AccountingStandard": "IFRS",
			"CurrencyCode":       "USD",
		},
		"Financials": map[string]interface{}{
			"Balance_Sheet": map[string]interface{}{
				"yearly": map[string]interface{}{
					"2023-12-31": map[string]interface{}{
						"date":                    "2023-12-31",
						"filing_date":             "2024-03-01",
						"totalCurrentAssets":      "150.0",
						"totalCurrentLiabilities": "90.0",
						"totalAssets":             "500.0",
						"totalLiab":               "300.0",
					},
				},
				"quarterly": map[string]interface{}{
					"2024-06-30": map[string]interface{}{
						"date":               "2024-06-30",
						"totalCurrentAssets": 160.0,
					},
				},
			},
		},
	})

	n := NewEODHDNormalizer()
	facts, err := n.Normalize(payload, "acme")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "AssetsCurrent")
	require.Contains(t, byPeriod, "FY/2023-12-31")
	fy := byPeriod["FY/2023-12-31"]
	assert.InDelta(t, 150.0, fy.Value, 1e-9)
	assert.Equal(t, "USD", fy.Currency)
	assert.Equal(t, "CY2023", fy.Frame)
	assert.Equal(t, "2024-03-01", fy.Filed)
	assert.Equal(t, "IFRS", fy.AccountingStandard)
	assert.Equal(t, "ACME", fy.Symbol)

	// June quarter end maps to Q2.
	require.Contains(t, byPeriod, "Q2/2024-06-30")
	assert.Equal(t, "CY2024Q2", byPeriod["Q2/2024-06-30"].Frame)

	// LongTermDebt falls back to total minus current liabilities.
	debt := factsByPeriod(facts, "LongTermDebt")
	require.Contains(t, debt, "FY/2023-12-31")
	assert.InDelta(t, 210.0, debt["FY/2023-12-31"].Value, 1e-9)

	// Equity derives from assets minus liabilities.
	equity := factsByPeriod(facts, "StockholdersEquity")
	require.Contains(t, equity, "FY/2023-12-31")
	assert.InDelta(t, 200.0, equity["FY/2023-12-31"].Value, 1e-9)
}

func TestEODHDNormalize_GBXScaling(t *testing.T) {
	payload := marshalPayload(t, map[string]interface{}{
		"General": map[string]interface{}{"CurrencyCode": "GBX"},
		"Financials": map[string]interface{}{
			"Balance_Sheet": map[string]interface{}{
				"yearly": map[string]interface{}{
					"2023-12-31": map[string]interface{}{
						"date":        "2023-12-31",
						"totalAssets": 50000.0,
					},
				},
			},
		},
	})

	n := NewEODHDNormalizer()
	facts, err := n.Normalize(payload, "VOD")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "Assets")
	require.Contains(t, byPeriod, "FY/2023-12-31")
	assert.InDelta(t, 500.0, byPeriod["FY/2023-12-31"].Value, 1e-9)
	assert.Equal(t, "GBP", byPeriod["FY/2023-12-31"].Currency)
}

func TestEODHDNormalize_EarningsEPSRecords(t *testing.T) {
	payload := marshalPayload(t, map[string]interface{}{
		"General": map[string]interface{}{"CurrencyCode": "USD"},
		"Earnings": map[string]interface{}{
			"History": map[string]interface{}{
				"2024-03-31": map[string]interface{}{"date": "2024-03-31", "epsActual": 1.52, "currency": "USD"},
			},
			"Annual": map[string]interface{}{
				"2023-12-31": map[string]interface{}{"date": "2023-12-31", "epsActual": 6.42, "currency": "USD"},
			},
		},
	})

	n := NewEODHDNormalizer()
	facts, err := n.Normalize(payload, "ACME")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "EarningsPerShareDiluted")
	require.Contains(t, byPeriod, "Q1/2024-03-31")
	q1 := byPeriod["Q1/2024-03-31"]
	assert.InDelta(t, 1.52, q1.Value, 1e-9)
	assert.Equal(t, "EPS", q1.Unit)
	assert.Equal(t, domain.PeriodTypeQuarter, q1.PeriodType)

	require.Contains(t, byPeriod, "FY/2023-12-31")
	assert.Equal(t, "CY2023", byPeriod["FY/2023-12-31"].Frame)
}

func TestEODHDNormalize_EPSPenceSegmentRepaired(t *testing.T) {
	payload := marshalPayload(t, map[string]interface{}{
		"General": map[string]interface{}{"CurrencyCode": "GBP"},
		"Earnings": map[string]interface{}{
			"Annual": map[string]interface{}{
				// Older years reported in pence, recent years in pounds.
				"2018-12-31": map[string]interface{}{"date": "2018-12-31", "epsActual": 120.0},
				"2019-12-31": map[string]interface{}{"date": "2019-12-31", "epsActual": 130.0},
				"2020-12-31": map[string]interface{}{"date": "2020-12-31", "epsActual": 1.4},
				"2021-12-31": map[string]interface{}{"date": "2021-12-31", "epsActual": 1.5},
			},
		},
	})

	n := NewEODHDNormalizer()
	facts, err := n.Normalize(payload, "LSEG")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "EarningsPerShareDiluted")
	require.Len(t, byPeriod, 4)
	assert.InDelta(t, 1.2, byPeriod["FY/2018-12-31"].Value, 1e-9)
	assert.InDelta(t, 1.3, byPeriod["FY/2019-12-31"].Value, 1e-9)
	assert.InDelta(t, 1.4, byPeriod["FY/2020-12-31"].Value, 1e-9)
	assert.InDelta(t, 1.5, byPeriod["FY/2021-12-31"].Value, 1e-9)
	for _, f := range byPeriod {
		assert.Equal(t, "GBP", f.Currency)
	}
}

func TestEODHDNormalize_EPSRepairIdempotent(t *testing.T) {
	payload := marshalPayload(t, map[string]interface{}{
		"General": map[string]interface{}{"CurrencyCode": "GBP"},
		"Earnings": map[string]interface{}{
			"Annual": map[string]interface{}{
				// Already in pounds: no ~100x jump, nothing to repair.
				"2020-12-31": map[string]interface{}{"date": "2020-12-31", "epsActual": 1.4},
				"2021-12-31": map[string]interface{}{"date": "2021-12-31", "epsActual": 1.5},
			},
		},
	})

	n := NewEODHDNormalizer()
	facts, err := n.Normalize(payload, "LSEG")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "EarningsPerShareDiluted")
	assert.InDelta(t, 1.4, byPeriod["FY/2020-12-31"].Value, 1e-9)
	assert.InDelta(t, 1.5, byPeriod["FY/2021-12-31"].Value, 1e-9)
}

func TestEODHDNormalize_OutstandingShares(t *testing.T) {
	payload := marshalPayload(t, map[string]interface{}{
		"General": map[string]interface{}{"CurrencyCode": "USD"},
		"outstandingShares": map[string]interface{}{
			"annual": map[string]interface{}{
				"0": map[string]interface{}{"date": "2023", "sharesMln": 15550.06},
			},
			"quarterly": map[string]interface{}{
				"0": map[string]interface{}{"dateFormatted": "2024-03-31", "shares": 15500000000.0},
			},
		},
	})

	n := NewEODHDNormalizer()
	facts, err := n.Normalize(payload, "AAPL")
	require.NoError(t, err)

	byPeriod := factsByPeriod(facts, "CommonStockSharesOutstanding")
	require.Contains(t, byPeriod, "FY/2023-12-31")
	assert.InDelta(t, 15550060000.0, byPeriod["FY/2023-12-31"].Value, 1)
	require.Contains(t, byPeriod, "Q1/2024-03-31")
	assert.InDelta(t, 15500000000.0, byPeriod["Q1/2024-03-31"].Value, 1)
}

func TestEODHDNormalize_CommonEquityOverride(t *testing.T) {
	payload := marshalPayload(t, map[string]interface{}{
		"General": map[string]interface{}{"CurrencyCode": "USD"},
		"Financials": map[string]interface{}{
			"Balance_Sheet": map[string]interface{}{
				"yearly": map[string]interface{}{
					"2023-12-31": map[string]interface{}{
						"date":                      "2023-12-31",
						"totalStockholderEquity":    300.0,
						"commonStockTotalEquity":    300.0,
						"preferredStockTotalEquity": 40.0,
						"noncontrollingInterestInConsolidatedEntity": 10.0,
					},
				},
			},
		},
	})

	n := NewEODHDNormalizer()
	facts, err := n.Normalize(payload, "ACME")
	require.NoError(t, err)

	// The derived value replaces the reported common-equity line.
	var values []float64
	for _, f := range facts {
		if f.Concept == "CommonStockholdersEquity" && f.EndDate == "2023-12-31" && f.FiscalPeriod == "FY" {
			values = append(values, f.Value)
		}
	}
	require.Len(t, values, 1)
	assert.InDelta(t, 250.0, values[0], 1e-9)
}
