package normalize

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/valuerun/valuerun/internal/domain"
)

// Thresholds for the GBP/pence unit-repair heuristic on EODHD EPS series.
const (
	epsUnitFlipRatioMin    = 40.0
	epsUnitFlipRatioMax    = 140.0
	epsMinAbsForUnitCheck  = 0.05
	epsImpliedMinMatches   = 2
	epsImpliedRatioNearOne = 2.0
	epsImpliedMaxGapDaysQ  = 120
	epsImpliedMaxGapDaysFY = 370
)

var (
	epsStatementKeys = []string{"epsDiluted", "epsdiluted", "epsDilluted", "eps", "epsBasic"}
	netIncomeKeys    = []string{"netIncomeApplicableToCommonShares", "netIncome", "netIncomeFromContinuingOps"}
	incomeShareKeys  = []string{
		"weightedAverageShsOutDil",
		"weightedAverageShsOutDiluted",
		"weightedAverageShsOut",
		"weightedAverageShsOutBasic",
	}
	balanceShareKeys = []string{"commonStockSharesOutstanding", "shareIssued"}
)

type statementField struct {
	concept string
	keys    []string
}

// eodhdStatementFields maps each statement's payload keys onto canonical
// concepts, in preference order.
var eodhdStatementFields = []struct {
	statement string
	fields    []statementField
}{
	{"Balance_Sheet", []statementField{
		{"AssetsCurrent", []string{"totalCurrentAssets"}},
		{"LiabilitiesCurrent", []string{"totalCurrentLiabilities"}},
		{"Assets", []string{"totalAssets"}},
		{"Liabilities", []string{"totalLiabilities", "totalLiab"}},
		{"StockholdersEquity", []string{"totalStockholderEquity", "totalShareholderEquity"}},
		{"CommonStockholdersEquity", []string{"commonStockTotalEquity"}},
		{"PreferredStock", []string{"preferredStockTotalEquity", "preferredStockRedeemable", "preferredStock", "capitalStock"}},
		{"Goodwill", []string{"goodWill", "goodwill"}},
		{"IntangibleAssetsNet", []string{"intangibleAssets"}},
		{"NetTangibleAssets", []string{"netTangibleAssets"}},
		{"NoncontrollingInterestInConsolidatedEntity", []string{"noncontrollingInterestInConsolidatedEntity"}},
		{"CashAndShortTermInvestments", []string{"cashAndShortTermInvestments"}},
		{"ShortTermDebt", []string{"shortTermDebt", "shortLongTermDebt"}},
		{"LongTermDebtNoncurrent", []string{"longTermDebtNoncurrent", "longTermDebtTotal", "longTermDebt"}},
		{"LongTermDebt", []string{"longTermDebtTotal", "longTermDebt", "longTermDebtNoncurrent"}},
		{"PropertyPlantAndEquipmentNet", []string{"propertyPlantAndEquipmentNet", "propertyPlantEquipment", "netPropertyPlantAndEquipment", "propertyPlantAndEquipment"}},
		{"CommonStockSharesOutstanding", []string{"shareIssued", "commonStockSharesOutstanding"}},
		{"EntityCommonStockSharesOutstanding", []string{"shareIssued", "commonStockSharesOutstanding"}},
	}},
	{"Income_Statement", []statementField{
		{"EBITDA", []string{"ebitda", "EBITDA"}},
		{"DepreciationDepletionAndAmortization", []string{"depreciationAndAmortization", "reconciledDepreciation"}},
		{"IncomeTaxExpense", []string{"incomeTaxExpense"}},
		{"InterestExpense", []string{"interestExpense"}},
		{"NetIncomeLoss", []string{"netIncome", "netIncomeFromContinuingOps"}},
		{"NetIncomeLossAvailableToCommonStockholdersBasic", []string{"netIncomeApplicableToCommonShares"}},
		{"PreferredStockDividendsAndOtherAdjustments", []string{"preferredStockAndOtherAdjustments"}},
		{"OperatingIncomeLoss", []string{"operatingIncome", "ebit"}},
		{"IncomeBeforeIncomeTaxes", []string{"incomeBeforeTax"}},
		{"Revenues", []string{"totalRevenue", "revenue"}},
		{"EarningsPerShareDiluted", []string{"epsDiluted", "epsdiluted", "epsDilluted"}},
		{"EarningsPerShareBasic", []string{"eps", "epsBasic"}},
		{"WeightedAverageNumberOfDilutedSharesOutstanding", []string{"weightedAverageShsOutDil", "weightedAverageShsOutDiluted"}},
		{"WeightedAverageNumberOfSharesOutstandingBasic", []string{"weightedAverageShsOut", "weightedAverageShsOutBasic"}},
	}},
	{"Cash_Flow", []statementField{
		{"NetCashProvidedByUsedInOperatingActivities", []string{"totalCashFromOperatingActivities"}},
		{"CapitalExpenditures", []string{"capitalExpenditures", "capex"}},
		{"DepreciationFromCashFlow", []string{"depreciation"}},
	}},
}

var (
	eodhdEPSPreferred           = []string{"EarningsPerShareDiluted", "EarningsPerShareBasic"}
	eodhdIntangibleFallback     = []string{"IntangibleAssetsNet"}
	eodhdEquityFallback         = []string{"CommonStockholdersEquity"}
	eodhdSharesFallback         = []string{"EntityCommonStockSharesOutstanding"}
	eodhdIncomeToCommonFallback = []string{"NetIncomeLoss"}
	eodhdPreferredDividends     = []string{"PreferredStockDividendsAndOtherAdjustments"}
)

// EODHDNormalizer flattens EODHD fundamentals payloads into canonical facts.
// Derived CommonStockholdersEquity replaces reported records at the same slot
// so the preferred/noncontrolling adjustments always apply.
type EODHDNormalizer struct {
	overrides map[string]bool
	asOf      time.Time
}

func NewEODHDNormalizer() *EODHDNormalizer {
	return &EODHDNormalizer{overrides: map[string]bool{"CommonStockholdersEquity": true}}
}

// WithAsOf pins the normalized_at stamp, for deterministic runs and tests.
func (n *EODHDNormalizer) WithAsOf(asOf time.Time) *EODHDNormalizer {
	n.asOf = asOf
	return n
}

func (n *EODHDNormalizer) Provider() string { return "EODHD" }

func (n *EODHDNormalizer) now() time.Time {
	if n.asOf.IsZero() {
		return time.Now().UTC()
	}
	return n.asOf
}

// Normalize returns canonical facts for the provided EODHD payload.
func (n *EODHDNormalizer) Normalize(payload []byte, symbol string) ([]domain.Fact, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, &MalformedPayloadError{Provider: "EODHD", Reason: "invalid JSON", Err: err}
	}

	general := asMap(doc["General"])
	accountingStandard := asString(general["AccountingStandard"])
	currencyCode := asString(general["CurrencyCode"])

	var records []domain.Fact
	financials := asMap(doc["Financials"])
	for _, stmt := range eodhdStatementFields {
		statementPayload := asMap(financials[stmt.statement])
		defaultCurrency := statementCurrency(statementPayload, currencyCode)
		records = append(records, n.normalizeStatement(statementPayload, stmt.fields, symbol, accountingStandard, defaultCurrency)...)
	}

	records = append(records, n.normalizeShareStats(doc, symbol, accountingStandard, currencyCode)...)
	records = append(records, n.normalizeOutstandingShares(doc, symbol, accountingStandard, currencyCode)...)
	records = append(records, n.normalizeEarningsEPS(doc, symbol, accountingStandard)...)

	records = n.extendWithOverride(records, n.deriveAlias(records, "EarningsPerShare", eodhdEPSPreferred), "EarningsPerShare")
	records = n.extendWithOverride(records, n.deriveIntangibles(records), "IntangibleAssetsNetExcludingGoodwill")
	records = n.extendWithOverride(records, n.deriveEquity(records), "StockholdersEquity")
	records = n.extendWithOverride(records, n.deriveAlias(records, "CommonStockSharesOutstanding", eodhdSharesFallback), "CommonStockSharesOutstanding")
	records = n.extendWithOverride(records, n.deriveNetIncomeToCommon(records), "NetIncomeLossAvailableToCommonStockholdersBasic")
	records = n.extendWithOverride(records, n.deriveCommonEquity(records), "CommonStockholdersEquity")
	return records, nil
}

func (n *EODHDNormalizer) normalizeStatement(statementPayload map[string]interface{}, fields []statementField, symbol, accountingStandard, defaultCurrency string) []domain.Fact {
	hasConcept := make(map[string]bool, len(fields))
	for _, f := range fields {
		hasConcept[f.concept] = true
	}

	var records []domain.Fact
	for _, bucket := range []struct {
		frequency string
		period    string
	}{{"yearly", "FY"}, {"quarterly", ""}} {
		for _, entry := range iterEntries(statementPayload[bucket.frequency]) {
			endDate := extractDate(entry)
			if endDate == "" {
				continue
			}
			currency := normalizeCurrencyCode(entry["currency_symbol"])
			if currency == "" {
				currency = normalizeCurrencyCode(defaultCurrency)
			}
			if currency == "" {
				currency = normalizeCurrencyCode(entry["CurrencyCode"])
			}
			periodCode := bucket.period
			if periodCode == "" {
				periodCode = inferQuarterFromEntry(entry)
			}
			frame := buildFrame(endDate, periodCode)
			derived := deriveStatementValues(entry, hasConcept)

			for _, field := range fields {
				value, ok := extractValue(entry, field.keys)
				if !ok {
					if value, ok = derived[field.concept]; !ok {
						continue
					}
				}
				normValue, normCurrency := normalizeValueCurrency(value, currency)
				records = append(records, domain.Fact{
					Symbol:             strings.ToUpper(symbol),
					Concept:            field.concept,
					PeriodType:         periodTypeFor(periodCode),
					FiscalYear:         yearFromDate(endDate),
					FiscalPeriod:       periodCode,
					EndDate:            endDate,
					Unit:               currency,
					Value:              normValue,
					Currency:           normCurrency,
					Provider:           "EODHD",
					Filed:              asString(entry["filing_date"]),
					Frame:              frame,
					AccountingStandard: accountingStandard,
					NormalizedAt:       n.now(),
				})
			}
		}
	}
	return records
}

// deriveStatementValues computes in-entry substitutes for concepts the entry
// does not report directly.
func deriveStatementValues(entry map[string]interface{}, hasConcept map[string]bool) map[string]float64 {
	derived := make(map[string]float64)

	totalLiab, hasTotalLiab := extractValue(entry, []string{"totalLiabilities", "totalLiab"})
	currentLiab, hasCurrentLiab := extractValue(entry, []string{"totalCurrentLiabilities"})
	if hasTotalLiab && hasCurrentLiab {
		if candidate := totalLiab - currentLiab; candidate >= 0 {
			derived["LongTermDebt"] = candidate
		}
	}

	if hasConcept["AssetsCurrent"] {
		totalAssets, ok1 := extractValue(entry, []string{"totalAssets"})
		noncurrentAssets, ok2 := extractValue(entry, []string{"nonCurrentAssetsTotal"})
		set := false
		if ok1 && ok2 {
			if candidate := totalAssets - noncurrentAssets; candidate >= 0 {
				derived["AssetsCurrent"] = candidate
				set = true
			}
		}
		if !set {
			cashBucket, hasCash := extractValue(entry, []string{"cashAndShortTermInvestments"})
			var shortTermInvestments float64
			hasSTI := false
			if !hasCash {
				shortTermInvestments, hasSTI = extractValue(entry, []string{"shortTermInvestments"})
				cashBucket, hasCash = extractValue(entry, []string{"cashAndEquivalents", "cash"})
			}
			receivables, hasRecv := extractValue(entry, []string{"netReceivables"})
			inventory, hasInv := extractValue(entry, []string{"inventory"})
			otherCurrent, hasOther := extractValue(entry, []string{"otherCurrentAssets"})
			if hasCash || hasSTI || hasRecv || hasInv || hasOther {
				derived["AssetsCurrent"] = cashBucket + shortTermInvestments + receivables + inventory + otherCurrent
			}
		}
	}

	if hasConcept["LiabilitiesCurrent"] {
		noncurrentLiab, hasNCL := extractValue(entry, []string{"nonCurrentLiabilitiesTotal"})
		set := false
		if hasTotalLiab && hasNCL {
			if candidate := totalLiab - noncurrentLiab; candidate >= 0 {
				derived["LiabilitiesCurrent"] = candidate
				set = true
			}
		}
		if !set {
			accountsPayable, hasAP := extractValue(entry, []string{"accountsPayable"})
			otherCurrent, hasOther := extractValue(entry, []string{"otherCurrentLiab"})
			deferredRevenue, hasDef := extractValue(entry, []string{"currentDeferredRevenue"})
			shortTermDebt, hasSTD := extractValue(entry, []string{"shortTermDebt"})
			var shortLongTermDebt float64
			hasSLTD := false
			if !hasSTD {
				shortLongTermDebt, hasSLTD = extractValue(entry, []string{"shortLongTermDebt"})
			}
			if hasAP || hasOther || hasDef || hasSTD || hasSLTD {
				derived["LiabilitiesCurrent"] = accountsPayable + otherCurrent + deferredRevenue + shortTermDebt + shortLongTermDebt
			}
		}
	}

	if hasConcept["PropertyPlantAndEquipmentNet"] {
		gross, ok1 := extractValue(entry, []string{"propertyPlantAndEquipmentGross"})
		accumulated, ok2 := extractValue(entry, []string{"accumulatedDepreciation"})
		if ok1 && ok2 {
			if candidate := gross - accumulated; candidate >= 0 {
				derived["PropertyPlantAndEquipmentNet"] = candidate
			}
		}
	}

	if hasConcept["OperatingIncomeLoss"] {
		incomeBeforeTax, ok1 := extractValue(entry, []string{"incomeBeforeTax"})
		interestExpense, ok2 := extractValue(entry, []string{"interestExpense"})
		interestIncome, _ := extractValue(entry, []string{"interestIncome"})
		set := false
		if ok1 && ok2 {
			derived["OperatingIncomeLoss"] = incomeBeforeTax + interestExpense - interestIncome
			set = true
		}
		if !set {
			totalRevenue, ok3 := extractValue(entry, []string{"totalRevenue"})
			totalOpex, ok4 := extractValue(entry, []string{"totalOperatingExpenses"})
			if ok3 && ok4 {
				derived["OperatingIncomeLoss"] = totalRevenue - totalOpex
			}
		}
	}

	if hasConcept["CapitalExpenditures"] {
		operatingCash, ok1 := extractValue(entry, []string{"totalCashFromOperatingActivities"})
		freeCashFlow, ok2 := extractValue(entry, []string{"freeCashFlow"})
		if ok1 && ok2 {
			derived["CapitalExpenditures"] = operatingCash - freeCashFlow
		}
	}

	if hasConcept["NetCashProvidedByUsedInOperatingActivities"] {
		freeCashFlow, ok1 := extractValue(entry, []string{"freeCashFlow"})
		capex, ok2 := extractValue(entry, []string{"capitalExpenditures", "capex"})
		if ok1 && ok2 {
			derived["NetCashProvidedByUsedInOperatingActivities"] = freeCashFlow + capex
		}
	}

	return derived
}

func (n *EODHDNormalizer) normalizeShareStats(doc map[string]interface{}, symbol, accountingStandard, defaultCurrency string) []domain.Fact {
	stats := asMap(doc["SharesStats"])
	if stats == nil {
		return nil
	}
	shares, ok := toFloat(stats["SharesOutstanding"])
	if !ok {
		shares, ok = toFloat(stats["SharesFloat"])
	}
	if !ok {
		return nil
	}
	general := asMap(doc["General"])
	endDate := asString(general["LatestQuarter"])
	if endDate == "" {
		endDate = asString(general["LatestReportDate"])
	}
	if endDate == "" {
		return nil
	}
	currency := normalizeCurrencyCode(stats["CurrencyCode"])
	if currency == "" {
		currency = normalizeCurrencyCode(defaultCurrency)
	}
	return []domain.Fact{{
		Symbol:             strings.ToUpper(symbol),
		Concept:            "CommonStockSharesOutstanding",
		PeriodType:         periodTypeFor(""),
		FiscalYear:         yearFromDate(endDate),
		EndDate:            endDate,
		Unit:               currency,
		Value:              shares,
		Currency:           currency,
		Provider:           "EODHD",
		AccountingStandard: accountingStandard,
		NormalizedAt:       n.now(),
	}}
}

func (n *EODHDNormalizer) normalizeOutstandingShares(doc map[string]interface{}, symbol, accountingStandard, defaultCurrency string) []domain.Fact {
	sharesPayload := asMap(doc["outstandingShares"])
	if sharesPayload == nil {
		return nil
	}
	currency := normalizeCurrencyCode(defaultCurrency)
	var records []domain.Fact
	for _, bucket := range []struct {
		name   string
		period string
	}{{"annual", "FY"}, {"quarterly", ""}} {
		for _, entry := range iterEntries(sharesPayload[bucket.name]) {
			endDate := outstandingSharesDate(entry, "")
			if endDate == "" {
				continue
			}
			shares, ok := sharesFromEntry(entry)
			if !ok {
				continue
			}
			period := bucket.period
			if period == "" {
				period = inferQuarter(endDate)
			}
			framePeriod := period
			if framePeriod == "" {
				framePeriod = "FY"
			}
			records = append(records, domain.Fact{
				Symbol:             strings.ToUpper(symbol),
				Concept:            "CommonStockSharesOutstanding",
				PeriodType:         periodTypeFor(period),
				FiscalYear:         yearFromDate(endDate),
				FiscalPeriod:       period,
				EndDate:            endDate,
				Unit:               currency,
				Value:              shares,
				Currency:           currency,
				Provider:           "EODHD",
				Frame:              buildFrame(endDate, framePeriod),
				AccountingStandard: accountingStandard,
				NormalizedAt:       n.now(),
			})
		}
	}
	return records
}

// outstandingSharesDate resolves the period end for a share-count entry. A
// bare four-digit year maps to that year's December 31st.
func outstandingSharesDate(entry map[string]interface{}, fallbackKey string) string {
	dateValue := asString(entry["dateFormatted"])
	if dateValue == "" {
		dateValue = asString(entry["date"])
	}
	if dateValue == "" {
		dateValue = fallbackKey
	}
	if dateValue == "" {
		return ""
	}
	if _, ok := parseISODate(dateValue); ok {
		return dateValue[:10]
	}
	if len(dateValue) == 4 && isDigits(dateValue) {
		return dateValue + "-12-31"
	}
	return ""
}

func sharesFromEntry(entry map[string]interface{}) (float64, bool) {
	if shares, ok := toFloat(entry["shares"]); ok {
		return shares, true
	}
	if mln, ok := toFloat(entry["sharesMln"]); ok {
		return mln * 1_000_000, true
	}
	return 0, false
}

// --- EPS from the earnings section, with GBP unit repair ---

type epsObservation struct {
	date     string
	value    float64
	currency string
}

func (n *EODHDNormalizer) normalizeEarningsEPS(doc map[string]interface{}, symbol, accountingStandard string) []domain.Fact {
	earnings := asMap(doc["Earnings"])
	history := asMap(earnings["History"])
	annual := asMap(earnings["Annual"])
	general := asMap(doc["General"])
	generalCurrency := normalizeCurrencyCode(general["CurrencyCode"])
	earningsCurrency := latestEarningsCurrency(history, annual)
	incomeStatement := asMap(asMap(doc["Financials"])["Income_Statement"])
	statementCurrency := normalizeCurrencyCode(incomeStatement["currency_symbol"])
	if statementCurrency == "" {
		statementCurrency = generalCurrency
	}
	statementEPSQuarterly := collectStatementEPSDates(incomeStatement["quarterly"])
	statementEPSAnnual := collectStatementEPSDates(incomeStatement["yearly"])
	historyEPSDates := collectEarningsEPSDates(history)
	annualEPSDates := collectEarningsEPSDates(annual)
	impliedQuarterly, impliedAnnual := buildImpliedEPSMaps(doc)

	var records []domain.Fact
	addRecord := func(date string, value float64, period, currencyHint string) {
		currency := normalizeCurrencyCode(currencyHint)
		if currency == "" {
			currency = earningsCurrency
		}
		if currency == "" {
			currency = generalCurrency
		}
		normValue, normCurrency := normalizeValueCurrency(value, currency)
		framePeriod := period
		if framePeriod == "" {
			framePeriod = "FY"
		}
		records = append(records, domain.Fact{
			Symbol:             strings.ToUpper(symbol),
			Concept:            "EarningsPerShareDiluted",
			PeriodType:         periodTypeFor(period),
			FiscalYear:         yearFromDate(date),
			FiscalPeriod:       period,
			EndDate:            date,
			Unit:               "EPS",
			Value:              normValue,
			Currency:           normCurrency,
			Provider:           "EODHD",
			Frame:              buildFrame(date, framePeriod),
			AccountingStandard: accountingStandard,
			NormalizedAt:       n.now(),
		})
	}

	if generalCurrency == "GBP" || generalCurrency == "GBX" || generalCurrency == "GBP0.01" {
		for _, obs := range normalizeEPSSeries(history, generalCurrency, impliedQuarterly) {
			addRecord(obs.date, obs.value, inferQuarter(obs.date), obs.currency)
		}
		for _, obs := range normalizeEPSSeries(annual, generalCurrency, impliedAnnual) {
			addRecord(obs.date, obs.value, "FY", obs.currency)
		}
	} else {
		for _, item := range sortedEntryItems(history) {
			val, ok := toFloat(item.entry["epsActual"])
			if !ok {
				continue
			}
			addRecord(truncDate(item.key), val, inferQuarter(item.key), asString(item.entry["currency"]))
		}
		for _, item := range sortedEntryItems(annual) {
			val, ok := toFloat(item.entry["epsActual"])
			if !ok {
				continue
			}
			addRecord(truncDate(item.key), val, "FY", asString(item.entry["currency"]))
		}
	}

	// Implied EPS fills dates where neither the earnings section nor the
	// statements report a figure.
	addFallback := func(implied map[string]float64, existing, statementDates map[string]bool, periodHint string) {
		for _, date := range sortedMapKeys(implied) {
			if existing[date] || statementDates[date] {
				continue
			}
			period := periodHint
			if period == "" {
				period = inferQuarter(date)
			}
			if period == "" {
				continue
			}
			addRecord(date, implied[date], period, statementCurrency)
		}
	}
	addFallback(impliedQuarterly, historyEPSDates, statementEPSQuarterly, "")
	addFallback(impliedAnnual, annualEPSDates, statementEPSAnnual, "FY")

	return records
}

type entryItem struct {
	key   string
	entry map[string]interface{}
}

func sortedEntryItems(container map[string]interface{}) []entryItem {
	items := make([]entryItem, 0, len(container))
	for key, v := range container {
		entry := asMap(v)
		if entry == nil {
			continue
		}
		items = append(items, entryItem{key, entry})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].key < items[j].key })
	return items
}

func truncDate(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

func collectEarningsEPSDates(entries map[string]interface{}) map[string]bool {
	dates := make(map[string]bool)
	for key, v := range entries {
		entry := asMap(v)
		if entry == nil {
			continue
		}
		if _, ok := toFloat(entry["epsActual"]); !ok {
			continue
		}
		date := extractDate(entry)
		if date == "" {
			date = truncDate(key)
		}
		dates[date] = true
	}
	return dates
}

func collectStatementEPSDates(container interface{}) map[string]bool {
	dates := make(map[string]bool)
	for _, item := range iterEntriesWithKeys(container) {
		date := extractDate(item.entry)
		if date == "" {
			date = extractDateString(item.key)
		}
		if date == "" {
			continue
		}
		if _, ok := extractValue(item.entry, epsStatementKeys); ok {
			dates[date] = true
		}
	}
	return dates
}

func buildImpliedEPSMaps(doc map[string]interface{}) (map[string]float64, map[string]float64) {
	financials := asMap(doc["Financials"])
	income := asMap(financials["Income_Statement"])
	balance := asMap(financials["Balance_Sheet"])

	netIncomeQuarterly := buildKeyedValueMap(income["quarterly"], netIncomeKeys)
	netIncomeAnnual := buildKeyedValueMap(income["yearly"], netIncomeKeys)

	sharesQuarterly := buildKeyedValueMap(income["quarterly"], incomeShareKeys)
	sharesAnnual := buildKeyedValueMap(income["yearly"], incomeShareKeys)

	mergeMissing(sharesQuarterly, buildOutstandingSharesMap(asMap(doc["outstandingShares"]), "quarterly"))
	mergeMissing(sharesAnnual, buildOutstandingSharesMap(asMap(doc["outstandingShares"]), "annual"))
	mergeMissing(sharesQuarterly, buildKeyedValueMap(balance["quarterly"], balanceShareKeys))
	mergeMissing(sharesAnnual, buildKeyedValueMap(balance["yearly"], balanceShareKeys))

	return buildImpliedEPSMap(netIncomeQuarterly, sharesQuarterly, epsImpliedMaxGapDaysQ),
		buildImpliedEPSMap(netIncomeAnnual, sharesAnnual, epsImpliedMaxGapDaysFY)
}

func mergeMissing(target, fallback map[string]float64) {
	for date, value := range fallback {
		if _, ok := target[date]; !ok {
			target[date] = value
		}
	}
}

func buildKeyedValueMap(container interface{}, keys []string) map[string]float64 {
	out := make(map[string]float64)
	for _, item := range iterEntriesWithKeys(container) {
		date := extractDate(item.entry)
		if date == "" {
			date = extractDateString(item.key)
		}
		if date == "" {
			continue
		}
		if value, ok := extractValue(item.entry, keys); ok {
			out[date] = value
		}
	}
	return out
}

func buildOutstandingSharesMap(sharesPayload map[string]interface{}, bucket string) map[string]float64 {
	out := make(map[string]float64)
	if sharesPayload == nil {
		return out
	}
	for _, item := range iterEntriesWithKeys(sharesPayload[bucket]) {
		endDate := outstandingSharesDate(item.entry, item.key)
		if endDate == "" {
			continue
		}
		if shares, ok := sharesFromEntry(item.entry); ok {
			out[endDate] = shares
		}
	}
	return out
}

// buildImpliedEPSMap divides net income by share count per date, matching the
// nearest share observation within the gap tolerance when the exact date is
// missing.
func buildImpliedEPSMap(netIncome, shares map[string]float64, maxGapDays int) map[string]float64 {
	implied := make(map[string]float64)
	type dated struct {
		t     time.Time
		value float64
	}
	var shareDates []dated
	for date, value := range shares {
		if t, ok := parseISODate(date); ok {
			shareDates = append(shareDates, dated{t, value})
		}
	}
	sort.Slice(shareDates, func(i, j int) bool { return shareDates[i].t.Before(shareDates[j].t) })

	for date, income := range netIncome {
		shareCount, ok := shares[date]
		if !ok && len(shareDates) > 0 {
			if incomeDate, dOK := parseISODate(date); dOK {
				best := shareDates[0]
				bestGap := math.Abs(best.t.Sub(incomeDate).Hours() / 24)
				for _, sd := range shareDates[1:] {
					gap := math.Abs(sd.t.Sub(incomeDate).Hours() / 24)
					if gap < bestGap {
						best, bestGap = sd, gap
					}
				}
				if bestGap <= float64(maxGapDays) {
					shareCount, ok = best.value, true
				}
			}
		}
		if !ok || shareCount == 0 {
			continue
		}
		implied[date] = income / shareCount
	}
	return implied
}

// normalizeEPSSeries repairs GBP-family EPS series where part of the history
// is reported in pence. Boundaries between pound and pence segments show up
// as ~100x jumps; segment medians are clustered and the smaller cluster is
// treated as pounds, the larger as pence.
func normalizeEPSSeries(entries map[string]interface{}, baseCurrency string, impliedEPS map[string]float64) []epsObservation {
	type datedEntry struct {
		date  string
		entry map[string]interface{}
	}
	var ordered []datedEntry
	for key, v := range entries {
		entry := asMap(v)
		if entry == nil {
			continue
		}
		date := extractDate(entry)
		if date == "" {
			date = extractDateString(key)
		}
		if date == "" {
			date = truncDate(key)
		}
		if date == "" {
			continue
		}
		ordered = append(ordered, datedEntry{truncDate(date), entry})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].date < ordered[j].date })

	normalizedBase := strings.ToUpper(strings.TrimSpace(baseCurrency))
	targetCurrency := normalizedBase
	if targetCurrency == "" {
		targetCurrency = "GBP"
	}
	scale := 1.0
	if normalizedBase == "GBX" || normalizedBase == "GBP0.01" {
		scale = 0.01
	}

	if targetCurrency != "GBP" {
		var out []epsObservation
		for _, item := range ordered {
			value, ok := toFloat(item.entry["epsActual"])
			if !ok {
				continue
			}
			currency := normalizeCurrencyCode(item.entry["currency"])
			if currency == "" {
				currency = normalizedBase
			}
			normValue, normCurrency := normalizeValueCurrency(value, currency)
			out = append(out, epsObservation{item.date, normValue, normCurrency})
		}
		return out
	}

	var values []float64
	var dates []string
	for _, item := range ordered {
		value, ok := toFloat(item.entry["epsActual"])
		if !ok {
			continue
		}
		values = append(values, value)
		dates = append(dates, item.date)
	}

	defaultScale := scale
	if implied, ok := inferEPSScaleFromImplied(values, dates, impliedEPS, defaultScale); ok {
		defaultScale = implied
	}

	var boundaries []int
	for idx := 1; idx < len(values); idx++ {
		prev, curr := values[idx-1], values[idx]
		if math.Abs(prev) < epsMinAbsForUnitCheck || math.Abs(curr) < epsMinAbsForUnitCheck {
			continue
		}
		ratio := math.Max(math.Abs(curr)/math.Abs(prev), math.Abs(prev)/math.Abs(curr))
		if ratio >= epsUnitFlipRatioMin && ratio <= epsUnitFlipRatioMax {
			boundaries = append(boundaries, idx)
		}
	}

	segmentStarts := append([]int{0}, boundaries...)
	segmentEnds := append(append([]int{}, boundaries...), len(values))
	segmentMedians := make([]float64, len(segmentStarts))
	segmentHasMedian := make([]bool, len(segmentStarts))
	for i := range segmentStarts {
		var segment []float64
		for j := segmentStarts[i]; j < segmentEnds[i]; j++ {
			if math.Abs(values[j]) >= epsMinAbsForUnitCheck {
				segment = append(segment, math.Abs(values[j]))
			}
		}
		if len(segment) == 0 {
			continue
		}
		segmentMedians[i] = median(segment)
		segmentHasMedian[i] = true
	}

	minMedian, maxMedian := math.Inf(1), math.Inf(-1)
	anyMedian := false
	for i, m := range segmentMedians {
		if !segmentHasMedian[i] {
			continue
		}
		anyMedian = true
		minMedian = math.Min(minMedian, m)
		maxMedian = math.Max(maxMedian, m)
	}
	useClusters := false
	var threshold float64
	if anyMedian && minMedian > 0 {
		ratio := maxMedian / minMedian
		if ratio >= epsUnitFlipRatioMin && ratio <= epsUnitFlipRatioMax {
			useClusters = true
			threshold = math.Sqrt(minMedian * maxMedian)
		}
	}

	var out []epsObservation
	for i := range segmentStarts {
		segScale := defaultScale
		if useClusters && segmentHasMedian[i] {
			// Smaller cluster is pounds, larger cluster is pence.
			if segmentMedians[i] <= threshold {
				segScale = 1.0
			} else {
				segScale = 0.01
			}
		}
		for j := segmentStarts[i]; j < segmentEnds[i]; j++ {
			out = append(out, epsObservation{dates[j], values[j] * segScale, "GBP"})
		}
	}
	return out
}

func inferEPSScaleFromImplied(values []float64, dates []string, impliedEPS map[string]float64, baseScale float64) (float64, bool) {
	if len(impliedEPS) == 0 {
		return 0, false
	}
	var ratios []float64
	for i, date := range dates {
		implied, ok := impliedEPS[date]
		if !ok {
			continue
		}
		if math.Abs(values[i]) < epsMinAbsForUnitCheck || math.Abs(implied) < epsMinAbsForUnitCheck {
			continue
		}
		ratios = append(ratios, math.Abs(values[i])/math.Abs(implied))
	}
	if len(ratios) < epsImpliedMinMatches {
		return 0, false
	}
	m := median(ratios)
	if m >= epsUnitFlipRatioMin && m <= epsUnitFlipRatioMax {
		return 0.01, true
	}
	if baseScale == 0.01 && m >= 1.0/epsImpliedRatioNearOne && m <= epsImpliedRatioNearOne {
		return 1.0, true
	}
	return 0, false
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// --- derived aliases and overrides ---

func (n *EODHDNormalizer) extendWithOverride(records, derived []domain.Fact, concept string) []domain.Fact {
	if len(derived) == 0 {
		return records
	}
	if n.overrides[concept] {
		derivedKeys := make(map[recordKey]bool, len(derived))
		for _, d := range derived {
			derivedKeys[recordKey{d.EndDate, d.FiscalPeriod, d.Unit}] = true
		}
		kept := records[:0]
		for _, r := range records {
			if r.Concept == concept && derivedKeys[recordKey{r.EndDate, r.FiscalPeriod, r.Unit}] {
				continue
			}
			kept = append(kept, r)
		}
		records = kept
	}
	return append(records, derived...)
}

func aliasFact(base domain.Fact, concept string) domain.Fact {
	alias := base
	alias.Concept = concept
	return alias
}

func (n *EODHDNormalizer) deriveAlias(records []domain.Fact, concept string, fallbacks []string) []domain.Fact {
	indexed := indexRecords(records)
	existing := indexed[concept]
	keys := candidateKeys(indexed, fallbacks...)
	for k := range existing {
		keys[k] = true
	}
	override := n.overrides[concept]

	var derived []domain.Fact
	for _, key := range sortedKeys(keys) {
		if _, ok := existing[key]; ok && !override {
			continue
		}
		base, ok := firstAt(indexed, key, fallbacks...)
		if !ok {
			continue
		}
		derived = append(derived, aliasFact(base, concept))
	}
	return derived
}

// deriveIntangibles fills intangibles-excluding-goodwill from the reported
// intangibles line, or reconstructs it from net tangible assets.
func (n *EODHDNormalizer) deriveIntangibles(records []domain.Fact) []domain.Fact {
	indexed := indexRecords(records)
	existing := indexed["IntangibleAssetsNetExcludingGoodwill"]
	keys := candidateKeys(indexed, eodhdIntangibleFallback...)
	for k := range indexed["NetTangibleAssets"] {
		keys[k] = true
	}
	for k := range existing {
		keys[k] = true
	}
	override := n.overrides["IntangibleAssetsNetExcludingGoodwill"]

	var derived []domain.Fact
	for _, key := range sortedKeys(keys) {
		if _, ok := existing[key]; ok && !override {
			continue
		}
		if base, ok := firstAt(indexed, key, eodhdIntangibleFallback...); ok {
			derived = append(derived, aliasFact(base, "IntangibleAssetsNetExcludingGoodwill"))
			continue
		}
		netTangible, ok1 := indexed["NetTangibleAssets"][key]
		assets, ok2 := indexed["Assets"][key]
		liabilities, ok3 := indexed["Liabilities"][key]
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		goodwill := 0.0
		if g, ok := indexed["Goodwill"][key]; ok {
			goodwill = g.Value
		}
		candidate := (assets.Value - liabilities.Value) - netTangible.Value - goodwill
		if candidate < 0 {
			continue
		}
		d := netTangible
		d.Concept = "IntangibleAssetsNetExcludingGoodwill"
		d.Value = candidate
		derived = append(derived, d)
	}
	return derived
}

// deriveEquity fills StockholdersEquity from assets minus liabilities when
// non-negative, then from the common-equity line.
func (n *EODHDNormalizer) deriveEquity(records []domain.Fact) []domain.Fact {
	indexed := indexRecords(records)
	existing := indexed["StockholdersEquity"]
	keys := candidateKeys(indexed, "Assets", "Liabilities")
	keys2 := candidateKeys(indexed, eodhdEquityFallback...)
	for k := range keys2 {
		keys[k] = true
	}
	for k := range existing {
		keys[k] = true
	}
	override := n.overrides["StockholdersEquity"]
	seen := make(map[recordKey]bool)
	if !override {
		for k := range existing {
			seen[k] = true
		}
	}

	var derived []domain.Fact
	for _, key := range sortedKeys(keys) {
		if seen[key] {
			continue
		}
		assets, ok1 := indexed["Assets"][key]
		liabilities, ok2 := indexed["Liabilities"][key]
		if ok1 && ok2 {
			if value := assets.Value - liabilities.Value; value >= 0 {
				d := assets
				d.Concept = "StockholdersEquity"
				d.Value = value
				derived = append(derived, d)
				seen[key] = true
				continue
			}
		}
		base, ok := firstAt(indexed, key, eodhdEquityFallback...)
		if !ok {
			continue
		}
		derived = append(derived, aliasFact(base, "StockholdersEquity"))
		seen[key] = true
	}
	return derived
}

func (n *EODHDNormalizer) deriveNetIncomeToCommon(records []domain.Fact) []domain.Fact {
	indexed := indexRecords(records)
	existing := indexed["NetIncomeLossAvailableToCommonStockholdersBasic"]
	keys := candidateKeys(indexed, eodhdIncomeToCommonFallback...)
	for k := range existing {
		keys[k] = true
	}
	override := n.overrides["NetIncomeLossAvailableToCommonStockholdersBasic"]

	var derived []domain.Fact
	for _, key := range sortedKeys(keys) {
		if _, ok := existing[key]; ok && !override {
			continue
		}
		base, ok := firstAt(indexed, key, eodhdIncomeToCommonFallback...)
		if !ok {
			continue
		}
		adjusted := base.Value
		if pref, ok := firstAt(indexed, key, eodhdPreferredDividends...); ok {
			adjusted -= pref.Value
		}
		d := base
		d.Concept = "NetIncomeLossAvailableToCommonStockholdersBasic"
		d.Value = adjusted
		derived = append(derived, d)
	}
	return derived
}

// deriveCommonEquity subtracts preferred stock and noncontrolling interests
// from total equity. Replaces reported records at the same slot.
func (n *EODHDNormalizer) deriveCommonEquity(records []domain.Fact) []domain.Fact {
	indexed := indexRecords(records)
	existing := indexed["CommonStockholdersEquity"]
	equity := indexed["StockholdersEquity"]
	override := n.overrides["CommonStockholdersEquity"]

	keys := make(map[recordKey]bool, len(equity))
	for k := range equity {
		keys[k] = true
	}

	var derived []domain.Fact
	for _, key := range sortedKeys(keys) {
		if _, ok := existing[key]; ok && !override {
			continue
		}
		base := equity[key]
		adjusted := base.Value
		if pref, ok := indexed["PreferredStock"][key]; ok {
			adjusted -= pref.Value
		}
		if nci, ok := indexed["NoncontrollingInterestInConsolidatedEntity"][key]; ok {
			adjusted -= nci.Value
		}
		d := base
		d.Concept = "CommonStockholdersEquity"
		d.Value = adjusted
		derived = append(derived, d)
	}
	return derived
}

// --- payload helpers ---

func extractValue(entry map[string]interface{}, keys []string) (float64, bool) {
	var lowered map[string]interface{}
	for _, key := range keys {
		if v, ok := entry[key]; ok {
			if f, fok := toFloat(v); fok {
				return f, true
			}
			continue
		}
		if lowered == nil {
			lowered = make(map[string]interface{}, len(entry))
			for k, v := range entry {
				lowered[strings.ToLower(k)] = v
			}
		}
		if v, ok := lowered[strings.ToLower(key)]; ok {
			if f, fok := toFloat(v); fok {
				return f, true
			}
		}
	}
	return 0, false
}

func extractDate(entry map[string]interface{}) string {
	for _, key := range []string{"date", "Date", "period"} {
		if date := extractDateString(asString(entry[key])); date != "" {
			return date
		}
	}
	return ""
}

func extractDateString(value string) string {
	if value == "" {
		return ""
	}
	if _, ok := parseISODate(value); !ok {
		return ""
	}
	return truncDate(value)
}

func inferQuarterFromEntry(entry map[string]interface{}) string {
	explicit := strings.ToUpper(asString(entry["period"]))
	if domain.QuarterPeriods[explicit] {
		return explicit
	}
	return inferQuarter(extractDate(entry))
}

// normalizeValueCurrency converts pence-denominated GBX/GBP0.01 values into
// pounds.
func normalizeValueCurrency(value float64, currency string) (float64, string) {
	if currency == "GBX" || currency == "GBP0.01" {
		return value / 100.0, "GBP"
	}
	return value, currency
}

// statementCurrency prefers an explicit currency_symbol in the statement over
// the General section currency.
func statementCurrency(statementPayload map[string]interface{}, fallback string) string {
	for _, key := range []string{"yearly", "quarterly"} {
		for _, entry := range iterEntries(statementPayload[key]) {
			if code := normalizeCurrencyCode(entry["currency_symbol"]); code != "" {
				return code
			}
		}
	}
	return normalizeCurrencyCode(fallback)
}

// latestEarningsCurrency returns the most recent non-empty earnings currency.
func latestEarningsCurrency(history, annual map[string]interface{}) string {
	type candidate struct {
		date, currency string
	}
	var candidates []candidate
	collect := func(entries map[string]interface{}) {
		for key, v := range entries {
			entry := asMap(v)
			if entry == nil {
				continue
			}
			currency := normalizeCurrencyCode(entry["currency"])
			if currency == "" {
				continue
			}
			date := extractDateString(key)
			if date == "" {
				date = key
			}
			candidates = append(candidates, candidate{date, currency})
		}
	}
	collect(history)
	collect(annual)
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].date != candidates[j].date {
			return candidates[i].date > candidates[j].date
		}
		return candidates[i].currency < candidates[j].currency
	})
	return candidates[0].currency
}

// iterEntries flattens a yearly/quarterly container (date-keyed map or list)
// into its entry maps, date-sorted when keyed.
func iterEntries(container interface{}) []map[string]interface{} {
	items := iterEntriesWithKeys(container)
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		out = append(out, item.entry)
	}
	return out
}

func iterEntriesWithKeys(container interface{}) []entryItem {
	switch c := container.(type) {
	case map[string]interface{}:
		return sortedEntryItems(c)
	case []interface{}:
		var items []entryItem
		for _, v := range c {
			if entry := asMap(v); entry != nil {
				items = append(items, entryItem{"", entry})
			}
		}
		return items
	default:
		return nil
	}
}

func sortedMapKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
