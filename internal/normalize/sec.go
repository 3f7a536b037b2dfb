package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/valuerun/valuerun/internal/domain"
)

// Concepts needed by the metric catalogue. Includes the most common GAAP tags
// plus frequent synonyms across industries so normalization yields data even
// when companies use slightly different taxonomy labels.
var SECTargetConcepts = buildSet(
	// Balance sheet / leverage
	"LongTermDebtNoncurrent",
	"LongTermDebt",
	"LongTermDebtCurrent",
	"LongTermLineOfCredit",
	"CommercialPaperNoncurrent",
	"ConstructionLoanNoncurrent",
	"SecuredLongTermDebt",
	"UnsecuredLongTermDebt",
	"SubordinatedLongTermDebt",
	"ConvertibleDebtNoncurrent",
	"ConvertibleSubordinatedDebtNoncurrent",
	"LongTermNotesAndLoans",
	"LongtermFederalHomeLoanBankAdvancesNoncurrent",
	"OtherLongTermDebtNoncurrent",
	"OtherLongTermDebt",
	"LongTermNotesPayable",
	"NotesPayable",
	"LongTermDebtAndCapitalLeaseObligations",
	"LongTermDebtAndCapitalLeaseObligationsCurrent",
	"LongTermDebtAndCapitalLeaseObligationsNoncurrent",
	"LongTermDebtAndCapitalLeaseObligationsIncludingCurrentMaturities",
	"OtherLiabilitiesNoncurrent",
	"AssetsCurrent",
	"AccountsPayableCurrent",
	"AccruedLiabilitiesCurrent",
	"EmployeeRelatedLiabilitiesCurrent",
	"TaxesPayableCurrent",
	"InterestPayableCurrent",
	"DeferredRevenueCurrent",
	"ShortTermBorrowings",
	"CommercialPaper",
	"FinanceLeaseLiabilityCurrent",
	"OperatingLeaseLiabilityCurrent",
	"OperatingLeaseLiabilityNoncurrent",
	"OtherLiabilitiesCurrent",
	"TradeAndOtherCurrentPayables",
	"CurrentTradePayables",
	"OtherCurrentPayables",
	"CurrentTaxLiabilities",
	"CurrentProvisions",
	"CurrentFinancialLiabilities",
	"CurrentBorrowings",
	"CurrentPortionOfNoncurrentBorrowings",
	"OtherCurrentFinancialLiabilities",
	"OtherCurrentNonfinancialLiabilities",
	"CashAndCashEquivalentsAtCarryingValue",
	"CashAndCashEquivalents",
	"ShortTermInvestments",
	"MarketableSecuritiesCurrent",
	"AvailableForSaleSecuritiesDebtSecuritiesCurrent",
	"HeldToMaturitySecuritiesCurrent",
	"AccountsReceivableNetCurrent",
	"LoansAndLeasesReceivableNetCurrent",
	"InventoryNet",
	"Inventories",
	"PrepaidExpenseAndOtherAssetsCurrent",
	"PrepaidExpenseCurrent",
	"DeferredTaxAssetsNetCurrent",
	"OtherAssetsCurrent",
	"OtherShortTermFinancialAssets",
	"CurrentFinancialAssetsOtherThanCashAndCashEquivalents",
	"TradeAndOtherCurrentReceivables",
	"CurrentTradeReceivables",
	"OtherCurrentReceivables",
	"CurrentTaxAssets",
	"OtherCurrentNonfinancialAssets",
	"LiabilitiesCurrent",
	"Assets",
	"Liabilities",
	"StockholdersEquity",
	"StockholdersEquityIncludingPortionAttributableToNoncontrollingInterest",
	"CommonStockholdersEquity",
	"PreferredStock",
	// Income statement
	"NetIncomeLoss",
	"NetIncomeLossAvailableToCommonStockholdersBasic",
	"NetIncomeLossAvailableToCommonStockholdersDiluted",
	"PreferredStockDividendsAndOtherAdjustments",
	"PreferredStockDividends",
	"DividendsPreferredStock",
	"PreferredStockDividendsIncomeStatementImpact",
	"OperatingIncomeLoss",
	"IncomeFromOperations",
	"OperatingProfitLoss",
	"IncomeBeforeIncomeTaxes",
	"Revenues",
	"RevenueFromContractWithCustomerExcludingAssessedTax",
	"SalesRevenueNet",
	"EarningsPerShare",
	"EarningsPerShareDiluted",
	"DilutedEPS",
	"EarningsPerShareBasic",
	"EarningsPerShareBasicAndDiluted",
	// Cash flow / FCF
	"NetCashProvidedByUsedInOperatingActivities",
	"NetCashProvidedByUsedInOperatingActivitiesContinuingOperations",
	"CapitalExpenditures",
	"PaymentsToAcquirePropertyPlantAndEquipment",
	"PaymentsToAcquireOtherPropertyPlantAndEquipment",
	"PaymentsToAcquireOtherProductiveAssets",
	"PaymentsToAcquireBuildings",
	"PaymentsToAcquireEquipmentOnLease",
	"PaymentsToAcquireOilAndGasProperty",
	"PaymentsToAcquireAndDevelopRealEstate",
	"PaymentsToAcquireMachineryAndEquipment",
	"PurchaseOfPropertyPlantAndEquipment",
	"PropertyPlantAndEquipmentAdditions",
	"PaymentsToAcquireProductiveAssets",
	"PurchaseOfFixedAssets",
	// Dividends
	"DividendsPerShareCommonStockDeclared",
	"CommonStockDividendsPerShareCashPaid",
	"CommonStockDividendsPerShareDeclared",
	// Shares / valuation
	"CommonStockSharesOutstanding",
	"EntityCommonStockSharesOutstanding",
	"SharesOutstanding",
	"CommonStockDividendsPaid",
	"WeightedAverageNumberOfDilutedSharesOutstanding",
	"WeightedAverageDilutedSharesOutstanding",
	"WeightedAverageNumberOfSharesOutstandingBasic",
	// Operating assets
	"PropertyPlantAndEquipmentNet",
	"NetPropertyPlantAndEquipment",
	"GrossPropertyPlantAndEquipment",
	"PropertyPlantAndEquipmentAndFinanceLeaseRightOfUseAssetAfterAccumulatedDepreciationAndAmortization",
	"Goodwill",
	"IntangibleAssetsNetExcludingGoodwill",
	"IntangibleAssetsNet",
	"FiniteLivedIntangibleAssetsNet",
	"IndefiniteLivedIntangibleAssetsExcludingGoodwill",
)

var assetsCurrentComponents = []string{
	"CashAndCashEquivalentsAtCarryingValue",
	"CashAndCashEquivalents",
	"ShortTermInvestments",
	"MarketableSecuritiesCurrent",
	"AvailableForSaleSecuritiesDebtSecuritiesCurrent",
	"HeldToMaturitySecuritiesCurrent",
	"AccountsReceivableNetCurrent",
	"LoansAndLeasesReceivableNetCurrent",
	"InventoryNet",
	"Inventories",
	"PrepaidExpenseAndOtherAssetsCurrent",
	"PrepaidExpenseCurrent",
	"DeferredTaxAssetsNetCurrent",
	"OtherAssetsCurrent",
	"OtherShortTermFinancialAssets",
	"CurrentFinancialAssetsOtherThanCashAndCashEquivalents",
	"TradeAndOtherCurrentReceivables",
	"CurrentTradeReceivables",
	"OtherCurrentReceivables",
	"CurrentTaxAssets",
	"OtherCurrentNonfinancialAssets",
}

var liabilitiesCurrentComponents = []string{
	"AccountsPayableCurrent",
	"AccruedLiabilitiesCurrent",
	"EmployeeRelatedLiabilitiesCurrent",
	"TaxesPayableCurrent",
	"InterestPayableCurrent",
	"DeferredRevenueCurrent",
	"ShortTermBorrowings",
	"CommercialPaper",
	"LongTermDebtCurrent",
	"FinanceLeaseLiabilityCurrent",
	"OperatingLeaseLiabilityCurrent",
	"OtherLiabilitiesCurrent",
	"TradeAndOtherCurrentPayables",
	"CurrentTradePayables",
	"OtherCurrentPayables",
	"CurrentTaxLiabilities",
	"CurrentProvisions",
	"CurrentFinancialLiabilities",
	"CurrentBorrowings",
	"CurrentPortionOfNoncurrentBorrowings",
	"OtherCurrentFinancialLiabilities",
	"OtherCurrentNonfinancialLiabilities",
}

var longTermDebtNoncurrentComponents = []string{
	"LongTermLineOfCredit",
	"CommercialPaperNoncurrent",
	"ConstructionLoanNoncurrent",
	"SecuredLongTermDebt",
	"UnsecuredLongTermDebt",
	"SubordinatedLongTermDebt",
	"ConvertibleDebtNoncurrent",
	"ConvertibleSubordinatedDebtNoncurrent",
	"LongTermNotesAndLoans",
	"LongtermFederalHomeLoanBankAdvancesNoncurrent",
	"OtherLongTermDebtNoncurrent",
}

var (
	secEPSPreferred = []string{
		"EarningsPerShareDiluted",
		"DilutedEPS",
		"EarningsPerShareBasicAndDiluted",
		"EarningsPerShareBasic",
	}
	intangibleExclGoodwillComponents = []string{
		"FiniteLivedIntangibleAssetsNet",
		"IndefiniteLivedIntangibleAssetsExcludingGoodwill",
	}
	secEquityFallback = []string{
		"StockholdersEquityIncludingPortionAttributableToNoncontrollingInterest",
		"CommonStockholdersEquity",
	}
	secSharesFallback = []string{"EntityCommonStockSharesOutstanding", "SharesOutstanding"}
	secOCFFallback    = []string{"NetCashProvidedByUsedInOperatingActivitiesContinuingOperations"}
	secCapexFallback  = []string{
		"PaymentsToAcquirePropertyPlantAndEquipment",
		"PurchaseOfPropertyPlantAndEquipment",
		"PropertyPlantAndEquipmentAdditions",
		"PaymentsToAcquireProductiveAssets",
		"PurchaseOfFixedAssets",
		"PaymentsToAcquireOtherPropertyPlantAndEquipment",
		"PaymentsToAcquireOtherProductiveAssets",
		"PaymentsToAcquireBuildings",
		"PaymentsToAcquireEquipmentOnLease",
		"PaymentsToAcquireOilAndGasProperty",
		"PaymentsToAcquireAndDevelopRealEstate",
		"PaymentsToAcquireMachineryAndEquipment",
	}
	secEBITFallback = []string{"IncomeFromOperations", "OperatingProfitLoss"}
	secPPEFallback  = []string{
		"NetPropertyPlantAndEquipment",
		"PropertyPlantAndEquipmentAndFinanceLeaseRightOfUseAssetAfterAccumulatedDepreciationAndAmortization",
	}
	secIncomeToCommonFallback = []string{
		"NetIncomeLossAvailableToCommonStockholdersDiluted",
		"NetIncomeLoss",
	}
	secPreferredDividendFallback = []string{
		"PreferredStockDividendsIncomeStatementImpact",
		"DividendsPreferredStock",
		"PreferredStockDividendsAndOtherAdjustments",
		"PreferredStockDividends",
	}
)

func buildSet(items ...string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// SECNormalizer flattens SEC companyfacts payloads into canonical facts.
type SECNormalizer struct {
	concepts map[string]bool
	// asOf anchors the recency checks used by the derived-debt cascade.
	// Zero means the wall clock.
	asOf time.Time
}

// NewSECNormalizer builds a normalizer over the default concept set.
func NewSECNormalizer() *SECNormalizer {
	return &SECNormalizer{concepts: SECTargetConcepts}
}

// WithAsOf pins the recency reference date, for deterministic runs and tests.
func (n *SECNormalizer) WithAsOf(asOf time.Time) *SECNormalizer {
	n.asOf = asOf
	return n
}

func (n *SECNormalizer) Provider() string { return "SEC" }

// secEntry is one unit-tagged observation from a companyfacts concept.
type secEntry struct {
	unit  string
	val   float64
	end   string
	start string
	fp    string
	form  string
	filed string
	accn  string
	frame string
}

// Normalize returns canonical facts for the provided SEC payload.
func (n *SECNormalizer) Normalize(payload []byte, symbol string) ([]domain.Fact, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, &MalformedPayloadError{Provider: "SEC", Reason: "invalid JSON", Err: err}
	}

	cik := cikFromPayload(doc)
	facts := asMap(doc["facts"])
	var records []domain.Fact
	for _, taxonomy := range []string{"us-gaap", "dei"} {
		conceptMap := asMap(facts[taxonomy])
		concepts := make([]string, 0, len(conceptMap))
		for concept := range conceptMap {
			concepts = append(concepts, concept)
		}
		sort.Strings(concepts)
		for _, concept := range concepts {
			if !n.concepts[concept] {
				continue
			}
			entries := collectSECEntries(asMap(conceptMap[concept]))
			if len(entries) == 0 {
				continue
			}
			fyRecords, fyMap := n.buildFYRecords(entries, symbol, cik, concept)
			records = append(records, fyRecords...)
			records = append(records, n.buildQuarterRecords(entries, fyMap, symbol, cik, concept)...)
		}
	}

	// Reported LongTermDebt is dropped and rebuilt through the cascade so
	// every issuer ends up with a comparable definition.
	kept := records[:0]
	for _, r := range records {
		if r.Concept != "LongTermDebt" {
			kept = append(kept, r)
		}
	}
	records = kept

	records = append(records, n.deriveSum(records, "AssetsCurrent", assetsCurrentComponents)...)
	records = append(records, n.deriveSum(records, "LiabilitiesCurrent", liabilitiesCurrentComponents)...)
	records = append(records, n.deriveLongTermDebt(records)...)
	records = append(records, n.deriveAlias(records, "EarningsPerShare", secEPSPreferred)...)
	records = append(records, n.deriveIntangiblesExclGoodwill(records)...)
	records = append(records, n.deriveAlias(records, "StockholdersEquity", secEquityFallback)...)
	records = append(records, n.deriveAlias(records, "CommonStockSharesOutstanding", secSharesFallback)...)
	records = append(records, n.deriveAlias(records, "NetCashProvidedByUsedInOperatingActivities", secOCFFallback)...)
	records = append(records, n.deriveAlias(records, "CapitalExpenditures", secCapexFallback)...)
	records = append(records, n.deriveAlias(records, "OperatingIncomeLoss", secEBITFallback)...)
	records = append(records, n.deriveAlias(records, "PropertyPlantAndEquipmentNet", secPPEFallback)...)
	records = append(records, n.deriveNetIncomeToCommon(records)...)
	records = append(records, n.deriveCommonEquity(records)...)
	return records, nil
}

func cikFromPayload(doc map[string]interface{}) string {
	v := doc["cik"]
	if v == nil {
		return ""
	}
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
	if s == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToUpper(s), "CIK") {
		return strings.ToUpper(s)
	}
	if isDigits(s) {
		return fmt.Sprintf("CIK%010s", s)
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func collectSECEntries(detail map[string]interface{}) []secEntry {
	units := asMap(detail["units"])
	unitNames := make([]string, 0, len(units))
	for unit := range units {
		unitNames = append(unitNames, unit)
	}
	sort.Strings(unitNames)

	var entries []secEntry
	for _, unit := range unitNames {
		items, ok := units[unit].([]interface{})
		if !ok {
			continue
		}
		for _, item := range items {
			m := asMap(item)
			if m == nil {
				continue
			}
			val, ok := toFloat(m["val"])
			if !ok {
				continue
			}
			entries = append(entries, secEntry{
				unit:  unit,
				val:   val,
				end:   asString(m["end"]),
				start: asString(m["start"]),
				fp:    strings.ToUpper(asString(m["fp"])),
				form:  asString(m["form"]),
				filed: asString(m["filed"]),
				accn:  asString(m["accn"]),
				frame: asString(m["frame"]),
			})
		}
	}
	return entries
}

func (n *SECNormalizer) buildFYRecords(entries []secEntry, symbol, cik, concept string) ([]domain.Fact, map[string]domain.Fact) {
	var filtered []secEntry
	for _, e := range entries {
		if strings.HasPrefix(e.form, "10-K") && e.fp == "FY" {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	// Restatements: keep the latest filing per end date.
	byEnd := make(map[string]secEntry)
	for _, e := range filtered {
		if e.end == "" {
			continue
		}
		existing, ok := byEnd[e.end]
		if !ok || e.filed > existing.filed {
			byEnd[e.end] = e
		}
	}

	byYear := make(map[int][]secEntry)
	for _, e := range byEnd {
		year := yearFromDate(e.end)
		if year == 0 {
			continue
		}
		byYear[year] = append(byYear[year], e)
	}

	years := make([]int, 0, len(byYear))
	for year := range byYear {
		years = append(years, year)
	}
	sort.Ints(years)

	var records []domain.Fact
	fyMap := make(map[string]domain.Fact)
	for _, year := range years {
		selected := selectFYEntry(byYear[year])
		record, ok := n.entryToFact(selected, symbol, cik, concept)
		if !ok {
			continue
		}
		records = append(records, record)
		fyMap[record.EndDate] = record
	}
	return records, fyMap
}

// selectFYEntry prefers the entry whose period length is closest to a full
// year, breaking ties with the latest filing.
func selectFYEntry(entries []secEntry) secEntry {
	var withStart []secEntry
	for _, e := range entries {
		if e.start != "" {
			withStart = append(withStart, e)
		}
	}
	if len(withStart) > 0 {
		best := withStart[0]
		for _, e := range withStart[1:] {
			d, bd := daysFromFullYear(e), daysFromFullYear(best)
			if d < bd || (d == bd && e.filed > best.filed) {
				best = e
			}
		}
		return best
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.filed > best.filed {
			best = e
		}
	}
	return best
}

func daysFromFullYear(e secEntry) float64 {
	start, ok1 := parseISODate(e.start)
	end, ok2 := parseISODate(e.end)
	if !ok1 || !ok2 {
		return math.Inf(1)
	}
	return math.Abs(end.Sub(start).Hours()/24 - 365)
}

func (n *SECNormalizer) buildQuarterRecords(entries []secEntry, fyMap map[string]domain.Fact, symbol, cik, concept string) []domain.Fact {
	var filtered []secEntry
	for _, e := range entries {
		if strings.HasPrefix(e.form, "10-Q") && (e.fp == "Q1" || e.fp == "Q2" || e.fp == "Q3") {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	filtered = dedupQuarterFilings(filtered)

	type dedupKey struct {
		unit, end, fp string
	}
	dedup := make(map[dedupKey]secEntry)
	for _, e := range filtered {
		if e.end == "" {
			continue
		}
		k := dedupKey{e.unit, e.end, e.fp}
		existing, ok := dedup[k]
		if !ok || e.filed > existing.filed {
			dedup[k] = e
		}
	}

	sorted := make([]secEntry, 0, len(dedup))
	for _, e := range dedup {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].end != sorted[j].end {
			return sorted[i].end < sorted[j].end
		}
		if sorted[i].unit != sorted[j].unit {
			return sorted[i].unit < sorted[j].unit
		}
		return sorted[i].fp < sorted[j].fp
	})

	type cumKey struct {
		fyKey, fp string
	}
	flowCumulative := make(map[cumKey]float64)
	fyLookup := buildFYLookup(fyMap)
	cycleKeys := make(map[string]string)
	cycleCounters := make(map[string]int)
	var records []domain.Fact

	for _, e := range sorted {
		isFlow := e.start != ""
		fyKey := resolveFYKey(e, fyLookup, cycleKeys, cycleCounters)
		if fyKey == "" {
			fyKey = e.unit + "-unknown"
		}
		incremental := e.val
		if isFlow {
			// Cumulative year-to-date flows become single-quarter deltas.
			if e.fp != "Q1" {
				prevFP := "Q1"
				if e.fp == "Q3" {
					prevFP = "Q2"
				}
				prev, ok := flowCumulative[cumKey{fyKey, prevFP}]
				if !ok {
					continue
				}
				incremental = e.val - prev
			}
			flowCumulative[cumKey{fyKey, e.fp}] = e.val
		}
		adjusted := e
		adjusted.val = incremental
		if record, ok := n.entryToFact(adjusted, symbol, cik, concept); ok {
			records = append(records, record)
		}
	}

	// Q4 is never filed on its own; derive it from the annual report.
	fyEnds := make([]string, 0, len(fyMap))
	for end := range fyMap {
		fyEnds = append(fyEnds, end)
	}
	sort.Strings(fyEnds)
	for _, end := range fyEnds {
		fy := fyMap[end]
		isFlow := fy.StartDate != ""
		q4 := secEntry{
			unit:  fy.Unit,
			val:   fy.Value,
			end:   fy.EndDate,
			fp:    "Q4",
			filed: fy.Filed,
			accn:  fy.Accession,
			frame: fy.Frame,
		}
		if isFlow {
			q3cum, ok := flowCumulative[cumKey{end, "Q3"}]
			if !ok {
				continue
			}
			q4.val = fy.Value - q3cum
			q4.start = fy.StartDate
		}
		if record, ok := n.entryToFact(q4, symbol, cik, concept); ok {
			records = append(records, record)
		}
	}
	return records
}

// dedupQuarterFilings keeps one entry per (unit, period, filing), preferring
// later period ends, then earlier starts, then later filings.
func dedupQuarterFilings(entries []secEntry) []secEntry {
	type filingKey struct {
		unit, fp, accn string
	}
	grouped := make(map[filingKey]secEntry)
	var order []filingKey
	for _, e := range entries {
		if e.unit == "" {
			continue
		}
		accn := e.accn
		if accn == "" {
			accn = e.filed
		}
		k := filingKey{e.unit, e.fp, accn}
		existing, ok := grouped[k]
		if !ok {
			grouped[k] = e
			order = append(order, k)
			continue
		}
		if preferQuarterEntry(e, existing) {
			grouped[k] = e
		}
	}
	out := make([]secEntry, 0, len(grouped))
	for _, k := range order {
		out = append(out, grouped[k])
	}
	return out
}

func preferQuarterEntry(candidate, existing secEntry) bool {
	newEnd, newOK := parseISODate(candidate.end)
	oldEnd, oldOK := parseISODate(existing.end)
	if newOK && oldOK {
		if newEnd.After(oldEnd) {
			return true
		}
		if newEnd.Before(oldEnd) {
			return false
		}
	} else if newOK != oldOK {
		return newOK
	}

	newStart, newOK := parseISODate(candidate.start)
	oldStart, oldOK := parseISODate(existing.start)
	if newOK && oldOK {
		if newStart.Before(oldStart) {
			return true
		}
		if newStart.After(oldStart) {
			return false
		}
	} else if newOK != oldOK {
		return !oldOK
	}

	return candidate.filed >= existing.filed
}

type fyLookupEntry struct {
	end time.Time
	key string
}

func buildFYLookup(fyMap map[string]domain.Fact) []fyLookupEntry {
	lookup := make([]fyLookupEntry, 0, len(fyMap))
	for end := range fyMap {
		t, ok := parseISODate(end)
		if !ok {
			continue
		}
		lookup = append(lookup, fyLookupEntry{t, end})
	}
	sort.Slice(lookup, func(i, j int) bool { return lookup[i].end.Before(lookup[j].end) })
	return lookup
}

// resolveFYKey assigns a quarter entry to the fiscal year it belongs to: the
// first annual period ending on or after it. Without annual data, quarters
// are grouped into synthetic cycles that roll over at each Q1.
func resolveFYKey(e secEntry, lookup []fyLookupEntry, cycleKeys map[string]string, cycleCounters map[string]int) string {
	if e.unit == "" {
		return ""
	}
	if t, ok := parseISODate(e.end); ok {
		for _, item := range lookup {
			if !t.After(item.end) {
				return item.key
			}
		}
	}
	if e.fp == "Q1" || cycleKeys[e.unit] == "" {
		idx := cycleCounters[e.unit]
		cycleCounters[e.unit] = idx + 1
		key := fmt.Sprintf("%s-cycle-%d", e.unit, idx)
		cycleKeys[e.unit] = key
		return key
	}
	return cycleKeys[e.unit]
}

func (n *SECNormalizer) entryToFact(e secEntry, symbol, cik, concept string) (domain.Fact, bool) {
	if e.end == "" {
		return domain.Fact{}, false
	}
	return domain.Fact{
		Symbol:             strings.ToUpper(symbol),
		Concept:            concept,
		PeriodType:         periodTypeFor(e.fp),
		FiscalYear:         yearFromDate(e.end),
		FiscalPeriod:       e.fp,
		EndDate:            e.end,
		StartDate:          e.start,
		Unit:               e.unit,
		Value:              e.val,
		Currency:           currencyFromUnit(e.unit),
		Provider:           "SEC",
		CIK:                cik,
		Accession:          e.accn,
		Filed:              e.filed,
		Frame:              e.frame,
		AccountingStandard: "US-GAAP",
		NormalizedAt:       n.now(),
	}, true
}

func (n *SECNormalizer) now() time.Time {
	if n.asOf.IsZero() {
		return time.Now().UTC()
	}
	return n.asOf
}

func (n *SECNormalizer) buildDerived(base domain.Fact, concept string, value float64) domain.Fact {
	derived := base
	derived.Concept = concept
	derived.Value = value
	derived.Accession = ""
	derived.Filed = ""
	derived.StartDate = ""
	return derived
}

// isRecent reports whether the fact's period end falls within the freshness
// window relative to the normalizer's reference date.
func (n *SECNormalizer) isRecent(f domain.Fact) bool {
	end, ok := parseISODate(f.EndDate)
	if !ok {
		return false
	}
	cutoff := n.now().AddDate(0, 0, -365)
	return !end.Before(cutoff)
}

func (n *SECNormalizer) recentAt(indexed map[string]map[recordKey]domain.Fact, concept string, key recordKey) (domain.Fact, bool) {
	f, ok := indexed[concept][key]
	if !ok || !n.isRecent(f) {
		return domain.Fact{}, false
	}
	return f, true
}

func sortedKeys(keys map[recordKey]bool) []recordKey {
	out := make([]recordKey, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].end != out[j].end {
			return out[i].end < out[j].end
		}
		if out[i].period != out[j].period {
			return out[i].period < out[j].period
		}
		return out[i].unit < out[j].unit
	})
	return out
}

// deriveSum fills a missing aggregate concept with the sum of its reported
// components at the same (end, period, unit) slot.
func (n *SECNormalizer) deriveSum(records []domain.Fact, concept string, components []string) []domain.Fact {
	indexed := indexRecords(records)
	existing := indexed[concept]
	keys := candidateKeys(indexed, components...)

	var derived []domain.Fact
	for _, key := range sortedKeys(keys) {
		if _, ok := existing[key]; ok {
			continue
		}
		var total float64
		var base domain.Fact
		found := false
		for _, component := range components {
			if f, ok := indexed[component][key]; ok {
				if !found {
					base = f
					found = true
				}
				total += f.Value
			}
		}
		if !found {
			continue
		}
		derived = append(derived, n.buildDerived(base, concept, total))
	}
	return derived
}

// deriveAlias fills a missing canonical concept from the first reporting
// synonym present at the same slot.
func (n *SECNormalizer) deriveAlias(records []domain.Fact, concept string, fallbacks []string) []domain.Fact {
	indexed := indexRecords(records)
	existing := indexed[concept]
	keys := candidateKeys(indexed, fallbacks...)
	for k := range existing {
		keys[k] = true
	}

	var derived []domain.Fact
	for _, key := range sortedKeys(keys) {
		if _, ok := existing[key]; ok {
			continue
		}
		base, ok := firstAt(indexed, key, fallbacks...)
		if !ok {
			continue
		}
		derived = append(derived, n.buildDerived(base, concept, base.Value))
	}
	return derived
}

// deriveLongTermDebt rebuilds LongTermDebt through an ordered fallback chain:
// noncurrent + current, component sums, other-debt buckets, notes payable,
// debt-plus-lease aggregates, operating leases, then other noncurrent
// liabilities. Only recent observations participate.
func (n *SECNormalizer) deriveLongTermDebt(records []domain.Fact) []domain.Fact {
	indexed := indexRecords(records)
	concepts := []string{"LongTermDebtNoncurrent", "LongTermDebtCurrent"}
	concepts = append(concepts, longTermDebtNoncurrentComponents...)
	concepts = append(concepts,
		"OtherLongTermDebt",
		"LongTermNotesPayable",
		"NotesPayable",
		"LongTermDebtAndCapitalLeaseObligations",
		"LongTermDebtAndCapitalLeaseObligationsNoncurrent",
		"LongTermDebtAndCapitalLeaseObligationsCurrent",
		"LongTermDebtAndCapitalLeaseObligationsIncludingCurrentMaturities",
		"OtherLiabilitiesNoncurrent",
		"OperatingLeaseLiabilityNoncurrent",
	)
	keys := candidateKeys(indexed, concepts...)

	addCurrent := func(total float64, key recordKey) float64 {
		if current, ok := n.recentAt(indexed, "LongTermDebtCurrent", key); ok {
			total += current.Value
		}
		return total
	}

	var derived []domain.Fact
	for _, key := range sortedKeys(keys) {
		if noncurrent, ok := n.recentAt(indexed, "LongTermDebtNoncurrent", key); ok {
			derived = append(derived, n.buildDerived(noncurrent, "LongTermDebt", addCurrent(noncurrent.Value, key)))
			continue
		}

		var components []domain.Fact
		for _, component := range longTermDebtNoncurrentComponents {
			if f, ok := n.recentAt(indexed, component, key); ok {
				components = append(components, f)
			}
		}
		if len(components) > 0 {
			total := 0.0
			for _, f := range components {
				total += f.Value
			}
			derived = append(derived, n.buildDerived(components[0], "LongTermDebt", addCurrent(total, key)))
			continue
		}

		if other, ok := n.recentAt(indexed, "OtherLongTermDebt", key); ok {
			derived = append(derived, n.buildDerived(other, "LongTermDebt", addCurrent(other.Value, key)))
			continue
		}

		notes, ok := n.recentAt(indexed, "LongTermNotesPayable", key)
		if !ok {
			notes, ok = n.recentAt(indexed, "NotesPayable", key)
		}
		if ok {
			derived = append(derived, n.buildDerived(notes, "LongTermDebt", notes.Value))
			continue
		}

		leaseBase, ok := n.recentAt(indexed, "LongTermDebtAndCapitalLeaseObligations", key)
		if !ok {
			leaseBase, ok = n.recentAt(indexed, "LongTermDebtAndCapitalLeaseObligationsNoncurrent", key)
		}
		if ok {
			total := leaseBase.Value
			if leaseCurrent, lcOK := n.recentAt(indexed, "LongTermDebtAndCapitalLeaseObligationsCurrent", key); lcOK {
				total += leaseCurrent.Value
			}
			derived = append(derived, n.buildDerived(leaseBase, "LongTermDebt", total))
			continue
		}

		if leaseTotal, ok := n.recentAt(indexed, "LongTermDebtAndCapitalLeaseObligationsIncludingCurrentMaturities", key); ok {
			derived = append(derived, n.buildDerived(leaseTotal, "LongTermDebt", leaseTotal.Value))
			continue
		}

		if opLease, ok := n.recentAt(indexed, "OperatingLeaseLiabilityNoncurrent", key); ok {
			derived = append(derived, n.buildDerived(opLease, "LongTermDebt", addCurrent(opLease.Value, key)))
			continue
		}

		if otherLiab, ok := n.recentAt(indexed, "OtherLiabilitiesNoncurrent", key); ok {
			derived = append(derived, n.buildDerived(otherLiab, "LongTermDebt", addCurrent(otherLiab.Value, key)))
		}
	}
	return derived
}

func (n *SECNormalizer) deriveIntangiblesExclGoodwill(records []domain.Fact) []domain.Fact {
	indexed := indexRecords(records)
	existing := indexed["IntangibleAssetsNetExcludingGoodwill"]
	keys := candidateKeys(indexed, intangibleExclGoodwillComponents...)
	keys2 := candidateKeys(indexed, "IntangibleAssetsNet")
	for k := range keys2 {
		keys[k] = true
	}
	for k := range existing {
		keys[k] = true
	}

	var derived []domain.Fact
	for _, key := range sortedKeys(keys) {
		if _, ok := existing[key]; ok {
			continue
		}
		var total float64
		var base domain.Fact
		found := false
		for _, component := range intangibleExclGoodwillComponents {
			if f, ok := indexed[component][key]; ok {
				if !found {
					base = f
					found = true
				}
				total += f.Value
			}
		}
		if found {
			derived = append(derived, n.buildDerived(base, "IntangibleAssetsNetExcludingGoodwill", total))
			continue
		}
		if fallback, ok := indexed["IntangibleAssetsNet"][key]; ok {
			derived = append(derived, n.buildDerived(fallback, "IntangibleAssetsNetExcludingGoodwill", fallback.Value))
		}
	}
	return derived
}

// deriveNetIncomeToCommon prefers the reported available-to-common figure and
// otherwise subtracts preferred dividends from net income.
func (n *SECNormalizer) deriveNetIncomeToCommon(records []domain.Fact) []domain.Fact {
	indexed := indexRecords(records)
	existing := indexed["NetIncomeLossAvailableToCommonStockholdersBasic"]
	keys := candidateKeys(indexed, secIncomeToCommonFallback...)
	for k := range existing {
		keys[k] = true
	}

	var derived []domain.Fact
	for _, key := range sortedKeys(keys) {
		if _, ok := existing[key]; ok {
			continue
		}
		var base domain.Fact
		baseConcept := ""
		for _, concept := range secIncomeToCommonFallback {
			if f, ok := indexed[concept][key]; ok {
				base = f
				baseConcept = concept
				break
			}
		}
		if baseConcept == "" {
			continue
		}
		adjusted := base.Value
		if baseConcept == "NetIncomeLoss" {
			for _, concept := range secPreferredDividendFallback {
				if pref, ok := indexed[concept][key]; ok {
					adjusted -= pref.Value
					break
				}
			}
		}
		derived = append(derived, n.buildDerived(base, "NetIncomeLossAvailableToCommonStockholdersBasic", adjusted))
	}
	return derived
}

func (n *SECNormalizer) deriveCommonEquity(records []domain.Fact) []domain.Fact {
	indexed := indexRecords(records)
	existing := indexed["CommonStockholdersEquity"]
	keys := candidateKeys(indexed, "StockholdersEquity")
	for k := range existing {
		keys[k] = true
	}

	var derived []domain.Fact
	for _, key := range sortedKeys(keys) {
		if _, ok := existing[key]; ok {
			continue
		}
		base, ok := indexed["StockholdersEquity"][key]
		if !ok {
			continue
		}
		adjusted := base.Value
		if pref, ok := indexed["PreferredStock"][key]; ok {
			adjusted -= pref.Value
		}
		derived = append(derived, n.buildDerived(base, "CommonStockholdersEquity", adjusted))
	}
	return derived
}

// currencyFromUnit extracts a currency code from a unit string (e.g. USD).
func currencyFromUnit(unit string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(unit))
	if len(cleaned) != 3 {
		return ""
	}
	for _, r := range cleaned {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return cleaned
}
