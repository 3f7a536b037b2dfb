package metrics

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/valuerun/valuerun/internal/domain"
	"github.com/valuerun/valuerun/internal/persistence"
)

var (
	factQueryAll = persistence.FactQuery{}
	factQueryFY  = persistence.FactQuery{FiscalPeriod: "FY"}
)

// Freshness windows in days. FY gets one extra day for leap years.
const (
	maxFactAgeDays   = 365
	maxFYFactAgeDays = 366
)

// Quarterly facts whose adjacent end dates fall outside this band are not
// consecutive and cannot form a TTM window.
const (
	minQuarterGapDays = 60
	maxQuarterGapDays = 120
)

func isRecentDate(endDate string, asOf time.Time, maxAgeDays int) bool {
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return false
	}
	cutoff := asOf.AddDate(0, 0, -maxAgeDays)
	return !end.Before(cutoff)
}

func isRecent(f *domain.Fact, asOf time.Time, maxAgeDays int) bool {
	if f == nil || f.EndDate == "" {
		return false
	}
	return isRecentDate(f.EndDate, asOf, maxAgeDays)
}

// filterQuarterly keeps Q1..Q4 facts, deduped by end date, newest-first
// input order preserved.
func filterQuarterly(records []domain.Fact) []domain.Fact {
	return filterPeriods(records, domain.QuarterPeriods)
}

func filterFY(records []domain.Fact) []domain.Fact {
	return filterPeriods(records, map[string]bool{"FY": true})
}

func filterPeriods(records []domain.Fact, periods map[string]bool) []domain.Fact {
	var filtered []domain.Fact
	seen := make(map[string]bool)
	for _, record := range records {
		if !periods[strings.ToUpper(record.FiscalPeriod)] {
			continue
		}
		if seen[record.EndDate] {
			continue
		}
		filtered = append(filtered, record)
		seen[record.EndDate] = true
	}
	return filtered
}

// consecutiveQuarters reports whether the newest-first quarterly records form
// an unbroken run: every adjacent pair of end dates must be one quarter apart.
func consecutiveQuarters(records []domain.Fact) bool {
	for i := 0; i+1 < len(records); i++ {
		newer, err := time.Parse("2006-01-02", records[i].EndDate)
		if err != nil {
			return false
		}
		older, err := time.Parse("2006-01-02", records[i+1].EndDate)
		if err != nil {
			return false
		}
		gap := int(newer.Sub(older).Hours() / 24)
		if gap < minQuarterGapDays || gap > maxQuarterGapDays {
			return false
		}
	}
	return true
}

// uniqueFY keeps the first record per end date whose frame names a bare
// calendar year (CY2023, not CY2023Q4).
func uniqueFY(records []domain.Fact) map[string]domain.Fact {
	unique := make(map[string]domain.Fact)
	for _, record := range records {
		if !validFYFrame(record.Frame) {
			continue
		}
		if _, ok := unique[record.EndDate]; !ok {
			unique[record.EndDate] = record
		}
	}
	return unique
}

func validFYFrame(frame string) bool {
	if !strings.HasPrefix(frame, "CY") {
		return false
	}
	year := frame[2:]
	if len(year) != 4 {
		return false
	}
	_, err := strconv.Atoi(year)
	return err == nil
}

// normalizeAmount converts GBX/GBP0.01 minor-unit values into pounds.
func normalizeAmount(f domain.Fact) (float64, string) {
	if f.Currency == "GBX" || f.Currency == "GBP0.01" {
		return f.Value / 100.0, "GBP"
	}
	return f.Value, f.Currency
}

// mergeCurrency folds codes into one; empty codes are ignored. The second
// return is false when two non-empty codes disagree.
func mergeCurrency(codes ...string) (string, bool) {
	merged := ""
	for _, code := range codes {
		if code == "" {
			continue
		}
		if merged == "" {
			merged = code
		} else if merged != code {
			return "", false
		}
	}
	return merged, true
}

func currenciesMatch(left, right string) bool {
	if left != "" && right != "" {
		return left == right
	}
	return true
}

func maxDate(dates ...string) string {
	latest := ""
	for _, d := range dates {
		if d > latest {
			latest = d
		}
	}
	return latest
}

func yearOf(endDate string) (int, bool) {
	if len(endDate) < 4 {
		return 0, false
	}
	year, err := strconv.Atoi(endDate[:4])
	if err != nil {
		return 0, false
	}
	return year, true
}

// amount is a dated currency-tagged total shared by the aggregate helpers.
type amount struct {
	total    float64
	asOf     string
	currency string
}

// ttmSum returns the trailing four-quarter sum for the first concept with
// four strictly consecutive, fresh quarters in one currency. When every
// concept falls short the returned reason distinguishes a thin history
// (insufficient_periods) from an absent or unusable one (missing_input).
func ttmSum(ctx context.Context, env Env, symbol string, concepts []string, absolute bool) (*amount, GapReason, error) {
	reason := GapMissingInput
	for _, concept := range concepts {
		records, err := env.Facts.FactsForConcept(ctx, symbol, concept, factQueryAll)
		if err != nil {
			return nil, "", err
		}
		quarterly := filterQuarterly(records)
		if len(quarterly) == 0 {
			continue
		}
		if len(quarterly) < 4 {
			reason = GapInsufficientPeriods
			continue
		}
		window := quarterly[:4]
		if !consecutiveQuarters(window) {
			reason = GapInsufficientPeriods
			continue
		}
		if !isRecentDate(window[0].EndDate, env.now(), maxFactAgeDays) {
			continue
		}
		total := 0.0
		currency := ""
		conflict := false
		for _, record := range window {
			value, code := normalizeAmount(record)
			if absolute && value < 0 {
				value = -value
			}
			merged, ok := mergeCurrency(currency, code)
			if !ok {
				conflict = true
				break
			}
			currency = merged
			total += value
		}
		if conflict {
			continue
		}
		return &amount{total: total, asOf: window[0].EndDate, currency: currency}, "", nil
	}
	return nil, reason, nil
}

// latestRecentValue returns the first concept's latest fact that is within
// the quarterly freshness window.
func latestRecentValue(ctx context.Context, env Env, symbol string, concepts []string) (*domain.Fact, error) {
	for _, concept := range concepts {
		fact, err := env.Facts.LatestFact(ctx, symbol, concept)
		if err != nil {
			return nil, err
		}
		if fact == nil || !isRecent(fact, env.now(), maxFactAgeDays) {
			continue
		}
		return fact, nil
	}
	return nil, nil
}

// hasRecentFact reports whether any concept has a latest fact inside the
// given freshness window, regardless of fiscal period.
func hasRecentFact(ctx context.Context, env Env, symbol string, concepts []string, maxAgeDays int) (bool, error) {
	for _, concept := range concepts {
		fact, err := env.Facts.LatestFact(ctx, symbol, concept)
		if err != nil {
			return false, err
		}
		if isRecent(fact, env.now(), maxAgeDays) {
			return true, nil
		}
	}
	return false, nil
}

// periodEndMap keeps the first record per end date for the given periods.
func periodEndMap(records []domain.Fact, periods map[string]bool) map[string]domain.Fact {
	mapped := make(map[string]domain.Fact)
	for _, record := range filterPeriods(records, periods) {
		mapped[record.EndDate] = record
	}
	return mapped
}

func fyRecords(ctx context.Context, env Env, symbol, concept string) ([]domain.Fact, error) {
	return env.Facts.FactsForConcept(ctx, symbol, concept, factQueryFY)
}

func sortedDatesDesc(dates map[string]bool) []string {
	ordered := make([]string, 0, len(dates))
	for d := range dates {
		ordered = append(ordered, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ordered)))
	return ordered
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
