package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valuerun/valuerun/internal/domain"
)

// MalformedPayloadError reports a payload that cannot be interpreted at all.
// Missing concepts inside a well-formed payload are not errors; they simply
// yield fewer facts.
type MalformedPayloadError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *MalformedPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s payload malformed: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s payload malformed: %s", e.Provider, e.Reason)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// Normalizer turns one provider payload into canonical facts.
type Normalizer interface {
	Normalize(payload []byte, symbol string) ([]domain.Fact, error)
	Provider() string
}

// Dedupe collapses facts sharing the canonical identity
// (concept, period_type, fiscal_year, fiscal_period). Later facts win, so
// derived records appended after their sources take precedence.
func Dedupe(facts []domain.Fact) []domain.Fact {
	type key struct {
		concept, periodType, fiscalPeriod string
		fiscalYear                        int
	}
	index := make(map[key]int, len(facts))
	out := make([]domain.Fact, 0, len(facts))
	for _, f := range facts {
		k := key{f.Concept, f.PeriodType, f.FiscalPeriod, f.FiscalYear}
		if i, ok := index[k]; ok {
			out[i] = f
			continue
		}
		index[k] = len(out)
		out = append(out, f)
	}
	return out
}

// periodTypeFor maps a fiscal period label to the period type discriminator.
func periodTypeFor(fiscalPeriod string) string {
	if domain.QuarterPeriods[fiscalPeriod] {
		return domain.PeriodTypeQuarter
	}
	return domain.PeriodTypeFY
}

// yearFromDate extracts the calendar year from an ISO date string.
func yearFromDate(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

func parseISODate(value string) (time.Time, bool) {
	if len(value) < 10 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", value[:10])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// normalizeCurrencyCode trims and upper-cases a currency code, returning ""
// for anything unusable.
func normalizeCurrencyCode(v interface{}) string {
	s := strings.TrimSpace(asString(v))
	return strings.ToUpper(s)
}

// buildFrame renders a calendar frame tag ("CY2023" or "CY2023Q2") from an
// end date and a fiscal period.
func buildFrame(endDate, period string) string {
	if len(endDate) < 4 {
		return ""
	}
	year := endDate[:4]
	if _, err := strconv.Atoi(year); err != nil {
		return ""
	}
	period = strings.ToUpper(period)
	if domain.QuarterPeriods[period] {
		return "CY" + year + period
	}
	return "CY" + year
}

// inferQuarter maps a period end date to the calendar quarter it closes.
func inferQuarter(endDate string) string {
	parts := strings.SplitN(endDate, "-", 3)
	if len(parts) < 2 {
		return ""
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return ""
	}
	switch {
	case month <= 3:
		return "Q1"
	case month <= 6:
		return "Q2"
	case month <= 9:
		return "Q3"
	default:
		return "Q4"
	}
}

// recordKey identifies one fact slot inside a normalization pass.
type recordKey struct {
	end    string
	period string
	unit   string
}

// indexRecords buckets facts per concept keyed by (end, period, unit),
// keeping the first occurrence.
func indexRecords(facts []domain.Fact) map[string]map[recordKey]domain.Fact {
	indexed := make(map[string]map[recordKey]domain.Fact)
	for _, f := range facts {
		bucket := indexed[f.Concept]
		if bucket == nil {
			bucket = make(map[recordKey]domain.Fact)
			indexed[f.Concept] = bucket
		}
		k := recordKey{f.EndDate, f.FiscalPeriod, f.Unit}
		if _, ok := bucket[k]; !ok {
			bucket[k] = f
		}
	}
	return indexed
}

func candidateKeys(indexed map[string]map[recordKey]domain.Fact, concepts ...string) map[recordKey]bool {
	keys := make(map[recordKey]bool)
	for _, concept := range concepts {
		for k := range indexed[concept] {
			keys[k] = true
		}
	}
	return keys
}

// firstAt returns the first concept's fact present at the key, in preference
// order.
func firstAt(indexed map[string]map[recordKey]domain.Fact, key recordKey, concepts ...string) (domain.Fact, bool) {
	for _, concept := range concepts {
		if f, ok := indexed[concept][key]; ok {
			return f, true
		}
	}
	return domain.Fact{}, false
}
