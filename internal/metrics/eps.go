package metrics

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/valuerun/valuerun/internal/domain"
)

var epsConcepts = []string{"EarningsPerShareDiluted", "EarningsPerShareBasic"}

var epsStreakConcepts = []string{
	"EarningsPerShareDiluted",
	"EarningsPerShareBasicAndDiluted",
	"EarningsPerShareBasic",
}

// EPSTTM sums the four most recent strictly consecutive quarterly EPS values.
type EPSTTM struct{}

func (EPSTTM) ID() string                 { return "eps_ttm" }
func (EPSTTM) RequiredConcepts() []string { return epsConcepts }

func (m EPSTTM) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	ttm, reason, err := ttmSum(ctx, env, symbol, epsConcepts, false)
	if err != nil {
		return Result{}, err
	}
	if ttm == nil {
		log.Debug().Str("symbol", symbol).Msg("eps_ttm: no usable quarterly window")
		return gapResult(symbol, m.ID(), reason), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    ttm.total,
		AsOf:     ttm.asOf,
		Currency: ttm.currency,
		Inputs:   epsConcepts,
	}, nil
}

// EPSSixYearAverage averages EPS over six distinct fiscal years identified by
// calendar-year frames. Gapped years are fine; fewer than six are not.
type EPSSixYearAverage struct{}

func (EPSSixYearAverage) ID() string                 { return "eps_6y_avg" }
func (EPSSixYearAverage) RequiredConcepts() []string { return epsConcepts }

func (m EPSSixYearAverage) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	reason := GapMissingInput
	for _, concept := range epsConcepts {
		records, err := fyRecords(ctx, env, symbol, concept)
		if err != nil {
			return Result{}, err
		}
		unique := uniqueFY(records)
		if len(unique) == 0 {
			continue
		}
		if len(unique) < 6 {
			reason = GapInsufficientPeriods
			continue
		}
		ordered := fyRecordsByEndDesc(unique)[:6]
		total := 0.0
		for _, record := range ordered {
			value, _ := normalizeAmount(record)
			total += value
		}
		return Result{
			Symbol:   symbol,
			MetricID: m.ID(),
			Value:    total / 6,
			AsOf:     ordered[0].EndDate,
			Inputs:   []string{concept},
		}, nil
	}
	return gapResult(symbol, m.ID(), reason), nil
}

// EPSStreak counts consecutive positive-EPS fiscal years back from the
// latest one.
type EPSStreak struct{}

func (EPSStreak) ID() string                 { return "eps_streak" }
func (EPSStreak) RequiredConcepts() []string { return epsStreakConcepts }

func (m EPSStreak) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	var records []domain.Fact
	for _, concept := range epsStreakConcepts {
		var err error
		records, err = fyRecords(ctx, env, symbol, concept)
		if err != nil {
			return Result{}, err
		}
		if len(records) > 0 {
			break
		}
	}
	if len(records) == 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	recent, err := hasRecentFact(ctx, env, symbol, epsStreakConcepts, maxFYFactAgeDays)
	if err != nil {
		return Result{}, err
	}
	if !recent {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	unique := uniqueFY(records)
	streak := 0
	for _, record := range fyRecordsByEndDesc(unique) {
		if record.Value <= 0 {
			break
		}
		streak++
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    float64(streak),
		AsOf:     records[0].EndDate,
		Inputs:   epsStreakConcepts,
	}, nil
}

// GrahamEPSCAGR averages up to three trailing 10-year EPS CAGRs, requiring at
// least twelve distinct fiscal years of history.
type GrahamEPSCAGR struct{}

func (GrahamEPSCAGR) ID() string                 { return "graham_eps_10y_cagr_3y_avg" }
func (GrahamEPSCAGR) RequiredConcepts() []string { return epsConcepts }

func (m GrahamEPSCAGR) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	var records []domain.Fact
	for _, concept := range epsConcepts {
		var err error
		records, err = fyRecords(ctx, env, symbol, concept)
		if err != nil {
			return Result{}, err
		}
		if len(records) > 0 {
			break
		}
	}
	if len(records) == 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	if len(records) < 12 {
		return gapResult(symbol, m.ID(), GapInsufficientPeriods), nil
	}
	recent, err := hasRecentFact(ctx, env, symbol, epsConcepts, maxFYFactAgeDays)
	if err != nil {
		return Result{}, err
	}
	if !recent {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	unique := uniqueFY(records)
	ordered := fyRecordsByEndDesc(unique)
	if len(ordered) < 12 {
		return gapResult(symbol, m.ID(), GapInsufficientPeriods), nil
	}
	// Ascending for the CAGR walk.
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EndDate < ordered[j].EndDate })

	var cagrs []float64
	for idx := len(ordered) - 1; idx > 9 && len(cagrs) < 3; idx-- {
		current, _ := normalizeAmount(ordered[idx])
		past, _ := normalizeAmount(ordered[idx-10])
		if current <= 0 || past <= 0 {
			continue
		}
		cagrs = append(cagrs, math.Pow(current/past, 1.0/10.0)-1)
	}
	if len(cagrs) == 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	total := 0.0
	for _, v := range cagrs {
		total += v
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    total / float64(len(cagrs)),
		AsOf:     records[0].EndDate,
		Inputs:   epsConcepts,
	}, nil
}

func fyRecordsByEndDesc(unique map[string]domain.Fact) []domain.Fact {
	ordered := make([]domain.Fact, 0, len(unique))
	for _, record := range unique {
		ordered = append(ordered, record)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EndDate > ordered[j].EndDate })
	return ordered
}
