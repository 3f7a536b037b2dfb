package metrics

import (
	"context"
	"sort"
	"time"

	"github.com/valuerun/valuerun/internal/domain"
	"github.com/valuerun/valuerun/internal/persistence"
)

// fakeFacts serves canonical facts for one symbol from memory, newest-first
// like the SQL repository.
type fakeFacts struct {
	facts []domain.Fact
}

func (f *fakeFacts) add(facts ...domain.Fact) { f.facts = append(f.facts, facts...) }

func (f *fakeFacts) LatestFact(_ context.Context, symbol, concept string) (*domain.Fact, error) {
	matches := f.matching(symbol, concept, "")
	if len(matches) == 0 {
		return nil, nil
	}
	fact := matches[0]
	return &fact, nil
}

func (f *fakeFacts) FactsForConcept(_ context.Context, symbol, concept string, q persistence.FactQuery) ([]domain.Fact, error) {
	matches := f.matching(symbol, concept, q.FiscalPeriod)
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

func (f *fakeFacts) matching(symbol, concept, fiscalPeriod string) []domain.Fact {
	var matches []domain.Fact
	for _, fact := range f.facts {
		if fact.Symbol != symbol || fact.Concept != concept {
			continue
		}
		if fiscalPeriod != "" && fact.FiscalPeriod != fiscalPeriod {
			continue
		}
		matches = append(matches, fact)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].EndDate != matches[j].EndDate {
			return matches[i].EndDate > matches[j].EndDate
		}
		return matches[i].Filed > matches[j].Filed
	})
	return matches
}

type fakeMarket struct {
	snapshot *domain.MarketSnapshot
}

func (f *fakeMarket) LatestSnapshot(_ context.Context, _ string) (*domain.MarketSnapshot, error) {
	return f.snapshot, nil
}

func testEnv(facts *fakeFacts, market *fakeMarket, asOf string) Env {
	env := Env{Facts: facts}
	if market != nil {
		env.Market = market
	} else {
		env.Market = &fakeMarket{}
	}
	if asOf != "" {
		t, err := time.Parse("2006-01-02", asOf)
		if err != nil {
			panic(err)
		}
		env.AsOf = t
	}
	return env
}

func qFact(symbol, concept, period, end string, value float64) domain.Fact {
	year := 0
	if y, ok := yearOf(end); ok {
		year = y
	}
	return domain.Fact{
		Symbol:       symbol,
		Concept:      concept,
		PeriodType:   domain.PeriodTypeQuarter,
		FiscalYear:   year,
		FiscalPeriod: period,
		EndDate:      end,
		Unit:         "USD",
		Value:        value,
		Currency:     "USD",
		Provider:     "SEC",
	}
}

func fyFact(symbol, concept, end string, value float64) domain.Fact {
	year := 0
	if y, ok := yearOf(end); ok {
		year = y
	}
	return domain.Fact{
		Symbol:       symbol,
		Concept:      concept,
		PeriodType:   domain.PeriodTypeFY,
		FiscalYear:   year,
		FiscalPeriod: "FY",
		EndDate:      end,
		Unit:         "USD",
		Value:        value,
		Currency:     "USD",
		Provider:     "SEC",
		Frame:        "CY" + end[:4],
	}
}

func floatPtr(v float64) *float64 { return &v }
