package metrics

import (
	"context"
)

var longTermDebtConcepts = []string{"LongTermDebtNoncurrent", "LongTermDebt"}

// LongTermDebt reports the latest long-term debt balance, preferring the
// noncurrent line over the combined one.
type LongTermDebt struct{}

func (LongTermDebt) ID() string                 { return "long_term_debt" }
func (LongTermDebt) RequiredConcepts() []string { return longTermDebtConcepts }

func (m LongTermDebt) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	for _, concept := range longTermDebtConcepts {
		fact, err := env.Facts.LatestFact(ctx, symbol, concept)
		if err != nil {
			return Result{}, err
		}
		if fact == nil {
			continue
		}
		value, currency := normalizeAmount(*fact)
		return Result{
			Symbol:   symbol,
			MetricID: m.ID(),
			Value:    value,
			AsOf:     fact.EndDate,
			Currency: currency,
			Inputs:   []string{concept},
		}, nil
	}
	return gapResult(symbol, m.ID(), GapMissingInput), nil
}

var shortTermDebtShareConcepts = []string{"ShortTermDebt", "LongTermDebt"}

// ShortTermDebtShare is short-term debt as a fraction of total debt.
type ShortTermDebtShare struct{}

func (ShortTermDebtShare) ID() string                 { return "short_term_debt_share" }
func (ShortTermDebtShare) RequiredConcepts() []string { return shortTermDebtShareConcepts }

func (m ShortTermDebtShare) Compute(ctx context.Context, symbol string, env Env) (Result, error) {
	short, err := env.Facts.LatestFact(ctx, symbol, "ShortTermDebt")
	if err != nil {
		return Result{}, err
	}
	long, err := env.Facts.LatestFact(ctx, symbol, "LongTermDebt")
	if err != nil {
		return Result{}, err
	}
	if short == nil || long == nil {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	now := env.now()
	if !isRecent(short, now, maxFactAgeDays) || !isRecent(long, now, maxFactAgeDays) {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}

	shortValue, shortCurrency := normalizeAmount(*short)
	longValue, longCurrency := normalizeAmount(*long)
	currency, ok := mergeCurrency(shortCurrency, longCurrency)
	if !ok {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	total := shortValue + longValue
	if total <= 0 {
		return gapResult(symbol, m.ID(), GapMissingInput), nil
	}
	return Result{
		Symbol:   symbol,
		MetricID: m.ID(),
		Value:    shortValue / total,
		AsOf:     maxDate(short.EndDate, long.EndDate),
		Currency: currency,
		Inputs:   shortTermDebtShareConcepts,
	}, nil
}

// totalDebt resolves the latest fresh short- plus long-term debt in one
// currency. Nil with an empty reason means a repo error already surfaced.
func totalDebt(ctx context.Context, env Env, symbol string) (*amount, GapReason, error) {
	short, err := env.Facts.LatestFact(ctx, symbol, "ShortTermDebt")
	if err != nil {
		return nil, "", err
	}
	long, err := env.Facts.LatestFact(ctx, symbol, "LongTermDebt")
	if err != nil {
		return nil, "", err
	}
	if short == nil || long == nil {
		return nil, GapMissingInput, nil
	}
	now := env.now()
	if !isRecent(short, now, maxFactAgeDays) || !isRecent(long, now, maxFactAgeDays) {
		return nil, GapMissingInput, nil
	}
	shortValue, shortCurrency := normalizeAmount(*short)
	longValue, longCurrency := normalizeAmount(*long)
	currency, ok := mergeCurrency(shortCurrency, longCurrency)
	if !ok {
		return nil, GapMissingInput, nil
	}
	return &amount{
		total:    shortValue + longValue,
		asOf:     maxDate(short.EndDate, long.EndDate),
		currency: currency,
	}, "", nil
}
