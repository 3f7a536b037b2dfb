// Package pipeline drives bulk per-symbol runs: normalize a raw payload,
// replace the symbol's facts, invalidate its metric cache, recompute and
// persist the metric catalogue. Symbols are independent; a failure is
// recorded and the batch continues.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/valuerun/valuerun/internal/cache"
	"github.com/valuerun/valuerun/internal/domain"
	"github.com/valuerun/valuerun/internal/metrics"
	"github.com/valuerun/valuerun/internal/normalize"
	"github.com/valuerun/valuerun/internal/persistence"
	"github.com/valuerun/valuerun/internal/telemetry"
)

// PayloadSource hands the runner an already-fetched raw payload per symbol.
// Acquisition (HTTP, disk, archive) is the caller's concern.
type PayloadSource interface {
	Payload(ctx context.Context, symbol string) ([]byte, error)
}

// PayloadFunc adapts a function to PayloadSource.
type PayloadFunc func(ctx context.Context, symbol string) ([]byte, error)

func (f PayloadFunc) Payload(ctx context.Context, symbol string) ([]byte, error) {
	return f(ctx, symbol)
}

// Event is one progress notification from a run, published per symbol.
type Event struct {
	RunID  string `json:"run_id"`
	Symbol string `json:"symbol"`
	Stage  string `json:"stage"`
	Facts  int    `json:"facts,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SymbolReport is the per-symbol outcome inside a run report.
type SymbolReport struct {
	Symbol   string `json:"symbol"`
	Facts    int    `json:"facts"`
	Computed int    `json:"computed"`
	Gaps     int    `json:"gaps"`
	Error    string `json:"error,omitempty"`
}

// Report summarizes one bulk run.
type Report struct {
	RunID      string         `json:"run_id"`
	Provider   string         `json:"provider"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Symbols    []SymbolReport `json:"symbols"`
	Failed     int            `json:"failed"`
}

// Runner wires the engine's stages together for bulk operation.
type Runner struct {
	Normalizer normalize.Normalizer
	Facts      persistence.FactsRepo
	Metrics    persistence.MetricsRepo
	Cache      cache.Cache
	Env        metrics.Env

	// Telemetry and Publish are optional.
	Telemetry *telemetry.Registry
	Publish   func(Event)
}

// Run processes each symbol in order. Cancellation is honored between
// symbols only, so a symbol's fact replacement is never left half-applied.
func (r Runner) Run(ctx context.Context, symbols []string, payloads PayloadSource) (Report, error) {
	report := Report{
		RunID:     uuid.NewString(),
		Provider:  r.Normalizer.Provider(),
		StartedAt: time.Now().UTC(),
	}
	log.Info().Str("run_id", report.RunID).Str("provider", report.Provider).
		Int("symbols", len(symbols)).Msg("pipeline run started")

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, err
		}
		entry := r.runSymbol(ctx, report.RunID, symbol, payloads)
		if entry.Error != "" {
			report.Failed++
		}
		report.Symbols = append(report.Symbols, entry)
	}

	report.FinishedAt = time.Now().UTC()
	log.Info().Str("run_id", report.RunID).Int("failed", report.Failed).
		Msg("pipeline run finished")
	return report, nil
}

func (r Runner) runSymbol(ctx context.Context, runID, symbol string, payloads PayloadSource) SymbolReport {
	entry := SymbolReport{Symbol: symbol}
	fail := func(stage string, err error) SymbolReport {
		entry.Error = fmt.Sprintf("%s: %v", stage, err)
		if r.Telemetry != nil {
			r.Telemetry.NormalizationRuns.WithLabelValues(r.Normalizer.Provider(), "error").Inc()
		}
		r.publish(Event{RunID: runID, Symbol: symbol, Stage: stage, Error: err.Error()})
		log.Warn().Err(err).Str("symbol", symbol).Str("stage", stage).Msg("symbol failed")
		return entry
	}

	payload, err := payloads.Payload(ctx, symbol)
	if err != nil {
		return fail("fetch", err)
	}
	facts, err := r.Normalizer.Normalize(payload, symbol)
	if err != nil {
		return fail("normalize", err)
	}
	facts = normalize.Dedupe(facts)

	stored, err := r.Facts.ReplaceFacts(ctx, symbol, facts)
	if err != nil {
		return fail("store", err)
	}
	entry.Facts = stored
	if err := r.Cache.Invalidate(ctx, symbol); err != nil {
		return fail("invalidate", err)
	}
	if r.Telemetry != nil {
		r.Telemetry.NormalizationRuns.WithLabelValues(r.Normalizer.Provider(), "ok").Inc()
		r.Telemetry.FactsStored.WithLabelValues(r.Normalizer.Provider()).Add(float64(stored))
	}
	r.publish(Event{RunID: runID, Symbol: symbol, Stage: "facts", Facts: stored})

	computed, gaps, err := r.computeMetrics(ctx, symbol)
	if err != nil {
		return fail("metrics", err)
	}
	entry.Computed = computed
	entry.Gaps = gaps
	r.publish(Event{RunID: runID, Symbol: symbol, Stage: "metrics"})
	return entry
}

// computeMetrics evaluates the whole catalogue, caching everything and
// persisting only real values.
func (r Runner) computeMetrics(ctx context.Context, symbol string) (computed, gaps int, err error) {
	now := time.Now().UTC()
	for _, metric := range metrics.Registry() {
		result, err := metric.Compute(ctx, symbol, r.Env)
		if err != nil {
			return computed, gaps, fmt.Errorf("failed to compute %s: %w", metric.ID(), err)
		}
		if r.Telemetry != nil {
			r.Telemetry.ObserveComputation(result)
		}
		if err := r.Cache.Set(ctx, result); err != nil {
			return computed, gaps, err
		}
		if !result.OK() {
			gaps++
			continue
		}
		if r.Metrics != nil {
			mv := domain.MetricValue{
				Symbol:     symbol,
				MetricID:   result.MetricID,
				Value:      result.Value,
				AsOf:       result.AsOf,
				Currency:   result.Currency,
				Inputs:     result.Inputs,
				ComputedAt: now,
			}
			if err := r.Metrics.Upsert(ctx, mv); err != nil {
				return computed, gaps, err
			}
		}
		computed++
	}
	return computed, gaps, nil
}

func (r Runner) publish(event Event) {
	if r.Publish != nil {
		r.Publish(event)
	}
}
