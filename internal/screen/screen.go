// Package screen evaluates ordered pass/fail criteria over computed metrics.
// A criterion whose operand cannot be computed is NotEvaluable, which is
// distinct from Fail but still excludes the symbol.
package screen

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/valuerun/valuerun/internal/metrics"
)

// MetricSource resolves one metric value for one symbol, normally the metric
// cache memo.
type MetricSource interface {
	Metric(ctx context.Context, symbol, metricID string) (metrics.Result, error)
}

// Term is one side of a comparison: either a metric reference with an
// optional multiplier, or a literal constant.
type Term struct {
	Metric string   `yaml:"metric,omitempty"`
	Value  *float64 `yaml:"value,omitempty"`
	// Multiplier scales the resolved operand. Zero means unset and is
	// treated as 1.
	Multiplier float64 `yaml:"multiplier,omitempty"`
}

func (t Term) multiplier() float64 {
	if t.Multiplier == 0 {
		return 1
	}
	return t.Multiplier
}

func (t Term) validate() error {
	if t.Metric == "" && t.Value == nil {
		return fmt.Errorf("term needs a metric or a value")
	}
	if t.Metric != "" && t.Value != nil {
		return fmt.Errorf("term %q has both a metric and a value", t.Metric)
	}
	return nil
}

// Criterion is one ordered comparison in a screen.
type Criterion struct {
	Name     string `yaml:"name"`
	Left     Term   `yaml:"left"`
	Operator string `yaml:"operator"`
	Right    Term   `yaml:"right"`
}

// Screen is an ordered set of criteria. A symbol passes iff every criterion
// passes.
type Screen struct {
	Name     string      `yaml:"name"`
	Criteria []Criterion `yaml:"criteria"`
}

var operators = map[string]func(l, r float64) bool{
	"<=": func(l, r float64) bool { return l <= r },
	"<":  func(l, r float64) bool { return l < r },
	">=": func(l, r float64) bool { return l >= r },
	">":  func(l, r float64) bool { return l > r },
	"==": func(l, r float64) bool { return l == r },
}

// Validate checks operators and term shapes up front so evaluation never hits
// a malformed criterion mid-run.
func (s Screen) Validate() error {
	if len(s.Criteria) == 0 {
		return fmt.Errorf("screen %q has no criteria", s.Name)
	}
	for i, criterion := range s.Criteria {
		if _, ok := operators[criterion.Operator]; !ok {
			return fmt.Errorf("criterion %d (%s): unsupported operator %q", i, criterion.Name, criterion.Operator)
		}
		if err := criterion.Left.validate(); err != nil {
			return fmt.Errorf("criterion %d (%s): left: %w", i, criterion.Name, err)
		}
		if err := criterion.Right.validate(); err != nil {
			return fmt.Errorf("criterion %d (%s): right: %w", i, criterion.Name, err)
		}
	}
	return nil
}

// Outcome is the result of one criterion for one symbol.
type Outcome string

const (
	Pass         Outcome = "pass"
	Fail         Outcome = "fail"
	NotEvaluable Outcome = "not_evaluable"
)

// CriterionResult records the outcome and the literal operand values that
// were compared, so bulk runs are reproducible and auditable.
type CriterionResult struct {
	Name     string            `json:"name"`
	Outcome  Outcome           `json:"outcome"`
	Left     *float64          `json:"left,omitempty"`
	Right    *float64          `json:"right,omitempty"`
	LeftGap  metrics.GapReason `json:"left_gap,omitempty"`
	RightGap metrics.GapReason `json:"right_gap,omitempty"`
}

// SymbolResult is one symbol's evaluation against a screen.
type SymbolResult struct {
	Symbol   string            `json:"symbol"`
	Passed   bool              `json:"passed"`
	Criteria []CriterionResult `json:"criteria"`
}

// Evaluator applies screens to symbols through a metric source.
type Evaluator struct {
	Source MetricSource
}

// EvaluateSymbol runs every criterion for one symbol. Criteria after a
// failure are still evaluated so the result lists all outcomes.
func (e Evaluator) EvaluateSymbol(ctx context.Context, symbol string, s Screen) (SymbolResult, error) {
	result := SymbolResult{Symbol: symbol, Passed: true}
	for _, criterion := range s.Criteria {
		outcome, err := e.evaluateCriterion(ctx, symbol, criterion)
		if err != nil {
			return SymbolResult{}, err
		}
		if outcome.Outcome != Pass {
			result.Passed = false
		}
		result.Criteria = append(result.Criteria, outcome)
	}
	return result, nil
}

// Evaluate runs a screen across a universe. Cancellation is checked between
// symbols only, never mid-symbol.
func (e Evaluator) Evaluate(ctx context.Context, symbols []string, s Screen) ([]SymbolResult, error) {
	results := make([]SymbolResult, 0, len(symbols))
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := e.EvaluateSymbol(ctx, symbol, s)
		if err != nil {
			return results, fmt.Errorf("failed to evaluate %s: %w", symbol, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (e Evaluator) evaluateCriterion(ctx context.Context, symbol string, criterion Criterion) (CriterionResult, error) {
	result := CriterionResult{Name: criterion.Name}

	left, leftGap, err := e.resolveTerm(ctx, symbol, criterion.Left)
	if err != nil {
		return CriterionResult{}, err
	}
	right, rightGap, err := e.resolveTerm(ctx, symbol, criterion.Right)
	if err != nil {
		return CriterionResult{}, err
	}
	result.Left, result.LeftGap = left, leftGap
	result.Right, result.RightGap = right, rightGap

	if left == nil || right == nil {
		result.Outcome = NotEvaluable
		log.Debug().Str("symbol", symbol).Str("criterion", criterion.Name).
			Msg("criterion not evaluable")
		return result, nil
	}

	compare, ok := operators[criterion.Operator]
	if !ok {
		return CriterionResult{}, fmt.Errorf("unsupported operator %q", criterion.Operator)
	}
	if compare(*left, *right) {
		result.Outcome = Pass
	} else {
		result.Outcome = Fail
	}
	return result, nil
}

func (e Evaluator) resolveTerm(ctx context.Context, symbol string, term Term) (*float64, metrics.GapReason, error) {
	if term.Value != nil {
		value := *term.Value * term.multiplier()
		return &value, "", nil
	}
	metric, err := e.Source.Metric(ctx, symbol, term.Metric)
	if err != nil {
		return nil, "", err
	}
	if !metric.OK() {
		return nil, metric.Gap, nil
	}
	value := metric.Value * term.multiplier()
	return &value, "", nil
}
