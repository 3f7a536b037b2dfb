// Package marketdata fetches end-of-day quotes from external providers and
// maintains the per-symbol market snapshot (latest-only, not a time series).
package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/valuerun/valuerun/internal/domain"
)

// Provider fetches the latest quote for one symbol. A symbol the provider
// does not know is a nil snapshot, not an error.
type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (*domain.MarketSnapshot, error)
}

// guard wraps provider calls in a client-side rate limiter and a circuit
// breaker so a failing or throttling upstream cannot stall a bulk run.
type guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func newGuard(name string, rps float64, burst int) *guard {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("provider circuit state changed")
		},
	}
	return &guard{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *guard) do(ctx context.Context, fn func() (*domain.MarketSnapshot, error)) (*domain.MarketSnapshot, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	snapshot, _ := result.(*domain.MarketSnapshot)
	return snapshot, nil
}
