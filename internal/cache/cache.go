// Package cache memoizes computed metric values per symbol. The cache is a
// best-effort memo, not a dependency-tracked invalidation graph: callers that
// replace a symbol's facts or market data must call Invalidate themselves.
package cache

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/valuerun/valuerun/internal/metrics"
)

// Cache stores metric results keyed by (symbol, metric id). Gap results are
// cached the same as values so a known-unavailable metric is not recomputed
// on every read.
type Cache interface {
	Get(ctx context.Context, symbol, metricID string) (metrics.Result, bool)
	Set(ctx context.Context, result metrics.Result) error
	// Invalidate drops every cached metric for one symbol.
	Invalidate(ctx context.Context, symbol string) error
	Close() error
}

// Stats counts cache traffic since startup.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// NewAuto picks the Redis cache when REDIS_ADDR is set, otherwise the
// in-process memory cache.
func NewAuto() Cache {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		log.Info().Str("addr", addr).Msg("metric cache: redis")
		return NewRedis(addr, os.Getenv("REDIS_PASSWORD"), 0)
	}
	log.Debug().Msg("metric cache: in-memory")
	return NewMemory()
}
