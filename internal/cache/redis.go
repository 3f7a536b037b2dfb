package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/valuerun/valuerun/internal/metrics"
)

const (
	keyPrefix   = "valuerun:metric:"
	indexPrefix = "valuerun:metric-index:"

	opTimeout = 500 * time.Millisecond
)

// Redis is a metric cache shared across processes. Each symbol keeps a set of
// its cached metric keys so Invalidate can drop them in one pass.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})}
}

func metricKey(symbol, metricID string) string {
	return keyPrefix + strings.ToUpper(symbol) + ":" + metricID
}

func indexKey(symbol string) string {
	return indexPrefix + strings.ToUpper(symbol)
}

func (r *Redis) Get(ctx context.Context, symbol, metricID string) (metrics.Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payload, err := r.client.Get(ctx, metricKey(symbol, metricID)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("symbol", symbol).Str("metric", metricID).
				Msg("metric cache get failed")
		}
		return metrics.Result{}, false
	}
	var result metrics.Result
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Str("metric", metricID).
			Msg("metric cache entry corrupt")
		return metrics.Result{}, false
	}
	return result, true
}

func (r *Redis) Set(ctx context.Context, result metrics.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := metricKey(result.Symbol, result.MetricID)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, payload, 0)
	pipe.SAdd(ctx, indexKey(result.Symbol), key)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) Invalidate(ctx context.Context, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	index := indexKey(symbol)
	keys, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return r.client.Del(ctx, index).Err()
}

func (r *Redis) Close() error { return r.client.Close() }
