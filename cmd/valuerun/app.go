package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/valuerun/valuerun/internal/application"
	"github.com/valuerun/valuerun/internal/cache"
	"github.com/valuerun/valuerun/internal/fx"
	"github.com/valuerun/valuerun/internal/metrics"
	"github.com/valuerun/valuerun/internal/normalize"
	"github.com/valuerun/valuerun/internal/persistence"
	"github.com/valuerun/valuerun/internal/persistence/postgres"
	"github.com/valuerun/valuerun/internal/pipeline"
)

// app bundles the runtime dependencies shared by the subcommands.
type app struct {
	cfg application.Config

	db     *sqlx.DB
	facts  persistence.FactsRepo
	market persistence.MarketDataRepo
	values persistence.MetricsRepo

	cache cache.Cache
	env   metrics.Env
}

func newApp(ctx context.Context, asOf time.Time) (*app, error) {
	cfg, err := application.Load(configPath)
	if err != nil {
		return nil, err
	}
	db, err := postgres.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	timeout := cfg.Database.Timeout()
	a := &app{
		cfg:    cfg,
		db:     db,
		facts:  postgres.NewFactsRepo(db, timeout),
		market: postgres.NewMarketDataRepo(db, timeout),
		values: postgres.NewMetricsRepo(db, timeout),
		cache:  newCache(cfg.Redis),
	}
	a.env = metrics.Env{
		Facts:  a.facts,
		Market: a.market,
		FX:     fx.NewStore(cfg.Data.FXDir),
		AsOf:   asOf,
	}
	return a, nil
}

func newCache(cfg application.RedisConfig) cache.Cache {
	if cfg.Addr != "" {
		return cache.NewRedis(cfg.Addr, cfg.Password, cfg.DB)
	}
	return cache.NewAuto()
}

func (a *app) Close() {
	a.cache.Close()
	a.db.Close()
}

// memo is the cached metric source read paths share.
func (a *app) memo() cache.Memo {
	return cache.Memo{Cache: a.cache, Env: a.env}
}

func newNormalizer(provider string) (normalize.Normalizer, error) {
	switch strings.ToLower(provider) {
	case "sec":
		return normalize.NewSECNormalizer(), nil
	case "eodhd":
		return normalize.NewEODHDNormalizer(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// dirPayloads serves pre-fetched raw payloads, one <SYMBOL>.json per symbol.
func dirPayloads(dir string) pipeline.PayloadFunc {
	return func(_ context.Context, symbol string) ([]byte, error) {
		path := filepath.Join(dir, strings.ToUpper(symbol)+".json")
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		return b, nil
	}
}
