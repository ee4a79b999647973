package cmd

import (
	"context"
	"fmt"

	"github.com/fluentlens/fluentlens/internal/config"
	"github.com/fluentlens/fluentlens/internal/core/aggregate"
	"github.com/fluentlens/fluentlens/internal/core/kv"
	"github.com/fluentlens/fluentlens/internal/core/store"
	"github.com/fluentlens/fluentlens/internal/observability"
)

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// pipeline bundles the aggregator with the resources it owns.
type pipeline struct {
	cfg *config.Config
	agg *aggregate.Aggregator
	kv  kv.Store
	db  *store.Store
}

// openPipeline loads configuration and connects both storage layers.
func openPipeline(ctx context.Context) (*pipeline, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	cache, err := kv.Open(ctx, cfg.Cache)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	agg, err := aggregate.New(aggregate.Options{
		KV:            cache,
		Store:         db,
		BatchInterval: cfg.Batch.Interval,
		LiveTTL:       cfg.Cache.LiveTTL,
		CacheTimeout:  cfg.Cache.OpTimeout,
		StoreTimeout:  cfg.Store.OpTimeout,
		FlushWorkers:  cfg.Batch.FlushWorkers,
		Logger:        observability.Logger(),
	})
	if err != nil {
		_ = cache.Close()
		_ = db.Close()
		return nil, err
	}

	return &pipeline{cfg: cfg, agg: agg, kv: cache, db: db}, nil
}

// Close releases the fast layer first, then the durable store.
func (p *pipeline) Close() error {
	if p == nil {
		return nil
	}
	kvErr := p.kv.Close()
	dbErr := p.db.Close()
	if kvErr != nil {
		return fmt.Errorf("close kv store: %w", kvErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close store: %w", dbErr)
	}
	return nil
}
