package aggregate

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/core"
	"github.com/fluentlens/fluentlens/internal/core/kv"
	"github.com/fluentlens/fluentlens/internal/metrics"
)

// LiveCounter keeps the advisory per-pair count in the fast layer. On a miss
// it seeds the counter from the durable record before incrementing, so the
// value it reports is the durable frequency plus increments since seeding.
type LiveCounter struct {
	KV           kv.Store
	Store        FrequencyStore
	TTL          time.Duration
	CacheTimeout time.Duration
	StoreTimeout time.Duration
	Logger       *logging.Logger
}

// Increment adds one occurrence and returns the live count.
func (c *LiveCounter) Increment(ctx context.Context, key core.FrequencyKey) (int64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	liveKey := LiveKey(key)

	_, found, err := withTimeout3(ctx, c.CacheTimeout, func(ctx context.Context) (int64, bool, error) {
		return c.KV.Get(ctx, liveKey)
	})
	if err != nil {
		return 0, cacheError("read live counter", err)
	}

	if !found {
		if err := c.seed(ctx, key, liveKey); err != nil {
			return 0, err
		}
	}

	count, err := withTimeout2(ctx, c.CacheTimeout, func(ctx context.Context) (int64, error) {
		return c.KV.IncrBy(ctx, liveKey, 1)
	})
	if err != nil {
		return 0, cacheError("increment live counter", err)
	}
	return count, nil
}

// seed initializes a missing counter from the durable record. A concurrent
// seed that wins the race is left in place.
func (c *LiveCounter) seed(ctx context.Context, key core.FrequencyKey, liveKey string) error {
	record, err := withTimeout2(ctx, c.StoreTimeout, func(ctx context.Context) (*core.FrequencyRecord, error) {
		return c.Store.GetFrequency(ctx, key)
	})
	if err != nil {
		return storeError("seed live counter", err)
	}

	var base int64
	if record != nil {
		base = record.Frequency
	}

	created, err := withTimeout2(ctx, c.CacheTimeout, func(ctx context.Context) (bool, error) {
		return c.KV.SetNX(ctx, liveKey, base, c.TTL)
	})
	if err != nil {
		return cacheError("seed live counter", err)
	}

	if created {
		metrics.RecordLiveSeed(record != nil)
		if c.Logger != nil {
			c.Logger.Debug("Seeded live counter",
				zap.String("key", liveKey),
				zap.Int64("base", base))
		}
	}
	return nil
}

// Get reads the live counter without seeding it.
func (c *LiveCounter) Get(ctx context.Context, key core.FrequencyKey) (int64, bool, error) {
	if err := ValidateKey(key); err != nil {
		return 0, false, err
	}
	count, found, err := withTimeout3(ctx, c.CacheTimeout, func(ctx context.Context) (int64, bool, error) {
		return c.KV.Get(ctx, LiveKey(key))
	})
	if err != nil {
		return 0, false, cacheError("read live counter", err)
	}
	return count, found, nil
}
