package aggregate

import (
	"context"
	"sort"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/core"
	"github.com/fluentlens/fluentlens/internal/core/kv"
	"github.com/fluentlens/fluentlens/internal/metrics"
)

// Accumulator collects deltas awaiting the next flush. Each entry lives for a
// fixed window that starts when the entry is created; later adds never extend it.
type Accumulator struct {
	KV           kv.Store
	Interval     time.Duration
	CacheTimeout time.Duration
	Logger       *logging.Logger
}

// Add atomically adds delta to the entry for key and returns the pending total.
func (a *Accumulator) Add(ctx context.Context, key core.FrequencyKey, delta int64) (int64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	if delta < 1 {
		return 0, invalidf("accumulator delta must be positive, got %d", delta)
	}
	batchKey := BatchKey(key)

	total, err := withTimeout2(ctx, a.CacheTimeout, func(ctx context.Context) (int64, error) {
		return a.KV.IncrBy(ctx, batchKey, delta)
	})
	if err != nil {
		return 0, cacheError("accumulate delta", err)
	}

	// Entries are always >= 1, so total == delta only for the add that created it.
	opened := total == delta
	if opened {
		err := withTimeout1(ctx, a.CacheTimeout, func(ctx context.Context) error {
			return a.KV.Expire(ctx, batchKey, a.interval())
		})
		if err != nil {
			if a.Logger != nil {
				a.Logger.Warn("Accumulator entry created without expiry",
					zap.String("key", batchKey),
					zap.Error(err))
			}
			return 0, cacheError("set accumulator window", err)
		}
	}

	metrics.RecordAccumulate(delta, opened)
	return total, nil
}

// Pending lists the unflushed deltas of a user ordered by category and
// subcategory. Entries that vanish mid-listing are omitted.
func (a *Accumulator) Pending(ctx context.Context, userID uuid.UUID) ([]core.PendingDelta, error) {
	if userID == uuid.Nil {
		return nil, invalidf("user id is required")
	}

	keys, err := withTimeout2(ctx, a.CacheTimeout, func(ctx context.Context) ([]string, error) {
		return a.KV.Scan(ctx, UserBatchPrefix(userID))
	})
	if err != nil {
		return nil, cacheError("scan accumulator", err)
	}

	pending := make([]core.PendingDelta, 0, len(keys))
	for _, raw := range keys {
		key, err := ParseBatchKey(raw)
		if err != nil {
			continue
		}

		delta, found, err := withTimeout3(ctx, a.CacheTimeout, func(ctx context.Context) (int64, bool, error) {
			return a.KV.Get(ctx, raw)
		})
		if err != nil {
			return nil, cacheError("read accumulator", err)
		}
		if !found {
			continue
		}

		entry := core.PendingDelta{FrequencyKey: key, Delta: delta}
		ttl, expires, err := withTimeout3(ctx, a.CacheTimeout, func(ctx context.Context) (time.Duration, bool, error) {
			return a.KV.TTL(ctx, raw)
		})
		if err != nil {
			return nil, cacheError("read accumulator window", err)
		}
		if expires {
			entry.ExpiresIn = &ttl
		}
		pending = append(pending, entry)
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Category != pending[j].Category {
			return pending[i].Category < pending[j].Category
		}
		return pending[i].Subcategory < pending[j].Subcategory
	})
	return pending, nil
}

func (a *Accumulator) interval() time.Duration {
	if a.Interval > 0 {
		return a.Interval
	}
	return core.DefaultBatchInterval
}
