package aggregate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fluentlens/fluentlens/internal/core"
	"github.com/fluentlens/fluentlens/internal/core/kv"
	"github.com/fluentlens/fluentlens/internal/metrics"
)

// Flush outcomes, also used as metric labels.
const (
	OutcomeApplied   = "applied"
	OutcomeVanished  = "vanished"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// Flush triggers label where a flush originated.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerShutdown  = "shutdown"
)

type triggerKey struct{}

// WithTrigger labels flushes started with ctx.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFrom returns the label set by WithTrigger, defaulting to manual.
func TriggerFrom(ctx context.Context) string {
	if trigger, ok := ctx.Value(triggerKey{}).(string); ok && trigger != "" {
		return trigger
	}
	return TriggerManual
}

// Flusher drains accumulator entries into the durable store.
//
// Each key is read, applied as an additive upsert, then deleted. An add that
// lands between the read and the delete is lost; the window is bounded by a
// single store round-trip. Passes in one process run one at a time, so a
// delta is never read by two passes before its delete.
type Flusher struct {
	KV           kv.Store
	Store        FrequencyStore
	Workers      int
	CacheTimeout time.Duration
	StoreTimeout time.Duration
	Logger       *logging.Logger
	Clock        func() time.Time

	// StaleTTL expires malformed accumulator keys that carry no expiration
	// of their own.
	StaleTTL time.Duration

	mu sync.Mutex
}

// FlushAll drains every accumulator entry present when the scan ran. Per-key
// failures are counted in the report and leave the entry for a later pass.
// The returned error is non-nil only when the scan itself failed or ctx ended.
func (f *Flusher) FlushAll(ctx context.Context) (core.FlushReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	trigger := TriggerFrom(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()

	started := f.now()
	report := core.FlushReport{StartedAt: started}

	keys, err := withTimeout2(ctx, f.CacheTimeout, func(ctx context.Context) ([]string, error) {
		return f.KV.Scan(ctx, BatchPrefix)
	})
	if err != nil {
		report.Duration = f.now().Sub(started)
		metrics.RecordFlushRun(trigger, 0, 1, report.Duration)
		return report, cacheError("scan accumulator", err)
	}
	report.Scanned = len(keys)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers())

	for _, raw := range keys {
		g.Go(func() error {
			outcome, delta := f.flushKey(gctx, raw)
			metrics.RecordFlushKey(outcome)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeApplied:
				report.Applied++
				report.Delta += delta
			case OutcomeVanished:
				report.Vanished++
			case OutcomeMalformed:
				report.Malformed++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = f.now().Sub(started)
	metrics.RecordFlushRun(trigger, report.Delta, report.Failed, report.Duration)

	if f.Logger != nil {
		f.Logger.Info("Flushed batch accumulator",
			zap.String("trigger", trigger),
			zap.Int("scanned", report.Scanned),
			zap.Int("applied", report.Applied),
			zap.Int("vanished", report.Vanished),
			zap.Int("malformed", report.Malformed),
			zap.Int("failed", report.Failed),
			zap.Int64("delta", report.Delta),
			zap.Duration("duration", report.Duration))
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (f *Flusher) flushKey(ctx context.Context, raw string) (string, int64) {
	key, err := ParseBatchKey(raw)
	if err != nil {
		f.warn("Skipping malformed accumulator key", raw, err)
		f.expireStale(ctx, raw)
		return OutcomeMalformed, 0
	}

	delta, found, err := withTimeout3(ctx, f.CacheTimeout, func(ctx context.Context) (int64, bool, error) {
		return f.KV.Get(ctx, raw)
	})
	if err != nil {
		f.warn("Failed to read accumulator entry", raw, cacheError("read accumulator", err))
		return OutcomeFailed, 0
	}
	if !found {
		return OutcomeVanished, 0
	}
	if delta < 1 {
		if err := withTimeout1(ctx, f.CacheTimeout, func(ctx context.Context) error {
			return f.KV.Delete(ctx, raw)
		}); err != nil {
			f.warn("Failed to clear non-positive accumulator entry", raw, cacheError("clear accumulator", err))
		}
		return OutcomeVanished, 0
	}

	_, err = withTimeout2(ctx, f.StoreTimeout, func(ctx context.Context) (int64, error) {
		return f.Store.AddFrequency(ctx, key, delta)
	})
	if err != nil {
		f.warn("Failed to apply accumulated delta", raw, storeError("apply delta", err))
		return OutcomeFailed, 0
	}

	err = withTimeout1(ctx, f.CacheTimeout, func(ctx context.Context) error {
		return f.KV.Delete(ctx, raw)
	})
	if err != nil {
		// The delta is durable but the entry survives; the next pass reapplies it
		// unless the window expires first.
		if f.Logger != nil {
			f.Logger.Error("Applied delta but failed to clear accumulator entry",
				zap.String("key", raw),
				zap.Int64("delta", delta),
				zap.Error(cacheError("clear accumulator", err)))
		}
		return OutcomeFailed, 0
	}

	return OutcomeApplied, delta
}

// expireStale bounds the lifetime of a key the flush cannot apply. Keys that
// already expire are left alone.
func (f *Flusher) expireStale(ctx context.Context, raw string) {
	ttl := f.StaleTTL
	if ttl <= 0 {
		ttl = core.DefaultBatchInterval
	}
	err := withTimeout1(ctx, f.CacheTimeout, func(ctx context.Context) error {
		_, expires, err := f.KV.TTL(ctx, raw)
		if err != nil || expires {
			return err
		}
		return f.KV.Expire(ctx, raw, ttl)
	})
	if err != nil {
		f.warn("Failed to expire malformed accumulator key", raw, cacheError("expire accumulator", err))
	}
}

func (f *Flusher) warn(msg, key string, err error) {
	if f.Logger == nil {
		return
	}
	fields := []zap.Field{zap.String("key", key), zap.Error(err)}
	if errors.Is(err, context.DeadlineExceeded) {
		fields = append(fields, zap.Bool("timeout", true))
	}
	f.Logger.Warn(msg, fields...)
}

func (f *Flusher) workers() int {
	if f.Workers > 0 {
		return f.Workers
	}
	return 1
}

func (f *Flusher) now() time.Time {
	if f.Clock != nil {
		return f.Clock()
	}
	return time.Now()
}
