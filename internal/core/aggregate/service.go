// Package aggregate implements the error-frequency pipeline: live counters
// seeded from the durable store, per-window batch accumulators, and the flush
// that folds accumulated deltas back into the store.
package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/core"
	"github.com/fluentlens/fluentlens/internal/core/kv"
	"github.com/fluentlens/fluentlens/internal/metrics"
	"github.com/fluentlens/fluentlens/internal/observability"
)

// DefaultTopN is the number of errors returned when a caller does not ask.
const DefaultTopN = 5

// FrequencyStore is the durable store capability the pipeline needs.
type FrequencyStore interface {
	GetFrequency(ctx context.Context, key core.FrequencyKey) (*core.FrequencyRecord, error)
	AddFrequency(ctx context.Context, key core.FrequencyKey, delta int64) (int64, error)
	TopFrequencies(ctx context.Context, userID uuid.UUID, limit int) ([]core.RankedError, error)
}

// Options configures an Aggregator. KV and Store are required.
type Options struct {
	KV    kv.Store
	Store FrequencyStore

	// BatchInterval is the accumulator window; zero uses core.DefaultBatchInterval.
	BatchInterval time.Duration

	// LiveTTL optionally expires live counters.
	LiveTTL time.Duration

	CacheTimeout time.Duration
	StoreTimeout time.Duration
	FlushWorkers int

	Logger *logging.Logger
	Clock  func() time.Time
}

// Aggregator is the entry point used by the HTTP and CLI surfaces.
type Aggregator struct {
	live    *LiveCounter
	acc     *Accumulator
	flusher *Flusher
	store   FrequencyStore
	opts    Options
	logger  *logging.Logger
}

// New validates opts and wires the pipeline components.
func New(opts Options) (*Aggregator, error) {
	if opts.KV == nil {
		return nil, errors.New("aggregate: kv store is required")
	}
	if opts.Store == nil {
		return nil, errors.New("aggregate: frequency store is required")
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = core.DefaultBatchInterval
	}
	if opts.LiveTTL < 0 {
		return nil, errors.New("aggregate: live ttl must not be negative")
	}
	if opts.FlushWorkers < 1 {
		opts.FlushWorkers = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Logger()
	}

	return &Aggregator{
		live: &LiveCounter{
			KV:           opts.KV,
			Store:        opts.Store,
			TTL:          opts.LiveTTL,
			CacheTimeout: opts.CacheTimeout,
			StoreTimeout: opts.StoreTimeout,
			Logger:       logger,
		},
		acc: &Accumulator{
			KV:           opts.KV,
			Interval:     opts.BatchInterval,
			CacheTimeout: opts.CacheTimeout,
			Logger:       logger,
		},
		flusher: &Flusher{
			KV:           opts.KV,
			Store:        opts.Store,
			Workers:      opts.FlushWorkers,
			CacheTimeout: opts.CacheTimeout,
			StoreTimeout: opts.StoreTimeout,
			Logger:       logger,
			Clock:        opts.Clock,
			StaleTTL:     opts.BatchInterval,
		},
		store:  opts.Store,
		opts:   opts,
		logger: logger,
	}, nil
}

// RecordErrors applies one report to the fast layer. Every reported error
// bumps its live counter; each distinct pair is accumulated once with its
// count. A failure aborts the remaining work and earlier effects stay applied.
func (a *Aggregator) RecordErrors(ctx context.Context, report core.Report) (*core.RecordResult, error) {
	if err := ValidateReport(report); err != nil {
		metrics.RecordReport(len(report.Errors), false)
		return nil, err
	}

	result := &core.RecordResult{
		LiveCounts:  make(map[core.ErrorPair]int64, len(report.Errors)),
		Accumulated: make(map[core.ErrorPair]int64, len(report.Errors)),
	}

	order := make([]core.ErrorPair, 0, len(report.Errors))
	counts := make(map[core.ErrorPair]int64, len(report.Errors))
	for _, pair := range report.Errors {
		key := frequencyKey(report.UserID, pair)
		live, err := a.live.Increment(ctx, key)
		if err != nil {
			a.logRecordFailure(report, pair, err)
			metrics.RecordReport(len(report.Errors), false)
			return nil, err
		}
		result.LiveCounts[pair] = live

		if _, seen := counts[pair]; !seen {
			order = append(order, pair)
		}
		counts[pair]++
	}

	for _, pair := range order {
		pending, err := a.acc.Add(ctx, frequencyKey(report.UserID, pair), counts[pair])
		if err != nil {
			a.logRecordFailure(report, pair, err)
			metrics.RecordReport(len(report.Errors), false)
			return nil, err
		}
		result.Accumulated[pair] = pending
	}

	metrics.RecordReport(len(report.Errors), true)
	a.logger.Debug("Recorded error report",
		zap.String("user_id", report.UserID.String()),
		zap.String("conversation_id", report.ConversationID.String()),
		zap.String("utterance_id", report.UtteranceID.String()),
		zap.Int("errors", len(report.Errors)),
		zap.Int("distinct_pairs", len(order)))

	return result, nil
}

// FlushAll drains the accumulator into the durable store.
func (a *Aggregator) FlushAll(ctx context.Context) (core.FlushReport, error) {
	return a.flusher.FlushAll(ctx)
}

// TopErrors returns up to n of the user's most frequent errors from the
// durable store. Pending deltas are not included.
func (a *Aggregator) TopErrors(ctx context.Context, userID uuid.UUID, n int) ([]core.RankedError, error) {
	if userID == uuid.Nil {
		return nil, invalidf("user id is required")
	}
	if n < 1 {
		return nil, invalidf("n must be positive, got %d", n)
	}

	ranked, err := withTimeout2(ctx, a.opts.StoreTimeout, func(ctx context.Context) ([]core.RankedError, error) {
		return a.store.TopFrequencies(ctx, userID, n)
	})
	if err != nil {
		return nil, storeError("top errors", err)
	}
	if len(ranked) == 0 {
		return nil, ErrNotFound
	}
	return ranked, nil
}

// Pending lists the user's deltas that have not been flushed yet.
func (a *Aggregator) Pending(ctx context.Context, userID uuid.UUID) ([]core.PendingDelta, error) {
	return a.acc.Pending(ctx, userID)
}

// LiveCount reads the advisory counter for a pair without seeding it.
func (a *Aggregator) LiveCount(ctx context.Context, key core.FrequencyKey) (int64, bool, error) {
	return a.live.Get(ctx, key)
}

// BatchInterval reports the accumulator window in use.
func (a *Aggregator) BatchInterval() time.Duration {
	return a.opts.BatchInterval
}

// ValidateReport checks a report before any state is touched. A report
// without errors is valid and records nothing.
func ValidateReport(report core.Report) error {
	if report.UserID == uuid.Nil {
		return invalidf("user id is required")
	}
	for i, pair := range report.Errors {
		if problem := pairProblem(pair); problem != "" {
			return invalidf("errors[%d]: %s", i, problem)
		}
	}
	return nil
}

func frequencyKey(userID uuid.UUID, pair core.ErrorPair) core.FrequencyKey {
	return core.FrequencyKey{UserID: userID, Category: pair.Category, Subcategory: pair.Subcategory}
}

func (a *Aggregator) logRecordFailure(report core.Report, pair core.ErrorPair, err error) {
	a.logger.Warn("Failed to record error report",
		zap.String("user_id", report.UserID.String()),
		zap.String("utterance_id", report.UtteranceID.String()),
		zap.String("error_category", pair.Category),
		zap.String("error_subcategory", pair.Subcategory),
		zap.Error(err))
}
