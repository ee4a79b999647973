package aggregate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fluentlens/fluentlens/internal/config"
	"github.com/fluentlens/fluentlens/internal/core"
	"github.com/fluentlens/fluentlens/internal/core/kv"
)

func TestNewRequiresBackends(t *testing.T) {
	_, err := New(Options{Store: newMemoryStore()})
	require.Error(t, err)

	_, err = New(Options{KV: blockingKV{}})
	require.Error(t, err)

	agg, err := New(Options{KV: blockingKV{}, Store: newMemoryStore()})
	require.NoError(t, err)
	require.Equal(t, core.DefaultBatchInterval, agg.BatchInterval())
}

func TestLiveCountStartsFromDurableBaseline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()
	key := core.FrequencyKey{UserID: user, Category: "Grammar", Subcategory: "Tense"}
	f.store.set(key, 7)

	for i := 1; i <= 3; i++ {
		result, err := f.agg.RecordErrors(ctx, report(user, key.Pair()))
		require.NoError(t, err)
		require.Equal(t, int64(7+i), result.LiveCounts[key.Pair()])
	}

	live, found, err := f.agg.LiveCount(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(10), live)

	// The durable record is untouched until a flush.
	stored, _ := f.store.frequency(key)
	require.Equal(t, int64(7), stored)
}

func TestLiveCountWithoutBaselineStartsAtZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()
	key := core.FrequencyKey{UserID: user, Category: "Vocabulary", Subcategory: "FalseFriend"}

	_, found, err := f.agg.LiveCount(ctx, key)
	require.NoError(t, err)
	require.False(t, found)

	result, err := f.agg.RecordErrors(ctx, report(user, key.Pair()))
	require.NoError(t, err)
	require.Equal(t, int64(1), result.LiveCounts[key.Pair()])
}

func TestAccumulatorCountsSinceCreation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()
	key := core.FrequencyKey{UserID: user, Category: "Grammar", Subcategory: "Article"}

	_, err := f.agg.RecordErrors(ctx, report(user, key.Pair()))
	require.NoError(t, err)
	require.Equal(t, core.DefaultBatchInterval, f.mr.TTL(BatchKey(key)))

	f.mr.FastForward(4 * time.Minute)

	result, err := f.agg.RecordErrors(ctx, report(user, key.Pair()))
	require.NoError(t, err)
	require.Equal(t, int64(2), result.Accumulated[key.Pair()])

	// Later adds never extend the window.
	require.Equal(t, 6*time.Minute, f.mr.TTL(BatchKey(key)))

	value, err := f.mr.Get(BatchKey(key))
	require.NoError(t, err)
	require.Equal(t, "2", value)
}

func TestRecordCoalescesPairsWithinReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()
	a := pair("Grammar", "SubjectVerb")
	b := pair("Pronunciation", "Vowel")

	result, err := f.agg.RecordErrors(ctx, report(user, a, b, a))
	require.NoError(t, err)

	require.Equal(t, int64(2), result.LiveCounts[a])
	require.Equal(t, int64(1), result.LiveCounts[b])
	require.Equal(t, int64(2), result.Accumulated[a])
	require.Equal(t, int64(1), result.Accumulated[b])
	require.Equal(t, core.DefaultBatchInterval, f.mr.TTL(BatchKey(frequencyKey(user, a))))
}

func TestRecordEmptyReportIsNoop(t *testing.T) {
	f := newFixture(t)

	result, err := f.agg.RecordErrors(context.Background(), report(uuid.New()))
	require.NoError(t, err)
	require.Empty(t, result.LiveCounts)
	require.Empty(t, f.mr.Keys())
}

func TestRecordRejectsInvalidReport(t *testing.T) {
	f := newFixture(t)

	_, err := f.agg.RecordErrors(context.Background(), report(uuid.New(), pair("Grammar", "Subject:Verb")))
	require.ErrorIs(t, err, ErrInvalidReport)
	require.Empty(t, f.mr.Keys())
}

func TestFlushAppliesExactDeltaAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()
	key := core.FrequencyKey{UserID: user, Category: "Grammar", Subcategory: "Plural"}
	f.store.set(key, 4)

	for range 3 {
		_, err := f.agg.RecordErrors(ctx, report(user, key.Pair()))
		require.NoError(t, err)
	}

	first, err := f.agg.FlushAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Scanned)
	require.Equal(t, 1, first.Applied)
	require.Equal(t, int64(3), first.Delta)
	require.False(t, f.mr.Exists(BatchKey(key)))

	stored, _ := f.store.frequency(key)
	require.Equal(t, int64(7), stored)

	second, err := f.agg.FlushAll(ctx)
	require.NoError(t, err)
	require.Zero(t, second.Scanned)
	require.Zero(t, second.Delta)

	stored, _ = f.store.frequency(key)
	require.Equal(t, int64(7), stored)
}

func TestSubjectVerbScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()
	subjectVerb := pair("Grammar", "SubjectVerb")
	key := frequencyKey(user, subjectVerb)

	for i := 1; i <= 3; i++ {
		result, err := f.agg.RecordErrors(ctx, report(user, subjectVerb))
		require.NoError(t, err)
		require.Equal(t, int64(i), result.LiveCounts[subjectVerb])
		require.Equal(t, int64(i), result.Accumulated[subjectVerb])
	}

	_, err := f.agg.TopErrors(ctx, user, DefaultTopN)
	require.ErrorIs(t, err, ErrNotFound)

	flushed, err := f.agg.FlushAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), flushed.Delta)

	top, err := f.agg.TopErrors(ctx, user, DefaultTopN)
	require.NoError(t, err)
	require.Equal(t, []core.RankedError{{Category: "Grammar", Subcategory: "SubjectVerb", Frequency: 3}}, top)

	live, found, err := f.agg.LiveCount(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(3), live)

	// The next report keeps counting from the live value, not from zero.
	result, err := f.agg.RecordErrors(ctx, report(user, subjectVerb))
	require.NoError(t, err)
	require.Equal(t, int64(4), result.LiveCounts[subjectVerb])
	require.Equal(t, int64(1), result.Accumulated[subjectVerb])
}

func TestTopErrorsBoundedAndSorted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()
	other := uuid.New()

	frequencies := map[core.ErrorPair]int64{
		pair("Grammar", "SubjectVerb"):   9,
		pair("Grammar", "Article"):       4,
		pair("Vocabulary", "Collocate"):  4,
		pair("Pronunciation", "Vowel"):   12,
		pair("Grammar", "Tense"):         1,
		pair("Spelling", "DoubleLetter"): 2,
	}
	for p, v := range frequencies {
		f.store.set(frequencyKey(user, p), v)
	}
	f.store.set(frequencyKey(other, pair("Grammar", "Tense")), 100)

	top, err := f.agg.TopErrors(ctx, user, DefaultTopN)
	require.NoError(t, err)
	require.Len(t, top, 5)
	require.Equal(t, []core.RankedError{
		{Category: "Pronunciation", Subcategory: "Vowel", Frequency: 12},
		{Category: "Grammar", Subcategory: "SubjectVerb", Frequency: 9},
		{Category: "Grammar", Subcategory: "Article", Frequency: 4},
		{Category: "Vocabulary", Subcategory: "Collocate", Frequency: 4},
		{Category: "Spelling", Subcategory: "DoubleLetter", Frequency: 2},
	}, top)

	top, err = f.agg.TopErrors(ctx, user, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)

	_, err = f.agg.TopErrors(ctx, uuid.New(), DefaultTopN)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.agg.TopErrors(ctx, user, 0)
	require.ErrorIs(t, err, ErrInvalidReport)
}

func TestExpiredAccumulatorUnderCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()
	key := frequencyKey(user, pair("Grammar", "WordOrder"))

	for range 2 {
		_, err := f.agg.RecordErrors(ctx, report(user, key.Pair()))
		require.NoError(t, err)
	}

	f.mr.FastForward(core.DefaultBatchInterval + time.Second)
	require.False(t, f.mr.Exists(BatchKey(key)))

	flushed, err := f.agg.FlushAll(ctx)
	require.NoError(t, err)
	require.Zero(t, flushed.Applied)

	_, err = f.agg.TopErrors(ctx, user, DefaultTopN)
	require.ErrorIs(t, err, ErrNotFound)

	// The live counter has no TTL by default and still reflects the lost deltas.
	live, found, err := f.agg.LiveCount(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(2), live)
}

func TestCacheOutage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()

	f.mr.SetError("ERR cache is down")

	_, err := f.agg.RecordErrors(ctx, report(user, pair("Grammar", "SubjectVerb")))
	require.ErrorIs(t, err, ErrCacheUnavailable)

	_, err = f.agg.FlushAll(ctx)
	require.ErrorIs(t, err, ErrCacheUnavailable)

	_, err = f.agg.Pending(ctx, user)
	require.ErrorIs(t, err, ErrCacheUnavailable)

	f.mr.SetError("")
	_, err = f.agg.RecordErrors(ctx, report(user, pair("Grammar", "SubjectVerb")))
	require.NoError(t, err)
}

func TestStoreOutageDuringSeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.fail(errors.New("connection refused"))

	_, err := f.agg.RecordErrors(ctx, report(uuid.New(), pair("Grammar", "SubjectVerb")))
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Empty(t, f.mr.Keys())

	_, err = f.agg.TopErrors(ctx, uuid.New(), DefaultTopN)
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestStoreOutageDuringFlushKeepsEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()
	a := pair("Grammar", "SubjectVerb")
	b := pair("Grammar", "Article")

	_, err := f.agg.RecordErrors(ctx, report(user, a, b, b))
	require.NoError(t, err)

	f.store.fail(errors.New("database is locked"))
	failed, err := f.agg.FlushAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, failed.Scanned)
	require.Equal(t, 2, failed.Failed)
	require.True(t, f.mr.Exists(BatchKey(frequencyKey(user, a))))
	require.True(t, f.mr.Exists(BatchKey(frequencyKey(user, b))))

	f.store.fail(nil)
	retried, err := f.agg.FlushAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, retried.Applied)
	require.Equal(t, int64(3), retried.Delta)

	stored, _ := f.store.frequency(frequencyKey(user, b))
	require.Equal(t, int64(2), stored)
}

func TestFlushSkipsMalformedKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()

	require.NoError(t, f.mr.Set("batch:not-a-user:Grammar:SubjectVerb", "5"))
	_, err := f.agg.RecordErrors(ctx, report(user, pair("Grammar", "SubjectVerb")))
	require.NoError(t, err)

	flushed, err := f.agg.FlushAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, flushed.Scanned)
	require.Equal(t, 1, flushed.Malformed)
	require.Equal(t, 1, flushed.Applied)

	// Left in place but bounded by the batch window.
	require.True(t, f.mr.Exists("batch:not-a-user:Grammar:SubjectVerb"))
	require.Equal(t, core.DefaultBatchInterval, f.mr.TTL("batch:not-a-user:Grammar:SubjectVerb"))
}

func TestFlushKeepsExistingExpiryOnMalformedKeys(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mr.Set("batch:broken", "2"))
	f.mr.SetTTL("batch:broken", 30*time.Second)

	flushed, err := f.agg.FlushAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, flushed.Malformed)
	require.Equal(t, 30*time.Second, f.mr.TTL("batch:broken"))

	f.mr.FastForward(31 * time.Second)
	require.False(t, f.mr.Exists("batch:broken"))
}

func TestFlushDropsNonPositiveEntries(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	zero := BatchKey(frequencyKey(user, pair("Grammar", "Tense")))
	negative := BatchKey(frequencyKey(user, pair("Grammar", "Article")))
	require.NoError(t, f.mr.Set(zero, "0"))
	require.NoError(t, f.mr.Set(negative, "-4"))

	flushed, err := f.agg.FlushAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, flushed.Vanished)
	require.Zero(t, flushed.Delta)
	require.False(t, f.mr.Exists(zero))
	require.False(t, f.mr.Exists(negative))

	_, ok := f.store.frequency(frequencyKey(user, pair("Grammar", "Tense")))
	require.False(t, ok)
}

func TestPendingListsUnflushedDeltas(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()

	_, err := f.agg.RecordErrors(ctx, report(user, pair("Vocabulary", "Collocate"), pair("Grammar", "Tense"), pair("Grammar", "Tense")))
	require.NoError(t, err)
	_, err = f.agg.RecordErrors(ctx, report(uuid.New(), pair("Grammar", "Tense")))
	require.NoError(t, err)

	pending, err := f.agg.Pending(ctx, user)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "Grammar", pending[0].Category)
	require.Equal(t, int64(2), pending[0].Delta)
	require.NotNil(t, pending[0].ExpiresIn)
	require.Equal(t, "Vocabulary", pending[1].Category)

	_, err = f.agg.FlushAll(ctx)
	require.NoError(t, err)

	pending, err = f.agg.Pending(ctx, user)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestConcurrentReportsAreCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()
	p := pair("Grammar", "SubjectVerb")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.agg.RecordErrors(ctx, report(user, p))
			if err != nil {
				t.Errorf("record: %v", err)
			}
		}()
	}
	wg.Wait()

	live, _, err := f.agg.LiveCount(ctx, frequencyKey(user, p))
	require.NoError(t, err)
	require.Equal(t, int64(50), live)

	flushed, err := f.agg.FlushAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(50), flushed.Delta)
}

// slowReadKV delays reads so concurrent flush passes would overlap on a key.
type slowReadKV struct {
	kv.Store
	delay time.Duration
}

func (s slowReadKV) Get(ctx context.Context, key string) (int64, bool, error) {
	time.Sleep(s.delay)
	return s.Store.Get(ctx, key)
}

func TestOverlappingFlushesApplyEachDeltaOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	agg, err := New(Options{
		KV:           slowReadKV{Store: f.kv, delay: 20 * time.Millisecond},
		Store:        f.store,
		CacheTimeout: time.Second,
		StoreTimeout: time.Second,
		FlushWorkers: 2,
	})
	require.NoError(t, err)

	user := uuid.New()
	a := pair("Grammar", "SubjectVerb")
	b := pair("Vocabulary", "Collocate")
	_, err = agg.RecordErrors(ctx, report(user, a, a, a, b))
	require.NoError(t, err)

	const passes = 4
	reports := make([]core.FlushReport, passes)
	var wg sync.WaitGroup
	for i := range passes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			flushed, err := agg.FlushAll(WithTrigger(ctx, TriggerManual))
			if err != nil {
				t.Errorf("flush: %v", err)
			}
			reports[i] = flushed
		}()
	}
	wg.Wait()

	var applied int
	var delta int64
	for _, r := range reports {
		applied += r.Applied
		delta += r.Delta
	}
	require.Equal(t, 2, applied)
	require.Equal(t, int64(4), delta)

	stored, _ := f.store.frequency(frequencyKey(user, a))
	require.Equal(t, int64(3), stored)
	stored, _ = f.store.frequency(frequencyKey(user, b))
	require.Equal(t, int64(1), stored)
}

func TestFlushRacingReportsNeverOvercounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()
	p := pair("Grammar", "SubjectVerb")
	key := frequencyKey(user, p)

	const total = 200
	var started atomic.Int64
	done := make(chan struct{})

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range total / 4 {
				started.Add(1)
				if _, err := f.agg.RecordErrors(ctx, report(user, p)); err != nil {
					t.Errorf("record: %v", err)
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		_, err := f.agg.FlushAll(ctx)
		require.NoError(t, err)

		stored, _ := f.store.frequency(key)
		require.LessOrEqual(t, stored, started.Load())
	}

	_, err := f.agg.FlushAll(ctx)
	require.NoError(t, err)

	stored, _ := f.store.frequency(key)
	require.Positive(t, stored)
	require.LessOrEqual(t, stored, int64(total))
	require.False(t, f.mr.Exists(BatchKey(key)))
}

func TestCallsAreBoundedByTimeout(t *testing.T) {
	agg, err := New(Options{
		KV:           blockingKV{},
		Store:        newMemoryStore(),
		CacheTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = agg.RecordErrors(context.Background(), report(uuid.New(), pair("Grammar", "SubjectVerb")))
	require.ErrorIs(t, err, ErrCacheUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = agg.FlushAll(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFlushTriggerLabel(t *testing.T) {
	require.Equal(t, TriggerManual, TriggerFrom(context.Background()))
	require.Equal(t, TriggerScheduled, TriggerFrom(WithTrigger(context.Background(), TriggerScheduled)))
}

func TestPipelineOnBadger(t *testing.T) {
	ctx := context.Background()
	fast, err := kv.OpenBadger(config.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fast.Close() })

	store := newMemoryStore()
	agg, err := New(Options{KV: fast, Store: store, FlushWorkers: 2})
	require.NoError(t, err)

	user := uuid.New()
	p := pair("Grammar", "SubjectVerb")
	for range 3 {
		_, err := agg.RecordErrors(ctx, report(user, p))
		require.NoError(t, err)
	}

	pending, err := agg.Pending(ctx, user)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].ExpiresIn)
	require.LessOrEqual(t, *pending[0].ExpiresIn, core.DefaultBatchInterval)

	flushed, err := agg.FlushAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), flushed.Delta)

	top, err := agg.TopErrors(ctx, user, DefaultTopN)
	require.NoError(t, err)
	require.Equal(t, int64(3), top[0].Frequency)
}
