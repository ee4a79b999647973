package aggregate

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fluentlens/fluentlens/internal/core"
	"github.com/fluentlens/fluentlens/internal/core/kv"
)

// memoryStore is an in-memory FrequencyStore with switchable failures.
type memoryStore struct {
	mu      sync.Mutex
	records map[core.FrequencyKey]int64
	err     error
	adds    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[core.FrequencyKey]int64)}
}

func (m *memoryStore) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memoryStore) set(key core.FrequencyKey, frequency int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = frequency
}

func (m *memoryStore) frequency(key core.FrequencyKey) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.records[key]
	return v, ok
}

func (m *memoryStore) GetFrequency(_ context.Context, key core.FrequencyKey) (*core.FrequencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &core.FrequencyRecord{FrequencyKey: key, Frequency: v}, nil
}

func (m *memoryStore) AddFrequency(_ context.Context, key core.FrequencyKey, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.adds++
	m.records[key] += delta
	return m.records[key], nil
}

func (m *memoryStore) TopFrequencies(_ context.Context, userID uuid.UUID, limit int) ([]core.RankedError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	ranked := []core.RankedError{}
	for key, v := range m.records {
		if key.UserID == userID {
			ranked = append(ranked, core.RankedError{Category: key.Category, Subcategory: key.Subcategory, Frequency: v})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Frequency != ranked[j].Frequency {
			return ranked[i].Frequency > ranked[j].Frequency
		}
		if ranked[i].Category != ranked[j].Category {
			return ranked[i].Category < ranked[j].Category
		}
		return ranked[i].Subcategory < ranked[j].Subcategory
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// blockingKV never answers until the caller's context ends.
type blockingKV struct{}

func (blockingKV) Get(ctx context.Context, _ string) (int64, bool, error) {
	<-ctx.Done()
	return 0, false, ctx.Err()
}

func (blockingKV) SetNX(ctx context.Context, _ string, _ int64, _ time.Duration) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (blockingKV) IncrBy(ctx context.Context, _ string, _ int64) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (blockingKV) Expire(ctx context.Context, _ string, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingKV) TTL(ctx context.Context, _ string) (time.Duration, bool, error) {
	<-ctx.Done()
	return 0, false, ctx.Err()
}

func (blockingKV) Scan(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingKV) Delete(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingKV) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingKV) Close() error { return nil }

type fixture struct {
	agg   *Aggregator
	store *memoryStore
	mr    *miniredis.Miniredis
	kv    kv.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	fast := kv.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = fast.Close() })

	store := newMemoryStore()
	agg, err := New(Options{
		KV:            fast,
		Store:         store,
		BatchInterval: core.DefaultBatchInterval,
		CacheTimeout:  time.Second,
		StoreTimeout:  time.Second,
		FlushWorkers:  4,
	})
	require.NoError(t, err)

	return &fixture{agg: agg, store: store, mr: mr, kv: fast}
}

func report(userID uuid.UUID, pairs ...core.ErrorPair) core.Report {
	return core.Report{
		UserID:         userID,
		ConversationID: uuid.New(),
		UtteranceID:    uuid.New(),
		Errors:         pairs,
	}
}

func pair(category, subcategory string) core.ErrorPair {
	return core.ErrorPair{Category: category, Subcategory: subcategory}
}
