package kv

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreConformance exercises the behavior every backend must share.
func runStoreConformance(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		value, found, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		require.False(t, found)
		require.Zero(t, value)
	})

	t.Run("SetNXOnlyWhenAbsent", func(t *testing.T) {
		ok, err := store.SetNX(ctx, "livecount:a", 7, 0)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.SetNX(ctx, "livecount:a", 99, 0)
		require.NoError(t, err)
		require.False(t, ok)

		value, found, err := store.Get(ctx, "livecount:a")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, int64(7), value)
	})

	t.Run("IncrByCreatesAndAdds", func(t *testing.T) {
		value, err := store.IncrBy(ctx, "batch:b", 2)
		require.NoError(t, err)
		require.Equal(t, int64(2), value)

		value, err = store.IncrBy(ctx, "batch:b", 3)
		require.NoError(t, err)
		require.Equal(t, int64(5), value)
	})

	t.Run("ExpirePreservedAcrossIncrements", func(t *testing.T) {
		_, err := store.IncrBy(ctx, "batch:ttl", 1)
		require.NoError(t, err)

		_, hasTTL, err := store.TTL(ctx, "batch:ttl")
		require.NoError(t, err)
		require.False(t, hasTTL)

		require.NoError(t, store.Expire(ctx, "batch:ttl", time.Hour))
		_, err = store.IncrBy(ctx, "batch:ttl", 1)
		require.NoError(t, err)

		remaining, hasTTL, err := store.TTL(ctx, "batch:ttl")
		require.NoError(t, err)
		require.True(t, hasTTL)
		require.Greater(t, remaining, 59*time.Minute)
		require.LessOrEqual(t, remaining, time.Hour)
	})

	t.Run("TTLMissingKey", func(t *testing.T) {
		_, hasTTL, err := store.TTL(ctx, "nope")
		require.NoError(t, err)
		require.False(t, hasTTL)
	})

	t.Run("ScanByPrefix", func(t *testing.T) {
		for _, key := range []string{"scan:x:1", "scan:x:2", "scan:y:1"} {
			_, err := store.IncrBy(ctx, key, 1)
			require.NoError(t, err)
		}

		keys, err := store.Scan(ctx, "scan:x:")
		require.NoError(t, err)
		sort.Strings(keys)
		require.Equal(t, []string{"scan:x:1", "scan:x:2"}, keys)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		_, err := store.IncrBy(ctx, "del:1", 1)
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, "del:1"))
		require.NoError(t, store.Delete(ctx, "del:1"))

		_, found, err := store.Get(ctx, "del:1")
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("ConcurrentIncrementsAreNotLost", func(t *testing.T) {
		const workers, perWorker = 8, 25

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					_, err := store.IncrBy(ctx, "race", 1)
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		value, found, err := store.Get(ctx, "race")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, int64(workers*perWorker), value)
	})

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, store.Ping(ctx))
	})
}
