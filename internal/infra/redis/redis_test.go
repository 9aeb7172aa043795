package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/specs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	return client
}

func TestLedger(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	ledger := NewLedger(client, fmt.Sprintf("test-%d", time.Now().UnixNano()))

	t.Run("reports nothing committed for an unseen partition", func(t *testing.T) {
		_, ok, err := ledger.Committed(ctx, "metrics", 9)

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("advances and ignores stale ranges", func(t *testing.T) {
		require.NoError(t, ledger.Commit(ctx, []specs.OffsetRangeSpec{{Topic: "metrics", Partition: 0, FromOffset: 10, UntilOffset: 20}}))
		require.NoError(t, ledger.Commit(ctx, []specs.OffsetRangeSpec{{Topic: "metrics", Partition: 0, FromOffset: 0, UntilOffset: 10}}))

		r, ok, err := ledger.Committed(ctx, "metrics", 0)

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, specs.OffsetRangeSpec{Topic: "metrics", Partition: 0, FromOffset: 10, UntilOffset: 20}, r)
	})

	t.Run("commits every partition of a batch in one call", func(t *testing.T) {
		require.NoError(t, ledger.Commit(ctx, []specs.OffsetRangeSpec{{Topic: "metrics", Partition: 3, FromOffset: 0, UntilOffset: 50}}))

		err := ledger.Commit(ctx, []specs.OffsetRangeSpec{
			{Topic: "metrics", Partition: 3, FromOffset: 0, UntilOffset: 40},
			{Topic: "metrics", Partition: 4, FromOffset: 0, UntilOffset: 7},
			{Topic: "metrics", Partition: 5, FromOffset: 2, UntilOffset: 9},
		})

		require.NoError(t, err)
		stale, _, err := ledger.Committed(ctx, "metrics", 3)
		require.NoError(t, err)
		assert.Equal(t, int64(50), stale.UntilOffset)
		for partition, until := range map[int]int64{4: 7, 5: 9} {
			r, ok, err := ledger.Committed(ctx, "metrics", partition)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, until, r.UntilOffset)
		}
	})

	t.Run("ignores an empty commit", func(t *testing.T) {
		assert.NoError(t, ledger.Commit(ctx, nil))
	})
}

type countingResolver struct {
	internal.StaticResolver
	calls int
}

func (r *countingResolver) Resolve(ctx context.Context, metricGroup string) (specs.TransformSpec, error) {
	r.calls++
	return r.StaticResolver.Resolve(ctx, metricGroup)
}

func TestSpecCache(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	spec := specs.TransformSpec{MetricGroup: "mem_total_all", MetricID: "mem_total_all"}

	t.Run("reads through once and serves from the cache after", func(t *testing.T) {
		next := &countingResolver{StaticResolver: internal.NewStaticResolver(spec)}
		cache := NewSpecCache(client, next, time.Minute, nil)
		require.NoError(t, cache.Invalidate(ctx, "mem_total_all"))

		first, err := cache.Resolve(ctx, "mem_total_all")
		require.NoError(t, err)
		second, err := cache.Resolve(ctx, "mem_total_all")
		require.NoError(t, err)

		assert.Equal(t, spec, first)
		assert.Equal(t, spec, second)
		assert.Equal(t, 1, next.calls)
	})

	t.Run("with an unknown group returns the resolver error", func(t *testing.T) {
		cache := NewSpecCache(client, internal.NewStaticResolver(), time.Minute, nil)

		_, err := cache.Resolve(ctx, "disk_total_all")

		assert.ErrorIs(t, err, internal.ErrSpecNotFound)
	})
}
