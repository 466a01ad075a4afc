package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) (*Cache, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return &Cache{client: db, ttl: time.Minute}, mock
}

func TestCache_GetHit(t *testing.T) {
	cache, mock := testCache(t)

	want := &Aggregates{Count: 3, WeightedMonthly: 1800, ComputedAt: time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)}
	data, err := json.Marshal(want)
	require.NoError(t, err)

	mock.ExpectGet(aggregatesKey).SetVal(string(data))

	got, ok := cache.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_GetMiss(t *testing.T) {
	cache, mock := testCache(t)

	mock.ExpectGet(aggregatesKey).RedisNil()

	got, ok := cache.Get(context.Background())
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_GetErrorDegradesToMiss(t *testing.T) {
	cache, mock := testCache(t)

	mock.ExpectGet(aggregatesKey).SetErr(redis.TxFailedErr)

	_, ok := cache.Get(context.Background())
	assert.False(t, ok, "redis failures must read as misses")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_SetAndInvalidate(t *testing.T) {
	cache, mock := testCache(t)

	agg := &Aggregates{Count: 1}
	data, err := json.Marshal(agg)
	require.NoError(t, err)

	mock.ExpectSet(aggregatesKey, data, time.Minute).SetVal("OK")
	require.NoError(t, cache.Set(context.Background(), agg))

	mock.ExpectDel(aggregatesKey).SetVal(1)
	require.NoError(t, cache.Invalidate(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregates_ServedFromCache(t *testing.T) {
	cache, mock := testCache(t)
	repo := &stubDealRepo{deals: pipelineDeals()}
	agg := NewAggregator(repo, cache)

	cached := &Aggregates{Count: 7, WeightedMonthly: 4200}
	data, err := json.Marshal(cached)
	require.NoError(t, err)
	mock.ExpectGet(aggregatesKey).SetVal(string(data))

	got, err := agg.Aggregates(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, cached, got)
	assert.Zero(t, repo.calls, "cache hit must not touch the database")
}

func TestAggregates_FilteredViewBypassesCache(t *testing.T) {
	cache, mock := testCache(t)
	repo := &stubDealRepo{deals: pipelineDeals()}
	agg := NewAggregator(repo, cache)

	// No redis expectations: a filtered view neither reads nor writes the cache
	got, err := agg.Aggregates(context.Background(), Filter{RepID: "rep-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, 1, repo.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}
