package redis

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpmidhlaj/watchmate/internal/domain"
)

func setupTestRedis(t *testing.T) (*WatchlistCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWatchlistCache(client, 5*time.Minute, logger), mr
}

func sampleWatchlist() *domain.Watchlist {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Watchlist{
		ID:           "w-001",
		Title:        "Dune",
		Description:  "Spice must flow",
		Active:       true,
		AvgRating:    4.5,
		NumberRating: 2,
		RatingSum:    9,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestWatchlistCache_SetGet_KeepsRatingSum(t *testing.T) {
	cache, mr := setupTestRedis(t)
	w := sampleWatchlist()

	require.NoError(t, cache.Set(context.Background(), w))
	assert.True(t, mr.Exists("watchlist:w-001"))
	assert.Equal(t, 5*time.Minute, mr.TTL("watchlist:w-001"))

	got, err := cache.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.RatingSum)
	assert.Equal(t, 2, got.NumberRating)
	assert.Equal(t, 4.5, got.AvgRating)
	assert.True(t, w.CreatedAt.Equal(got.CreatedAt))
}

func TestWatchlistCache_Get_Miss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	_, err := cache.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestWatchlistCache_Get_CorruptPayload(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("watchlist:bad", "{not json"))

	_, err := cache.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestWatchlistCache_Invalidate(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, cache.Set(context.Background(), sampleWatchlist()))

	require.NoError(t, cache.Invalidate(context.Background(), "w-001"))
	assert.False(t, mr.Exists("watchlist:w-001"))
	version, err := mr.Get("watchlist:version:w-001")
	require.NoError(t, err)
	assert.Equal(t, "1", version)

	// Deleting a missing key is fine.
	assert.NoError(t, cache.Invalidate(context.Background(), "w-001"))
}

func TestWatchlistCache_GetOrLoad_PopulatesOnMiss(t *testing.T) {
	cache, mr := setupTestRedis(t)
	var loads int32
	load := func(context.Context) (*domain.Watchlist, error) {
		atomic.AddInt32(&loads, 1)
		return sampleWatchlist(), nil
	}

	first, err := cache.GetOrLoad(context.Background(), "w-001", load)
	require.NoError(t, err)
	assert.Equal(t, "Dune", first.Title)
	assert.True(t, mr.Exists("watchlist:w-001"))

	_, err = cache.GetOrLoad(context.Background(), "w-001", load)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestWatchlistCache_GetOrLoad_LoadError(t *testing.T) {
	cache, mr := setupTestRedis(t)

	_, err := cache.GetOrLoad(context.Background(), "w-404", func(context.Context) (*domain.Watchlist, error) {
		return nil, domain.ErrWatchlistNotFound
	})
	assert.ErrorIs(t, err, domain.ErrWatchlistNotFound)
	assert.False(t, mr.Exists("watchlist:w-404"))
}

func TestWatchlistCache_GetOrLoad_RedisDown(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.Close()

	got, err := cache.GetOrLoad(context.Background(), "w-001", func(context.Context) (*domain.Watchlist, error) {
		return sampleWatchlist(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "w-001", got.ID)
}

func TestWatchlistCache_GetOrLoad_CollapsesConcurrentMisses(t *testing.T) {
	cache, _ := setupTestRedis(t)
	var loads int32
	gate := make(chan struct{})
	load := func(context.Context) (*domain.Watchlist, error) {
		atomic.AddInt32(&loads, 1)
		<-gate
		return sampleWatchlist(), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetOrLoad(context.Background(), "w-001", load)
			errs <- err
		}()
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&loads) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&loads), int32(callers))
}

func TestWatchlistCache_GetOrLoad_InvalidatedDuringLoadIsNotCached(t *testing.T) {
	cache, mr := setupTestRedis(t)

	started := make(chan struct{})
	release := make(chan struct{})
	staleLoad := func(context.Context) (*domain.Watchlist, error) {
		close(started)
		<-release
		w := sampleWatchlist()
		w.NumberRating, w.RatingSum, w.AvgRating = 0, 0, 0
		return w, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := cache.GetOrLoad(context.Background(), "w-001", staleLoad)
		done <- err
	}()

	<-started
	// A review commits and the ledger invalidates while the read is in flight.
	require.NoError(t, cache.Invalidate(context.Background(), "w-001"))
	close(release)
	require.NoError(t, <-done)

	assert.False(t, mr.Exists("watchlist:w-001"), "stale copy written back")

	fresh := sampleWatchlist()
	fresh.NumberRating, fresh.RatingSum, fresh.AvgRating = 1, 4, 4.0
	got, err := cache.GetOrLoad(context.Background(), "w-001", func(context.Context) (*domain.Watchlist, error) {
		return fresh, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.NumberRating)

	cached, err := cache.Get(context.Background(), "w-001")
	require.NoError(t, err)
	assert.Equal(t, 1, cached.NumberRating)
}

func TestWatchlistCache_GetOrLoad_CanceledCallerDoesNotFailOthers(t *testing.T) {
	cache, _ := setupTestRedis(t)

	var loads int32
	started := make(chan struct{})
	gate := make(chan struct{})
	load := func(ctx context.Context) (*domain.Watchlist, error) {
		if atomic.AddInt32(&loads, 1) == 1 {
			close(started)
		}
		select {
		case <-gate:
			return sampleWatchlist(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := cache.GetOrLoad(firstCtx, "w-001", load)
		first <- err
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		got, err := cache.GetOrLoad(context.Background(), "w-001", load)
		if err == nil && got.Title != "Dune" {
			err = assert.AnError
		}
		second <- err
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(gate)
	assert.NoError(t, <-second)
}

func TestWatchlistCache_Ping(t *testing.T) {
	cache, mr := setupTestRedis(t)
	assert.NoError(t, cache.Ping(context.Background()))

	mr.Close()
	assert.Error(t, cache.Ping(context.Background()))
}
