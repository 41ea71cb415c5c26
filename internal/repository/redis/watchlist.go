package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/kpmidhlaj/watchmate/internal/domain"
)

const (
	keyPrefix     = "watchlist:"
	versionPrefix = "watchlist:version:"

	loadTimeout = 10 * time.Second
)

// ErrCacheMiss is returned by Get when the title is not cached.
var ErrCacheMiss = errors.New("watchlist cache miss")

// cachedWatchlist keeps the rating sum, which domain.Watchlist hides from JSON.
type cachedWatchlist struct {
	domain.Watchlist
	RatingSum int `json:"rating_sum"`
}

// WatchlistCache is a cache-aside store for watchlist titles keyed by ID.
type WatchlistCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewWatchlistCache creates a new Redis-backed watchlist cache.
func NewWatchlistCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *WatchlistCache {
	return &WatchlistCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Get retrieves a cached title.
func (c *WatchlistCache) Get(ctx context.Context, id string) (*domain.Watchlist, error) {
	data, err := c.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get watchlist: %w", err)
	}

	var cached cachedWatchlist
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, fmt.Errorf("unmarshal watchlist: %w", err)
	}
	w := cached.Watchlist
	w.RatingSum = cached.RatingSum
	return &w, nil
}

// Set stores a title with the configured TTL.
func (c *WatchlistCache) Set(ctx context.Context, w *domain.Watchlist) error {
	data, err := marshalWatchlist(w)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, keyPrefix+w.ID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set watchlist: %w", err)
	}
	return nil
}

// Invalidate drops a cached title and bumps its version, so loads that
// started before the call do not write their copy back.
func (c *WatchlistCache) Invalidate(ctx context.Context, id string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionPrefix+id)
		pipe.Del(ctx, keyPrefix+id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate watchlist: %w", err)
	}
	return nil
}

// GetOrLoad serves a title from the cache, falling back to load on a miss.
// Concurrent misses for the same ID share one load, which runs detached from
// any single caller's cancellation. The loaded copy is cached only if the
// title was not invalidated while loading. Cache failures are logged and
// never fail the read.
func (c *WatchlistCache) GetOrLoad(ctx context.Context, id string, load func(context.Context) (*domain.Watchlist, error)) (*domain.Watchlist, error) {
	w, err := c.Get(ctx, id)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.WarnContext(ctx, "watchlist cache read failed",
			slog.String("watchlist_id", id),
			slog.String("error", err.Error()),
		)
	}

	ch := c.group.DoChan(id, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return c.loadAndStore(loadCtx, id, load)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*domain.Watchlist)
		return &out, nil
	}
}

func (c *WatchlistCache) loadAndStore(ctx context.Context, id string, load func(context.Context) (*domain.Watchlist, error)) (*domain.Watchlist, error) {
	seen, verErr := c.version(ctx, id)

	loaded, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if verErr != nil {
		c.logger.WarnContext(ctx, "watchlist cache version read failed",
			slog.String("watchlist_id", id),
			slog.String("error", verErr.Error()),
		)
		return loaded, nil
	}

	stored, err := c.setIfVersion(ctx, loaded, seen)
	switch {
	case err != nil:
		c.logger.WarnContext(ctx, "watchlist cache write failed",
			slog.String("watchlist_id", id),
			slog.String("error", err.Error()),
		)
	case !stored:
		c.logger.DebugContext(ctx, "watchlist changed while loading, not cached",
			slog.String("watchlist_id", id),
		)
	}
	return loaded, nil
}

func (c *WatchlistCache) version(ctx context.Context, id string) (int64, error) {
	v, err := c.client.Get(ctx, versionPrefix+id).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis get watchlist version: %w", err)
	}
	return v, nil
}

// setIfVersion stores w only while its version still equals seen. It
// reports false when an invalidation happened in between.
func (c *WatchlistCache) setIfVersion(ctx context.Context, w *domain.Watchlist, seen int64) (bool, error) {
	data, err := marshalWatchlist(w)
	if err != nil {
		return false, err
	}

	verKey := versionPrefix + w.ID
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != seen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyPrefix+w.ID, data, c.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		stored = true
		return nil
	}, verKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis set watchlist: %w", err)
	}
	return stored, nil
}

func marshalWatchlist(w *domain.Watchlist) ([]byte, error) {
	data, err := json.Marshal(cachedWatchlist{Watchlist: *w, RatingSum: w.RatingSum})
	if err != nil {
		return nil, fmt.Errorf("marshal watchlist: %w", err)
	}
	return data, nil
}

// Ping checks Redis connectivity for readiness probes.
func (c *WatchlistCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
