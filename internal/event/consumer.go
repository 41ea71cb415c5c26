package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/kpmidhlaj/watchmate/pkg/kafka"
)

// CacheInvalidator drops cached titles.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, watchlistID string) error
}

// Consumer keeps every replica's watchlist cache fresh by invalidating the
// title named in each review event. Replays are harmless.
type Consumer struct {
	cache  CacheInvalidator
	logger *slog.Logger
}

// NewConsumer creates a review event consumer.
func NewConsumer(cache CacheInvalidator, logger *slog.Logger) *Consumer {
	return &Consumer{
		cache:  cache,
		logger: logger,
	}
}

// HandleReviewEvent processes review.created, review.updated and
// review.deactivated events.
func (c *Consumer) HandleReviewEvent(ctx context.Context, event *pkgkafka.Event) error {
	var data ReviewEventData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal %s data: %w", event.EventType, err)
	}
	if data.WatchlistID == "" {
		c.logger.WarnContext(ctx, "review event without watchlist id",
			slog.String("event_id", event.EventID),
			slog.String("event_type", event.EventType),
		)
		return nil
	}

	if err := c.cache.Invalidate(ctx, data.WatchlistID); err != nil {
		return fmt.Errorf("invalidate watchlist %s: %w", data.WatchlistID, err)
	}

	c.logger.DebugContext(ctx, "watchlist cache invalidated",
		slog.String("event_type", event.EventType),
		slog.String("watchlist_id", data.WatchlistID),
	)
	return nil
}
