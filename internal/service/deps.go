package service

import (
	"context"

	"github.com/kpmidhlaj/watchmate/internal/domain"
)

// ReviewEventPublisher announces committed review changes.
type ReviewEventPublisher interface {
	PublishReviewSubmitted(ctx context.Context, review *domain.Review, outcome domain.Outcome, watchlist *domain.Watchlist) error
	PublishReviewDeactivated(ctx context.Context, review *domain.Review, watchlist *domain.Watchlist) error
}

// WatchlistCache is a read-through cache for titles.
type WatchlistCache interface {
	GetOrLoad(ctx context.Context, id string, load func(context.Context) (*domain.Watchlist, error)) (*domain.Watchlist, error)
	Invalidate(ctx context.Context, id string) error
}

// NoopEvents drops every event. Used when Kafka is not configured.
type NoopEvents struct{}

func (NoopEvents) PublishReviewSubmitted(context.Context, *domain.Review, domain.Outcome, *domain.Watchlist) error {
	return nil
}

func (NoopEvents) PublishReviewDeactivated(context.Context, *domain.Review, *domain.Watchlist) error {
	return nil
}

// NoopCache always loads from the store. Used when Redis is not configured.
type NoopCache struct{}

func (NoopCache) GetOrLoad(ctx context.Context, _ string, load func(context.Context) (*domain.Watchlist, error)) (*domain.Watchlist, error) {
	return load(ctx)
}

func (NoopCache) Invalidate(context.Context, string) error { return nil }
