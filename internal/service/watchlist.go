package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kpmidhlaj/watchmate/internal/domain"
	"github.com/kpmidhlaj/watchmate/internal/repository"
	"github.com/kpmidhlaj/watchmate/pkg/pagination"
)

// WatchlistInput holds the editable fields of a title. The rating aggregate
// is not among them.
type WatchlistInput struct {
	Title       string
	Description string
	PlatformID  *string
	Active      bool
}

// AggregateReport compares a title's stored aggregate with one recomputed
// from its active reviews.
type AggregateReport struct {
	WatchlistID string                 `json:"watchlist_id"`
	Stored      domain.RatingAggregate `json:"stored"`
	StoredAvg   float64                `json:"stored_avg_rating"`
	Computed    domain.RatingAggregate `json:"computed"`
	ComputedAvg float64                `json:"computed_avg_rating"`
	Consistent  bool                   `json:"consistent"`
}

// WatchlistService implements title CRUD, cached reads and review listings.
type WatchlistService struct {
	watchlists repository.WatchlistRepository
	reviews    repository.ReviewRepository
	ledger     *RatingLedger
	cache      WatchlistCache
	logger     *slog.Logger
}

// NewWatchlistService creates a new watchlist service. A nil cache reads
// straight from the repository.
func NewWatchlistService(
	watchlists repository.WatchlistRepository,
	reviews repository.ReviewRepository,
	ledger *RatingLedger,
	cache WatchlistCache,
	logger *slog.Logger,
) *WatchlistService {
	if cache == nil {
		cache = NoopCache{}
	}
	return &WatchlistService{
		watchlists: watchlists,
		reviews:    reviews,
		ledger:     ledger,
		cache:      cache,
		logger:     logger,
	}
}

// CreateWatchlist stores a new title with an empty aggregate.
func (s *WatchlistService) CreateWatchlist(ctx context.Context, in WatchlistInput) (*domain.Watchlist, error) {
	now := time.Now().UTC()
	w := &domain.Watchlist{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		PlatformID:  in.PlatformID,
		Active:      in.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.watchlists.Create(ctx, w); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "watchlist created",
		slog.String("watchlist_id", w.ID),
		slog.String("title", w.Title),
	)
	return w, nil
}

// GetWatchlist returns a title, served from the cache when possible.
func (s *WatchlistService) GetWatchlist(ctx context.Context, id string) (*domain.Watchlist, error) {
	return s.cache.GetOrLoad(ctx, id, func(ctx context.Context) (*domain.Watchlist, error) {
		return s.watchlists.GetByID(ctx, id)
	})
}

// ListWatchlists returns one page of titles ordered by title.
func (s *WatchlistService) ListWatchlists(ctx context.Context, platformID *string, params pagination.Params) (pagination.Result[domain.Watchlist], error) {
	items, total, err := s.watchlists.List(ctx, repository.WatchlistFilter{
		PlatformID: platformID,
		Page:       params.Page,
		PerPage:    params.PerPage,
	})
	if err != nil {
		return pagination.Result[domain.Watchlist]{}, fmt.Errorf("list watchlists: %w", err)
	}
	return pagination.NewResult(items, total, params), nil
}

// UpdateWatchlist overwrites a title's editable fields.
func (s *WatchlistService) UpdateWatchlist(ctx context.Context, id string, in WatchlistInput) (*domain.Watchlist, error) {
	w, err := s.watchlists.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	w.Title, w.Description, w.PlatformID, w.Active = in.Title, in.Description, in.PlatformID, in.Active
	w.UpdatedAt = time.Now().UTC()

	if err := s.watchlists.Update(ctx, w); err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)

	// Re-read so the response carries the aggregate as stored.
	return s.watchlists.GetByID(ctx, id)
}

// DeleteWatchlist removes a title and its reviews.
func (s *WatchlistService) DeleteWatchlist(ctx context.Context, id string) error {
	if err := s.watchlists.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.logger.InfoContext(ctx, "watchlist deleted", slog.String("watchlist_id", id))
	return nil
}

// ListReviews returns one page of a title's active reviews, newest first.
func (s *WatchlistService) ListReviews(ctx context.Context, watchlistID string, params pagination.Params) (pagination.Result[domain.Review], error) {
	if _, err := s.watchlists.GetByID(ctx, watchlistID); err != nil {
		return pagination.Result[domain.Review]{}, err
	}
	items, total, err := s.reviews.ListActive(ctx, watchlistID, params.Page, params.PerPage)
	if err != nil {
		return pagination.Result[domain.Review]{}, fmt.Errorf("list reviews: %w", err)
	}
	return pagination.NewResult(items, total, params), nil
}

// GetReview returns a single review, active or not.
func (s *WatchlistService) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	return s.reviews.GetByID(ctx, id)
}

// VerifyAggregate recomputes a title's aggregate from its active reviews and
// reports whether the stored aggregate matches.
func (s *WatchlistService) VerifyAggregate(ctx context.Context, watchlistID string) (*AggregateReport, error) {
	w, err := s.watchlists.GetByID(ctx, watchlistID)
	if err != nil {
		return nil, err
	}

	var computed domain.RatingAggregate
	for rv, err := range s.ledger.ListActiveReviews(ctx, watchlistID) {
		if err != nil {
			return nil, err
		}
		computed.Sum += rv.Rating
		computed.Count++
	}

	stored := w.Aggregate()
	report := &AggregateReport{
		WatchlistID: watchlistID,
		Stored:      stored,
		StoredAvg:   w.AvgRating,
		Computed:    computed,
		ComputedAvg: computed.Average(),
	}
	report.Consistent = stored == computed && w.AvgRating == computed.Average()

	if !report.Consistent {
		s.logger.WarnContext(ctx, "rating aggregate mismatch",
			slog.String("watchlist_id", watchlistID),
			slog.Int("stored_sum", stored.Sum),
			slog.Int("stored_count", stored.Count),
			slog.Int("computed_sum", computed.Sum),
			slog.Int("computed_count", computed.Count),
		)
	}
	return report, nil
}

func (s *WatchlistService) invalidate(ctx context.Context, id string) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate watchlist cache",
			slog.String("watchlist_id", id),
			slog.String("error", err.Error()),
		)
	}
}
