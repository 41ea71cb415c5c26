package postgres

import (
	"github.com/kpmidhlaj/watchmate/internal/domain"
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const platformColumns = `id, name, about, website, created_at, updated_at`

func scanPlatform(row rowScanner, extra ...any) (*domain.StreamPlatform, error) {
	var p domain.StreamPlatform
	dest := append([]any{&p.ID, &p.Name, &p.About, &p.Website, &p.CreatedAt, &p.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &p, nil
}

const watchlistColumns = `id, title, description, platform_id, active, avg_rating, number_rating, rating_sum, created_at, updated_at`

func scanWatchlist(row rowScanner, extra ...any) (*domain.Watchlist, error) {
	var w domain.Watchlist
	dest := append([]any{
		&w.ID, &w.Title, &w.Description, &w.PlatformID, &w.Active,
		&w.AvgRating, &w.NumberRating, &w.RatingSum, &w.CreatedAt, &w.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &w, nil
}

const reviewColumns = `id, watchlist_id, user_id, username, rating, description, active, created_at, updated_at`

func scanReview(row rowScanner, extra ...any) (*domain.Review, error) {
	var r domain.Review
	dest := append([]any{
		&r.ID, &r.WatchlistID, &r.UserID, &r.Username, &r.Rating,
		&r.Description, &r.Active, &r.CreatedAt, &r.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &r, nil
}
